// Package pipeline 包含生成-执行-重新生成的有界重试状态机。
package pipeline

import (
	"errors"
	"fmt"
)

// MaxRegenerations 是首次尝试之后允许的最大重新生成次数。
const MaxRegenerations = 3

// ErrInvalidTransition 表示在错误的状态下调用了状态机方法。
var ErrInvalidTransition = errors.New("invalid controller transition")

// State 是控制器的状态。
type State int

const (
	Idle State = iota
	Generating
	Executing
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Generating:
		return "generating"
	case Executing:
		return "executing"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Decision 告诉调用方下一步做什么。
type Decision struct {
	State State
	// Attempt 从 0 开始，0 为首次生成，1..MaxRegenerations 为重新生成。
	Attempt int
	// PriorError 是上一次失败的错误文本，重新生成时带给生成器。
	PriorError string
	// 仅在 State == Done 时有意义
	Succeeded         bool
	MaxRetriesReached bool
}

// Controller 只做决策，不调用生成器或执行器。
type Controller struct {
	state      State
	attempt    int
	ceiling    int
	lastError  string
	executions int
}

// NewController 创建控制器。maxRegenerations 超出 [0, MaxRegenerations] 时取 MaxRegenerations。
func NewController(maxRegenerations int) *Controller {
	if maxRegenerations < 0 || maxRegenerations > MaxRegenerations {
		maxRegenerations = MaxRegenerations
	}
	return &Controller{ceiling: maxRegenerations}
}

// State 返回当前状态。
func (c *Controller) State() State { return c.state }

// Attempt 返回当前尝试序号。
func (c *Controller) Attempt() int { return c.attempt }

// Executions 返回已经执行过的次数。
func (c *Controller) Executions() int { return c.executions }

// LastError 返回最近一次失败的错误文本。
func (c *Controller) LastError() string { return c.lastError }

// Begin: Idle -> Generating(attempt 0)。
func (c *Controller) Begin() (Decision, error) {
	if c.state != Idle {
		return Decision{}, fmt.Errorf("%w: begin in %s", ErrInvalidTransition, c.state)
	}
	c.state = Generating
	return c.decision(), nil
}

// Generated 报告生成结果。genErr 非空（生成失败或无法解析）时与执行失败一样消耗一次重试。
func (c *Controller) Generated(genErr error) (Decision, error) {
	if c.state != Generating {
		return Decision{}, fmt.Errorf("%w: generated in %s", ErrInvalidTransition, c.state)
	}
	if genErr != nil {
		return c.fail(genErr.Error()), nil
	}
	c.state = Executing
	return c.decision(), nil
}

// Executed 报告执行结果。errorDetail 仅在失败时使用。
func (c *Controller) Executed(succeeded bool, errorDetail string) (Decision, error) {
	if c.state != Executing {
		return Decision{}, fmt.Errorf("%w: executed in %s", ErrInvalidTransition, c.state)
	}
	c.executions++
	if succeeded {
		c.state = Done
		d := c.decision()
		d.Succeeded = true
		return d, nil
	}
	return c.fail(errorDetail), nil
}

func (c *Controller) fail(errText string) Decision {
	c.lastError = errText
	if c.attempt >= c.ceiling {
		c.state = Done
		d := c.decision()
		d.MaxRetriesReached = true
		return d
	}
	c.attempt++
	c.state = Generating
	return c.decision()
}

func (c *Controller) decision() Decision {
	return Decision{State: c.state, Attempt: c.attempt, PriorError: c.lastError}
}
