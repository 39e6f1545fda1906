// Package runner executes generated code in a fresh interpreter process.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"agstack-go/pkg/log"
)

// Status classifies an execution.
type Status int

const (
	Success Status = iota
	Failure
)

func (s Status) String() string {
	if s == Success {
		return "success"
	}
	return "failure"
}

// Outcome is the classified result of one run.
type Outcome struct {
	Status      Status
	Output      string
	Stderr      string
	ErrorDetail string
	// ExitCode is nil when the process never produced one (launch failure, timeout).
	ExitCode *int
	TimedOut bool
	Duration time.Duration
}

// Succeeded reports whether the run exited with status 0.
func (o Outcome) Succeeded() bool { return o.Status == Success }

// Options configures the interpreter and its environment.
type Options struct {
	Interpreter   string
	Args          []string
	FileSuffix    string
	LibraryPath   string
	SearchPathEnv string
	TempDir       string
	Timeout       time.Duration
	// MaxOutputBytes caps captured stdout and stderr each. Zero means 1 MiB.
	MaxOutputBytes int
	// Env is appended to the inherited environment.
	Env []string
}

// Runner runs code strings. It never retries.
type Runner struct {
	opts Options
}

// New returns a Runner.
func New(opts Options) *Runner {
	if opts.FileSuffix == "" {
		opts.FileSuffix = ".py"
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1 << 20
	}
	return &Runner{opts: opts}
}

// Run writes code into a private temporary directory, executes it and
// removes the directory on every path. env is added for this run only.
func (r *Runner) Run(ctx context.Context, code string, env ...string) Outcome {
	start := time.Now()

	workDir, err := os.MkdirTemp(r.opts.TempDir, "agstack-run-")
	if err != nil {
		return launchFailure(fmt.Errorf("create work dir: %w", err), start)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warnf("[Runner] remove %s failed: %v", workDir, err)
		}
	}()

	script := filepath.Join(workDir, "main"+r.opts.FileSuffix)
	if err := os.WriteFile(script, []byte(code), 0o600); err != nil {
		return launchFailure(fmt.Errorf("write code file: %w", err), start)
	}

	parent := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.opts.Args...), script)
	cmd := exec.CommandContext(ctx, r.opts.Interpreter, args...)
	cmd.Dir = workDir
	cmd.Env = append(r.environ(), env...)
	cmd.WaitDelay = 2 * time.Second

	stdout := &cappedBuffer{limit: r.opts.MaxOutputBytes}
	stderr := &cappedBuffer{limit: r.opts.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err = cmd.Run()
	out := Outcome{
		Output:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil && ctx.Err() != nil {
		out.Status = Failure
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			out.TimedOut = true
			out.ErrorDetail = fmt.Sprintf("Execution timed out after %s\n%s", r.limit(parent, start), out.Stderr)
		default:
			out.ErrorDetail = fmt.Sprintf("Execution cancelled after %s\n%s", out.Duration.Round(time.Millisecond), out.Stderr)
		}
		return out
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		code := 0
		out.ExitCode = &code
		out.Status = Success
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		out.Status = Failure
		if code >= 0 {
			out.ExitCode = &code
		}
		out.ErrorDetail = fmt.Sprintf("Exit code: %d\n%s", code, out.Stderr)
	default:
		out.Status = Failure
		out.ErrorDetail = fmt.Sprintf("Execution error: %v\n%s", err, out.Stderr)
	}
	return out
}

// limit is the effective time limit: the caller's deadline when it is earlier than Timeout.
func (r *Runner) limit(parent context.Context, start time.Time) time.Duration {
	if deadline, ok := parent.Deadline(); ok {
		if d := deadline.Sub(start); r.opts.Timeout <= 0 || d < r.opts.Timeout {
			return d.Round(time.Millisecond)
		}
	}
	return r.opts.Timeout
}

func (r *Runner) environ() []string {
	env := os.Environ()
	if r.opts.LibraryPath != "" {
		lib, err := filepath.Abs(r.opts.LibraryPath)
		if err != nil {
			lib = r.opts.LibraryPath
		}
		env = prependPath(env, "PATH", lib)
		if r.opts.SearchPathEnv != "" && r.opts.SearchPathEnv != "PATH" {
			env = prependPath(env, r.opts.SearchPathEnv, lib)
		}
	}
	return append(env, r.opts.Env...)
}

// prependPath puts dir in front of a list-valued variable, replacing the old entry.
func prependPath(env []string, key, dir string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			old := strings.TrimPrefix(kv, prefix)
			if old == "" {
				env[i] = prefix + dir
			} else {
				env[i] = prefix + dir + string(os.PathListSeparator) + old
			}
			return env
		}
	}
	return append(env, prefix+dir)
}

func launchFailure(err error, start time.Time) Outcome {
	return Outcome{
		Status:      Failure,
		ErrorDetail: err.Error(),
		Duration:    time.Since(start),
	}
}

// cappedBuffer keeps the first limit bytes and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
