package service

import (
	"context"

	"agstack-go/internal/model"
	"agstack-go/pkg/llm"
	"agstack-go/pkg/notify"
	"agstack-go/pkg/prober"
	"agstack-go/pkg/runner"
)

// SchemaProber 探测外部数据库。*prober.Prober 实现了它。
type SchemaProber interface {
	Probe(ctx context.Context, target prober.Target) (*prober.Result, error)
}

// CodeGenerator 生成分析代码。*llm.CodeGenerator 实现了它。
type CodeGenerator interface {
	Generate(ctx context.Context, req llm.GenerationRequest) (llm.Output, error)
	InferTables(ctx context.Context, question string, md model.ConnectionMetadata) ([]string, error)
}

// CodeRunner 执行生成的代码。*runner.Runner 实现了它。
type CodeRunner interface {
	Run(ctx context.Context, code string, env ...string) runner.Outcome
}

// StatusNotifier 推送消息状态变化。*notify.Hub 实现了它。
type StatusNotifier interface {
	Publish(evt notify.StatusEvent)
}
