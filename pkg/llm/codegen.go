package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"agstack-go/internal/config"
	"agstack-go/internal/model"
	"agstack-go/pkg/log"
	"agstack-go/pkg/storage"
)

// DefaultCodeRules 是未配置 llm.prompt.rules 时使用的系统提示。
const DefaultCodeRules = `You are a senior data analyst who writes Python 3 programs.
The program runs in a fresh process with pandas available and the helper module agstack_tools importable.
Use only these helpers to reach data:
  from agstack_tools import execute_query, write_df
  df = execute_query(sql, connection_name)   # runs SQL on the external PostgreSQL database, returns a pandas DataFrame
  write_df(df, csv_file_name)                # stores the final result table under csv_file_name
Always qualify tables with their schema and quote identifiers when needed.
The program must call write_df exactly once with the final result and exit with status 0.
Answer with a single JSON object and nothing else:
{"csv_file_name": "<short_snake_case_name>.csv", "generated_code": "<the full python program>"}`

const inferRules = `You select the database tables needed to answer a question.
Answer with a JSON array of table names taken from the provided catalog and nothing else.`

// GenerationRequest 是一次代码生成的输入。
type GenerationRequest struct {
	Question       string
	ConnectionName string
	Metadata       model.ConnectionMetadata
	Attempt        int
	PriorError     string
	PriorCode      string
}

// Output 是生成结果：Parsed 或 ParseFailure。
type Output interface {
	isOutput()
}

// Parsed 是可执行的生成结果。
type Parsed struct {
	Code         string
	ArtifactName string
}

// ParseFailure 表示模型回复无法解析为所需的 JSON。
type ParseFailure struct {
	RawText string
	Reason  string
}

func (Parsed) isOutput()       {}
func (ParseFailure) isOutput() {}

func (f ParseFailure) Error() string {
	return "unparseable generation output: " + f.Reason
}

// CodeGenerator 通过 LLM 产出分析代码。
type CodeGenerator struct {
	client Client
	rules  string
	gen    *GenerationParams
}

// NewCodeGenerator 创建一个 CodeGenerator。
func NewCodeGenerator(client Client, cfg config.LLMConfig) *CodeGenerator {
	rules := cfg.Prompt.Rules
	if rules == "" {
		rules = DefaultCodeRules
	}
	return &CodeGenerator{client: client, rules: rules, gen: ParamsFromConfig(cfg.Generation)}
}

// Generate 调用模型并解析回复。返回的 error 只表示调用本身失败。
func (g *CodeGenerator) Generate(ctx context.Context, req GenerationRequest) (Output, error) {
	metadataJSON, err := json.MarshalIndent(req.Metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Question: %s\n\n", req.Question)
	fmt.Fprintf(&user, "connection_name: %s\n\n", req.ConnectionName)
	fmt.Fprintf(&user, "Available tables (JSON):\n%s\n", metadataJSON)
	if req.Attempt > 0 {
		fmt.Fprintf(&user, "\nThis is regeneration attempt %d. The previous program failed.\n", req.Attempt)
		if req.PriorCode != "" {
			fmt.Fprintf(&user, "Previous program:\n%s\n", req.PriorCode)
		}
		fmt.Fprintf(&user, "Error:\n%s\nFix the problem and answer with the JSON object again.\n", req.PriorError)
	}

	log.Infof("[CodeGenerator] generating code for connection %s, attempt %d", req.ConnectionName, req.Attempt)
	text, err := g.client.Chat(ctx, []Message{
		{Role: "system", Content: g.rules},
		{Role: "user", Content: user.String()},
	}, g.gen)
	if err != nil {
		return nil, err
	}
	return ParseOutput(text), nil
}

// InferTables 让模型挑选回答问题所需的表，只返回 metadata 中存在的表名。
func (g *CodeGenerator) InferTables(ctx context.Context, question string, md model.ConnectionMetadata) ([]string, error) {
	names := make([]string, 0, len(md))
	for name := range md {
		names = append(names, name)
	}
	sort.Strings(names)
	catalog, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}
	text, err := g.client.Chat(ctx, []Message{
		{Role: "system", Content: inferRules},
		{Role: "user", Content: fmt.Sprintf("Question: %s\n\nCatalog:\n%s", question, catalog)},
	}, g.gen)
	if err != nil {
		return nil, err
	}

	var picked []string
	if err := json.Unmarshal([]byte(stripFence(text)), &picked); err != nil {
		var wrapped struct {
			Tables []string `json:"tables"`
		}
		if err2 := json.Unmarshal([]byte(stripFence(text)), &wrapped); err2 != nil {
			return nil, fmt.Errorf("unparseable table selection: %w", err)
		}
		picked = wrapped.Tables
	}
	selected := make([]string, 0, len(picked))
	for _, name := range picked {
		if _, ok := md[name]; ok {
			selected = append(selected, name)
		}
	}
	return selected, nil
}

var (
	fencePattern = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	bracePattern = regexp.MustCompile(`(\{[\s\S]*\})`)
)

type codeEnvelope struct {
	CSVFileName   string `json:"csv_file_name"`
	GeneratedCode string `json:"generated_code"`
}

// ParseOutput 依次尝试：整段 JSON、围栏代码块、第一个 { 到最后一个 } 的片段。
func ParseOutput(text string) Output {
	candidates := []string{strings.TrimSpace(text)}
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := bracePattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}

	var env codeEnvelope
	decoded := false
	for _, c := range candidates {
		var candidate codeEnvelope
		if err := json.Unmarshal([]byte(c), &candidate); err == nil {
			env, decoded = candidate, true
			break
		}
	}
	if !decoded {
		return ParseFailure{RawText: text, Reason: "no JSON object found"}
	}
	if strings.TrimSpace(env.GeneratedCode) == "" || strings.TrimSpace(env.CSVFileName) == "" {
		return ParseFailure{RawText: text, Reason: "missing csv_file_name or generated_code"}
	}
	name, err := storage.NormalizeName(env.CSVFileName)
	if err != nil {
		return ParseFailure{RawText: text, Reason: err.Error()}
	}
	return Parsed{Code: env.GeneratedCode, ArtifactName: name}
}

func stripFence(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return strings.TrimSpace(text)
}
