package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"agstack-go/internal/config"
	"agstack-go/internal/model"
	"agstack-go/internal/pipeline"
	"agstack-go/internal/repository"
	"agstack-go/pkg/events"
	"agstack-go/pkg/kafka"
	"agstack-go/pkg/llm"
	"agstack-go/pkg/log"
	"agstack-go/pkg/notify"
	"agstack-go/pkg/storage"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	failureContent     = "I couldn't process your query. Please try rephrasing or check the database connection."
	noConnectionError  = "No valid connection or tables found"
	noConnectionReply  = "I couldn't find a connection with cataloged tables for this chat."
	executionFailed    = "Code execution failed"
	processingFailed   = "An error occurred while processing your message."
	successContentTmpl = "I've analyzed your query and here's what I found:\n\n" +
		"I used the following Python:\n```python\n%s\n```\n\n" +
		"The query returned %d results."
)

// ChatOptions 配置一轮对话的执行方式。
type ChatOptions struct {
	MaxRegenerations int
	// ConfigPath 传给子进程，辅助工具据此读取同一份配置。
	ConfigPath string
}

// ChatService 定义了会话与消息的业务操作。
type ChatService interface {
	CreateChat(ctx context.Context, title string, connectionIDs []uint) (*model.Chat, error)
	ListChats(ctx context.Context) ([]model.Chat, error)
	GetChat(ctx context.Context, id uint) (*model.Chat, error)
	DeleteChat(ctx context.Context, id uint) error
	ListMessages(ctx context.Context, chatID uint) ([]model.ChatMessage, error)
	GetMessage(ctx context.Context, id uint) (*model.ChatMessage, error)
	// ProcessMessage 处理一轮问答，总是产出一条用户消息和一条终态的助手消息。
	ProcessMessage(ctx context.Context, chatID uint, content string) (*model.ChatMessage, error)
}

type chatService struct {
	chatRepo  repository.ChatRepository
	connRepo  repository.ConnectionRepository
	connSvc   ConnectionService
	generator CodeGenerator
	runner    CodeRunner
	store     storage.ArtifactStore
	notifier  StatusNotifier
	producer  kafka.Producer
	opts      ChatOptions
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	chatRepo repository.ChatRepository,
	connRepo repository.ConnectionRepository,
	connSvc ConnectionService,
	generator CodeGenerator,
	codeRunner CodeRunner,
	store storage.ArtifactStore,
	notifier StatusNotifier,
	producer kafka.Producer,
	opts ChatOptions,
) ChatService {
	return &chatService{
		chatRepo:  chatRepo,
		connRepo:  connRepo,
		connSvc:   connSvc,
		generator: generator,
		runner:    codeRunner,
		store:     store,
		notifier:  notifier,
		producer:  producer,
		opts:      opts,
	}
}

func (s *chatService) CreateChat(ctx context.Context, title string, connectionIDs []uint) (*model.Chat, error) {
	ids := dedupe(connectionIDs)
	if len(ids) == 0 {
		return nil, ErrConnectionRequired
	}
	conns, err := s.connRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(conns) != len(ids) {
		return nil, ErrConnectionNotFound
	}
	if strings.TrimSpace(title) == "" {
		title = model.DefaultChatTitle
	}
	chat := &model.Chat{Title: title}
	if err := s.chatRepo.Create(ctx, chat, ids); err != nil {
		return nil, err
	}
	log.Infof("[ChatService] created chat %d with connections %v", chat.ID, ids)
	return chat, nil
}

func (s *chatService) ListChats(ctx context.Context) ([]model.Chat, error) {
	return s.chatRepo.FindAll(ctx)
}

func (s *chatService) GetChat(ctx context.Context, id uint) (*model.Chat, error) {
	chat, err := s.chatRepo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	return chat, err
}

func (s *chatService) DeleteChat(ctx context.Context, id uint) error {
	err := s.chatRepo.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrChatNotFound
	}
	return err
}

func (s *chatService) ListMessages(ctx context.Context, chatID uint) ([]model.ChatMessage, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	return s.chatRepo.ListMessages(ctx, chatID)
}

func (s *chatService) GetMessage(ctx context.Context, id uint) (*model.ChatMessage, error) {
	msg, err := s.chatRepo.FindMessage(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	return msg, err
}

// turnOutcome 是一轮对话的终态，写入助手消息。
type turnOutcome struct {
	status     model.MessageStatus
	content    string
	code       *string
	result     any
	executions int
}

func (o turnOutcome) update() (repository.MessageUpdate, error) {
	raw, err := json.Marshal(o.result)
	if err != nil {
		return repository.MessageUpdate{}, err
	}
	content := o.content
	return repository.MessageUpdate{
		Status:        o.status,
		Content:       &content,
		GeneratedCode: o.code,
		ResultContent: datatypes.JSON(raw),
	}, nil
}

func failedOutcome(content string, result model.FailureResult) turnOutcome {
	return turnOutcome{status: model.StatusFailed, content: content, result: result}
}

func (s *chatService) ProcessMessage(ctx context.Context, chatID uint, content string) (*model.ChatMessage, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(chat.Connections) == 0 {
		return nil, ErrChatHasNoConnections
	}

	// 在任何耗时操作之前占好两条消息的位置
	user, assistant, err := s.chatRepo.AppendTurn(ctx, chatID, content)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("append turn: %w", err)
	}
	s.notify(user)
	s.notify(assistant)
	log.Infof("[ChatService] chat %d: turn started, user=%d assistant=%d", chatID, user.MessageIndex, assistant.MessageIndex)

	// 之后的工作不随请求取消而中断，消息一定会落到终态
	work := context.WithoutCancel(ctx)
	outcome := s.runTurn(work, chat, content)

	upd, err := outcome.update()
	if err != nil {
		log.Errorf("[ChatService] chat %d: encode result failed: %v", chatID, err)
		outcome = failedOutcome(processingFailed, model.FailureResult{Error: "Error encoding result"})
		upd, _ = outcome.update()
	}
	if err := s.chatRepo.FinishTurn(work, chatID, user.ID, assistant.ID, upd); err != nil {
		log.Errorf("[ChatService] chat %d: finish turn failed: %v", chatID, err)
		fallback, _ := failedOutcome(processingFailed, model.FailureResult{Error: "Error saving result"}).update()
		if err2 := s.chatRepo.FinishTurn(work, chatID, user.ID, assistant.ID, fallback); err2 != nil {
			log.Errorf("[ChatService] chat %d: fallback finish turn failed: %v", chatID, err2)
			s.abandonTurn(work, user, assistant, fallback)
			return nil, fmt.Errorf("finish turn: %w", errors.Join(err, err2))
		}
	}

	final, err := s.chatRepo.FindMessage(work, assistant.ID)
	if err != nil {
		return nil, err
	}
	user.Status = model.StatusCompleted
	s.notify(user)
	s.notify(final)
	if err := s.producer.Publish(work, events.New(events.TurnCompleted, fmt.Sprint(chatID), map[string]any{
		"chat_id":       chatID,
		"message_id":    final.ID,
		"message_index": final.MessageIndex,
		"status":        final.Status,
		"executions":    outcome.executions,
	})); err != nil {
		log.Warnf("[ChatService] publish turn.completed for chat %d failed: %v", chatID, err)
	}
	log.Infof("[ChatService] chat %d: turn finished with status %s after %d executions", chatID, final.Status, outcome.executions)
	return final, nil
}

// abandonTurn 在事务化收尾失败后逐条写入终态。仍然失败时两条消息停留在 processing，只记录日志。
func (s *chatService) abandonTurn(ctx context.Context, user, assistant *model.ChatMessage, fallback repository.MessageUpdate) {
	if err := s.chatRepo.UpdateMessage(ctx, assistant.ID, fallback); err != nil {
		log.Errorf("[ChatService] chat %d: message %d left in processing: %v", assistant.ChatID, assistant.ID, err)
	} else {
		assistant.Status = fallback.Status
		s.notify(assistant)
	}
	if err := s.chatRepo.UpdateMessage(ctx, user.ID, repository.MessageUpdate{Status: model.StatusCompleted}); err != nil {
		log.Errorf("[ChatService] chat %d: message %d left in processing: %v", user.ChatID, user.ID, err)
	} else {
		user.Status = model.StatusCompleted
		s.notify(user)
	}
}

// runTurn 选择连接、构造上下文并驱动生成-执行循环。panic 与错误都转换为失败结果。
func (s *chatService) runTurn(ctx context.Context, chat *model.Chat, question string) (out turnOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[ChatService] chat %d: panic while processing: %v\n%s", chat.ID, r, debug.Stack())
			out = failedOutcome(processingFailed, model.FailureResult{Error: fmt.Sprintf("Error processing message: %v", r)})
		}
	}()

	conn, err := s.selectConnection(ctx, chat)
	if err != nil {
		log.Errorf("[ChatService] chat %d: load connections failed: %v", chat.ID, err)
		return failedOutcome(processingFailed, model.FailureResult{Error: "Error loading connections"})
	}
	if conn == nil {
		return failedOutcome(noConnectionReply, model.FailureResult{Error: noConnectionError})
	}

	md, err := s.connSvc.Metadata(ctx, conn)
	if err != nil {
		log.Errorf("[ChatService] chat %d: metadata for %s failed: %v", chat.ID, conn.ConnectionName, err)
		return failedOutcome(processingFailed, model.FailureResult{Error: "Error loading connection metadata"})
	}
	md = s.narrow(ctx, question, md)

	return s.generateAndRun(ctx, conn.ConnectionName, question, md)
}

// selectConnection 返回 id 最小的、至少有一张带列的表的连接。
func (s *chatService) selectConnection(ctx context.Context, chat *model.Chat) (*model.DatabaseConnection, error) {
	ids := make([]uint, 0, len(chat.Connections))
	for _, c := range chat.Connections {
		ids = append(ids, c.ID)
	}
	conns, err := s.connRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range conns {
		for _, t := range conns[i].Tables {
			if len(t.Columns) > 0 {
				return &conns[i], nil
			}
		}
	}
	return nil, nil
}

// narrow 让模型挑选相关的表；失败或结果为空时使用全部表。
func (s *chatService) narrow(ctx context.Context, question string, md model.ConnectionMetadata) model.ConnectionMetadata {
	if len(md) <= 1 {
		return md
	}
	tables, err := s.generator.InferTables(ctx, question, md)
	if err != nil || len(tables) == 0 {
		if err != nil {
			log.Warnf("[ChatService] table inference failed, using all %d tables: %v", len(md), err)
		}
		return md
	}
	narrowed := make(model.ConnectionMetadata, len(tables))
	for _, name := range tables {
		if t, ok := md[name]; ok {
			narrowed[name] = t
		}
	}
	if len(narrowed) == 0 {
		return md
	}
	return narrowed
}

func (s *chatService) generateAndRun(ctx context.Context, connectionName, question string, md model.ConnectionMetadata) turnOutcome {
	ctrl := pipeline.NewController(s.opts.MaxRegenerations)
	d, err := ctrl.Begin()
	if err != nil {
		return failedOutcome(processingFailed, model.FailureResult{Error: err.Error()})
	}

	scope := uuid.NewString()
	env := []string{storage.ScopeEnv + "=" + scope}
	if s.opts.ConfigPath != "" {
		env = append(env, config.PathEnv+"="+s.opts.ConfigPath)
	}

	var (
		current llm.Parsed
		table   *model.ResultTable
	)
	for d.State != pipeline.Done {
		switch d.State {
		case pipeline.Generating:
			var genErr error
			out, err := s.generator.Generate(ctx, llm.GenerationRequest{
				Question:       question,
				ConnectionName: connectionName,
				Metadata:       md,
				Attempt:        d.Attempt,
				PriorError:     d.PriorError,
				PriorCode:      current.Code,
			})
			switch o := out.(type) {
			case llm.Parsed:
				current = o
			case llm.ParseFailure:
				genErr = o
			}
			if err != nil {
				genErr = fmt.Errorf("generation failed: %w", err)
			} else if out == nil {
				genErr = errors.New("generation returned no output")
			}
			if genErr != nil {
				log.Warnf("[ChatService] attempt %d: %v", d.Attempt, genErr)
			}
			d, err = ctrl.Generated(genErr)
			if err != nil {
				return failedOutcome(processingFailed, model.FailureResult{Error: err.Error()})
			}

		case pipeline.Executing:
			res := s.runner.Run(ctx, current.Code, env...)
			succeeded, detail := res.Succeeded(), res.ErrorDetail
			if succeeded {
				table, err = s.store.Read(ctx, scope, current.ArtifactName)
				if err != nil {
					succeeded = false
					detail = fmt.Sprintf("Program exited successfully but result file %s could not be read: %v", current.ArtifactName, err)
					table = nil
				}
			}
			if err := s.store.Delete(ctx, scope, current.ArtifactName); err != nil {
				log.Warnf("[ChatService] delete artifact %s/%s failed: %v", scope, current.ArtifactName, err)
			}
			log.Infof("[ChatService] attempt %d: execution succeeded=%t in %s", d.Attempt, succeeded, res.Duration)
			d, err = ctrl.Executed(succeeded, detail)
			if err != nil {
				return failedOutcome(processingFailed, model.FailureResult{Error: err.Error()})
			}
		}
	}

	if d.Succeeded {
		code := current.Code
		return turnOutcome{
			status:     model.StatusCompleted,
			content:    fmt.Sprintf(successContentTmpl, code, table.RowCount),
			code:       &code,
			result:     table,
			executions: ctrl.Executions(),
		}
	}
	out := failedOutcome(failureContent, model.FailureResult{
		Error:             executionFailed,
		Details:           ctrl.LastError(),
		Attempts:          d.Attempt + 1,
		MaxRetriesReached: d.MaxRetriesReached,
	})
	if current.Code != "" {
		code := current.Code
		out.code = &code
	}
	out.executions = ctrl.Executions()
	return out
}

func (s *chatService) notify(msg *model.ChatMessage) {
	s.notifier.Publish(notify.StatusEvent{
		Type:         notify.MessageStatusType,
		ChatID:       msg.ChatID,
		MessageID:    msg.ID,
		MessageIndex: msg.MessageIndex,
		Role:         msg.Role,
		Status:       string(msg.Status),
	})
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
