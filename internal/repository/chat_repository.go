package repository

import (
	"context"
	"database/sql"
	"time"

	"agstack-go/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageUpdate 描述一次消息更新，nil 字段保持不变。
type MessageUpdate struct {
	Status        model.MessageStatus
	Content       *string
	GeneratedCode *string
	ResultContent datatypes.JSON
}

// ChatRepository 定义了会话与消息的持久化操作。
type ChatRepository interface {
	Create(ctx context.Context, chat *model.Chat, connectionIDs []uint) error
	FindByID(ctx context.Context, id uint) (*model.Chat, error)
	FindAll(ctx context.Context) ([]model.Chat, error)
	Delete(ctx context.Context, id uint) error
	Touch(ctx context.Context, id uint) error

	// AppendMessage 以 max(message_index)+1 追加一条消息。
	AppendMessage(ctx context.Context, msg *model.ChatMessage) error
	// AppendTurn 在同一事务内追加用户消息与处理中的助手消息，两者索引相邻。
	AppendTurn(ctx context.Context, chatID uint, content string) (user, assistant *model.ChatMessage, err error)
	UpdateMessage(ctx context.Context, id uint, upd MessageUpdate) error
	// FinishTurn 写入助手消息的终态，将用户消息置为完成并刷新会话时间。
	FinishTurn(ctx context.Context, chatID, userMsgID, assistantMsgID uint, upd MessageUpdate) error
	ListMessages(ctx context.Context, chatID uint) ([]model.ChatMessage, error)
	FindMessage(ctx context.Context, id uint) (*model.ChatMessage, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Create(ctx context.Context, chat *model.Chat, connectionIDs []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(chat).Error; err != nil {
			return err
		}
		if len(connectionIDs) == 0 {
			return nil
		}
		links := make([]model.ChatConnection, 0, len(connectionIDs))
		for _, id := range connectionIDs {
			links = append(links, model.ChatConnection{ChatID: chat.ID, ConnectionID: id})
		}
		if err := tx.Create(&links).Error; err != nil {
			return err
		}
		return tx.Preload("Connections", orderByID).First(chat, chat.ID).Error
	})
}

func (r *chatRepository) FindByID(ctx context.Context, id uint) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.WithContext(ctx).Preload("Connections", orderByID).First(&chat, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &chat, nil
}

// FindAll 按最近更新时间倒序返回会话。
func (r *chatRepository) FindAll(ctx context.Context) ([]model.Chat, error) {
	var chats []model.Chat
	err := r.db.WithContext(ctx).Preload("Connections", orderByID).
		Order("updated_at desc").Order("id desc").Find(&chats).Error
	return chats, err
}

func (r *chatRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&model.ChatConnection{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Chat{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *chatRepository) Touch(ctx context.Context, id uint) error {
	return touch(r.db.WithContext(ctx), id)
}

func (r *chatRepository) AppendMessage(ctx context.Context, msg *model.ChatMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next, err := nextMessageIndex(tx, msg.ChatID)
		if err != nil {
			return err
		}
		msg.MessageIndex = next
		if msg.Status == "" {
			msg.Status = model.StatusPending
		}
		return tx.Create(msg).Error
	})
}

func (r *chatRepository) AppendTurn(ctx context.Context, chatID uint, content string) (*model.ChatMessage, *model.ChatMessage, error) {
	user := &model.ChatMessage{
		ChatID:  chatID,
		Role:    model.RoleUser,
		Content: content,
		Status:  model.StatusProcessing,
	}
	assistant := &model.ChatMessage{
		ChatID: chatID,
		Role:   model.RoleAssistant,
		Status: model.StatusProcessing,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next, err := nextMessageIndex(tx, chatID)
		if err != nil {
			return err
		}
		user.MessageIndex = next
		assistant.MessageIndex = next + 1
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(assistant).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return user, assistant, nil
}

func (r *chatRepository) UpdateMessage(ctx context.Context, id uint, upd MessageUpdate) error {
	return updateMessage(r.db.WithContext(ctx), id, upd)
}

func (r *chatRepository) FinishTurn(ctx context.Context, chatID, userMsgID, assistantMsgID uint, upd MessageUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateMessage(tx, assistantMsgID, upd); err != nil {
			return err
		}
		if err := updateMessage(tx, userMsgID, MessageUpdate{Status: model.StatusCompleted}); err != nil {
			return err
		}
		return touch(tx, chatID)
	})
}

func (r *chatRepository) ListMessages(ctx context.Context, chatID uint) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("message_index asc").Find(&msgs).Error
	return msgs, err
}

func (r *chatRepository) FindMessage(ctx context.Context, id uint) (*model.ChatMessage, error) {
	var msg model.ChatMessage
	if err := r.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

// nextMessageIndex 锁住会话行后读取当前最大索引，同一会话的并发写入在此串行化。
func nextMessageIndex(tx *gorm.DB, chatID uint) (int, error) {
	var chat model.Chat
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&chat, chatID).Error
	if err != nil {
		return 0, notFound(err)
	}
	var maxIndex sql.NullInt64
	row := tx.Model(&model.ChatMessage{}).Where("chat_id = ?", chatID).Select("MAX(message_index)").Row()
	if err := row.Scan(&maxIndex); err != nil {
		return 0, err
	}
	if !maxIndex.Valid {
		return 0, nil
	}
	return int(maxIndex.Int64) + 1, nil
}

func updateMessage(db *gorm.DB, id uint, upd MessageUpdate) error {
	values := map[string]interface{}{}
	if upd.Status != "" {
		values["status"] = upd.Status
	}
	if upd.Content != nil {
		values["content"] = *upd.Content
	}
	if upd.GeneratedCode != nil {
		values["generated_code"] = *upd.GeneratedCode
	}
	if upd.ResultContent != nil {
		values["result_content"] = upd.ResultContent
	}
	if len(values) == 0 {
		return nil
	}
	res := db.Model(&model.ChatMessage{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func touch(db *gorm.DB, chatID uint) error {
	return db.Model(&model.Chat{}).Where("id = ?", chatID).Update("updated_at", time.Now()).Error
}

func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id asc")
}
