package model

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultChatTitle 是未提供标题时的会话名。
const DefaultChatTitle = "New Chat"

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageStatus 表示一条消息的处理状态。
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusFailed     MessageStatus = "failed"
)

// Terminal 报告状态是否为终态。
func (s MessageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Chat 是一个绑定了若干外部数据库连接的会话。
type Chat struct {
	ID          uint                 `gorm:"primaryKey;autoIncrement" json:"id"`
	Title       string               `gorm:"type:varchar(255);not null;default:'New Chat'" json:"title"`
	Connections []DatabaseConnection `gorm:"many2many:chat_connections;joinForeignKey:ChatID;joinReferences:ConnectionID" json:"connections"`
	Messages    []ChatMessage        `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt   time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time            `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chat) TableName() string {
	return "chats"
}

// ChatConnection 是 Chat 与 DatabaseConnection 的多对多关联表。
type ChatConnection struct {
	ChatID       uint `gorm:"primaryKey"`
	ConnectionID uint `gorm:"primaryKey;index"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ChatConnection) TableName() string {
	return "chat_connections"
}

// ChatMessage 是会话中的一条消息。(chat_id, message_index) 唯一。
type ChatMessage struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID        uint           `gorm:"not null;uniqueIndex:idx_chat_message_index,priority:1" json:"chat_id"`
	MessageIndex  int            `gorm:"not null;uniqueIndex:idx_chat_message_index,priority:2" json:"message_index"`
	Role          string         `gorm:"type:varchar(16);not null" json:"role"`
	Content       string         `gorm:"type:text;not null" json:"content"`
	Status        MessageStatus  `gorm:"type:varchar(16);not null;default:pending" json:"status"`
	GeneratedCode *string        `gorm:"type:text" json:"generated_code"`
	ResultContent datatypes.JSON `json:"result_content"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ChatMessage) TableName() string {
	return "chat_messages"
}
