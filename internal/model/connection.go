// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultSchema 是未指定 schema 时使用的默认值。
const DefaultSchema = "public"

// DatabaseConnection 记录一个外部数据库的连接信息。
// 密码以密文保存，且从不出现在 JSON 中。
type DatabaseConnection struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ConnectionName string         `gorm:"type:varchar(255);not null;uniqueIndex" json:"connection_name"`
	Host           string         `gorm:"type:varchar(255);not null" json:"host"`
	Port           int            `gorm:"not null" json:"port"`
	Username       string         `gorm:"type:varchar(255);not null" json:"username"`
	Password       string         `gorm:"type:text;not null" json:"-"`
	DatabaseName   string         `gorm:"type:varchar(255);not null" json:"database_name"`
	SchemaName     string         `gorm:"type:varchar(255);not null;default:public" json:"schema_name"`
	Tables         []TableDetails `gorm:"foreignKey:ConnectionID;constraint:OnDelete:CASCADE" json:"tables,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DatabaseConnection) TableName() string {
	return "database_connections"
}

// TableDetails 记录被探测到的一张基础表。
type TableDetails struct {
	ID           uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	ConnectionID uint            `gorm:"not null;index" json:"connection_id"`
	Name         string          `gorm:"column:table_name;type:varchar(255);not null" json:"table_name"`
	Columns      []ColumnDetails `gorm:"foreignKey:TableID;constraint:OnDelete:CASCADE" json:"columns,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (TableDetails) TableName() string {
	return "table_details"
}

// ColumnDetails 记录一列的类型与最多 10 个样本值（JSON 数组）。
type ColumnDetails struct {
	ID           uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	TableID      uint           `gorm:"not null;index" json:"table_id"`
	ColumnName   string         `gorm:"type:varchar(255);not null" json:"column_name"`
	DataType     string         `gorm:"type:varchar(255);not null" json:"data_type"`
	IsNullable   bool           `gorm:"not null;default:true" json:"is_nullable"`
	SampleValues datatypes.JSON `json:"sample_values"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ColumnDetails) TableName() string {
	return "column_details"
}
