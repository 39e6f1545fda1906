package model

// ColumnMetadata 是提示词中单列的描述。
type ColumnMetadata struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Sample []any  `json:"sample"`
}

// TableMetadata 是提示词中单表的描述。
type TableMetadata struct {
	Columns    []ColumnMetadata `json:"columns"`
	SchemaName string           `json:"schema_name"`
}

// ConnectionMetadata 以表名为键，描述一个连接下所有已编目的表。
type ConnectionMetadata map[string]TableMetadata
