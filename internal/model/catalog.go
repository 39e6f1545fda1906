package model

// CatalogDocument 代表存储在 Elasticsearch 中的一列编目信息。
type CatalogDocument struct {
	DocID          string `json:"doc_id"` // connection/schema/table/column
	ConnectionID   uint   `json:"connection_id"`
	ConnectionName string `json:"connection_name"`
	SchemaName     string `json:"schema_name"`
	TableName      string `json:"table_name"`
	ColumnName     string `json:"column_name"`
	DataType       string `json:"data_type"`
	IsNullable     bool   `json:"is_nullable"`
	Samples        string `json:"samples"`
}

// CatalogHit 是目录检索返回给前端的结果。
type CatalogHit struct {
	ConnectionName string  `json:"connection_name"`
	SchemaName     string  `json:"schema_name"`
	TableName      string  `json:"table_name"`
	ColumnName     string  `json:"column_name"`
	DataType       string  `json:"data_type"`
	Score          float64 `json:"score"`
}
