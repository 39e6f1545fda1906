package model

// ResultTable 是一次成功执行产出的表格结果，空单元格为 nil。
type ResultTable struct {
	Columns  []string         `json:"columns"`
	Data     []map[string]any `json:"data"`
	RowCount int              `json:"row_count"`
}

// FailureResult 写入失败消息的 result_content。
type FailureResult struct {
	Error             string `json:"error"`
	Details           string `json:"details,omitempty"`
	Attempts          int    `json:"attempts,omitempty"`
	MaxRetriesReached bool   `json:"max_retries_reached,omitempty"`
}
