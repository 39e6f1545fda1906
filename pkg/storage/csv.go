package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"agstack-go/internal/model"
)

type columnKind int

const (
	kindInt columnKind = iota
	kindFloat
	kindBool
	kindString
)

// ParseCSV 读取带表头的 CSV，按列推断 int/float/bool/string 类型，空单元格为 nil。
func ParseCSV(r io.Reader) (*model.ResultTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("result file is empty")
	}

	columns := records[0]
	rows := records[1:]
	kinds := make([]columnKind, len(columns))
	for i := range columns {
		kinds[i] = inferKind(rows, i)
	}

	table := &model.ResultTable{
		Columns:  columns,
		Data:     make([]map[string]any, 0, len(rows)),
		RowCount: len(rows),
	}
	for _, rec := range rows {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i >= len(rec) || rec[i] == "" {
				row[col] = nil
				continue
			}
			row[col] = convert(rec[i], kinds[i])
		}
		table.Data = append(table.Data, row)
	}
	return table, nil
}

func inferKind(rows [][]string, col int) columnKind {
	for _, kind := range []columnKind{kindInt, kindFloat, kindBool} {
		if allFit(rows, col, kind) {
			return kind
		}
	}
	return kindString
}

// allFit 要求至少有一个非空单元格，且全部符合 kind。
func allFit(rows [][]string, col int, kind columnKind) bool {
	seen := false
	for _, rec := range rows {
		if col >= len(rec) || rec[col] == "" {
			continue
		}
		if !fits(rec[col], kind) {
			return false
		}
		seen = true
	}
	return seen
}

func fits(v string, kind columnKind) bool {
	switch kind {
	case kindInt:
		_, err := strconv.ParseInt(v, 10, 64)
		return err == nil
	case kindFloat:
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	case kindBool:
		_, ok := parseBool(v)
		return ok
	}
	return true
}

func convert(v string, kind columnKind) any {
	switch kind {
	case kindInt:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case kindFloat:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case kindBool:
		b, _ := parseBool(v)
		return b
	}
	return v
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}
