// Package repository 提供了数据访问层的实现。
package repository

import "errors"

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateConnection 表示连接名已被占用。
	ErrDuplicateConnection = errors.New("connection name already exists")
)
