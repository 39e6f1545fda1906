// Package service 包含了应用的业务逻辑层。
package service

import "errors"

var (
	ErrChatNotFound         = errors.New("chat not found")
	ErrChatHasNoConnections = errors.New("chat has no connections")
	ErrConnectionRequired   = errors.New("at least one connection is required")
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrMessageNotFound      = errors.New("message not found")
)
