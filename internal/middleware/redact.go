package middleware

import "regexp"

var passwordField = regexp.MustCompile(`("password"\s*:\s*)"(?:[^"\\]|\\.)*"`)

// redactPassword 遮蔽 JSON 请求体中的 password 字段。
func redactPassword(body []byte) []byte {
	return passwordField.ReplaceAll(body, []byte(`$1"***"`))
}
