// Package json 统一项目内的 JSON 编解码实现，底层使用 sonic。
package json

import (
	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// Marshal 与 encoding/json.Marshal 行为一致。
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal 与 encoding/json.Unmarshal 行为一致。
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// MarshalIndent 与 encoding/json.MarshalIndent 行为一致。
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}
