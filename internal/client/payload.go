package client

import (
	"github.com/goccy/go-json"

	"github.com/PratikDhanave/shotlog/internal/normalize"
)

// payloadFields decodes a stored payload; invalid JSON yields nil.
func payloadFields(raw []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func numberField(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		if f, ok := normalize.Number(m[k]); ok {
			return &f
		}
	}
	return nil
}
