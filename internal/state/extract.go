package state

import (
	"encoding/json"
	"strings"
)

// ExtractText normalizes the message shapes the gateway emits into plain
// text. Accepted shapes, and nothing else:
//
//	"plain string"
//	[{"type":"text","text":"..."}, ...]   — text blocks are concatenated,
//	                                        other block types are skipped
//	{"content": <any accepted shape>}
//	{"text": "..."}
//
// Unrecognized values yield "".
func ExtractText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		var b strings.Builder
		for _, item := range val {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := block["type"].(string); t != "" && t != "text" {
				continue
			}
			if text, ok := block["text"].(string); ok {
				b.WriteString(text)
				continue
			}
			b.WriteString(ExtractText(item))
		}
		return b.String()
	case map[string]any:
		if content, ok := val["content"]; ok {
			return ExtractText(content)
		}
		if text, ok := val["text"].(string); ok {
			return text
		}
		return ""
	default:
		return ""
	}
}

// ExtractRaw decodes a raw JSON message body and extracts its text.
func ExtractRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return ExtractText(v)
}
