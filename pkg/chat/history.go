package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChatMessage is one transcript entry ready for display.
type ChatMessage struct {
	Role      string
	Content   string
	Timestamp string // HH:MM, or ??:?? when the record carried no usable time
	ToolName  string
}

var knownRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
	"tool":      true,
}

// CoerceContent converts a gateway content payload into plain text: string
// passthrough, objects with a text member, or content-block lists joined with
// newlines. Anything else falls back to its JSON-ish rendering.
func CoerceContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			return text
		}
		return fmt.Sprintf("%v", v)
	case []any:
		chunks := make([]string, 0, len(v))
		for _, item := range v {
			switch block := item.(type) {
			case string:
				chunks = append(chunks, block)
			case map[string]any:
				if text, ok := block["text"].(string); ok {
					chunks = append(chunks, text)
					continue
				}
				if nested, ok := block["content"].(string); ok {
					chunks = append(chunks, nested)
				}
			}
		}
		if len(chunks) > 0 {
			return strings.Join(chunks, "\n")
		}
	}
	return fmt.Sprintf("%v", content)
}

// ToChatMessage maps one raw gateway history record to a ChatMessage.
// Unknown roles collapse to system; toolResult records become tool messages.
func ToChatMessage(raw any) ChatMessage {
	record, ok := raw.(map[string]any)
	if !ok {
		return ChatMessage{Role: "system", Content: CoerceContent(raw), Timestamp: "??:??"}
	}

	role := "system"
	if r, ok := record["role"].(string); ok && r != "" {
		role = r
	}
	if role == "toolResult" {
		role = "tool"
	}
	if !knownRoles[role] {
		role = "system"
	}

	toolName := ""
	for _, key := range []string{"tool_name", "toolName", "name"} {
		if v, ok := record[key].(string); ok && v != "" {
			toolName = v
			break
		}
	}

	content := ""
	if record["content"] != nil {
		content = CoerceContent(record["content"])
	}

	return ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: formatTimestamp(record["timestamp"]),
		ToolName:  toolName,
	}
}

// formatTimestamp renders epoch seconds-or-millis or ISO-ish strings as
// HH:MM.
func formatTimestamp(raw any) string {
	switch v := raw.(type) {
	case float64:
		epoch := v
		if epoch > 1_000_000_000_000 {
			epoch /= 1000
		}
		return time.Unix(int64(epoch), 0).Format("15:04")
	case string:
		if idx := strings.IndexByte(v, 'T'); idx >= 0 {
			return clampClock(v[idx+1:])
		}
		if idx := strings.IndexByte(v, ' '); idx >= 0 {
			return clampClock(v[idx+1:])
		}
		return clampClock(v)
	}
	return "??:??"
}

func clampClock(s string) string {
	if len(s) > 5 {
		return s[:5]
	}
	if s == "" {
		return "??:??"
	}
	return s
}

// ParseHistory decodes a chat.history payload into display messages. Both a
// bare list and an object with a messages member are accepted.
func ParseHistory(payload json.RawMessage) []ChatMessage {
	var records []any
	if err := json.Unmarshal(payload, &records); err != nil {
		var wrapper struct {
			Messages []any `json:"messages"`
		}
		if err := json.Unmarshal(payload, &wrapper); err != nil {
			return nil
		}
		records = wrapper.Messages
	}

	messages := make([]ChatMessage, 0, len(records))
	for _, record := range records {
		messages = append(messages, ToChatMessage(record))
	}
	return messages
}
