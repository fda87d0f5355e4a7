package chat

import (
	"encoding/json"
	"strings"
)

// SessionInfo is one entry from the sessions.list catalog.
type SessionInfo struct {
	Key            string
	Kind           string
	Channel        string
	DisplayName    string
	Label          string
	SessionID      string
	Model          string
	ContextTokens  int
	TotalTokens    int
	UpdatedAt      int64
	AbortedLastRun bool
}

// Name returns the label when set, else the display name.
func (s SessionInfo) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return s.DisplayName
}

// AgentID extracts the agent from the key: "agent:main:main" yields "main".
func (s SessionInfo) AgentID() string {
	parts := strings.SplitN(s.Key, ":", 3)
	if len(parts) >= 2 {
		return parts[1]
	}
	return "unknown"
}

// ShortModel trims the vendor prefix and a trailing date stamp from the
// model name for compact display.
func (s SessionInfo) ShortModel() string {
	name := strings.ReplaceAll(s.Model, "claude-", "")
	if idx := strings.LastIndexByte(name, '-'); idx >= 0 {
		suffix := name[idx+1:]
		if len(suffix) == 8 && isDigits(suffix) {
			name = name[:idx]
		}
	}
	return name
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ParseSessions decodes a sessions.list payload into SessionInfo records,
// skipping malformed entries. Accepts a bare list or an object with a
// sessions member.
func ParseSessions(payload json.RawMessage) []SessionInfo {
	var records []map[string]any
	if err := json.Unmarshal(payload, &records); err != nil {
		var wrapper struct {
			Sessions []map[string]any `json:"sessions"`
		}
		if err := json.Unmarshal(payload, &wrapper); err != nil {
			return nil
		}
		records = wrapper.Sessions
	}

	sessions := make([]SessionInfo, 0, len(records))
	for _, raw := range records {
		key, _ := raw["key"].(string)
		if key == "" {
			continue
		}
		info := SessionInfo{
			Key:         key,
			Kind:        stringOr(raw, "kind", "other"),
			Channel:     stringOr(raw, "channel", "unknown"),
			DisplayName: stringOr(raw, "displayName", key),
			Model:       stringOr(raw, "model", "unknown"),
		}
		info.Label, _ = raw["label"].(string)
		info.SessionID, _ = raw["sessionId"].(string)
		if v, ok := raw["contextTokens"].(float64); ok {
			info.ContextTokens = int(v)
		}
		if v, ok := raw["totalTokens"].(float64); ok {
			info.TotalTokens = int(v)
		}
		if v, ok := raw["updatedAt"].(float64); ok {
			info.UpdatedAt = int64(v)
		}
		info.AbortedLastRun, _ = raw["abortedLastRun"].(bool)
		sessions = append(sessions, info)
	}
	return sessions
}

func stringOr(raw map[string]any, key, fallback string) string {
	if v, ok := raw[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
