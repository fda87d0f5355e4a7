package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToChatMessageRoles(t *testing.T) {
	cases := map[string]string{
		"user":       "user",
		"assistant":  "assistant",
		"system":     "system",
		"tool":       "tool",
		"toolResult": "tool",
		"wizard":     "system",
	}
	for raw, want := range cases {
		msg := ToChatMessage(map[string]any{"role": raw, "content": "x"})
		assert.Equal(t, want, msg.Role, "role %q", raw)
	}
}

func TestToChatMessageNonMapBecomesSystem(t *testing.T) {
	msg := ToChatMessage("stray string")
	assert.Equal(t, "system", msg.Role)
	assert.Equal(t, "stray string", msg.Content)
	assert.Equal(t, "??:??", msg.Timestamp)
}

func TestToChatMessageToolName(t *testing.T) {
	msg := ToChatMessage(map[string]any{"role": "tool", "toolName": "bash", "content": "ok"})
	assert.Equal(t, "bash", msg.ToolName)
}

func TestTimestampISOString(t *testing.T) {
	msg := ToChatMessage(map[string]any{"role": "user", "timestamp": "2026-08-30T14:23:11Z", "content": "x"})
	assert.Equal(t, "14:23", msg.Timestamp)
}

func TestTimestampEpochMillisAndSeconds(t *testing.T) {
	millis := ToChatMessage(map[string]any{"role": "user", "timestamp": float64(1_767_100_000_000), "content": "x"})
	seconds := ToChatMessage(map[string]any{"role": "user", "timestamp": float64(1_767_100_000), "content": "x"})
	// Millis and seconds for the same instant render identically.
	assert.Equal(t, seconds.Timestamp, millis.Timestamp)
	assert.NotEqual(t, "??:??", seconds.Timestamp)
}

func TestCoerceContentBlocks(t *testing.T) {
	content := []any{
		"plain",
		map[string]any{"text": "from text"},
		map[string]any{"content": "nested"},
		map[string]any{"irrelevant": true},
	}
	assert.Equal(t, "plain\nfrom text\nnested", CoerceContent(content))
}

func TestParseHistoryAcceptsListAndWrapper(t *testing.T) {
	list := json.RawMessage(`[{"role":"user","content":"hi"}]`)
	wrapped := json.RawMessage(`{"messages":[{"role":"assistant","content":"hello"}]}`)

	fromList := ParseHistory(list)
	require.Len(t, fromList, 1)
	assert.Equal(t, "user", fromList[0].Role)

	fromWrapper := ParseHistory(wrapped)
	require.Len(t, fromWrapper, 1)
	assert.Equal(t, "hello", fromWrapper[0].Content)

	assert.Nil(t, ParseHistory(json.RawMessage(`"bogus"`)))
}
