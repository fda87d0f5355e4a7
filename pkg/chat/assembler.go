// Package chat reconstructs coherent chat transcripts from the gateway's
// at-least-once event feed: run tracking, cumulative-delta assembly, history
// conversion, and slash-command routing.
package chat

import "strings"

// extractContentItem pulls display text from one content block. Thinking
// blocks are suppressed unless includeThinking.
func extractContentItem(item any, includeThinking bool) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]any:
		if kind, ok := v["type"].(string); ok {
			if strings.EqualFold(kind, "thinking") && !includeThinking {
				return ""
			}
		}
		if text, ok := v["text"].(string); ok {
			return text
		}
		if content, ok := v["content"].(string); ok {
			return content
		}
	}
	return ""
}

// ExtractText pulls human-visible text out of a raw message payload: string
// passthrough, an object with content/text, or a list of content blocks
// joined with newlines (empty parts skipped, result trimmed).
func ExtractText(message any, includeThinking bool) string {
	switch v := message.(type) {
	case string:
		return v
	case map[string]any:
		switch content := v["content"].(type) {
		case string:
			return content
		case []any:
			parts := make([]string, 0, len(content))
			for _, item := range content {
				if part := extractContentItem(item, includeThinking); part != "" {
					parts = append(parts, part)
				}
			}
			return strings.TrimSpace(strings.Join(parts, "\n"))
		}
		if text, ok := v["text"].(string); ok {
			return text
		}
	}
	return ""
}

// StreamAssembler turns cumulative delta snapshots into stable display text,
// one buffer per run. Each delta carries the full transcript so far, so a
// non-empty extraction replaces the stored text rather than appending.
type StreamAssembler struct {
	latest map[string]string
}

func NewStreamAssembler() *StreamAssembler {
	return &StreamAssembler{latest: make(map[string]string)}
}

// IngestDelta folds one delta into the run's buffer and returns the best
// known text for the run. An empty extraction leaves the previous text in
// place.
func (a *StreamAssembler) IngestDelta(runID string, message any, includeThinking bool) string {
	if text := ExtractText(message, includeThinking); text != "" {
		a.latest[runID] = text
	}
	return a.latest[runID]
}

// Finalize folds the terminal snapshot in, returns the run's final text, and
// discards the buffer so a reused run id starts from empty.
func (a *StreamAssembler) Finalize(runID string, message any, includeThinking bool) string {
	if text := ExtractText(message, includeThinking); text != "" {
		a.latest[runID] = text
	}
	final := a.latest[runID]
	delete(a.latest, runID)
	return final
}

// Drop discards a run's buffer without returning text.
func (a *StreamAssembler) Drop(runID string) {
	delete(a.latest, runID)
}
