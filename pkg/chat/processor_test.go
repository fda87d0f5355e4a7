package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type hookRecorder struct {
	updates  []string
	finals   []string
	systems  []string
	statuses []string
	refresh  int
}

func (r *hookRecorder) hooks() Hooks {
	return Hooks{
		AssistantUpdate: func(text, runID string) { r.updates = append(r.updates, text) },
		AssistantFinal:  func(text, runID string) { r.finals = append(r.finals, text) },
		System:          func(text string) { r.systems = append(r.systems, text) },
		Status:          func(name string) { r.statuses = append(r.statuses, name) },
		RefreshHistory:  func() { r.refresh++ },
	}
}

func chatEvent(sessionKey, runID, state string, message any) map[string]any {
	payload := map[string]any{
		"sessionKey": sessionKey,
		"runId":      runID,
		"state":      state,
	}
	if message != nil {
		payload["message"] = message
	}
	return payload
}

func TestDeltaEmitsUpdateAndStreamingStatus(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)

	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "delta", "partial"))

	assert.Equal(t, []string{"partial"}, rec.updates)
	assert.Equal(t, []string{StatusStreaming}, rec.statuses)
	assert.Equal(t, "run-1", p.ActiveRunID())
}

func TestEmptyDeltaEmitsNothing(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)

	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "delta", map[string]any{}))

	assert.Empty(t, rec.updates)
	assert.Empty(t, rec.statuses)
}

func TestOtherSessionEventsIgnored(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)

	p.HandleChatEvent(chatEvent("agent:main:other", "run-1", "delta", "text"))

	assert.Empty(t, rec.updates)
	assert.Equal(t, "", p.ActiveRunID())
}

func TestFinalForLocalRunSkipsRefresh(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)
	p.NoteLocalRun("run-1")

	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "delta", "partial"))
	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "final", "done"))

	assert.Equal(t, []string{"done"}, rec.finals)
	assert.Equal(t, 0, rec.refresh)
	assert.Equal(t, "", p.ActiveRunID())
}

func TestFinalForRemoteRunTriggersRefreshOnce(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)

	p.HandleChatEvent(chatEvent("agent:main:main", "run-remote", "final", "from elsewhere"))

	assert.Equal(t, 1, rec.refresh)

	// The finalized set absorbs replays; no second refresh.
	p.HandleChatEvent(chatEvent("agent:main:main", "run-remote", "final", "from elsewhere"))
	assert.Equal(t, 1, rec.refresh)
}

func TestFinalizedRunIgnoresFurtherFrames(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)

	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "final", "done"))
	updatesBefore := len(rec.updates)
	finalsBefore := len(rec.finals)

	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "delta", "late delta"))
	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "final", "late final"))

	assert.Equal(t, updatesBefore, len(rec.updates))
	assert.Equal(t, finalsBefore, len(rec.finals))
}

func TestAbortedEmitsNoticeAndStatus(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)

	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "delta", "partial"))
	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "aborted", nil))

	assert.Contains(t, rec.systems, "run aborted")
	assert.Equal(t, StatusAborted, rec.statuses[len(rec.statuses)-1])
	assert.Equal(t, "", p.ActiveRunID())
}

func TestErrorUsesServerMessageOrUnknown(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)

	payload := chatEvent("agent:main:main", "run-1", "error", nil)
	payload["errorMessage"] = "model overloaded"
	p.HandleChatEvent(payload)
	assert.Contains(t, rec.systems, "run error: model overloaded")

	p.HandleChatEvent(chatEvent("agent:main:main", "run-2", "error", nil))
	assert.Contains(t, rec.systems, "run error: unknown")
}

func TestMalformedPayloadsIgnored(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)

	p.HandleChatEvent("not a map")
	p.HandleChatEvent(map[string]any{"sessionKey": "agent:main:main"})
	p.HandleChatEvent(nil)

	assert.Empty(t, rec.updates)
	assert.Empty(t, rec.statuses)
}

func TestAgentLifecycleMapsToStatus(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)
	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "delta", "x"))

	for phase, want := range map[string]string{
		"start": StatusRunning,
		"end":   StatusIdle,
		"error": StatusError,
	} {
		rec.statuses = nil
		p.HandleAgentEvent(map[string]any{
			"runId":  "run-1",
			"stream": "lifecycle",
			"data":   map[string]any{"phase": phase},
		})
		assert.Equal(t, []string{want}, rec.statuses, "phase %q", phase)
	}
}

func TestAgentEventsForUnknownRunsIgnored(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)

	p.HandleAgentEvent(map[string]any{
		"runId":  "run-unknown",
		"stream": "lifecycle",
		"data":   map[string]any{"phase": "start"},
	})

	assert.Empty(t, rec.statuses)
}

func TestAgentToolEventsRespectVerbosity(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)
	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "delta", "x"))
	rec.statuses = nil

	tool := map[string]any{"runId": "run-1", "stream": "tool", "data": map[string]any{"name": "bash"}}

	p.HandleAgentEvent(tool)
	assert.Empty(t, rec.statuses)

	p.SetVerboseLevel("on")
	p.HandleAgentEvent(tool)
	assert.Equal(t, []string{StatusRunning}, rec.statuses)
}

func TestTrailingTelemetryAfterFinalizeStillKnown(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)

	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "final", "done"))
	rec.statuses = nil

	p.HandleAgentEvent(map[string]any{
		"runId":  "run-1",
		"stream": "lifecycle",
		"data":   map[string]any{"phase": "end"},
	})
	assert.Equal(t, []string{StatusIdle}, rec.statuses)
}

func TestSessionSwitchIsBarrier(t *testing.T) {
	rec := &hookRecorder{}
	p := NewProcessor("agent:main:main", rec.hooks(), nil)
	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "delta", "text"))

	p.SetSessionKey("agent:main:other")

	// Events for the old key are discarded after the switch.
	p.HandleChatEvent(chatEvent("agent:main:main", "run-1", "delta", "more"))
	assert.Equal(t, []string{"text"}, rec.updates)
	assert.Equal(t, "", p.ActiveRunID())
}
