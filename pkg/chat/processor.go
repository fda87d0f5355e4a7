package chat

import (
	"fmt"
	"sync"

	"github.com/openclaw/clawdeck/pkg/logging"
)

// Chat run lifecycle states on the wire.
const (
	runStateDelta   = "delta"
	runStateFinal   = "final"
	runStateAborted = "aborted"
	runStateError   = "error"
)

// Status names emitted through Hooks.Status.
const (
	StatusStreaming = "streaming"
	StatusRunning   = "running"
	StatusIdle      = "idle"
	StatusAborted   = "aborted"
	StatusError     = "error"
)

// Gateway event names the processor consumes.
const (
	EventChat  = "chat"
	EventAgent = "agent"
)

// Hooks are the UI-facing callbacks the processor drives. Nil members are
// skipped. Hooks run synchronously from the transport read loop; they must
// not block.
type Hooks struct {
	// AssistantUpdate delivers in-progress assistant text for a run.
	AssistantUpdate func(text, runID string)

	// AssistantFinal delivers the completed assistant text for a run.
	AssistantFinal func(text, runID string)

	// System delivers a local system notice (aborts, run errors).
	System func(text string)

	// Status reports the session's activity state (StatusStreaming etc).
	Status func(name string)

	// RefreshHistory fires when a run finished that this client did not
	// start: the preceding turns were never streamed here, so the transcript
	// must be reconciled with a full history fetch.
	RefreshHistory func()
}

// Processor consumes normalized chat and agent events for one session,
// updating run tracking and the stream assembler and emitting UI callbacks.
type Processor struct {
	mu              sync.Mutex
	state           *RunState
	assembler       *StreamAssembler
	hooks           Hooks
	includeThinking bool
	verboseLevel    string
	logger          *logging.Logger
}

// NewProcessor builds a processor bound to sessionKey. logger may be nil.
func NewProcessor(sessionKey string, hooks Hooks, logger *logging.Logger) *Processor {
	return &Processor{
		state:        NewRunState(sessionKey),
		assembler:    NewStreamAssembler(),
		hooks:        hooks,
		verboseLevel: "off",
		logger:       logger,
	}
}

// SetIncludeThinking toggles whether thinking blocks appear in extracted text.
func (p *Processor) SetIncludeThinking(include bool) {
	p.mu.Lock()
	p.includeThinking = include
	p.mu.Unlock()
}

// SetVerboseLevel controls whether tool telemetry affects status ("off"
// disables it).
func (p *Processor) SetVerboseLevel(level string) {
	p.mu.Lock()
	p.verboseLevel = level
	p.mu.Unlock()
}

// SetSessionKey switches sessions. This is a barrier: run tracking is reset
// and the assembler replaced, so in-flight events for the old key are
// discarded by the session-key check.
func (p *Processor) SetSessionKey(sessionKey string) {
	p.mu.Lock()
	p.state.SetSessionKey(sessionKey)
	p.assembler = NewStreamAssembler()
	p.mu.Unlock()
}

// SessionKey returns the session this processor is bound to.
func (p *Processor) SessionKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.SessionKey
}

// ActiveRunID returns the currently streaming run, or empty.
func (p *Processor) ActiveRunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.ActiveRunID
}

// NoteLocalRun records a run id issued by this client's own chat.send, so its
// completion does not trigger a history refresh.
func (p *Processor) NoteLocalRun(runID string) {
	p.mu.Lock()
	p.state.NoteLocalRun(runID)
	p.mu.Unlock()
}

// ForgetLocalRun drops a run from local tracking (send failed or aborted
// before any event arrived).
func (p *Processor) ForgetLocalRun(runID string) {
	p.mu.Lock()
	p.state.ForgetLocalRun(runID)
	p.mu.Unlock()
}

// HandleEvent routes a gateway event by name. Unknown names are ignored.
func (p *Processor) HandleEvent(name string, payload any) {
	switch name {
	case EventChat:
		p.HandleChatEvent(payload)
	case EventAgent:
		p.HandleAgentEvent(payload)
	}
}

// HandleChatEvent processes one chat.* event payload. Events for other
// sessions, malformed payloads, and delta/final frames for already-finalized
// runs are dropped silently.
func (p *Processor) HandleChatEvent(payload any) {
	record, ok := payload.(map[string]any)
	if !ok {
		return
	}
	sessionKey, _ := record["sessionKey"].(string)
	runID, _ := record["runId"].(string)
	stateName, _ := record["state"].(string)
	if sessionKey == "" || runID == "" || stateName == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if sessionKey != p.state.SessionKey {
		return
	}
	if p.state.IsFinalized(runID) && (stateName == runStateDelta || stateName == runStateFinal) {
		return
	}

	p.state.NoteSessionRun(runID)
	if p.state.ActiveRunID == "" {
		p.state.ActiveRunID = runID
	}

	switch stateName {
	case runStateDelta:
		text := p.assembler.IngestDelta(runID, record["message"], p.includeThinking)
		if text != "" {
			p.emitAssistantUpdate(text, runID)
			p.emitStatus(StatusStreaming)
		}

	case runStateFinal:
		finalText := p.assembler.Finalize(runID, record["message"], p.includeThinking)
		if finalText != "" {
			p.emitAssistantFinal(finalText, runID)
		}
		local := p.state.IsLocalRun(runID)
		p.state.NoteFinalizedRun(runID)
		p.state.ActiveRunID = ""
		p.emitStatus(StatusIdle)
		if !local && p.hooks.RefreshHistory != nil {
			p.hooks.RefreshHistory()
		}
		p.state.ForgetLocalRun(runID)
		p.logRun("final", runID, map[string]any{"local": local})

	case runStateAborted:
		p.emitSystem("run aborted")
		p.assembler.Drop(runID)
		p.state.NoteFinalizedRun(runID)
		p.state.ActiveRunID = ""
		p.state.ForgetLocalRun(runID)
		p.emitStatus(StatusAborted)
		p.logRun("aborted", runID, nil)

	case runStateError:
		message, _ := record["errorMessage"].(string)
		if message == "" {
			message = "unknown"
		}
		p.emitSystem(fmt.Sprintf("run error: %s", message))
		p.assembler.Drop(runID)
		p.state.NoteFinalizedRun(runID)
		p.state.ActiveRunID = ""
		p.state.ForgetLocalRun(runID)
		p.emitStatus(StatusError)
		p.logRun("error", runID, map[string]any{"message": message})
	}
}

// HandleAgentEvent processes agent stream telemetry. Only events for runs
// this session knows about are honored; lifecycle phases map to status, and
// tool entries bump status only when verbosity is on.
func (p *Processor) HandleAgentEvent(payload any) {
	record, ok := payload.(map[string]any)
	if !ok {
		return
	}
	runID, _ := record["runId"].(string)
	stream, _ := record["stream"].(string)
	if runID == "" || stream == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.IsKnownRun(runID) {
		return
	}

	switch stream {
	case "lifecycle":
		data, _ := record["data"].(map[string]any)
		phase, _ := data["phase"].(string)
		switch phase {
		case "start":
			p.emitStatus(StatusRunning)
		case "end":
			p.emitStatus(StatusIdle)
		case "error":
			p.emitStatus(StatusError)
		}
	case "tool":
		if p.verboseLevel != "off" {
			p.emitStatus(StatusRunning)
		}
	}
}

func (p *Processor) emitAssistantUpdate(text, runID string) {
	if p.hooks.AssistantUpdate != nil {
		p.hooks.AssistantUpdate(text, runID)
	}
}

func (p *Processor) emitAssistantFinal(text, runID string) {
	if p.hooks.AssistantFinal != nil {
		p.hooks.AssistantFinal(text, runID)
	}
}

func (p *Processor) emitSystem(text string) {
	if p.hooks.System != nil {
		p.hooks.System(text)
	}
}

func (p *Processor) emitStatus(name string) {
	if p.hooks.Status != nil {
		p.hooks.Status(name)
	}
}

func (p *Processor) logRun(eventType, runID string, details map[string]any) {
	if p.logger == nil {
		return
	}
	_ = p.logger.Log(logging.Event{
		Level:     logging.LevelDebug,
		Category:  logging.CategoryChat,
		EventType: eventType,
		RunID:     runID,
		Details:   details,
	})
}
