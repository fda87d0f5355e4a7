package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/openclaw/clawdeck/pkg/errors"
	"github.com/openclaw/clawdeck/pkg/logging"
)

// Transport is the slice of the gateway client the router drives.
type Transport interface {
	Abort(ctx context.Context, sessionKey, runID string) error
	ListSessions(ctx context.Context, filter map[string]any) (json.RawMessage, error)
	PatchSession(ctx context.Context, sessionKey string, patch map[string]any) (json.RawMessage, error)
	ResetSession(ctx context.Context, sessionKey string) (json.RawMessage, error)
	ListAgents(ctx context.Context) (json.RawMessage, error)
	ListModels(ctx context.Context) (json.RawMessage, error)
	Status(ctx context.Context) (json.RawMessage, error)
}

// Outcome classifies how the router dealt with a command.
type Outcome int

const (
	// Handled: a recognized command ran (its RPC may still have failed; see
	// Message).
	Handled Outcome = iota
	// InvalidArgs: recognized command, arguments rejected before any RPC.
	InvalidArgs
	// Unrecognized: not a known command; the raw input was forwarded
	// verbatim as a chat message so the server may interpret it.
	Unrecognized
)

// CommandResult is the structured outcome of routing one command.
type CommandResult struct {
	Outcome Outcome
	Message string
}

// RouterHooks are the local actions commands can trigger. Nil members make
// the corresponding commands report "not available".
type RouterHooks struct {
	SendText      func(ctx context.Context, text string)
	System        func(text string)
	ReloadHistory func(limit int)
	Clear         func()
	SwitchSession func(sessionKey string)
	SwitchAgent   func(agentID string)
	NewSession    func(args string)
	Exit          func()
}

// Router parses slash input and maps known commands onto gateway RPCs.
// Unknown slash commands pass through verbatim as chat text: the server may
// support commands this client does not know about.
type Router struct {
	transport Transport
	processor *Processor
	hooks     RouterHooks
	logger    *logging.Logger
}

func NewRouter(transport Transport, processor *Processor, hooks RouterHooks, logger *logging.Logger) *Router {
	return &Router{transport: transport, processor: processor, hooks: hooks, logger: logger}
}

// Route dispatches one parsed command. Input of other kinds (messages, bang
// commands) is the caller's responsibility.
func (r *Router) Route(ctx context.Context, parsed ParsedInput) CommandResult {
	if parsed.Kind != KindCommand {
		return CommandResult{Outcome: Unrecognized}
	}
	if parsed.Name == "" {
		return r.invalid("empty command; try /help")
	}

	r.logCommand(parsed.Name)

	// Abort bypasses the dispatch table so it works even with a minimal
	// command surface wired up.
	if parsed.Name == "abort" {
		return r.handleAbort(ctx)
	}

	switch parsed.Name {
	case "help", "commands":
		r.system(FormatHelp())
		return CommandResult{Outcome: Handled}

	case "status":
		return r.handleStatus(ctx)

	case "sessions":
		return r.handleSessions(ctx)

	case "session":
		if parsed.Args == "" {
			return r.handleSessions(ctx)
		}
		if r.hooks.SwitchSession == nil {
			return r.handledMsg("session switching not available")
		}
		r.hooks.SwitchSession(parsed.Args)
		return CommandResult{Outcome: Handled}

	case "agents":
		return r.handleAgents(ctx)

	case "agent":
		if parsed.Args == "" {
			return r.handleAgents(ctx)
		}
		if r.hooks.SwitchAgent == nil {
			return r.handledMsg("agent switching not available")
		}
		r.hooks.SwitchAgent(parsed.Args)
		return CommandResult{Outcome: Handled}

	case "models":
		return r.handleModels(ctx)

	case "model":
		if parsed.Args == "" {
			return r.handleModels(ctx)
		}
		return r.handleSetModel(ctx, parsed.Args)

	case "think":
		if parsed.Args == "" {
			return r.usage("think")
		}
		return r.patch(ctx, map[string]any{"thinkingLevel": parsed.Args})

	case "verbose":
		level, ok := onOffArg(parsed.Args)
		if !ok {
			return r.usage("verbose")
		}
		result := r.patch(ctx, map[string]any{"verboseLevel": level})
		if result.Outcome == Handled {
			r.processor.SetVerboseLevel(level)
		}
		return result

	case "reasoning":
		level, ok := onOffArg(parsed.Args)
		if !ok {
			return r.usage("reasoning")
		}
		return r.patch(ctx, map[string]any{"reasoningLevel": level})

	case "usage":
		mode := strings.ToLower(strings.TrimSpace(parsed.Args))
		if mode != "off" && mode != "tokens" && mode != "full" {
			return r.usage("usage")
		}
		return r.patch(ctx, map[string]any{"responseUsage": mode})

	case "elevated":
		level, ok := onOffArg(parsed.Args)
		if !ok {
			return r.usage("elevated")
		}
		return r.patch(ctx, map[string]any{"elevated": level})

	case "activation":
		if parsed.Args == "" {
			return r.usage("activation")
		}
		return r.patch(ctx, map[string]any{"activation": parsed.Args})

	case "newsession":
		if r.hooks.NewSession == nil {
			return r.handledMsg("new sessions not available")
		}
		r.hooks.NewSession(parsed.Args)
		return CommandResult{Outcome: Handled}

	case "new", "reset":
		return r.handleReset(ctx)

	case "history":
		return r.handleHistory(parsed.Args)

	case "clear":
		if r.hooks.Clear != nil {
			r.hooks.Clear()
		}
		return CommandResult{Outcome: Handled}

	case "exit", "quit":
		if r.hooks.Exit != nil {
			r.hooks.Exit()
		}
		return CommandResult{Outcome: Handled}
	}

	// Server-side passthrough for commands this client does not know.
	if r.logger != nil {
		_ = r.logger.Debug(logging.CategoryCommand, "forwarded", "", map[string]any{
			"command": parsed.Name,
			"code":    string(errors.ErrCodeCommandUnknown),
		})
	}
	if r.hooks.SendText != nil {
		r.hooks.SendText(ctx, parsed.Raw)
	}
	return CommandResult{Outcome: Unrecognized, Message: "forwarded to server"}
}

func (r *Router) handleAbort(ctx context.Context) CommandResult {
	sessionKey := r.processor.SessionKey()
	if sessionKey == "" {
		return r.handledMsg("abort failed: no active session")
	}
	runID := r.processor.ActiveRunID()
	if err := r.transport.Abort(ctx, sessionKey, runID); err != nil {
		return r.handledMsg(fmt.Sprintf("abort failed: %v", err))
	}
	r.system("abort requested")
	return CommandResult{Outcome: Handled}
}

func (r *Router) handleStatus(ctx context.Context) CommandResult {
	payload, err := r.transport.Status(ctx)
	if err != nil {
		return r.handledMsg(fmt.Sprintf("status failed: %v", err))
	}
	r.system(indentJSON(payload))
	return CommandResult{Outcome: Handled}
}

func (r *Router) handleSessions(ctx context.Context) CommandResult {
	payload, err := r.transport.ListSessions(ctx, nil)
	if err != nil {
		return r.handledMsg(fmt.Sprintf("sessions failed: %v", err))
	}
	sessions := ParseSessions(payload)
	if len(sessions) == 0 {
		r.system("no sessions")
		return CommandResult{Outcome: Handled}
	}
	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "%s  %s  %s\n", s.Key, s.ShortModel(), s.Name())
	}
	r.system(strings.TrimRight(b.String(), "\n"))
	return CommandResult{Outcome: Handled}
}

func (r *Router) handleAgents(ctx context.Context) CommandResult {
	payload, err := r.transport.ListAgents(ctx)
	if err != nil {
		return r.handledMsg(fmt.Sprintf("agents failed: %v", err))
	}
	r.system(indentJSON(payload))
	return CommandResult{Outcome: Handled}
}

func (r *Router) handleModels(ctx context.Context) CommandResult {
	payload, err := r.transport.ListModels(ctx)
	if err != nil {
		return r.handledMsg(fmt.Sprintf("models failed: %v", err))
	}
	r.system(indentJSON(payload))
	return CommandResult{Outcome: Handled}
}

func (r *Router) handleSetModel(ctx context.Context, ref string) CommandResult {
	if !ValidModelRef(ref) {
		return r.usage("model")
	}
	return r.patch(ctx, map[string]any{"model": ref})
}

func (r *Router) handleReset(ctx context.Context) CommandResult {
	sessionKey := r.processor.SessionKey()
	if sessionKey == "" {
		return r.handledMsg("reset failed: no active session")
	}
	if _, err := r.transport.ResetSession(ctx, sessionKey); err != nil {
		return r.handledMsg(fmt.Sprintf("reset failed: %v", err))
	}
	r.system("session reset")
	return CommandResult{Outcome: Handled}
}

func (r *Router) handleHistory(args string) CommandResult {
	limit := 30
	if args != "" {
		n, err := strconv.Atoi(strings.TrimSpace(args))
		if err != nil || n < 1 {
			return r.usage("history")
		}
		limit = n
	}
	if r.hooks.ReloadHistory == nil {
		return r.handledMsg("history reload not available")
	}
	r.hooks.ReloadHistory(limit)
	return CommandResult{Outcome: Handled}
}

func (r *Router) patch(ctx context.Context, patch map[string]any) CommandResult {
	sessionKey := r.processor.SessionKey()
	if sessionKey == "" {
		return r.handledMsg("no active session")
	}
	if _, err := r.transport.PatchSession(ctx, sessionKey, patch); err != nil {
		return r.handledMsg(fmt.Sprintf("update failed: %v", err))
	}
	return CommandResult{Outcome: Handled}
}

func (r *Router) usage(name string) CommandResult {
	return r.invalid("usage: " + CommandUsage[name])
}

func (r *Router) invalid(message string) CommandResult {
	if r.logger != nil {
		_ = r.logger.Debug(logging.CategoryCommand, "rejected", message, map[string]any{
			"code": string(errors.ErrCodeCommandInvalid),
		})
	}
	r.system(message)
	return CommandResult{Outcome: InvalidArgs, Message: message}
}

func (r *Router) handledMsg(message string) CommandResult {
	r.system(message)
	return CommandResult{Outcome: Handled, Message: message}
}

func (r *Router) system(text string) {
	if r.hooks.System != nil {
		r.hooks.System(text)
	}
}

func (r *Router) logCommand(name string) {
	if r.logger != nil {
		_ = r.logger.Debug(logging.CategoryCommand, "dispatch", "", map[string]any{"command": name})
	}
}

// ValidModelRef reports whether ref has the provider/model shape.
func ValidModelRef(ref string) bool {
	provider, model, ok := strings.Cut(ref, "/")
	return ok && provider != "" && model != "" && !strings.ContainsAny(provider, " \t")
}

func onOffArg(args string) (string, bool) {
	level := strings.ToLower(strings.TrimSpace(args))
	if level == "on" || level == "off" {
		return level, true
	}
	return "", false
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
