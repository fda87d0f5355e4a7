package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// ChatSend is one outbound chat message.
type ChatSend struct {
	SessionKey  string
	Message     string
	Thinking    string
	Attachments []any
	RunID       string
	Deliver     bool
	TimeoutMs   int
}

// SendChat submits a chat message and waits for the final agent response, not
// just the accepted receipt. The run id doubles as the idempotency key so a
// replayed send cannot fork a second run; when the caller did not pick one, a
// fresh uuid is generated. Returns the run id actually used.
func (c *Client) SendChat(ctx context.Context, send ChatSend) (string, error) {
	runID := send.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	params := map[string]any{
		"sessionKey":     send.SessionKey,
		"message":        send.Message,
		"runId":          runID,
		"idempotencyKey": runID,
		"deliver":        send.Deliver,
	}
	if send.Thinking != "" {
		params["thinking"] = send.Thinking
	}
	if send.Attachments != nil {
		params["attachments"] = send.Attachments
	}
	if send.TimeoutMs > 0 {
		params["timeoutMs"] = send.TimeoutMs
	}
	_, err := c.Request(ctx, "chat.send", params, RequestOptions{ExpectFinal: true})
	return runID, err
}

// History fetches the persisted transcript for a session.
func (c *Client) History(ctx context.Context, sessionKey string, limit int) (json.RawMessage, error) {
	params := map[string]any{"sessionKey": sessionKey}
	if limit > 0 {
		params["limit"] = limit
	}
	return c.Request(ctx, "chat.history", params, RequestOptions{})
}

// Abort cancels the active run on a session. runID narrows the abort to one
// run; empty aborts whatever is active.
func (c *Client) Abort(ctx context.Context, sessionKey, runID string) error {
	params := map[string]any{"sessionKey": sessionKey}
	if runID != "" {
		params["runId"] = runID
	}
	_, err := c.Request(ctx, "chat.abort", params, RequestOptions{})
	return err
}

// ListSessions fetches the session catalog. filter may be nil.
func (c *Client) ListSessions(ctx context.Context, filter map[string]any) (json.RawMessage, error) {
	params := map[string]any{}
	for k, v := range filter {
		params[k] = v
	}
	return c.Request(ctx, "sessions.list", params, RequestOptions{})
}

// PatchSession updates session settings (model, thinking level, labels).
func (c *Client) PatchSession(ctx context.Context, sessionKey string, patch map[string]any) (json.RawMessage, error) {
	params := map[string]any{"key": sessionKey}
	for k, v := range patch {
		params[k] = v
	}
	return c.Request(ctx, "sessions.patch", params, RequestOptions{})
}

// ResetSession clears a session's context on the gateway side.
func (c *Client) ResetSession(ctx context.Context, sessionKey string) (json.RawMessage, error) {
	return c.Request(ctx, "sessions.reset", map[string]any{"key": sessionKey}, RequestOptions{})
}

// ListAgents fetches the configured agents.
func (c *Client) ListAgents(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, "agents.list", map[string]any{}, RequestOptions{})
}

// ListModels fetches the models available for session patching.
func (c *Client) ListModels(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, "models.list", map[string]any{}, RequestOptions{})
}

// Status fetches gateway health and version info.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, "status", map[string]any{}, RequestOptions{})
}
