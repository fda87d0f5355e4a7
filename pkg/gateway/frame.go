// Package gateway implements the realtime client for an OpenClaw-style
// gateway: a websocket duplex connection that multiplexes request/response
// RPCs with a server-push event stream, detects missed events via sequence
// numbers, and survives disconnects through a reconnect supervisor and an
// offline send queue.
package gateway

import "encoding/json"

// FrameType discriminates wire frames.
type FrameType string

const (
	FrameRequest  FrameType = "req"
	FrameResponse FrameType = "res"
	FrameEvent    FrameType = "event"
)

// Frame is one JSON message exchanged over the duplex connection.
// Only the fields for the frame's type are populated.
type Frame struct {
	Type FrameType `json:"type"`

	// req / res
	ID     string `json:"id,omitempty"`
	Method string `json:"method,omitempty"`
	Params any    `json:"params,omitempty"`

	// res
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`

	// event
	Event string `json:"event,omitempty"`
	Seq   *int64 `json:"seq,omitempty"`
}

// FrameError carries the server-provided failure message on res frames.
type FrameError struct {
	Message string `json:"message"`
}

// Well-known event names pushed by the gateway.
const (
	EventConnectChallenge = "connect.challenge"
	EventChat             = "chat"
	EventAgent            = "agent"
)

// Hello is the negotiated handshake result captured from a successful
// connect response. It is not persisted across reconnects.
type Hello struct {
	Type     string          `json:"type"`
	Protocol int             `json:"protocol"`
	Server   json.RawMessage `json:"server,omitempty"`
	Auth     json.RawMessage `json:"auth,omitempty"`
}
