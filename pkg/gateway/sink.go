package gateway

// EventSink receives transport notifications. It is injected at client
// construction; the client never exposes reassignable callback fields.
// Sink methods are invoked synchronously from the read loop, so
// implementations must not block.
type EventSink interface {
	// Connected fires once per successful handshake.
	Connected()

	// Disconnected fires when the transport is lost or the handshake fails
	// after Start. It does not fire on an explicit Stop.
	Disconnected(reason string)

	// Gap fires when event sequence numbers skip: at least one event was
	// dropped and incremental state must be reconciled via a history fetch.
	Gap(expected, received int64)

	// Event delivers a server-push event. The payload is decoded JSON
	// (string, map, slice, or nil).
	Event(name string, payload any, seq int64)
}

// NopSink discards all notifications. Embed it to implement a partial sink.
type NopSink struct{}

func (NopSink) Connected()               {}
func (NopSink) Disconnected(string)      {}
func (NopSink) Gap(int64, int64)         {}
func (NopSink) Event(string, any, int64) {}
