package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/openclaw/clawdeck/pkg/errors"
	"github.com/openclaw/clawdeck/pkg/logging"
)

// Keep in sync with the gateway protocol/schema version.
const ProtocolVersion = 3

// ToolEventsCap advertises that this client consumes agent tool events.
const ToolEventsCap = "tool-events"

const (
	defaultRequestTimeout = 30 * time.Second
	defaultConnectDelay   = 750 * time.Millisecond
	dialTimeout           = 15 * time.Second
	maxMessageBytes       = 25 << 20
	pingInterval          = 30 * time.Second
	pingTimeout           = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	URL  string
	Auth AuthStrategy
	Sink EventSink

	ClientID    string // default "gateway-client"
	DisplayName string // default "clawdeck"
	Version     string // default "dev"
	Platform    string // default "go"
	Mode        string // default "ui"
	Role        string // default "operator"
	Scopes      []string

	RequestTimeout time.Duration // default 30s
	ConnectDelay   time.Duration // default 750ms

	Logger *logging.Logger // optional
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Auth == nil {
		opts.Auth = TokenAuth{}
	}
	if opts.ClientID == "" {
		opts.ClientID = "gateway-client"
	}
	if opts.DisplayName == "" {
		opts.DisplayName = "clawdeck"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Platform == "" {
		opts.Platform = "go"
	}
	if opts.Mode == "" {
		opts.Mode = "ui"
	}
	if opts.Role == "" {
		opts.Role = "operator"
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{"operator.read", "operator.admin"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.ConnectDelay < 0 {
		opts.ConnectDelay = defaultConnectDelay
	}
	return opts
}

// RequestOptions tunes a single RPC call.
type RequestOptions struct {
	// Timeout overrides the client default when positive.
	Timeout time.Duration

	// ExpectFinal keeps the request pending through intermediate
	// {status:"accepted"} responses; only a later non-accepted response
	// resolves the call.
	ExpectFinal bool
}

type requestOutcome struct {
	payload json.RawMessage
	err     error
}

type pendingRequest struct {
	method      string
	expectFinal bool
	done        chan requestOutcome
}

// Client owns one physical gateway connection and multiplexes RPCs with the
// server-push event stream. A Client is single-use: after the connection is
// lost or Stop is called, build a new one (the Supervisor does this).
type Client struct {
	opts       Options
	sink       EventSink
	instanceID string

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	conn        *websocket.Conn
	pending     map[string]*pendingRequest
	closed      bool
	torn        bool
	connectSent bool
	nonce       string
	lastSeq     int64
	haveSeq     bool
	hello       *Hello
	connectErr  string

	readyOnce  sync.Once
	ready      chan struct{}
	failedOnce sync.Once
	failed     chan struct{}

	connectTimer *time.Timer
}

// NewClient builds a client; Start opens the connection.
func NewClient(opts Options) *Client {
	resolved := opts.withDefaults()
	return &Client{
		opts:       resolved,
		sink:       resolved.Sink,
		instanceID: uuid.NewString(),
		pending:    make(map[string]*pendingRequest),
		ready:      make(chan struct{}),
		failed:     make(chan struct{}),
	}
}

// InstanceID identifies this client instance in the connect handshake.
func (c *Client) InstanceID() string { return c.instanceID }

// Hello returns the negotiated handshake result, or nil before ready.
func (c *Client) Hello() *Hello {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello
}

// Start dials the gateway and launches the read loop. It does not wait for
// the handshake; use WaitReady. Dial failures are returned directly.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.opts.URL, &websocket.DialOptions{})
	cancel()
	if err != nil {
		return err
	}
	conn.SetReadLimit(maxMessageBytes)

	runCtx, runCancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		runCancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client stopped")
		return ErrStopped
	}
	c.conn = conn
	c.ctx = runCtx
	c.cancel = runCancel
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)
	c.scheduleConnect(c.opts.ConnectDelay)
	return nil
}

// Stop cancels background tasks, closes the socket, and fails every pending
// request with ErrStopped. Safe to call multiple times.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.teardown("stopped")
}

// WaitReady blocks until the handshake succeeds, the connect attempt fails,
// or the timeout elapses. Only a successful handshake returns nil.
func (c *Client) WaitReady(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}
	// Prefer the ready signal when both raced in.
	select {
	case <-c.ready:
		return nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.ready:
		return nil
	case <-c.failed:
		c.mu.Lock()
		reason := c.connectErr
		c.mu.Unlock()
		return &ConnectFailedError{Reason: reason}
	case <-timer.C:
		return &RequestTimeoutError{Method: "connect", Timeout: timeout}
	}
}

// Request sends a req frame and blocks until the matching res frame arrives,
// the timeout elapses, or the transport tears down. Errors are always typed:
// *RequestTimeoutError, *RemoteError, *DisconnectedError, or ErrStopped.
func (c *Client) Request(ctx context.Context, method string, params any, opts RequestOptions) (json.RawMessage, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	conn := c.conn
	if conn == nil || c.torn {
		c.mu.Unlock()
		return nil, &DisconnectedError{Reason: "not connected"}
	}
	requestID := uuid.NewString()
	pending := &pendingRequest{
		method:      method,
		expectFinal: opts.ExpectFinal,
		done:        make(chan requestOutcome, 1),
	}
	c.pending[requestID] = pending
	c.mu.Unlock()

	metricRequestsInFlight.Inc()
	defer metricRequestsInFlight.Dec()

	frame := Frame{Type: FrameRequest, ID: requestID, Method: method, Params: params}
	data, err := json.Marshal(frame)
	if err != nil {
		c.dropPending(requestID)
		return nil, err
	}

	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	err = conn.Write(writeCtx, websocket.MessageText, data)
	cancel()
	if err != nil {
		c.dropPending(requestID)
		return nil, &DisconnectedError{Reason: err.Error()}
	}

	c.logTraffic("req", map[string]any{"method": method, "id": requestID})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case outcome := <-pending.done:
		return outcome.payload, outcome.err
	case <-timer.C:
		c.dropPending(requestID)
		metricRequestTimeouts.Inc()
		return nil, &RequestTimeoutError{Method: method, RequestID: requestID, Timeout: timeout}
	case <-ctx.Done():
		c.dropPending(requestID)
		return nil, ctx.Err()
	}
}

func (c *Client) dropPending(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			reason := "closed"
			if c.ctx.Err() == nil && !stderrors.Is(err, context.Canceled) {
				reason = err.Error()
			}
			c.teardown(reason)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// The read loop observes the broken connection and tears down.
				return
			}
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	metricFramesReceived.WithLabelValues(string(frame.Type)).Inc()

	switch frame.Type {
	case FrameEvent:
		c.handleEventFrame(&frame)
	case FrameResponse:
		c.handleResponseFrame(&frame)
	}
}

func (c *Client) handleEventFrame(frame *Frame) {
	if frame.Event == EventConnectChallenge {
		c.handleChallenge(frame.Payload)
		return
	}

	var seq int64
	if frame.Seq != nil {
		seq = *frame.Seq
		c.mu.Lock()
		gap := c.haveSeq && seq > c.lastSeq+1
		expected := c.lastSeq + 1
		c.lastSeq = seq
		c.haveSeq = true
		c.mu.Unlock()
		if gap {
			metricEventGaps.Inc()
			c.logWarn("gap", map[string]any{"expected": expected, "received": seq})
			c.sink.Gap(expected, seq)
		}
	}

	var payload any
	if len(frame.Payload) > 0 {
		_ = json.Unmarshal(frame.Payload, &payload)
	}
	c.logTraffic("event", map[string]any{"event": frame.Event, "seq": seq})
	c.sink.Event(frame.Event, payload, seq)
}

func (c *Client) handleChallenge(raw json.RawMessage) {
	var payload struct {
		Nonce string `json:"nonce"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}

	c.mu.Lock()
	if payload.Nonce != "" {
		c.nonce = payload.Nonce
	}
	alreadySent := c.connectSent
	c.mu.Unlock()

	// A challenge before our own connect means the server is waiting on us:
	// send connect immediately instead of waiting out the connect delay.
	if !alreadySent {
		c.scheduleConnect(0)
	}
}

func (c *Client) handleResponseFrame(frame *Frame) {
	c.mu.Lock()
	pending, ok := c.pending[frame.ID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if pending.expectFinal && frame.OK && isAcceptedPayload(frame.Payload) {
		// Receipt acknowledgement; the real response comes later.
		c.mu.Unlock()
		return
	}
	delete(c.pending, frame.ID)
	c.mu.Unlock()

	if frame.OK {
		pending.done <- requestOutcome{payload: frame.Payload}
		return
	}
	message := "unknown error"
	if frame.Error != nil && frame.Error.Message != "" {
		message = frame.Error.Message
	}
	pending.done <- requestOutcome{err: &RemoteError{Method: pending.method, Message: message}}
}

func isAcceptedPayload(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false
	}
	return payload.Status == "accepted"
}

func (c *Client) scheduleConnect(delay time.Duration) {
	c.mu.Lock()
	if c.closed || c.torn {
		c.mu.Unlock()
		return
	}
	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
	c.connectTimer = time.AfterFunc(delay, c.sendConnect)
	c.mu.Unlock()
}

func (c *Client) sendConnect() {
	c.mu.Lock()
	if c.connectSent || c.closed || c.torn {
		c.mu.Unlock()
		return
	}
	c.connectSent = true
	nonce := c.nonce
	c.mu.Unlock()

	auth, err := c.opts.Auth.ConnectAuth(nonce)
	if err != nil {
		c.connectFailed(errors.Wrap(err, errors.ErrCodeAuthFailed, "failed to build connect auth"))
		return
	}

	params := map[string]any{
		"minProtocol": ProtocolVersion,
		"maxProtocol": ProtocolVersion,
		"client": map[string]any{
			"id":          c.opts.ClientID,
			"displayName": c.opts.DisplayName,
			"version":     c.opts.Version,
			"platform":    c.opts.Platform,
			"mode":        c.opts.Mode,
			"instanceId":  c.instanceID,
		},
		"caps":   []string{ToolEventsCap},
		"auth":   auth,
		"role":   c.opts.Role,
		"scopes": c.opts.Scopes,
	}

	payload, err := c.Request(c.ctx, "connect", params, RequestOptions{})
	if err != nil {
		c.connectFailed(err)
		return
	}

	hello := &Hello{}
	_ = json.Unmarshal(payload, hello)

	c.mu.Lock()
	c.hello = hello
	c.connectErr = ""
	c.mu.Unlock()

	c.readyOnce.Do(func() { close(c.ready) })
	c.logInfo("connected", map[string]any{"protocol": hello.Protocol})
	c.sink.Connected()
}

// connectFailed records a handshake failure without raising past Start, so
// WaitReady callers get the captured reason instead of a generic timeout.
func (c *Client) connectFailed(err error) {
	reason := err.Error()

	c.mu.Lock()
	c.connectSent = false
	c.connectErr = reason
	closed := c.closed
	c.mu.Unlock()

	c.failedOnce.Do(func() { close(c.failed) })
	c.logError("connect_failed", reason, map[string]any{"code": string(Code(err))})
	if !closed {
		c.sink.Disconnected(reason)
	}
}

func (c *Client) teardown(reason string) {
	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		return
	}
	c.torn = true
	closed := c.closed
	conn := c.conn
	c.conn = nil
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	wasReady := false
	select {
	case <-c.ready:
		wasReady = true
	default:
	}
	if !closed && !wasReady {
		c.connectErr = reason
	}
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	cancel := c.cancel
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	if cancel != nil {
		cancel()
	}

	var failErr error
	if closed {
		failErr = ErrStopped
	} else {
		failErr = &DisconnectedError{Reason: reason}
	}
	for _, p := range pending {
		p.done <- requestOutcome{err: failErr}
	}

	if !closed && !wasReady {
		c.failedOnce.Do(func() { close(c.failed) })
	}
	if !closed {
		c.logError("disconnected", reason, map[string]any{"code": string(Code(failErr))})
		c.sink.Disconnected(reason)
	}
}

func (c *Client) logTraffic(eventType string, details map[string]any) {
	if c.opts.Logger != nil {
		_ = c.opts.Logger.Debug(logging.CategoryTraffic, eventType, "", details)
	}
}

func (c *Client) logInfo(eventType string, details map[string]any) {
	if c.opts.Logger != nil {
		_ = c.opts.Logger.Info(logging.CategoryGateway, eventType, "", details)
	}
}

func (c *Client) logWarn(eventType string, details map[string]any) {
	if c.opts.Logger != nil {
		_ = c.opts.Logger.Warn(logging.CategoryGateway, eventType, "", details)
	}
}

func (c *Client) logError(eventType, message string, details map[string]any) {
	if c.opts.Logger != nil {
		_ = c.opts.Logger.Error(logging.CategoryGateway, eventType, message, details)
	}
}
