package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/openclaw/clawdeck/pkg/logging"
)

const (
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = 10 * time.Second
	reconnectMultiplier   = 1.5
)

// SupervisorOptions configures connection supervision.
type SupervisorOptions struct {
	Client Options

	// Queue, when set, is replayed after every successful handshake.
	Queue *OfflineQueue

	// OnSessions and OnHistory run after each successful handshake, in that
	// order and before the queue replay, so incremental state is rebuilt
	// before buffered sends land.
	OnSessions func(ctx context.Context, client *Client)
	OnHistory  func(ctx context.Context, client *Client)

	Logger *logging.Logger
}

// Supervisor keeps one live gateway client, rebuilding it with exponential
// backoff whenever the connection drops. Clients are single-use, so every
// attempt constructs a fresh one; at most one is live at a time.
type Supervisor struct {
	opts SupervisorOptions

	mu      sync.Mutex
	client  *Client
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSupervisor builds a supervisor; Start begins connecting.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	return &Supervisor{opts: opts}
}

// supervisorSink wraps the caller's sink to observe connection loss for one
// client generation.
type supervisorSink struct {
	inner    EventSink
	lostOnce sync.Once
	lost     chan struct{}
}

func newSupervisorSink(inner EventSink) *supervisorSink {
	if inner == nil {
		inner = NopSink{}
	}
	return &supervisorSink{inner: inner, lost: make(chan struct{})}
}

func (s *supervisorSink) Connected() { s.inner.Connected() }

func (s *supervisorSink) Disconnected(reason string) {
	s.inner.Disconnected(reason)
	s.lostOnce.Do(func() { close(s.lost) })
}

func (s *supervisorSink) Gap(expected, received int64) { s.inner.Gap(expected, received) }

func (s *supervisorSink) Event(name string, payload any, seq int64) {
	s.inner.Event(name, payload, seq)
}

// Start launches the supervision loop. It returns immediately; the first
// connection attempt happens in the background. Calling Start twice is a
// no-op until Stop.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(runCtx)
}

// Stop tears down the live client and halts reconnection. Blocks until the
// loop exits.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	client := s.client
	s.client = nil
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Stop()
	}
	if done != nil {
		<-done
	}
}

// Client returns the current live client, or nil while disconnected.
func (s *Supervisor) Client() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Send delivers a chat message through the live client, or buffers it in the
// supervisor's queue when the gateway is unreachable.
func (s *Supervisor) Send(ctx context.Context, send ChatSend) (string, error) {
	client := s.Client()
	if s.opts.Queue != nil {
		return s.opts.Queue.SendOrQueue(ctx, senderOrNil(client), send)
	}
	if client == nil {
		return "", &DisconnectedError{Reason: "not connected"}
	}
	return client.SendChat(ctx, send)
}

// senderOrNil avoids handing SendOrQueue a typed-nil interface.
func senderOrNil(client *Client) ChatSender {
	if client == nil {
		return nil
	}
	return client
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)

	delay := reconnectInitialDelay
	for {
		if ctx.Err() != nil {
			return
		}

		metricReconnectAttempts.Inc()
		sink := newSupervisorSink(s.opts.Client.Sink)
		clientOpts := s.opts.Client
		clientOpts.Sink = sink
		client := NewClient(clientOpts)

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			client.Stop()
			return
		}
		previous := s.client
		s.client = client
		s.mu.Unlock()
		if previous != nil {
			previous.Stop()
		}

		err := client.Start(ctx)
		if err == nil {
			err = client.WaitReady(clientOpts.withDefaults().RequestTimeout)
		}
		if err != nil {
			client.Stop()
			s.logWarn("connect_failed", err.Error(), map[string]any{
				"retryInMs": delay.Milliseconds(),
				"code":      string(Code(err)),
			})
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}

		delay = reconnectInitialDelay
		s.logInfo("connected", nil)
		s.runReadyHooks(ctx, client)

		select {
		case <-sink.lost:
			// Loop around and rebuild.
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) runReadyHooks(ctx context.Context, client *Client) {
	if s.opts.OnSessions != nil {
		s.opts.OnSessions(ctx, client)
	}
	if s.opts.OnHistory != nil {
		s.opts.OnHistory(ctx, client)
	}
	if s.opts.Queue != nil && s.opts.Queue.Depth() > 0 {
		delivered := s.opts.Queue.Replay(ctx, client)
		s.logInfo("queue_replayed", map[string]any{"delivered": delivered, "remaining": s.opts.Queue.Depth()})
	}
}

func nextDelay(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * reconnectMultiplier)
	if next > reconnectMaxDelay {
		next = reconnectMaxDelay
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) logInfo(eventType string, details map[string]any) {
	if s.opts.Logger != nil {
		_ = s.opts.Logger.Info(logging.CategoryReconnect, eventType, "", details)
	}
}

func (s *Supervisor) logWarn(eventType, message string, details map[string]any) {
	if s.opts.Logger != nil {
		_ = s.opts.Logger.Warn(logging.CategoryReconnect, eventType, message, details)
	}
}
