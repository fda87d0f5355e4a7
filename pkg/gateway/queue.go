package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/clawdeck/pkg/logging"
)

// ChatSender is the slice of the client the offline queue needs.
type ChatSender interface {
	SendChat(ctx context.Context, send ChatSend) (string, error)
}

// QueuedSend is a chat send buffered while the gateway was unreachable.
type QueuedSend struct {
	Send     ChatSend
	QueuedAt time.Time
}

// OfflineQueue buffers chat sends that fail for connectivity reasons and
// replays them in order once a connection is back. On the initial send path,
// failures that are not connectivity-shaped (remote rejections, bad input)
// never queue: retrying those would re-submit a request the server already
// refused. Once queued, however, an entry is only ever removed by successful
// delivery or an explicit clear.
type OfflineQueue struct {
	mu      sync.Mutex
	entries []QueuedSend
	logger  *logging.Logger
}

// NewOfflineQueue returns an empty queue. logger may be nil.
func NewOfflineQueue(logger *logging.Logger) *OfflineQueue {
	return &OfflineQueue{logger: logger}
}

// ErrQueued is returned by SendOrQueue when the send was buffered instead of
// delivered.
type ErrQueued struct {
	RunID string
}

func (e *ErrQueued) Error() string { return "send queued for replay" }

// SendOrQueue attempts the send through sender. On a connectivity failure
// (or a nil sender) the send is buffered and *ErrQueued is returned with the
// run id the replay will use. Other failures propagate untouched.
func (q *OfflineQueue) SendOrQueue(ctx context.Context, sender ChatSender, send ChatSend) (string, error) {
	if sender == nil {
		return q.enqueue(send)
	}
	runID, err := sender.SendChat(ctx, send)
	if err == nil {
		return runID, nil
	}
	if !IsConnectivityError(err) {
		return "", err
	}
	// Pin the run id so the replayed send reuses the same idempotency key.
	send.RunID = runID
	return q.enqueue(send)
}

func (q *OfflineQueue) enqueue(send ChatSend) (string, error) {
	// Pin the run id at queue time so every replay attempt reuses the same
	// idempotency key and the caller can track the run as its own.
	if send.RunID == "" {
		send.RunID = uuid.NewString()
	}

	q.mu.Lock()
	q.entries = append(q.entries, QueuedSend{Send: send, QueuedAt: time.Now()})
	depth := len(q.entries)
	q.mu.Unlock()

	metricOfflineQueueDepth.Set(float64(depth))
	if q.logger != nil {
		_ = q.logger.Info(logging.CategoryQueue, "queued", "", map[string]any{
			"sessionKey": send.SessionKey,
			"depth":      depth,
		})
	}
	return send.RunID, &ErrQueued{RunID: send.RunID}
}

// Replay drains the queue in FIFO order through sender. Any failure stops the
// drain: the failed entry and everything behind it in the batch go back to
// the front of the queue, so no message is lost and relative order holds even
// when the server rejects a send mid-drain. Returns the number of entries
// delivered.
func (q *OfflineQueue) Replay(ctx context.Context, sender ChatSender) int {
	q.mu.Lock()
	batch := q.entries
	q.entries = nil
	q.mu.Unlock()

	delivered := 0
	for i, entry := range batch {
		_, err := sender.SendChat(ctx, entry.Send)
		if err == nil {
			delivered++
			continue
		}
		q.mu.Lock()
		q.entries = append(append([]QueuedSend{}, batch[i:]...), q.entries...)
		depth := len(q.entries)
		q.mu.Unlock()
		metricOfflineQueueDepth.Set(float64(depth))
		if q.logger != nil {
			_ = q.logger.Warn(logging.CategoryQueue, "replay_interrupted", err.Error(), map[string]any{
				"delivered": delivered,
				"requeued":  len(batch) - i,
				"code":      string(Code(err)),
			})
		}
		return delivered
	}

	q.mu.Lock()
	depth := len(q.entries)
	q.mu.Unlock()
	metricOfflineQueueDepth.Set(float64(depth))
	return delivered
}

// ClearSession drops queued sends targeting sessionKey, returning how many
// were removed.
func (q *OfflineQueue) ClearSession(sessionKey string) int {
	q.mu.Lock()
	kept := q.entries[:0]
	removed := 0
	for _, entry := range q.entries {
		if entry.Send.SessionKey == sessionKey {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	q.entries = kept
	depth := len(q.entries)
	q.mu.Unlock()

	metricOfflineQueueDepth.Set(float64(depth))
	return removed
}

// Depth reports the number of buffered sends.
func (q *OfflineQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns a copy of the buffered sends, oldest first.
func (q *OfflineQueue) Snapshot() []QueuedSend {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedSend, len(q.entries))
	copy(out, q.entries)
	return out
}
