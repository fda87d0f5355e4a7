package gateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSender struct {
	sent    []string
	runIDs  []string
	failOn  map[string]error
	failAll error
}

func (s *scriptedSender) SendChat(ctx context.Context, send ChatSend) (string, error) {
	if s.failAll != nil {
		return send.RunID, s.failAll
	}
	if err, ok := s.failOn[send.Message]; ok {
		delete(s.failOn, send.Message)
		return send.RunID, err
	}
	s.sent = append(s.sent, send.Message)
	s.runIDs = append(s.runIDs, send.RunID)
	return send.RunID, nil
}

func queuedMessages(q *OfflineQueue) []string {
	entries := q.Snapshot()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Send.Message)
	}
	return out
}

func TestSendOrQueueDeliversWhenConnected(t *testing.T) {
	q := NewOfflineQueue(nil)
	sender := &scriptedSender{}

	runID, err := q.SendOrQueue(context.Background(), sender, ChatSend{SessionKey: "k", Message: "hi", RunID: "r1"})

	require.NoError(t, err)
	assert.Equal(t, "r1", runID)
	assert.Equal(t, 0, q.Depth())
}

func TestSendOrQueueBuffersConnectivityFailure(t *testing.T) {
	q := NewOfflineQueue(nil)
	sender := &scriptedSender{failAll: &DisconnectedError{Reason: "read loop exited"}}

	_, err := q.SendOrQueue(context.Background(), sender, ChatSend{SessionKey: "k", Message: "hi", RunID: "r1"})

	var queued *ErrQueued
	require.ErrorAs(t, err, &queued)
	assert.Equal(t, "r1", queued.RunID)
	assert.Equal(t, 1, q.Depth())
}

func TestSendOrQueueNilSenderQueues(t *testing.T) {
	q := NewOfflineQueue(nil)
	_, err := q.SendOrQueue(context.Background(), nil, ChatSend{SessionKey: "k", Message: "hi"})
	var queued *ErrQueued
	require.ErrorAs(t, err, &queued)
	assert.Equal(t, 1, q.Depth())
}

func TestSendOrQueueNilSenderPinsRunID(t *testing.T) {
	q := NewOfflineQueue(nil)

	runID, err := q.SendOrQueue(context.Background(), nil, ChatSend{SessionKey: "k", Message: "hi"})

	var queued *ErrQueued
	require.ErrorAs(t, err, &queued)
	require.NotEmpty(t, runID, "queued sends must carry a run id so the caller can track them")
	assert.Equal(t, runID, queued.RunID)

	entries := q.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, runID, entries[0].Send.RunID)

	// Replay must reuse the pinned id as the idempotency key.
	sender := &scriptedSender{}
	q.Replay(context.Background(), sender)
	require.Len(t, sender.runIDs, 1)
	assert.Equal(t, runID, sender.runIDs[0])
}

func TestSendOrQueueRemoteErrorPropagates(t *testing.T) {
	q := NewOfflineQueue(nil)
	sender := &scriptedSender{failAll: &RemoteError{Method: "chat.send", Message: "session locked"}}

	_, err := q.SendOrQueue(context.Background(), sender, ChatSend{SessionKey: "k", Message: "hi"})

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 0, q.Depth(), "remote rejections must not queue")
}

func TestReplayDrainsInOrder(t *testing.T) {
	q := NewOfflineQueue(nil)
	for _, m := range []string{"A", "B", "C"} {
		q.SendOrQueue(context.Background(), nil, ChatSend{SessionKey: "k", Message: m})
	}
	sender := &scriptedSender{}

	delivered := q.Replay(context.Background(), sender)

	assert.Equal(t, 3, delivered)
	assert.Equal(t, []string{"A", "B", "C"}, sender.sent)
	assert.Equal(t, 0, q.Depth())
}

func TestReplayPartialFailureRequeuesTail(t *testing.T) {
	q := NewOfflineQueue(nil)
	for _, m := range []string{"A", "B", "C"} {
		q.SendOrQueue(context.Background(), nil, ChatSend{SessionKey: "k", Message: m})
	}
	sender := &scriptedSender{failOn: map[string]error{"B": &DisconnectedError{Reason: "gone"}}}

	delivered := q.Replay(context.Background(), sender)

	// A was delivered and must not be re-queued; B failed and returns to the
	// front with C behind it.
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"A"}, sender.sent)
	assert.Equal(t, []string{"B", "C"}, queuedMessages(q))
}

func TestReplayRemoteRejectionStopsBatch(t *testing.T) {
	q := NewOfflineQueue(nil)
	for _, m := range []string{"A", "B", "C"} {
		q.SendOrQueue(context.Background(), nil, ChatSend{SessionKey: "k", Message: m})
	}
	sender := &scriptedSender{failOn: map[string]error{"B": fmt.Errorf("server rejected request")}}

	delivered := q.Replay(context.Background(), sender)

	// Any failure halts the drain: delivering C ahead of B would reorder the
	// conversation, and dropping B would lose an operator message.
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"A"}, sender.sent)
	assert.Equal(t, []string{"B", "C"}, queuedMessages(q))
}

func TestClearSessionRemovesOnlyThatSession(t *testing.T) {
	q := NewOfflineQueue(nil)
	q.SendOrQueue(context.Background(), nil, ChatSend{SessionKey: "one", Message: "a"})
	q.SendOrQueue(context.Background(), nil, ChatSend{SessionKey: "two", Message: "b"})
	q.SendOrQueue(context.Background(), nil, ChatSend{SessionKey: "one", Message: "c"})

	removed := q.ClearSession("one")

	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"b"}, queuedMessages(q))
}
