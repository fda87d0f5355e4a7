package gateway

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/clawdeck/pkg/errors"
)

// ErrStopped fails pending requests when Stop tears the client down.
var ErrStopped = stderrors.New("gateway client stopped")

// RequestTimeoutError is returned when a request exceeds its deadline.
// The caller may retry; the transport never retries on its own.
type RequestTimeoutError struct {
	Method    string
	RequestID string
	Timeout   time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("gateway request timed out after %s: %s", e.Timeout, e.Method)
}

// RemoteError is returned when the server responds ok:false.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gateway error for %s: %s", e.Method, e.Message)
}

// DisconnectedError fails a request when the transport tears down while the
// request is pending, or when a request is issued with no live connection.
type DisconnectedError struct {
	Reason string
}

func (e *DisconnectedError) Error() string {
	if e.Reason == "" {
		return "gateway disconnected"
	}
	return "gateway disconnected: " + e.Reason
}

// ConnectFailedError is surfaced by WaitReady when the handshake did not
// complete, so callers fail fast instead of waiting out a generic timeout.
type ConnectFailedError struct {
	Reason string
}

func (e *ConnectFailedError) Error() string {
	if e.Reason == "" {
		return "gateway connect failed"
	}
	return "gateway connect failed: " + e.Reason
}

// Code maps a transport failure onto the structured code space shared by the
// rest of the repo, so log records and wrapped errors classify consistently.
// Errors that already carry a structured code keep it.
func Code(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return structured.Code
	}
	if stderrors.Is(err, ErrStopped) {
		return errors.ErrCodeGatewayStopped
	}
	var timeout *RequestTimeoutError
	if stderrors.As(err, &timeout) {
		return errors.ErrCodeGatewayTimeout
	}
	var remote *RemoteError
	if stderrors.As(err, &remote) {
		return errors.ErrCodeGatewayRemote
	}
	var disc *DisconnectedError
	if stderrors.As(err, &disc) {
		return errors.ErrCodeGatewayDisconnected
	}
	var cf *ConnectFailedError
	if stderrors.As(err, &cf) {
		return errors.ErrCodeConnectFailed
	}
	return errors.ErrCodeInternal
}

// IsConnectivityError reports whether err is a connectivity-classified
// failure: the kind the offline send queue absorbs instead of surfacing.
// Remote application errors and timeouts are not connectivity failures.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	var disc *DisconnectedError
	if stderrors.As(err, &disc) {
		return true
	}
	var cf *ConnectFailedError
	if stderrors.As(err, &cf) {
		return true
	}
	if stderrors.Is(err, ErrStopped) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unavailable", "disconnected", "not connected", "connection refused", "connection reset", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
