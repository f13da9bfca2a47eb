package rtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tern/realtime-monitor-session/internal/signaling"
)

// FailureKind is the connection-failure taxonomy surfaced to callers.
type FailureKind string

const (
	FailureNoMediaSource        FailureKind = "no_media_source"
	FailureOffline              FailureKind = "offline"
	FailureSignalingUnreachable FailureKind = "signaling_unreachable"
	FailureICEServerFetch       FailureKind = "ice_server_fetch_failed"
	FailurePeerConnection       FailureKind = "peer_connection_failed"
	FailureUnknown              FailureKind = "unknown"
)

// Category is the user-facing failure bucket.
type Category string

const (
	CategoryNoInternet         Category = "no-internet"
	CategoryWrongEndpoint      Category = "wrong-endpoint"
	CategoryBackendUnavailable Category = "backend-unavailable"
	CategoryUnknown            Category = "unknown"
)

// ConnectError is a classified connection failure.
type ConnectError struct {
	Kind FailureKind
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func connectError(kind FailureKind, err error) *ConnectError {
	return &ConnectError{Kind: kind, Err: err}
}

// Categorize maps an error onto a user-facing category. The mapping is
// best-effort text matching and degrades to CategoryUnknown, never panics.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var ce *ConnectError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case FailureOffline:
			return CategoryNoInternet
		case FailureICEServerFetch, FailurePeerConnection:
			return CategoryBackendUnavailable
		case FailureNoMediaSource:
			return CategoryUnknown
		case FailureSignalingUnreachable:
			return categorizeText(err.Error())
		}
	}
	if errors.Is(err, signaling.ErrUnreachable) {
		return categorizeText(err.Error())
	}
	return categorizeText(err.Error())
}

func categorizeText(text string) Category {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "offline") || strings.Contains(lower, "no internet") || strings.Contains(lower, "network is unreachable"):
		return CategoryNoInternet
	case strings.Contains(lower, "no such host") || strings.Contains(lower, "bad handshake") || strings.Contains(lower, "404") || strings.Contains(lower, "malformed"):
		return CategoryWrongEndpoint
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "504") ||
		strings.Contains(lower, "gateway") || strings.Contains(lower, "unreachable"):
		return CategoryBackendUnavailable
	default:
		return CategoryUnknown
	}
}
