package rtc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tern/realtime-monitor-session/internal/signaling"
)

func TestCategorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Category
	}{
		{name: "nil", err: nil, want: CategoryUnknown},
		{name: "offline kind", err: connectError(FailureOffline, errors.New("device is offline")), want: CategoryNoInternet},
		{name: "ice fetch kind", err: connectError(FailureICEServerFetch, errors.New("503")), want: CategoryBackendUnavailable},
		{name: "peer kind", err: connectError(FailurePeerConnection, errors.New("failed state")), want: CategoryBackendUnavailable},
		{name: "no media kind", err: connectError(FailureNoMediaSource, errors.New("no source")), want: CategoryUnknown},
		{
			name: "unreachable dns",
			err:  connectError(FailureSignalingUnreachable, fmt.Errorf("dial ws://x: %w: no such host", signaling.ErrUnreachable)),
			want: CategoryWrongEndpoint,
		},
		{
			name: "unreachable refused",
			err:  connectError(FailureSignalingUnreachable, fmt.Errorf("dial ws://x: %w: connection refused", signaling.ErrUnreachable)),
			want: CategoryBackendUnavailable,
		},
		{
			name: "unreachable handshake",
			err:  connectError(FailureSignalingUnreachable, fmt.Errorf("dial ws://x: %w: websocket: bad handshake", signaling.ErrUnreachable)),
			want: CategoryWrongEndpoint,
		},
		{name: "bare gateway text", err: errors.New("502 bad gateway"), want: CategoryBackendUnavailable},
		{name: "bare timeout text", err: errors.New("i/o timeout"), want: CategoryBackendUnavailable},
		{name: "anything else", err: errors.New("boom"), want: CategoryUnknown},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Categorize(tc.err); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestConnectErrorUnwraps(t *testing.T) {
	t.Parallel()

	inner := errors.New("root cause")
	err := connectError(FailureUnknown, inner)
	if !errors.Is(err, inner) {
		t.Fatalf("expected wrapped error to unwrap")
	}
	var ce *ConnectError
	if !errors.As(error(err), &ce) || ce.Kind != FailureUnknown {
		t.Fatalf("expected connect error kind preserved")
	}
}
