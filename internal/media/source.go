// Package media models the local capture source at the session-layer
// boundary. Platform capture wrappers satisfy Source; the sample source here
// backs tests and the operator binary.
package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

// Source is the local media source a session transmits from. Disabling a
// source keeps capture alive locally while nothing is sent (privacy pause).
type Source interface {
	Tracks() []webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
}

// SampleSource is a static-sample video source.
type SampleSource struct {
	mu      sync.Mutex
	tracks  []webrtc.TrackLocal
	enabled bool
}

// NewSampleVideoSource creates a VP8 sample source with one video track.
func NewSampleVideoSource(trackID string, streamID string) (*SampleSource, error) {
	if trackID == "" || streamID == "" {
		return nil, fmt.Errorf("track id and stream id are required")
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		trackID,
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create sample video track: %w", err)
	}
	return &SampleSource{tracks: []webrtc.TrackLocal{track}, enabled: true}, nil
}

// Tracks returns the local tracks to transmit.
func (s *SampleSource) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

// SetEnabled flips whether captured frames are handed to the sender.
func (s *SampleSource) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Enabled reports whether frames are currently being transmitted.
func (s *SampleSource) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}
