package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	apisignaling "github.com/tern/realtime-monitor-session/api/signaling"
	"github.com/tern/realtime-monitor-session/internal/media"
)

// ConnectionStatus mirrors the peer connection's aggregate state.
type ConnectionStatus string

const (
	StatusNew          ConnectionStatus = "new"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusFailed       ConnectionStatus = "failed"
	StatusClosed       ConnectionStatus = "closed"
)

// TrackSwap reports how a source change was applied to the live connection.
type TrackSwap string

const (
	SwapReplaced    TrackSwap = "replaced"
	SwapAdded       TrackSwap = "added"
	SwapUnsupported TrackSwap = "unsupported"
)

// SignalSender transmits outbound signaling messages.
type SignalSender interface {
	Send(env apisignaling.Envelope) error
}

// PeerConfig controls peer-connection construction.
type PeerConfig struct {
	ChannelLabel string
	ICEServers   []webrtc.ICEServer
}

// PeerDependencies wires callbacks and seams.
type PeerDependencies struct {
	Logger   *zap.Logger
	OnStatus func(ConnectionStatus)
}

// Peer owns the media/data peer connection. It wires local ICE candidates to
// signaling and publishes aggregate state changes; it never retries a failed
// connection itself.
type Peer struct {
	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	channel *DataChannel
	sender  SignalSender
	log     *zap.Logger
	closed  bool
}

// NewPeer constructs the peer connection and negotiates the data channel as
// part of the initial SDP exchange: the channel is created here, before any
// offer, so it is available the moment the connection state flips to
// connected.
func NewPeer(cfg PeerConfig, sender SignalSender, deps PeerDependencies) (*Peer, error) {
	if sender == nil {
		return nil, fmt.Errorf("signal sender is required")
	}
	if cfg.ChannelLabel == "" {
		cfg.ChannelLabel = "inference"
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(cfg.ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	p := &Peer{
		pc:      pc,
		channel: newDataChannel(dc, deps.Logger),
		sender:  sender,
		log:     deps.Logger,
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		env := apisignaling.NewICECandidate(apisignaling.CandidateInit{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
		if err := p.sender.Send(env); err != nil {
			p.log.Warn("failed to send local ice candidate", zap.Error(err))
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		status := statusFromPeerState(state)
		if status == StatusFailed {
			p.log.Error("peer connection failed")
		}
		if deps.OnStatus != nil {
			deps.OnStatus(status)
		}
	})

	return p, nil
}

// Offer attaches the local tracks send-only, creates the offer, installs it
// as the local description, and transmits it over signaling. Media reception
// stays disabled in both directions; only the data channel is bidirectional.
func (p *Peer) Offer(src media.Source) error {
	for _, track := range src.Tracks() {
		if _, err := p.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		}); err != nil {
			return fmt.Errorf("attach %s track: %w", track.Kind(), err)
		}
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := p.sender.Send(apisignaling.NewOffer(offer.SDP, offer.Type.String())); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	return nil
}

// ApplyAnswer installs the remote answer. The remote description is set
// exactly once; a duplicate answer is rejected for the caller to log and drop.
func (p *Peer) ApplyAnswer(sdp string, sdpType string) error {
	if sdpType != "answer" {
		return fmt.Errorf("unexpected sdpType %q for answer", sdpType)
	}
	if p.pc.RemoteDescription() != nil {
		return fmt.Errorf("remote description already set")
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddRemoteCandidate applies one trickled remote ICE candidate. Candidates
// interleave freely with the offer/answer exchange.
func (p *Peer) AddRemoteCandidate(cand apisignaling.CandidateInit) error {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// ReplaceTrack swaps the outbound track matching the new track's media kind
// in place, without renegotiation. When no matching sender exists the track
// is added instead; a connection that cannot do either reports unsupported.
func (p *Peer) ReplaceTrack(track webrtc.TrackLocal) (TrackSwap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return SwapUnsupported, fmt.Errorf("peer connection is closed")
	}

	for _, sender := range p.pc.GetSenders() {
		current := sender.Track()
		if current == nil || current.Kind() != track.Kind() {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			return SwapUnsupported, fmt.Errorf("replace %s track: %w", track.Kind(), err)
		}
		return SwapReplaced, nil
	}

	if _, err := p.pc.AddTrack(track); err != nil {
		return SwapUnsupported, fmt.Errorf("add %s track: %w", track.Kind(), err)
	}
	return SwapAdded, nil
}

// Channel returns the channel negotiated with the connection.
func (p *Peer) Channel() DataLink {
	return p.channel
}

// Close releases the data channel and peer connection. Idempotent.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.channel.close()
	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

func statusFromPeerState(state webrtc.PeerConnectionState) ConnectionStatus {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return StatusNew
	case webrtc.PeerConnectionStateConnecting:
		return StatusConnecting
	case webrtc.PeerConnectionStateConnected:
		return StatusConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StatusDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StatusFailed
	case webrtc.PeerConnectionStateClosed:
		return StatusClosed
	default:
		return StatusNew
	}
}
