// Package rtc composes signaling, peer connection, and data channel into one
// connection lifecycle for the monitoring session layer.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	apisignaling "github.com/tern/realtime-monitor-session/api/signaling"
	"github.com/tern/realtime-monitor-session/internal/connectivity"
	"github.com/tern/realtime-monitor-session/internal/media"
	"github.com/tern/realtime-monitor-session/internal/signaling"
)

// SignalTransport is the orchestrator's view of the signaling socket.
type SignalTransport interface {
	Connect(ctx context.Context) error
	Send(env apisignaling.Envelope) error
	Subscribe(fn signaling.Handler) (dispose func())
	Disconnect()
	Status() signaling.Status
	URL() string
}

// PeerLink is the orchestrator's view of one peer connection.
type PeerLink interface {
	Offer(src media.Source) error
	ApplyAnswer(sdp string, sdpType string) error
	AddRemoteCandidate(cand apisignaling.CandidateInit) error
	ReplaceTrack(track webrtc.TrackLocal) (TrackSwap, error)
	Channel() DataLink
	Close() error
}

// Config controls orchestrator behavior.
type Config struct {
	SignalingURL string
	ChannelLabel string
}

// Dependencies wires collaborator seams. Zero-value fields fall back to the
// production implementations.
type Dependencies struct {
	Logger       *zap.Logger
	Connectivity connectivity.Watcher
	ICE          ICEFetcher
	NewTransport func(url string) (SignalTransport, error)
	NewPeer      func(cfg PeerConfig, sender SignalSender, deps PeerDependencies) (PeerLink, error)
}

type connStatusEntry struct {
	id int
	fn func(ConnectionStatus)
}

// Orchestrator owns the transport, peer connection, and data channel for one
// session at a time and exposes their combined lifecycle. Reconnection is
// caller-initiated; the orchestrator never retries on its own.
type Orchestrator struct {
	cfg          Config
	log          *zap.Logger
	conn         connectivity.Watcher
	ice          ICEFetcher
	newTransport func(url string) (SignalTransport, error)
	newPeer      func(cfg PeerConfig, sender SignalSender, deps PeerDependencies) (PeerLink, error)

	mu             sync.Mutex
	transport      SignalTransport
	peer           PeerLink
	clientID       string
	status         ConnectionStatus
	lastErr        *ConnectError
	offlineTripped bool
	inFlight       bool
	nextID         int
	statusSubs     []connStatusEntry
	disposers      []func()
	connDispose    func()
}

// New constructs an Orchestrator and installs the offline guard: the first
// transition into offline force-closes all live resources exactly once; the
// transition back online only re-arms the guard.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if cfg.SignalingURL == "" {
		return nil, fmt.Errorf("signaling url is required")
	}
	if cfg.ChannelLabel == "" {
		cfg.ChannelLabel = "inference"
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Connectivity == nil {
		deps.Connectivity = connectivity.NewSwitch(false)
	}
	if deps.ICE == nil {
		deps.ICE = NewICEClient(ICEClientConfig{}, nil, deps.Logger)
	}
	if deps.NewTransport == nil {
		deps.NewTransport = func(url string) (SignalTransport, error) {
			tr, err := signaling.New(signaling.Config{URL: url}, signaling.Dependencies{Logger: deps.Logger})
			if err != nil {
				return nil, err
			}
			return tr, nil
		}
	}
	if deps.NewPeer == nil {
		deps.NewPeer = func(cfg PeerConfig, sender SignalSender, peerDeps PeerDependencies) (PeerLink, error) {
			peer, err := NewPeer(cfg, sender, peerDeps)
			if err != nil {
				return nil, err
			}
			return peer, nil
		}
	}

	o := &Orchestrator{
		cfg:          cfg,
		log:          deps.Logger,
		conn:         deps.Connectivity,
		ice:          deps.ICE,
		newTransport: deps.NewTransport,
		newPeer:      deps.NewPeer,
		status:       StatusNew,
	}
	o.connDispose = o.conn.Subscribe(o.handleConnectivity)
	return o, nil
}

// StartConnection runs the full negotiation: open signaling, fetch ICE
// credentials, construct peer connection and data channel, then offer. The
// offline state is re-checked after every suspension point because
// connectivity can drop while awaiting.
func (o *Orchestrator) StartConnection(ctx context.Context, src media.Source) error {
	if src == nil || len(src.Tracks()) == 0 {
		return o.fail(connectError(FailureNoMediaSource, errors.New("no local media source attached")), false)
	}
	if o.conn.Offline() {
		return o.fail(connectError(FailureOffline, errors.New("device is offline, no internet connection")), false)
	}

	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return fmt.Errorf("connection attempt already in progress")
	}
	o.inFlight = true
	stale := o.peer != nil
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	// A prior negotiation left a live peer connection behind. Tear it down
	// fully before constructing replacements so two never coexist.
	if stale {
		o.Cleanup()
	}

	transport, err := o.ensureTransport()
	if err != nil {
		return o.fail(connectError(FailureUnknown, err), false)
	}

	if err := transport.Connect(ctx); err != nil {
		if errors.Is(err, signaling.ErrUnreachable) {
			return o.fail(connectError(FailureSignalingUnreachable, err), true)
		}
		return o.fail(connectError(FailureUnknown, err), true)
	}

	// Connectivity may have dropped while awaiting the socket open.
	if o.conn.Offline() {
		return o.fail(connectError(FailureOffline, errors.New("device went offline during connect")), true)
	}

	servers, err := o.ice.Fetch(ctx)
	if err != nil {
		return o.fail(connectError(FailureICEServerFetch, err), true)
	}

	peer, err := o.newPeer(
		PeerConfig{ChannelLabel: o.cfg.ChannelLabel, ICEServers: servers},
		transport,
		PeerDependencies{Logger: o.log, OnStatus: o.handlePeerStatus},
	)
	if err != nil {
		return o.fail(connectError(FailurePeerConnection, err), true)
	}

	o.mu.Lock()
	o.peer = peer
	o.lastErr = nil
	o.mu.Unlock()
	o.setStatus(StatusConnecting)

	if err := peer.Offer(src); err != nil {
		return o.fail(connectError(FailurePeerConnection, err), true)
	}
	return nil
}

// Cleanup closes the data channel, peer connection, and transport. It is safe
// to call repeatedly or when some resources were never created; afterwards the
// client id is cleared and status resets to closed.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	disposers := o.disposers
	o.disposers = nil
	peer := o.peer
	o.peer = nil
	transport := o.transport
	o.transport = nil
	o.clientID = ""
	o.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
	if peer != nil {
		_ = peer.Close()
	}
	if transport != nil {
		transport.Disconnect()
	}
	o.setStatus(StatusClosed)
}

// Close tears everything down and detaches the connectivity guard.
func (o *Orchestrator) Close() {
	if o.connDispose != nil {
		o.connDispose()
	}
	o.Cleanup()
}

// SetSignalingURL switches the signaling endpoint. Any live resource is torn
// down unconditionally first; stale resources never outlive a URL change.
func (o *Orchestrator) SetSignalingURL(url string) {
	o.mu.Lock()
	if url == o.cfg.SignalingURL {
		o.mu.Unlock()
		return
	}
	o.cfg.SignalingURL = url
	live := o.transport != nil || o.peer != nil
	o.mu.Unlock()

	if live {
		o.log.Info("signaling url changed, tearing down live connection", zap.String("url", url))
		o.Cleanup()
	}
}

// ReplaceSource swaps the outbound tracks of a live connection in place,
// matching by media kind, without renegotiation.
func (o *Orchestrator) ReplaceSource(src media.Source) ([]TrackSwap, error) {
	o.mu.Lock()
	peer := o.peer
	o.mu.Unlock()
	if peer == nil {
		return nil, fmt.Errorf("no live peer connection")
	}

	swaps := make([]TrackSwap, 0, len(src.Tracks()))
	for _, track := range src.Tracks() {
		swap, err := peer.ReplaceTrack(track)
		swaps = append(swaps, swap)
		if err != nil {
			return swaps, err
		}
	}
	return swaps, nil
}

// ClientID returns the id assigned by the welcome message, or empty.
func (o *Orchestrator) ClientID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clientID
}

// Status returns the published aggregate connection status.
func (o *Orchestrator) Status() ConnectionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Connected reports whether the peer is connected and a client id is known.
func (o *Orchestrator) Connected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status == StatusConnected && o.clientID != ""
}

// LastError returns the most recent classified connection failure, or nil.
func (o *Orchestrator) LastError() *ConnectError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// OnStatus registers a connection-status handler and returns its disposer.
func (o *Orchestrator) OnStatus(fn func(ConnectionStatus)) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.statusSubs = append(o.statusSubs, connStatusEntry{id: id, fn: fn})
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, entry := range o.statusSubs {
			if entry.id == id {
				o.statusSubs = append(o.statusSubs[:i], o.statusSubs[i+1:]...)
				return
			}
		}
	}
}

// Channel returns the live data channel, or nil before negotiation.
func (o *Orchestrator) Channel() DataLink {
	o.mu.Lock()
	peer := o.peer
	o.mu.Unlock()
	if peer == nil {
		return nil
	}
	return peer.Channel()
}

func (o *Orchestrator) ensureTransport() (SignalTransport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.transport != nil {
		return o.transport, nil
	}
	transport, err := o.newTransport(o.cfg.SignalingURL)
	if err != nil {
		return nil, fmt.Errorf("create signaling transport: %w", err)
	}
	dispose := transport.Subscribe(o.handleSignal)
	o.transport = transport
	o.disposers = append(o.disposers, dispose)
	return transport, nil
}

// handleSignal processes inbound signaling strictly in arrival order. An
// answer or candidate arriving before a peer connection exists is logged and
// dropped, never queued.
func (o *Orchestrator) handleSignal(env apisignaling.Envelope) {
	switch env.Type {
	case apisignaling.TypeWelcome:
		o.mu.Lock()
		o.clientID = env.ClientID
		var subs []func(ConnectionStatus)
		if o.status == StatusConnected {
			subs = make([]func(ConnectionStatus), 0, len(o.statusSubs))
			for _, entry := range o.statusSubs {
				subs = append(subs, entry.fn)
			}
		}
		o.mu.Unlock()
		o.log.Info("assigned client id", zap.String("client_id", env.ClientID))
		// The welcome can trail the peer state change. Re-announce connected
		// so listeners gating on the client id re-evaluate.
		for _, fn := range subs {
			fn(StatusConnected)
		}

	case apisignaling.TypeAnswer:
		o.mu.Lock()
		peer := o.peer
		o.mu.Unlock()
		if peer == nil {
			o.log.Warn("dropping answer, no peer connection")
			return
		}
		if err := peer.ApplyAnswer(env.SDP, env.SDPType); err != nil {
			o.log.Warn("dropping answer", zap.Error(err))
		}

	case apisignaling.TypeICECandidate:
		o.mu.Lock()
		peer := o.peer
		o.mu.Unlock()
		if peer == nil {
			o.log.Warn("dropping ice candidate, no peer connection")
			return
		}
		if env.Candidate == nil {
			o.log.Warn("dropping ice candidate, empty payload")
			return
		}
		if err := peer.AddRemoteCandidate(*env.Candidate); err != nil {
			o.log.Warn("dropping ice candidate", zap.Error(err))
		}

	default:
		o.log.Warn("dropping unexpected signaling message", zap.String("type", string(env.Type)))
	}
}

func (o *Orchestrator) handlePeerStatus(status ConnectionStatus) {
	if status == StatusFailed {
		o.mu.Lock()
		o.lastErr = connectError(FailurePeerConnection, errors.New("peer connection entered failed state"))
		o.mu.Unlock()
	}
	o.setStatus(status)
	if status == StatusFailed {
		// Teardown runs off the peer callback goroutine; pion delivers state
		// changes from inside the connection it is about to close.
		go o.Cleanup()
	}
}

func (o *Orchestrator) handleConnectivity(offline bool) {
	if !offline {
		o.mu.Lock()
		o.offlineTripped = false
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	if o.offlineTripped {
		o.mu.Unlock()
		return
	}
	o.offlineTripped = true
	o.lastErr = connectError(FailureOffline, errors.New("device is offline, no internet connection"))
	live := o.transport != nil || o.peer != nil
	o.mu.Unlock()

	if live {
		o.log.Warn("device went offline, closing live connection")
		o.Cleanup()
	}
}

func (o *Orchestrator) setStatus(status ConnectionStatus) {
	o.mu.Lock()
	if o.status == status {
		o.mu.Unlock()
		return
	}
	o.status = status
	subs := make([]func(ConnectionStatus), 0, len(o.statusSubs))
	for _, entry := range o.statusSubs {
		subs = append(subs, entry.fn)
	}
	o.mu.Unlock()
	for _, fn := range subs {
		fn(status)
	}
}

// fail records the classified error, optionally tears down, and returns it.
func (o *Orchestrator) fail(err *ConnectError, teardown bool) error {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
	o.log.Error("connection failed", zap.String("kind", string(err.Kind)), zap.Error(err.Err))
	if teardown {
		o.Cleanup()
	}
	return err
}
