// Package session layers the driver-facing monitoring lifecycle on top of the
// connection orchestrator and gates metric consumption on session state.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	apicontrol "github.com/tern/realtime-monitor-session/api/control"
	apiinference "github.com/tern/realtime-monitor-session/api/inference"
	"github.com/tern/realtime-monitor-session/internal/media"
	"github.com/tern/realtime-monitor-session/internal/rtc"
)

// State is the driver-facing session lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// Connector is the machine's view of the connection orchestrator.
type Connector interface {
	StartConnection(ctx context.Context, src media.Source) error
	Cleanup()
	Connected() bool
	ClientID() string
	Channel() rtc.DataLink
	OnStatus(fn func(rtc.ConnectionStatus)) func()
}

// MetricSink consumes the live metrics stream while a session is active.
type MetricSink interface {
	Start()
	Stop()
	Process(m apiinference.Metrics)
}

// Config controls session behavior.
type Config struct {
	// MetricLogInterval throttles persistence writes of the metrics stream.
	MetricLogInterval time.Duration
}

// Dependencies wires the machine's collaborators. Store and Alerts may be nil.
type Dependencies struct {
	Logger *zap.Logger
	Conn   Connector
	Store  Store
	Alerts MetricSink
	Now    func() time.Time
}

// Machine owns the session state and is its only mutator. UI code observes it
// through accessors and OnState; transitions happen only via Start, Stop, and
// connection events.
type Machine struct {
	cfg    Config
	log    *zap.Logger
	conn   Connector
	store  Store
	alerts MetricSink
	now    func() time.Time

	mu            sync.Mutex
	state         State
	startedAt     time.Time
	sessionID     string
	sessionOpen   bool
	latest        *apiinference.Update
	visible       *apiinference.Update
	lastLoggedAt  time.Time
	nextID        int
	stateSubs     []stateEntry
	channelSub    func()
	statusDispose func()
}

type stateEntry struct {
	id int
	fn func(State)
}

// NewMachine constructs a Machine in the idle state and subscribes it to
// connection status changes.
func NewMachine(cfg Config, deps Dependencies) (*Machine, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.MetricLogInterval <= 0 {
		cfg.MetricLogInterval = 5 * time.Second
	}

	m := &Machine{
		cfg:    cfg,
		log:    deps.Logger,
		conn:   deps.Conn,
		store:  deps.Store,
		alerts: deps.Alerts,
		now:    deps.Now,
		state:  StateIdle,
	}
	m.statusDispose = m.conn.OnStatus(m.handleConnStatus)
	return m, nil
}

// Start begins a monitoring session. Only accepted from idle. When the peer
// connection is already live with a known client id, renegotiation is skipped
// and a resume command goes out over the data channel instead.
func (m *Machine) Start(ctx context.Context, src media.Source) error {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot start session from state %q", state)
	}
	notify := m.setStateLocked(StateStarting)
	m.mu.Unlock()
	notify()

	if src != nil {
		src.SetEnabled(true)
	}

	if m.conn.Connected() {
		m.subscribeChannel()
		if err := m.sendControl(apicontrol.Resume()); err != nil {
			m.log.Warn("resume command failed", zap.Error(err))
		}
		m.activate(ctx)
		return nil
	}

	if err := m.conn.StartConnection(ctx, src); err != nil {
		m.mu.Lock()
		notify := m.setStateLocked(StateIdle)
		m.mu.Unlock()
		notify()
		return err
	}
	m.subscribeChannel()
	return nil
}

// Stop ends the active session. When connected it pauses the stream and
// disables local media rather than tearing the link down, so a later Start can
// resume without renegotiating. When disconnected it performs full cleanup.
func (m *Machine) Stop(ctx context.Context, src media.Source) error {
	m.mu.Lock()
	if m.state != StateActive && m.state != StateStarting {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("no session to stop in state %q", state)
	}
	notify := m.setStateLocked(StateStopping)
	m.mu.Unlock()
	notify()

	if m.conn.Connected() {
		if err := m.sendControl(apicontrol.Pause()); err != nil {
			m.log.Warn("pause command failed", zap.Error(err))
		}
		if src != nil {
			src.SetEnabled(false)
		}
	} else {
		m.conn.Cleanup()
	}

	m.finalize(ctx)
	return nil
}

// Recalibrate requests a head-pose recalibration over the data channel. It
// fails unless the channel is open.
func (m *Machine) Recalibrate() error {
	return m.sendControl(apicontrol.Recalibrate())
}

// State returns the current session state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Duration returns the elapsed active-session time at second granularity, or
// zero outside an active session.
func (m *Machine) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive || m.startedAt.IsZero() {
		return 0
	}
	return m.now().Sub(m.startedAt).Truncate(time.Second)
}

// Latest returns the most recent inference update regardless of session
// state, or nil.
func (m *Machine) Latest() *apiinference.Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Visible returns the update promoted for display, which only advances while
// the session is active, or nil.
func (m *Machine) Visible() *apiinference.Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// SessionID returns the persistence id of the open session, or empty.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// OnState registers a session-state handler and returns its disposer.
func (m *Machine) OnState(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.stateSubs = append(m.stateSubs, stateEntry{id: id, fn: fn})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, entry := range m.stateSubs {
			if entry.id == id {
				m.stateSubs = append(m.stateSubs[:i], m.stateSubs[i+1:]...)
				return
			}
		}
	}
}

// Close detaches the machine from connection events.
func (m *Machine) Close() {
	m.mu.Lock()
	dispose := m.statusDispose
	m.statusDispose = nil
	channelSub := m.channelSub
	m.channelSub = nil
	m.mu.Unlock()
	if dispose != nil {
		dispose()
	}
	if channelSub != nil {
		channelSub()
	}
}

func (m *Machine) handleConnStatus(status rtc.ConnectionStatus) {
	switch status {
	case rtc.StatusConnected:
		m.mu.Lock()
		starting := m.state == StateStarting
		m.mu.Unlock()
		if starting && m.conn.ClientID() != "" {
			m.activate(context.Background())
		}
	case rtc.StatusFailed:
		m.log.Warn("connection failed, forcing session to idle")
		m.abort(context.Background())
	case rtc.StatusClosed:
		// A forced teardown (offline guard, endpoint change) surfaces as
		// closed without a prior failed state.
		m.abort(context.Background())
	}
}

// activate performs the session-start side effects: the duration timer begins
// and persistence opens a new record. A degraded store is logged, not fatal.
func (m *Machine) activate(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateStarting {
		m.mu.Unlock()
		return
	}
	m.startedAt = m.now()
	m.mu.Unlock()

	if m.store != nil {
		id, err := m.store.StartSession(ctx, m.conn.ClientID())
		if err != nil {
			m.log.Warn("session persistence unavailable", zap.Error(err))
		} else {
			m.mu.Lock()
			m.sessionID = id
			m.sessionOpen = true
			m.mu.Unlock()
		}
	}
	if m.alerts != nil {
		m.alerts.Start()
	}

	m.mu.Lock()
	notify := m.setStateLocked(StateActive)
	m.mu.Unlock()
	notify()
}

// finalize ends the persisted session exactly once, resets inference state,
// and returns to idle.
func (m *Machine) finalize(ctx context.Context) {
	m.mu.Lock()
	open := m.sessionOpen
	m.sessionOpen = false
	sessionID := m.sessionID
	m.sessionID = ""
	m.startedAt = time.Time{}
	m.latest = nil
	m.visible = nil
	notify := m.setStateLocked(StateIdle)
	m.mu.Unlock()
	notify()

	if m.alerts != nil {
		m.alerts.Stop()
	}
	if open && m.store != nil {
		if err := m.store.EndSession(ctx, sessionID); err != nil {
			m.log.Warn("failed to finalize session record", zap.Error(err))
		}
	}
}

// abort is the forced path out of any state when the connection fails.
func (m *Machine) abort(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateIdle && !m.sessionOpen {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.finalize(ctx)
}

func (m *Machine) subscribeChannel() {
	ch := m.conn.Channel()
	if ch == nil {
		return
	}
	dispose := ch.Subscribe(m.handleData)
	m.mu.Lock()
	if m.channelSub != nil {
		m.channelSub()
	}
	m.channelSub = dispose
	m.mu.Unlock()
}

// handleData captures every inference update into the latest holder, promotes
// it to the visible holder only while active, feeds the alert sink, and
// throttles persistence writes.
func (m *Machine) handleData(raw json.RawMessage) {
	update, err := apiinference.ParseUpdate(raw)
	if err != nil {
		m.log.Debug("dropping data-channel message", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.latest = &update
	active := m.state == StateActive
	if active {
		m.visible = &update
	}
	shouldLog := false
	sessionID := m.sessionID
	if active && m.sessionOpen && m.now().Sub(m.lastLoggedAt) >= m.cfg.MetricLogInterval {
		m.lastLoggedAt = m.now()
		shouldLog = true
	}
	m.mu.Unlock()

	if !active {
		return
	}
	if m.alerts != nil && update.Metrics != nil {
		m.alerts.Process(*update.Metrics)
	}
	if shouldLog && m.store != nil {
		if err := m.store.LogMetrics(context.Background(), sessionID, update); err != nil {
			m.log.Warn("failed to log metrics", zap.Error(err))
		}
	}
}

func (m *Machine) sendControl(cmd apicontrol.Command) error {
	ch := m.conn.Channel()
	if ch == nil {
		return fmt.Errorf("data channel unavailable")
	}
	if ch.State() != rtc.ChannelOpen {
		return fmt.Errorf("data channel not open")
	}
	return ch.SendJSON(cmd)
}

// setStateLocked updates state and returns the notification for the caller to
// run after releasing mu, keeping delivery ordered across transitions.
func (m *Machine) setStateLocked(state State) func() {
	if m.state == state {
		return func() {}
	}
	m.state = state
	subs := make([]func(State), 0, len(m.stateSubs))
	for _, entry := range m.stateSubs {
		subs = append(subs, entry.fn)
	}
	return func() {
		for _, fn := range subs {
			fn(state)
		}
	}
}
