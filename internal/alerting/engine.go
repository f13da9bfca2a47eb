package alerting

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	apiinference "github.com/tern/realtime-monitor-session/api/inference"
)

// HapticKind selects pulse intensity.
type HapticKind string

const (
	HapticWarning HapticKind = "warning"
	HapticImpact  HapticKind = "impact"
)

// Speaker voices alert text. The done callback fires exactly once, whether
// playback completed, was interrupted, or failed.
type Speaker interface {
	Speak(text string, done func(err error))
	Stop()
}

// Haptics triggers a vibration pulse.
type Haptics interface {
	Trigger(kind HapticKind)
}

// EngineConfig controls arbitration behavior.
type EngineConfig struct {
	Catalog        []Config
	GracePeriod    time.Duration
	WelcomeMessage string
}

// EngineDependencies wires output effects and the clock.
type EngineDependencies struct {
	Logger  *zap.Logger
	Speaker Speaker
	Haptics Haptics
	Now     func() time.Time
}

type alertState struct {
	lastTriggeredAt time.Time
	isSpeaking      bool
}

// Engine arbitrates the alert catalog over the metrics stream. At most one
// alert speaks at any instant; lower-or-equal priority never interrupts.
type Engine struct {
	cfg     EngineConfig
	log     *zap.Logger
	speaker Speaker
	haptics Haptics
	now     func() time.Time

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	current   string
	states    map[string]*alertState
}

// NewEngine constructs an Engine. A zero grace period defaults to 4 seconds.
func NewEngine(cfg EngineConfig, deps EngineDependencies) *Engine {
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 4 * time.Second
	}
	if cfg.WelcomeMessage == "" {
		cfg.WelcomeMessage = "Monitoring started. Drive safely."
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		cfg:     cfg,
		log:     deps.Logger,
		speaker: deps.Speaker,
		haptics: deps.Haptics,
		now:     deps.Now,
		states:  make(map[string]*alertState),
	}
}

// Start begins the grace period and plays the welcome announcement once.
// Calling Start on a running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.startedAt = e.now()
	e.mu.Unlock()

	if e.speaker != nil {
		e.speaker.Speak(e.cfg.WelcomeMessage, func(err error) {
			if err != nil {
				e.log.Warn("welcome announcement failed", zap.Error(err))
			}
		})
	}
}

// Stop cancels any in-flight speech and clears all per-alert state. Safe to
// call repeatedly.
func (e *Engine) Stop() {
	e.mu.Lock()
	wasRunning := e.running
	e.running = false
	e.current = ""
	e.startedAt = time.Time{}
	e.states = make(map[string]*alertState)
	e.mu.Unlock()

	if wasRunning && e.speaker != nil {
		e.speaker.Stop()
	}
}

// Running reports whether the engine is consuming metrics.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Current returns the id of the alert currently speaking, or empty.
func (e *Engine) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Process evaluates the catalog against one metrics update and triggers at
// most one alert.
func (e *Engine) Process(m apiinference.Metrics) {
	now := e.now()

	e.mu.Lock()
	if !e.running || now.Sub(e.startedAt) < e.cfg.GracePeriod {
		e.mu.Unlock()
		return
	}

	triggered := make([]Config, 0, len(e.cfg.Catalog))
	for _, cfg := range e.cfg.Catalog {
		if cfg.Predicate != nil && cfg.Predicate(m) {
			triggered = append(triggered, cfg)
		}
	}
	sort.SliceStable(triggered, func(i, j int) bool {
		return triggered[i].Priority > triggered[j].Priority
	})

	currentPriority := Priority(0)
	if e.current != "" {
		currentPriority = e.priorityOf(e.current)
	}

	var selected *Config
	for i := range triggered {
		cand := &triggered[i]
		st := e.states[cand.ID]
		if st != nil && st.isSpeaking {
			continue
		}
		if st != nil && now.Sub(st.lastTriggeredAt) < cand.Cooldown {
			continue
		}
		if e.current != "" && cand.Priority <= currentPriority {
			continue
		}
		selected = cand
		break
	}
	if selected == nil {
		e.mu.Unlock()
		return
	}

	interrupt := e.current != ""
	st := e.states[selected.ID]
	if st == nil {
		st = &alertState{}
		e.states[selected.ID] = st
	}
	st.lastTriggeredAt = now
	st.isSpeaking = true
	e.current = selected.ID
	e.mu.Unlock()

	e.log.Info("alert triggered",
		zap.String("alert", selected.ID),
		zap.String("priority", selected.Priority.String()))

	if interrupt && e.speaker != nil {
		e.speaker.Stop()
	}
	if e.haptics != nil {
		e.haptics.Trigger(hapticFor(selected.Priority))
	}
	if e.speaker != nil {
		id := selected.ID
		e.speaker.Speak(selected.Message, func(err error) {
			e.clearSpeaking(id)
			if err != nil {
				e.log.Warn("alert speech failed", zap.String("alert", id), zap.Error(err))
			}
		})
	} else {
		e.clearSpeaking(selected.ID)
	}
}

func (e *Engine) clearSpeaking(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.states[id]; st != nil {
		st.isSpeaking = false
	}
	if e.current == id {
		e.current = ""
	}
}

func (e *Engine) priorityOf(id string) Priority {
	for _, cfg := range e.cfg.Catalog {
		if cfg.ID == id {
			return cfg.Priority
		}
	}
	return 0
}

func hapticFor(p Priority) HapticKind {
	if p >= PriorityHigh {
		return HapticWarning
	}
	return HapticImpact
}
