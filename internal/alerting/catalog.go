// Package alerting selects at most one spoken alert at a time from the live
// metrics stream, honoring priority, cooldown, and interruption rules.
package alerting

import (
	"time"

	apiinference "github.com/tern/realtime-monitor-session/api/inference"
)

// Priority orders alerts for arbitration. Higher values win.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Config is one entry of the static alert catalog, immutable after load.
type Config struct {
	ID        string
	Priority  Priority
	Cooldown  time.Duration
	Message   string
	Predicate func(m apiinference.Metrics) bool
}

// DefaultCatalog returns the built-in driver-state alerts.
func DefaultCatalog() []Config {
	return []Config{
		{
			ID:       "drowsiness",
			Priority: PriorityCritical,
			Cooldown: 30 * time.Second,
			Message:  "You appear drowsy. Please pull over and take a break.",
			Predicate: func(m apiinference.Metrics) bool {
				return m.PerclosAlert || m.EARAlert
			},
		},
		{
			ID:       "phone_usage",
			Priority: PriorityHigh,
			Cooldown: 20 * time.Second,
			Message:  "Please put your phone away and focus on the road.",
			Predicate: func(m apiinference.Metrics) bool {
				return m.PhoneUsageSustained
			},
		},
		{
			ID:       "gaze",
			Priority: PriorityHigh,
			Cooldown: 15 * time.Second,
			Message:  "Keep your eyes on the road.",
			Predicate: func(m apiinference.Metrics) bool {
				return m.GazeSustained
			},
		},
		{
			ID:       "head_pose",
			Priority: PriorityMedium,
			Cooldown: 15 * time.Second,
			Message:  "Please face forward while driving.",
			Predicate: func(m apiinference.Metrics) bool {
				return m.HeadPoseAlert || m.YawSustained || m.PitchSustained || m.RollSustained
			},
		},
		{
			ID:       "yawning",
			Priority: PriorityLow,
			Cooldown: 45 * time.Second,
			Message:  "You seem tired. Consider taking a rest soon.",
			Predicate: func(m apiinference.Metrics) bool {
				return m.YawnSustained
			},
		},
	}
}
