package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apiinference "github.com/tern/realtime-monitor-session/api/inference"
)

// Record is one persisted monitoring session.
type Record struct {
	ID          string
	ClientID    string
	StartedAt   time.Time
	EndedAt     time.Time
	MetricCount int
}

// Ended reports whether the session record has been finalized.
func (r Record) Ended() bool {
	return !r.EndedAt.IsZero()
}

// Store persists session records and sampled metrics. Implementations may be
// degraded or read-only; callers treat write failures as non-fatal.
type Store interface {
	StartSession(ctx context.Context, clientID string) (string, error)
	LogMetrics(ctx context.Context, sessionID string, update apiinference.Update) error
	EndSession(ctx context.Context, sessionID string) error
}

// MemoryStore keeps session records in memory.
type MemoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore constructs an empty MemoryStore. A nil now falls back to
// time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, records: make(map[string]*Record)}
}

// StartSession opens a new session record and returns its id.
func (s *MemoryStore) StartSession(_ context.Context, clientID string) (string, error) {
	if clientID == "" {
		return "", fmt.Errorf("client id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.records[id] = &Record{ID: id, ClientID: clientID, StartedAt: s.now()}
	return id, nil
}

// LogMetrics counts one sampled metrics update against an open session.
func (s *MemoryStore) LogMetrics(_ context.Context, sessionID string, update apiinference.Update) error {
	if !update.HasMetrics() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	if rec.Ended() {
		return fmt.Errorf("session %q already ended", sessionID)
	}
	rec.MetricCount++
	return nil
}

// EndSession finalizes an open session record.
func (s *MemoryStore) EndSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	if rec.Ended() {
		return fmt.Errorf("session %q already ended", sessionID)
	}
	rec.EndedAt = s.now()
	return nil
}

// Sessions returns a copy of all records ordered by start time.
func (s *MemoryStore) Sessions() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
