package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultDisconnectTTL = 5 * time.Minute
	mirrorWriteTimeout   = 2 * time.Second
)

// Mirror persists session snapshots outside the process so a restarted
// bridge resolves the same sessions. Writes are best-effort and must never
// block the audio path; the store calls them from their own goroutine.
type Mirror interface {
	Save(ctx context.Context, snapshot Session) error
	Delete(ctx context.Context, id string) error
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Logger *slog.Logger

	// DisconnectTTL is how long a disconnected session may linger before it
	// expires and is evicted.
	DisconnectTTL time.Duration

	// Mirror, when set, receives asynchronous snapshot writes.
	Mirror Mirror

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Store owns all managed session records. It is the only component permitted
// to mutate them; everything else sees value snapshots.
type Store struct {
	logger *slog.Logger
	ttl    time.Duration
	mirror Mirror
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a Store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DisconnectTTL <= 0 {
		cfg.DisconnectTTL = defaultDisconnectTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		logger:   cfg.Logger,
		ttl:      cfg.DisconnectTTL,
		mirror:   cfg.Mirror,
		now:      cfg.Now,
		sessions: make(map[string]*Session),
	}
}

// Resolve returns the session for the given identity hints, creating it on
// first sight. Repeated calls with equivalent hints return the same session,
// refreshing lastActivity without resetting createdAt.
func (s *Store) Resolve(identity Identity) Session {
	id := DeriveID(identity)
	now := s.now()

	s.mu.Lock()
	record, ok := s.sessions[id]
	if !ok {
		record = &Session{
			ID:             id,
			Identity:       identity,
			State:          StateActive,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		s.sessions[id] = record
		s.logger.Info("session created", "session_id", id,
			"room", identity.RoomName, "participant", identity.ParticipantIdentity)
	} else {
		record.LastActivityAt = now
	}
	snapshot := *record
	s.mu.Unlock()

	s.mirrorSave(snapshot)
	return snapshot
}

// Get returns a snapshot of an existing session.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *record, true
}

// Touch refreshes a session's lastActivity timestamp.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	record, ok := s.sessions[id]
	if ok {
		record.LastActivityAt = s.now()
	}
	s.mu.Unlock()
}

// RecordRequest attributes one completed backend invocation to a session,
// incrementing its request count and refreshing activity.
func (s *Store) RecordRequest(id string) {
	s.mu.Lock()
	record, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	record.RequestCount++
	record.LastActivityAt = s.now()
	snapshot := *record
	s.mu.Unlock()

	s.mirrorSave(snapshot)
}

// MarkState applies a lifecycle transition. Invalid transitions are logged
// as warnings and ignored; session bookkeeping never blocks the audio path.
// It reports whether the transition was applied.
func (s *Store) MarkState(id string, to State) bool {
	s.mu.Lock()
	record, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("state change for unknown session", "session_id", id, "to", to)
		return false
	}
	from := record.State
	if !from.canTransition(to) {
		s.mu.Unlock()
		s.logger.Warn("invalid session transition ignored",
			"session_id", id, "from", from, "to", to)
		return false
	}
	record.State = to
	record.LastActivityAt = s.now()
	snapshot := *record
	s.mu.Unlock()

	s.logger.Debug("session transition", "session_id", id, "from", from, "to", to)
	s.mirrorSave(snapshot)
	return true
}

// Remove deletes a session outright, for explicit room teardown.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		s.mirrorDelete(id)
		s.logger.Info("session removed", "session_id", id)
	}
}

// EvictExpired expires and removes disconnected sessions whose TTL elapsed.
// It returns the number of sessions evicted.
func (s *Store) EvictExpired(now time.Time) int {
	s.mu.Lock()
	var evicted []string
	for id, record := range s.sessions {
		switch record.State {
		case StateDisconnected:
			if now.Sub(record.LastActivityAt) >= s.ttl {
				record.State = StateExpired
				evicted = append(evicted, id)
			}
		case StateExpired:
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, id := range evicted {
		s.mirrorDelete(id)
		s.logger.Info("session expired", "session_id", id)
	}
	return len(evicted)
}

// Len returns the number of live session records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Restore seeds the store with a snapshot, used to warm from a mirror at
// start-up. Existing records are never overwritten.
func (s *Store) Restore(snapshot Session) {
	if snapshot.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[snapshot.ID]; ok {
		return
	}
	record := snapshot
	s.sessions[snapshot.ID] = &record
}

func (s *Store) mirrorSave(snapshot Session) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
		defer cancel()
		if err := s.mirror.Save(ctx, snapshot); err != nil {
			s.logger.Warn("session mirror save failed", "session_id", snapshot.ID, "error", err)
		}
	}()
}

func (s *Store) mirrorDelete(id string) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
		defer cancel()
		if err := s.mirror.Delete(ctx, id); err != nil {
			s.logger.Warn("session mirror delete failed", "session_id", id, "error", err)
		}
	}()
}
