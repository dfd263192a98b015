// Package streamtracker maintains a live registry of open streams for
// admin/observability purposes: active sessions, a rolling window of
// recently-closed ones, and basic progress snapshots (bytes read, start
// and last-update times; no speed or ETA is computed). Grounded on
// the teacher's internal/api/stream_tracker.go, trimmed of Usenet- and
// download-queue-specific fields (no NZB/segment concepts here — just
// URL, offset, length, and timing).
package streamtracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tracked stream.
type Status string

const (
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
	StatusAborted  Status = "aborted"
	StatusError    Status = "error"
)

// Session is a snapshot of one tracked stream's progress.
type Session struct {
	ID          string
	URL         string
	StartedAt   time.Time
	LastUpdate  time.Time
	BytesRead   int64
	Length      int64 // -1 if unknown
	Status      Status
	Err         string
	cancel      func()
}

type internalSession struct {
	mu      sync.Mutex
	session Session
}

// Tracker is a concurrency-safe registry of Sessions, keyed by an
// internally-generated UUID (spec §9 has no analog — this is a
// supplemented operational feature, not part of the core coordinator).
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*internalSession
	history  []Session
	maxHist  int
}

// New returns an empty Tracker retaining up to maxHistory finished
// sessions for later inspection.
func New(maxHistory int) *Tracker {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &Tracker{sessions: make(map[string]*internalSession), maxHist: maxHistory}
}

// Add registers a new session for url and returns its ID.
func (t *Tracker) Add(url string, length int64, cancel func()) string {
	id := uuid.New().String()
	now := time.Now()
	t.mu.Lock()
	t.sessions[id] = &internalSession{session: Session{
		ID:         id,
		URL:        url,
		StartedAt:  now,
		LastUpdate: now,
		Length:     length,
		Status:     StatusActive,
		cancel:     cancel,
	}}
	t.mu.Unlock()
	return id
}

// UpdateProgress records bytesRead for a session.
func (t *Tracker) UpdateProgress(id string, bytesRead int64) {
	t.mu.Lock()
	s, ok := t.sessions[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.session.BytesRead = bytesRead
	s.session.LastUpdate = time.Now()
	s.mu.Unlock()
}

// Remove moves a session from the active set into history with a
// terminal status.
func (t *Tracker) Remove(id string, status Status, errMsg string) {
	t.mu.Lock()
	s, ok := t.sessions[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.sessions, id)
	s.mu.Lock()
	s.session.Status = status
	s.session.Err = errMsg
	s.session.LastUpdate = time.Now()
	snapshot := s.session
	s.mu.Unlock()

	t.history = append(t.history, snapshot)
	if len(t.history) > t.maxHist {
		t.history = t.history[len(t.history)-t.maxHist:]
	}
	t.mu.Unlock()
}

// Kill aborts and removes an active session, invoking its cancel func if
// one was registered.
func (t *Tracker) Kill(id string) bool {
	t.mu.Lock()
	s, ok := t.sessions[id]
	t.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	cancel := s.session.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.Remove(id, StatusAborted, "")
	return true
}

// Get returns a snapshot of one active session.
func (t *Tracker) Get(id string) (Session, bool) {
	t.mu.Lock()
	s, ok := t.sessions[id]
	t.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, true
}

// GetAll returns a snapshot of every active session.
func (t *Tracker) GetAll() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		s.mu.Lock()
		out = append(out, s.session)
		s.mu.Unlock()
	}
	return out
}

// GetHistory returns the retained finished/aborted/errored sessions,
// oldest first.
func (t *Tracker) GetHistory() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Session, len(t.history))
	copy(out, t.history)
	return out
}
