package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is the position of a rater session in the assignment protocol.
type SessionState int

const (
	SessionUnassigned SessionState = iota
	SessionAssigned
	SessionCommitting
	SessionAllRated // terminal
)

func (s SessionState) String() string {
	switch s {
	case SessionUnassigned:
		return "unassigned"
	case SessionAssigned:
		return "assigned"
	case SessionCommitting:
		return "committing"
	case SessionAllRated:
		return "all_rated"
	default:
		return "unknown"
	}
}

// FlashKind classifies the one-shot message shown after a submission.
type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashWarning FlashKind = "warning"
	FlashError   FlashKind = "error"
)

type Flash struct {
	Kind    FlashKind
	Message string
}

// Session is the ephemeral per-rater state. It is never persisted.
//
// Callers hold Lock for the duration of a protocol step; every accessor
// below assumes the lock is held.
type Session struct {
	ID uuid.UUID

	mu       sync.Mutex
	state    SessionState
	assigned Row
	excluded map[string]struct{}
	final    Progress
	flash    *Flash

	// RaterName is the last rater identifier submitted from this session.
	RaterName string
	LastSeen  time.Time
}

func NewSession(id uuid.UUID, now time.Time) *Session {
	return &Session{
		ID:       id,
		state:    SessionUnassigned,
		excluded: make(map[string]struct{}),
		LastSeen: now,
	}
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

func (s *Session) State() SessionState { return s.state }

// Assigned returns the pinned row, if any.
func (s *Session) Assigned() (Row, bool) {
	if s.state != SessionAssigned && s.state != SessionCommitting {
		return Row{}, false
	}
	return s.assigned, true
}

// Assign pins row to the session.
func (s *Session) Assign(row Row) {
	s.assigned = row
	s.state = SessionAssigned
}

// BeginCommit moves an assigned session into Committing.
func (s *Session) BeginCommit() (Row, error) {
	if s.state != SessionAssigned {
		return Row{}, ErrNotAssigned
	}
	s.state = SessionCommitting
	return s.assigned, nil
}

// Release drops the assignment and returns the session to Unassigned.
func (s *Session) Release() {
	if s.state == SessionAllRated {
		return
	}
	s.assigned = Row{}
	s.state = SessionUnassigned
}

// Complete moves the session into the terminal AllRated state.
func (s *Session) Complete(p Progress) {
	s.assigned = Row{}
	s.final = p
	s.state = SessionAllRated
}

// FinalProgress is the progress observed when the session completed.
func (s *Session) FinalProgress() Progress { return s.final }

func (s *Session) Exclude(filename string) {
	s.excluded[filename] = struct{}{}
}

// Exclusions returns the filenames this session already rated.
// The map must not be modified.
func (s *Session) Exclusions() map[string]struct{} {
	return s.excluded
}

func (s *Session) SetFlash(kind FlashKind, message string) {
	s.flash = &Flash{Kind: kind, Message: message}
}

// TakeFlash returns and clears the pending flash message.
func (s *Session) TakeFlash() *Flash {
	f := s.flash
	s.flash = nil
	return f
}
