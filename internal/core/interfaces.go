package core

import (
	"time"

	"github.com/curaline/telecall/internal/domain"
)

// Frame is a raw signaling payload. Bodies (SDP, ICE candidates) are opaque
// to this package; they are relayed, never parsed.
type Frame []byte

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SessionView is a read-only copy of a session and its membership.
type SessionView struct {
	Session      domain.Session       `json:"session"`
	Participants []domain.Participant `json:"participants"`
}

type ParticipantStats struct {
	ID       domain.ParticipantID `json:"id"`
	UserID   domain.UserID        `json:"user_id"`
	Conn     domain.ConnID        `json:"conn"`
	Role     domain.Role          `json:"role"`
	JoinedAt time.Time            `json:"joined_at"`
	Duration time.Duration        `json:"duration"`
}

type SessionStats struct {
	SessionID        domain.SessionID   `json:"session_id"`
	VisitID          domain.VisitID     `json:"visit_id"`
	Active           bool               `json:"active"`
	CreatedAt        time.Time          `json:"created_at"`
	Age              time.Duration      `json:"age"`
	ParticipantCount int                `json:"participant_count"`
	Participants     []ParticipantStats `json:"participants"`
}

// Snapshot aggregates across all active sessions, for dashboards and gauges.
type Snapshot struct {
	ActiveSessions int `json:"active_sessions"`
	Participants   int `json:"participants"`
}

// Registry is the core-facing API of the session coordinator. It owns the
// session table, the membership sets and the conn→session reverse index, but
// never touches transport resources or message bytes.
type Registry interface {
	Create(visit domain.VisitID) domain.SessionID
	GetOrCreateForVisit(visit domain.VisitID) domain.SessionID
	Get(id domain.SessionID) (SessionView, bool)
	Close(id domain.SessionID) bool

	AddParticipant(id domain.SessionID, conn domain.ConnID, user domain.UserID, role domain.Role) (*domain.Participant, error)
	RemoveParticipant(conn domain.ConnID) (domain.SessionID, *domain.Participant, bool)
	Resolve(conn domain.ConnID) (domain.SessionID, *domain.Participant, bool)

	AuthorizeRelay(from, to domain.ConnID) bool
	Sweep(threshold time.Duration) int

	StatsFor(id domain.SessionID) (SessionStats, bool)
	ListActive() []SessionStats
	Snapshot() Snapshot
}
