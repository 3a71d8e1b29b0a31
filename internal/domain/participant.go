package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxUserIDLen = 36

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrRoleEmpty     = errors.New("role empty")
)

type (
	ParticipantID string
	UserID        string

	// ConnID identifies a live transport connection. The transport layer
	// owns the connection itself; coordination code only references it.
	ConnID string
)

type Role string

const (
	RoleClinician Role = "clinician"
	RolePatient   Role = "patient"
)

// Participant is one connected party within a session.
type Participant struct {
	ID       ParticipantID `json:"id"`
	UserID   UserID        `json:"user_id"`
	Conn     ConnID        `json:"conn"`
	Role     Role          `json:"role"`
	JoinedAt time.Time     `json:"joined_at"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
// Roles beyond the two known ones are accepted as-is; only emptiness is rejected.
func NewParticipant(userID UserID, conn ConnID, role Role, joinedAt time.Time) (*Participant, error) {
	if len(userID) == 0 {
		return nil, ErrUserIDEmpty
	}
	if len(userID) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	if len(role) == 0 {
		return nil, ErrRoleEmpty
	}
	return &Participant{
		ID:       ParticipantID(uuid.NewString()),
		UserID:   userID,
		Conn:     conn,
		Role:     role,
		JoinedAt: joinedAt,
	}, nil
}
