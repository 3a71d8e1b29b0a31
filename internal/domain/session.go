// Package domain contains entities without logic, just meta-data
package domain

import "time"

type (
	SessionID string
	VisitID   string
)

// Session is the ephemeral coordination record for one active video-call
// context, scoped to a single clinical visit. Membership lives in core,
// not here.
type Session struct {
	ID        SessionID `json:"id"`
	VisitID   VisitID   `json:"visit_id"`
	CreatedAt time.Time `json:"created_at"`
}
