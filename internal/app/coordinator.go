package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curaline/telecall/internal/core"
	"github.com/curaline/telecall/internal/domain"
	"github.com/curaline/telecall/internal/metrics"
)

// Coordinator is the boundary the transport layer talks to. It owns no
// transport resources and performs no I/O: every call is an in-memory
// mutation or lookup on the registry, plus metrics bookkeeping.
type Coordinator struct {
	reg core.Registry
	met *metrics.Metrics
}

func NewCoordinator(reg core.Registry, met *metrics.Metrics) *Coordinator {
	return &Coordinator{reg: reg, met: met}
}

// JoinVisit resolves (or creates) the session for a visit and registers the
// connection as a participant. The session can close between resolution and
// registration when its last member hangs up at the same moment; that race is
// benign and resolved by retrying against a fresh session.
func (c *Coordinator) JoinVisit(visit domain.VisitID, conn domain.ConnID, user domain.UserID, role domain.Role) (domain.SessionID, *domain.Participant, error) {
	for attempt := 0; attempt < 2; attempt++ {
		id := c.reg.GetOrCreateForVisit(visit)
		p, err := c.reg.AddParticipant(id, conn, user, role)
		if err == core.ErrSessionNotFound {
			log.Info().Str("module", "app.coordinator").Str("visit", string(visit)).Msg("session closed during join, retrying")
			if c.met != nil {
				c.met.JoinRaces.Inc()
			}
			continue
		}
		if err != nil {
			return "", nil, err
		}
		if c.met != nil {
			c.met.Joins.Inc()
		}
		c.syncGauges()
		return id, p, nil
	}
	return "", nil, core.ErrSessionNotFound
}

// Leave removes the connection's participant; removing an unknown or
// already-removed conn is a no-op reporting not-found.
func (c *Coordinator) Leave(conn domain.ConnID) (domain.SessionID, *domain.Participant, bool) {
	id, p, ok := c.reg.RemoveParticipant(conn)
	if ok {
		if c.met != nil {
			c.met.Leaves.Inc()
		}
		c.syncGauges()
	}
	return id, p, ok
}

// Relay authorizes forwarding one signaling frame. The payload never passes
// through here; the transport layer forwards it only on true.
func (c *Coordinator) Relay(kind core.SignalKind, from, to domain.ConnID) bool {
	if !kind.Valid() {
		log.Warn().Str("module", "app.coordinator").Str("kind", string(kind)).Msg("relay rejected: unknown signal kind")
		if c.met != nil {
			c.met.RelayRejected.WithLabelValues(string(kind)).Inc()
		}
		return false
	}
	ok := c.reg.AuthorizeRelay(from, to)
	if c.met != nil {
		if ok {
			c.met.RelayAuthorized.WithLabelValues(string(kind)).Inc()
		} else {
			c.met.RelayRejected.WithLabelValues(string(kind)).Inc()
		}
	}
	return ok
}

func (c *Coordinator) SessionStats(id domain.SessionID) (core.SessionStats, bool) {
	return c.reg.StatsFor(id)
}

func (c *Coordinator) ListActiveSessions() []core.SessionStats {
	return c.reg.ListActive()
}

func (c *Coordinator) Session(id domain.SessionID) (core.SessionView, bool) {
	return c.reg.Get(id)
}

// Sweep closes abandoned empty sessions older than threshold.
func (c *Coordinator) Sweep(threshold time.Duration) int {
	closed := c.reg.Sweep(threshold)
	if closed > 0 {
		if c.met != nil {
			c.met.SessionsSwept.Add(float64(closed))
		}
		c.syncGauges()
	}
	return closed
}

// RunSweeper drives the periodic defensive cleanup until ctx is canceled.
// The coordinator owns no timers of its own besides this externally started
// loop.
func (c *Coordinator) RunSweeper(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Str("module", "app.coordinator").Dur("interval", interval).Dur("threshold", threshold).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.coordinator").Msg("sweeper stopped")
			return
		case <-ticker.C:
			if closed := c.Sweep(threshold); closed > 0 {
				log.Info().Str("module", "app.coordinator").Int("closed", closed).Msg("sweep closed abandoned sessions")
			}
		}
	}
}

func (c *Coordinator) syncGauges() {
	if c.met == nil {
		return
	}
	snap := c.reg.Snapshot()
	c.met.ActiveSessions.Set(float64(snap.ActiveSessions))
	c.met.ActiveParticipants.Set(float64(snap.Participants))
}
