package core

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/curaline/telecall/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrConnInUse       = errors.New("connection already joined a session")
)

// session is the mutable per-call state. Mutated only under registryImpl.mu.
type session struct {
	meta         *domain.Session
	participants map[domain.ConnID]*domain.Participant
	active       bool
	closedAt     time.Time
	purge        *time.Timer
}

// registryImpl is a threadsafe in-memory session registry. The session
// table, the visit index and the conn reverse index are one shared structure
// under a single mutex, so every operation observes them in lockstep.
type registryImpl struct {
	clock Clock
	grace time.Duration

	mu       sync.RWMutex
	sessions map[domain.SessionID]*session
	byVisit  map[domain.VisitID]domain.SessionID
	byConn   map[domain.ConnID]domain.SessionID
}

// NewRegistry creates a Registry. grace is how long a closed session stays
// resolvable for stats before it is purged; grace <= 0 purges immediately.
func NewRegistry(clock Clock, grace time.Duration) Registry {
	if clock == nil {
		clock = RealClock{}
	}
	return &registryImpl{
		clock:    clock,
		grace:    grace,
		sessions: make(map[domain.SessionID]*session),
		byVisit:  make(map[domain.VisitID]domain.SessionID),
		byConn:   make(map[domain.ConnID]domain.SessionID),
	}
}

func (r *registryImpl) Create(visit domain.VisitID) domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(visit)
}

func (r *registryImpl) createLocked(visit domain.VisitID) domain.SessionID {
	if prev, ok := r.byVisit[visit]; ok {
		// At most one active session per visit. An explicit Create
		// supersedes whatever is currently active for it.
		r.closeLocked(prev)
		log.Warn().Str("module", "core.registry").Str("visit", string(visit)).Str("superseded", string(prev)).Msg("active session superseded by create")
	}
	id := domain.SessionID(uuid.NewString())
	r.sessions[id] = &session{
		meta: &domain.Session{
			ID:        id,
			VisitID:   visit,
			CreatedAt: r.clock.Now(),
		},
		participants: make(map[domain.ConnID]*domain.Participant),
		active:       true,
	}
	r.byVisit[visit] = id
	log.Info().Str("module", "core.registry").Str("session", string(id)).Str("visit", string(visit)).Msg("session created")
	return id
}

func (r *registryImpl) GetOrCreateForVisit(visit domain.VisitID) domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byVisit[visit]; ok {
		return id
	}
	return r.createLocked(visit)
}

func (r *registryImpl) Get(id domain.SessionID) (SessionView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok || !s.active {
		return SessionView{}, false
	}
	return r.viewLocked(s), true
}

// viewLocked copies membership so callers can never mutate it directly.
func (r *registryImpl) viewLocked(s *session) SessionView {
	out := SessionView{
		Session:      *s.meta,
		Participants: make([]domain.Participant, 0, len(s.participants)),
	}
	for _, p := range s.participants {
		out.Participants = append(out.Participants, *p)
	}
	return out
}

func (r *registryImpl) Close(id domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked(id)
}

func (r *registryImpl) closeLocked(id domain.SessionID) bool {
	s, ok := r.sessions[id]
	if !ok || !s.active {
		return false
	}
	for conn := range s.participants {
		delete(r.byConn, conn)
	}
	if cur, ok := r.byVisit[s.meta.VisitID]; ok && cur == id {
		delete(r.byVisit, s.meta.VisitID)
	}
	s.active = false
	s.closedAt = r.clock.Now()
	if r.grace <= 0 {
		delete(r.sessions, id)
	} else {
		// Retain for stats during the grace window, then purge.
		// The deferred purge must never block a caller, hence AfterFunc.
		s.purge = time.AfterFunc(r.grace, func() { r.purgeSession(id) })
	}
	log.Info().Str("module", "core.registry").Str("session", string(id)).Str("visit", string(s.meta.VisitID)).Msg("session closed")
	return true
}

func (r *registryImpl) purgeSession(id domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && !s.active {
		delete(r.sessions, id)
	}
}

func (r *registryImpl) AddParticipant(id domain.SessionID, conn domain.ConnID, user domain.UserID, role domain.Role) (*domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || !s.active {
		// Expected outcome of a benign race: the session closed between
		// the client's join request and this call.
		return nil, ErrSessionNotFound
	}
	if _, bound := r.byConn[conn]; bound {
		return nil, ErrConnInUse
	}

	p, err := domain.NewParticipant(user, conn, role, r.clock.Now())
	if err != nil {
		return nil, err
	}
	s.participants[conn] = p
	r.byConn[conn] = id
	log.Info().Str("module", "core.registry").Str("session", string(id)).Str("conn", string(conn)).Str("user", string(user)).Str("role", string(role)).Msg("participant added")
	return p, nil
}

func (r *registryImpl) RemoveParticipant(conn domain.ConnID) (domain.SessionID, *domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[conn]
	if !ok {
		return "", nil, false
	}
	s, ok := r.sessions[id]
	if !ok {
		// Reverse index and session table disagree: a defect in this
		// package, not caller misuse. Repair and report.
		log.Error().Str("module", "core.registry").Str("conn", string(conn)).Str("session", string(id)).Msg("invariant violation: reverse index points at missing session")
		delete(r.byConn, conn)
		return "", nil, false
	}
	p := s.participants[conn]
	delete(s.participants, conn)
	delete(r.byConn, conn)
	log.Info().Str("module", "core.registry").Str("session", string(id)).Str("conn", string(conn)).Msg("participant removed")

	if len(s.participants) == 0 {
		r.closeLocked(id)
	}
	return id, p, true
}

func (r *registryImpl) Resolve(conn domain.ConnID) (domain.SessionID, *domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(conn)
}

func (r *registryImpl) resolveLocked(conn domain.ConnID) (domain.SessionID, *domain.Participant, bool) {
	id, ok := r.byConn[conn]
	if !ok {
		return "", nil, false
	}
	s, ok := r.sessions[id]
	if !ok {
		log.Error().Str("module", "core.registry").Str("conn", string(conn)).Str("session", string(id)).Msg("invariant violation: reverse index points at missing session")
		return "", nil, false
	}
	p, ok := s.participants[conn]
	if !ok {
		log.Error().Str("module", "core.registry").Str("conn", string(conn)).Str("session", string(id)).Msg("invariant violation: indexed conn missing from session membership")
		return "", nil, false
	}
	return id, p, true
}

func (r *registryImpl) Sweep(threshold time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	abandoned := make([]domain.SessionID, 0)
	for id, s := range r.sessions {
		if s.active && len(s.participants) == 0 && now.Sub(s.meta.CreatedAt) > threshold {
			abandoned = append(abandoned, id)
		}
	}
	for _, id := range abandoned {
		r.closeLocked(id)
		log.Warn().Str("module", "core.registry").Str("session", string(id)).Msg("swept abandoned session")
	}
	return len(abandoned)
}

func (r *registryImpl) StatsFor(id domain.SessionID) (SessionStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// Closed sessions stay resolvable here during the purge grace window,
	// so stats queries issued right after hangup still work.
	s, ok := r.sessions[id]
	if !ok {
		return SessionStats{}, false
	}
	return r.statsLocked(s), true
}

func (r *registryImpl) statsLocked(s *session) SessionStats {
	now := r.clock.Now()
	st := SessionStats{
		SessionID:        s.meta.ID,
		VisitID:          s.meta.VisitID,
		Active:           s.active,
		CreatedAt:        s.meta.CreatedAt,
		Age:              now.Sub(s.meta.CreatedAt),
		ParticipantCount: len(s.participants),
		Participants:     make([]ParticipantStats, 0, len(s.participants)),
	}
	for _, p := range s.participants {
		st.Participants = append(st.Participants, ParticipantStats{
			ID:       p.ID,
			UserID:   p.UserID,
			Conn:     p.Conn,
			Role:     p.Role,
			JoinedAt: p.JoinedAt,
			Duration: now.Sub(p.JoinedAt),
		})
	}
	return st
}

func (r *registryImpl) ListActive() []SessionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionStats, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.active {
			out = append(out, r.statsLocked(s))
		}
	}
	return out
}

func (r *registryImpl) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{}
	for _, s := range r.sessions {
		if s.active {
			snap.ActiveSessions++
			snap.Participants += len(s.participants)
		}
	}
	return snap
}
