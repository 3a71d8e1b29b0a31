package core

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/curaline/telecall/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry() (*fakeClock, Registry) {
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	return clk, NewRegistry(clk, 0)
}

func TestCreateAndGet(t *testing.T) {
	_, r := newTestRegistry()
	id := r.Create("visit-1")

	view, ok := r.Get(id)
	if !ok {
		t.Fatalf("expected session %q to be active", id)
	}
	if view.Session.VisitID != "visit-1" {
		t.Fatalf("expected visit-1, got %q", view.Session.VisitID)
	}
	if len(view.Participants) != 0 {
		t.Fatalf("expected empty session, got %d participants", len(view.Participants))
	}
}

func TestCreateUniqueIDs(t *testing.T) {
	_, r := newTestRegistry()
	if r.Create("visit-1") == r.Create("visit-2") {
		t.Fatal("expected unique session ids")
	}
}

func TestGetOrCreateForVisitReuses(t *testing.T) {
	_, r := newTestRegistry()
	first := r.Create("visit-1")
	second := r.GetOrCreateForVisit("visit-1")
	if first != second {
		t.Fatalf("expected reuse of %q, got %q", first, second)
	}
}

func TestGetOrCreateForVisitIgnoresClosed(t *testing.T) {
	_, r := newTestRegistry()
	first := r.Create("visit-1")
	if !r.Close(first) {
		t.Fatal("close failed")
	}
	second := r.GetOrCreateForVisit("visit-1")
	if first == second {
		t.Fatal("expected a new session after close")
	}
}

func TestSingleActiveSessionPerVisitConcurrent(t *testing.T) {
	_, r := newTestRegistry()

	const n = 32
	ids := make([]domain.SessionID, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ids[i] = r.GetOrCreateForVisit("visit-1")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent joiners got different sessions: %q vs %q", ids[0], ids[i])
		}
	}
	if got := len(r.ListActive()); got != 1 {
		t.Fatalf("expected 1 active session, got %d", got)
	}
}

func TestCreateSupersedesActiveSessionForVisit(t *testing.T) {
	_, r := newTestRegistry()
	first := r.Create("visit-1")
	second := r.Create("visit-1")

	if _, ok := r.Get(first); ok {
		t.Fatal("expected first session to be closed by superseding create")
	}
	if _, ok := r.Get(second); !ok {
		t.Fatal("expected second session to be active")
	}
	if got := len(r.ListActive()); got != 1 {
		t.Fatalf("expected a single active session for the visit, got %d", got)
	}
}

func TestAddParticipantUnknownSession(t *testing.T) {
	_, r := newTestRegistry()
	if _, err := r.AddParticipant("nope", "conn-1", "user-1", domain.RoleClinician); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAddParticipantClosedSession(t *testing.T) {
	_, r := newTestRegistry()
	id := r.Create("visit-1")
	r.Close(id)
	if _, err := r.AddParticipant(id, "conn-1", "user-1", domain.RolePatient); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAddParticipantConnInUse(t *testing.T) {
	_, r := newTestRegistry()
	a := r.Create("visit-1")
	b := r.Create("visit-2")
	if _, err := r.AddParticipant(a, "conn-1", "user-1", domain.RoleClinician); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := r.AddParticipant(b, "conn-1", "user-1", domain.RoleClinician); err != ErrConnInUse {
		t.Fatalf("expected ErrConnInUse, got %v", err)
	}
}

func TestReverseIndexConsistency(t *testing.T) {
	_, r := newTestRegistry()
	id := r.Create("visit-1")
	if _, err := r.AddParticipant(id, "conn-1", "user-1", domain.RoleClinician); err != nil {
		t.Fatalf("add conn-1: %v", err)
	}
	if _, err := r.AddParticipant(id, "conn-2", "user-2", domain.RolePatient); err != nil {
		t.Fatalf("add conn-2: %v", err)
	}

	for _, conn := range []domain.ConnID{"conn-1", "conn-2"} {
		sid, p, ok := r.Resolve(conn)
		if !ok {
			t.Fatalf("resolve %q failed", conn)
		}
		if sid != id {
			t.Fatalf("resolve %q: expected session %q, got %q", conn, id, sid)
		}
		view, ok := r.Get(sid)
		if !ok {
			t.Fatalf("get %q failed", sid)
		}
		found := false
		for _, member := range view.Participants {
			if member.ID == p.ID {
				found = true
			}
		}
		if !found {
			t.Fatalf("resolved participant %q is not a member of its session", p.ID)
		}
	}
}

func TestRemoveParticipantIdempotent(t *testing.T) {
	_, r := newTestRegistry()
	id := r.Create("visit-1")
	r.AddParticipant(id, "conn-1", "user-1", domain.RoleClinician)
	r.AddParticipant(id, "conn-2", "user-2", domain.RolePatient)

	if _, p, ok := r.RemoveParticipant("conn-1"); !ok || p.UserID != "user-1" {
		t.Fatalf("first remove: ok=%v p=%+v", ok, p)
	}
	if _, _, ok := r.RemoveParticipant("conn-1"); ok {
		t.Fatal("second remove of the same conn should report not-found")
	}
	if _, _, ok := r.RemoveParticipant("never-joined"); ok {
		t.Fatal("removing an unknown conn should report not-found")
	}
	if view, _ := r.Get(id); len(view.Participants) != 1 {
		t.Fatalf("expected 1 remaining participant, got %d", len(view.Participants))
	}
}

func TestAutoCloseOnEmpty(t *testing.T) {
	_, r := newTestRegistry()
	id := r.Create("visit-1")
	r.AddParticipant(id, "conn-a", "user-a", domain.RoleClinician)
	r.AddParticipant(id, "conn-b", "user-b", domain.RolePatient)

	r.RemoveParticipant("conn-a")
	view, ok := r.Get(id)
	if !ok {
		t.Fatal("session should stay active while a participant remains")
	}
	if len(view.Participants) != 1 || view.Participants[0].UserID != "user-b" {
		t.Fatalf("expected only user-b to remain, got %+v", view.Participants)
	}

	r.RemoveParticipant("conn-b")
	if _, ok := r.Get(id); ok {
		t.Fatal("session should close when the last participant leaves")
	}
}

func TestCloseIdempotent(t *testing.T) {
	_, r := newTestRegistry()
	id := r.Create("visit-1")
	if !r.Close(id) {
		t.Fatal("first close should succeed")
	}
	if r.Close(id) {
		t.Fatal("second close should report already-closed")
	}
	if r.Close("unknown") {
		t.Fatal("closing an unknown session should report failure")
	}
}

func TestCloseRemovesReverseIndex(t *testing.T) {
	_, r := newTestRegistry()
	id := r.Create("visit-1")
	r.AddParticipant(id, "conn-1", "user-1", domain.RoleClinician)
	r.AddParticipant(id, "conn-2", "user-2", domain.RolePatient)

	r.Close(id)
	if _, _, ok := r.Resolve("conn-1"); ok {
		t.Fatal("conn-1 should be unresolvable after close")
	}
	if _, _, ok := r.Resolve("conn-2"); ok {
		t.Fatal("conn-2 should be unresolvable after close")
	}
}

func TestStatsDuringGraceWindow(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	r := NewRegistry(clk, 50*time.Millisecond)

	id := r.Create("visit-1")
	r.AddParticipant(id, "conn-1", "user-1", domain.RoleClinician)
	r.RemoveParticipant("conn-1") // auto-close

	st, ok := r.StatsFor(id)
	if !ok {
		t.Fatal("stats should resolve during the grace window")
	}
	if st.Active {
		t.Fatal("closed session must report active=false")
	}
	if _, ok := r.Get(id); ok {
		t.Fatal("closed session must be invisible to Get")
	}

	// Purge runs on a wall-clock timer.
	time.Sleep(200 * time.Millisecond)
	if _, ok := r.StatsFor(id); ok {
		t.Fatal("session should be purged after the grace window")
	}
}

func TestZeroGracePurgesImmediately(t *testing.T) {
	_, r := newTestRegistry()
	id := r.Create("visit-1")
	r.Close(id)
	if _, ok := r.StatsFor(id); ok {
		t.Fatal("grace 0 should purge at close")
	}
}

func TestSweepThreshold(t *testing.T) {
	clk, r := newTestRegistry()

	// s2 auto-closes via the normal leave path, so the sweep must not count it.
	s2 := r.Create("visit-2")
	r.AddParticipant(s2, "conn-1", "user-1", domain.RolePatient)
	r.RemoveParticipant("conn-1")

	// s3 never receives a participant and ages past the threshold.
	s3 := r.Create("visit-3")
	clk.Advance(31 * time.Minute)

	// s4 is freshly created and empty; younger than the threshold.
	s4 := r.Create("visit-4")

	closed := r.Sweep(30 * time.Minute)
	if closed != 1 {
		t.Fatalf("expected sweep to close exactly 1 session, got %d", closed)
	}
	if _, ok := r.Get(s3); ok {
		t.Fatal("abandoned session should be closed by sweep")
	}
	if _, ok := r.Get(s4); !ok {
		t.Fatal("fresh empty session must survive the sweep")
	}
}

func TestSweepIgnoresOccupiedSessions(t *testing.T) {
	clk, r := newTestRegistry()
	id := r.Create("visit-1")
	r.AddParticipant(id, "conn-1", "user-1", domain.RoleClinician)
	clk.Advance(2 * time.Hour)

	if closed := r.Sweep(30 * time.Minute); closed != 0 {
		t.Fatalf("sweep must not close sessions with participants, closed %d", closed)
	}
	if _, ok := r.Get(id); !ok {
		t.Fatal("occupied session should still be active")
	}
}

func TestStatsFields(t *testing.T) {
	clk, r := newTestRegistry()
	id := r.Create("visit-1")
	clk.Advance(time.Minute)
	r.AddParticipant(id, "conn-1", "user-1", domain.RoleClinician)
	clk.Advance(2 * time.Minute)

	st, ok := r.StatsFor(id)
	if !ok {
		t.Fatal("stats should resolve for an active session")
	}
	if st.VisitID != "visit-1" || !st.Active || st.ParticipantCount != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.Age != 3*time.Minute {
		t.Fatalf("expected age 3m, got %v", st.Age)
	}
	p := st.Participants[0]
	if p.Duration != 2*time.Minute {
		t.Fatalf("expected join duration 2m, got %v", p.Duration)
	}
	if p.Role != domain.RoleClinician || p.UserID != "user-1" || p.Conn != "conn-1" {
		t.Fatalf("unexpected participant stats: %+v", p)
	}
}

func TestSnapshotCounts(t *testing.T) {
	_, r := newTestRegistry()
	a := r.Create("visit-1")
	b := r.Create("visit-2")
	r.AddParticipant(a, "conn-1", "user-1", domain.RoleClinician)
	r.AddParticipant(a, "conn-2", "user-2", domain.RolePatient)
	r.AddParticipant(b, "conn-3", "user-3", domain.RolePatient)

	snap := r.Snapshot()
	if snap.ActiveSessions != 2 || snap.Participants != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestConcurrentJoinLeaveKeepsIndexesConsistent(t *testing.T) {
	_, r := newTestRegistry()

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			conn := domain.ConnID(fmt.Sprintf("conn-%d", i))
			for j := 0; j < 100; j++ {
				id := r.GetOrCreateForVisit("visit-1")
				if _, err := r.AddParticipant(id, conn, "user-x", domain.RolePatient); err != nil {
					continue // benign race: session closed underneath us
				}
				r.AuthorizeRelay(conn, conn)
				r.RemoveParticipant(conn)
			}
		}(i)
	}
	wg.Wait()

	// Whatever interleaving happened, no reverse-index entries may remain.
	for i := 0; i < workers; i++ {
		conn := domain.ConnID(fmt.Sprintf("conn-%d", i))
		if _, _, ok := r.Resolve(conn); ok {
			t.Fatalf("dangling reverse-index entry for %q", conn)
		}
	}
}
