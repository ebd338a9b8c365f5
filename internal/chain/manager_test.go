package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/sessiongraph/internal/graph"
	"github.com/and161185/sessiongraph/internal/graph/graphtest"
	"github.com/and161185/sessiongraph/internal/model"
)

func newManager(t *testing.T) (*Manager, *graphtest.Store) {
	t.Helper()
	store := graphtest.New()
	return NewManager(store, zap.NewNop(), 0), store
}

func seedUser(t *testing.T, store *graphtest.Store, id string) model.User {
	t.Helper()
	n, err := store.CreateNode(context.Background(), model.LabelUser, map[string]any{
		"id": id, "nick": id, "email": id + "@example.com", "active": true, "when": time.Now(),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return model.UserFromNode(n)
}

func seedLogin(t *testing.T, store *graphtest.Store, m *Manager, user model.User, id string, when time.Time) model.Login {
	t.Helper()
	n, err := store.CreateNode(context.Background(), model.LabelLogin, map[string]any{
		"id": id, "user": user.ID, "when": when, "active": true,
	})
	if err != nil {
		t.Fatalf("seed login: %v", err)
	}
	login := model.LoginFromNode(n)
	if err := m.AttachActiveSession(context.Background(), user, login); err != nil {
		t.Fatalf("attach active session: %v", err)
	}
	return login
}

func headIDs(store *graphtest.Store, userID string) []string {
	var out []string
	for _, e := range store.Edges(model.EdgeInactiveLogins) {
		if e.FromID == userID {
			out = append(out, e.ToID)
		}
	}
	return out
}

func nextTarget(store *graphtest.Store, loginID string) (string, bool) {
	for _, e := range store.Edges(model.EdgeNext) {
		if e.FromID == loginID {
			return e.ToID, true
		}
	}
	return "", false
}

func TestAttachActiveSession(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	user := seedUser(t, store, "u1")
	login := seedLogin(t, store, m, user, "l1", time.Now())

	edges := store.Edges(model.EdgeActiveLogin)
	if len(edges) != 1 || edges[0].FromID != user.ID || edges[0].ToID != login.ID {
		t.Fatalf("unexpected ACTIVE_LOGIN edges: %+v", edges)
	}

	if err := m.AttachActiveSession(context.Background(), model.User{}, login); err == nil {
		t.Fatalf("want validation error for empty user")
	}
}

func TestCloseSession_NoExistingHead(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	user := seedUser(t, store, "u1")
	login := seedLogin(t, store, m, user, "l1", time.Now())

	closed, err := m.CloseSession(context.Background(), user, login)
	if err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if closed.Active || closed.Ended.IsZero() {
		t.Fatalf("login not closed: %+v", closed)
	}
	if got := headIDs(store, user.ID); len(got) != 1 || got[0] != login.ID {
		t.Fatalf("head = %v, want [%s]", got, login.ID)
	}
	if _, ok := nextTarget(store, login.ID); ok {
		t.Fatalf("no NEXT edge expected for first closed login")
	}
	if len(store.Edges(model.EdgeActiveLogin)) != 0 {
		t.Fatalf("ACTIVE_LOGIN edge should be gone")
	}
	n, _ := store.Node(model.LabelLogin, login.ID)
	if n.Props["active"] != false {
		t.Fatalf("stored login still active: %+v", n.Props)
	}
}

// Closing sessions one after another must keep exactly one head and link the
// chain newest-first.
func TestCloseSession_ChainOrderAndHeadUniqueness(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	user := seedUser(t, store, "u1")
	base := time.Date(2023, 3, 1, 9, 0, 0, 0, time.UTC)
	l1 := seedLogin(t, store, m, user, "l1", base)
	l2 := seedLogin(t, store, m, user, "l2", base.Add(time.Minute))
	l3 := seedLogin(t, store, m, user, "l3", base.Add(2*time.Minute))

	for _, l := range []model.Login{l1, l2, l3} {
		if _, err := m.CloseSession(context.Background(), user, l); err != nil {
			t.Fatalf("CloseSession(%s): %v", l.ID, err)
		}
		if got := headIDs(store, user.ID); len(got) != 1 {
			t.Fatalf("after closing %s: %d heads (%v), want exactly 1", l.ID, len(got), got)
		}
	}

	if got := headIDs(store, user.ID); got[0] != "l3" {
		t.Fatalf("head = %v, want l3", got)
	}
	// l3 -> l2 -> l1, and l1 has no successor
	if to, ok := nextTarget(store, "l3"); !ok || to != "l2" {
		t.Fatalf("NEXT(l3) = %q ok=%v, want l2", to, ok)
	}
	if to, ok := nextTarget(store, "l2"); !ok || to != "l1" {
		t.Fatalf("NEXT(l2) = %q ok=%v, want l1", to, ok)
	}
	if _, ok := nextTarget(store, "l1"); ok {
		t.Fatalf("l1 must terminate the chain")
	}
}

// Once linked, a login's NEXT target never changes.
func TestCloseSession_ChainAppendOnly(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	user := seedUser(t, store, "u1")
	base := time.Now()
	logins := []model.Login{
		seedLogin(t, store, m, user, "l1", base),
		seedLogin(t, store, m, user, "l2", base.Add(time.Second)),
		seedLogin(t, store, m, user, "l3", base.Add(2*time.Second)),
		seedLogin(t, store, m, user, "l4", base.Add(3*time.Second)),
	}

	targets := map[string]string{}
	for _, l := range logins {
		if _, err := m.CloseSession(context.Background(), user, l); err != nil {
			t.Fatalf("CloseSession(%s): %v", l.ID, err)
		}
		for id, want := range targets {
			if got, _ := nextTarget(store, id); got != want {
				t.Fatalf("NEXT(%s) changed from %s to %s", id, want, got)
			}
		}
		if to, ok := nextTarget(store, l.ID); ok {
			targets[l.ID] = to
		}
	}
}

// Closing an already-closed login twice produces the same final state as
// closing it once.
func TestCloseSession_Idempotent(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	user := seedUser(t, store, "u1")
	l1 := seedLogin(t, store, m, user, "l1", time.Now())

	first, err := m.CloseSession(context.Background(), user, l1)
	if err != nil {
		t.Fatalf("first close: %v", err)
	}
	again, err := m.CloseSession(context.Background(), user, first)
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if again.Active || !again.Ended.Equal(first.Ended) {
		t.Fatalf("second close changed login state: %+v vs %+v", again, first)
	}
	if got := headIDs(store, user.ID); len(got) != 1 || got[0] != "l1" {
		t.Fatalf("head = %v, want [l1]", got)
	}
	// re-closing the head must not create a NEXT self-link
	if to, ok := nextTarget(store, "l1"); ok {
		t.Fatalf("unexpected NEXT(l1) -> %s", to)
	}
	n, _ := store.Node(model.LabelLogin, "l1")
	if n.Props["active"] != false {
		t.Fatalf("login reopened: %+v", n.Props)
	}
}

// A user left with zero heads (crash between detach and attach) is the
// defined degraded state: the next closure proceeds from the base case.
func TestCloseSession_RecoversFromMissingHead(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	user := seedUser(t, store, "u1")
	l1 := seedLogin(t, store, m, user, "l1", time.Now())
	if _, err := m.CloseSession(context.Background(), user, l1); err != nil {
		t.Fatalf("close l1: %v", err)
	}

	// simulate the degraded state: head edge vanished
	err := store.RemoveEdge(context.Background(),
		graph.Ref{Label: model.LabelUser, ID: user.ID},
		graph.EdgeSpec{Type: model.EdgeInactiveLogins, TargetLabel: model.LabelLogin},
		"l1",
	)
	if err != nil {
		t.Fatalf("remove head: %v", err)
	}

	l2 := seedLogin(t, store, m, user, "l2", time.Now())
	if _, err := m.CloseSession(context.Background(), user, l2); err != nil {
		t.Fatalf("close l2: %v", err)
	}
	if got := headIDs(store, user.ID); len(got) != 1 || got[0] != "l2" {
		t.Fatalf("head = %v, want [l2]", got)
	}
	if _, ok := nextTarget(store, "l2"); ok {
		t.Fatalf("l2 must not link to the orphaned l1")
	}
}

func TestCloseSession_StoreFailurePropagates(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	user := seedUser(t, store, "u1")
	l1 := seedLogin(t, store, m, user, "l1", time.Now())

	boom := errors.New("boom")
	store.Hook = func(op, id string) error {
		if op == "saveEdge" && id == "l1" {
			return boom
		}
		return nil
	}
	if _, err := m.CloseSession(context.Background(), user, l1); !errors.Is(err, boom) {
		t.Fatalf("want wrapped store failure, got %v", err)
	}
}

// One failing closure must not prevent the remaining sessions from closing.
func TestDeactivateAll_BestEffort(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	user := seedUser(t, store, "u1")
	base := time.Now()
	for i, id := range []string{"l1", "l2", "l3"} {
		seedLogin(t, store, m, user, id, base.Add(time.Duration(i)*time.Second))
	}

	boom := errors.New("store down")
	store.Hook = func(op, id string) error {
		if op == "removeEdge" && id == "l2" {
			return boom
		}
		return nil
	}

	outcomes, err := m.DeactivateAllActiveSessions(context.Background(), user)
	if err != nil {
		t.Fatalf("DeactivateAllActiveSessions: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("want 3 outcomes, got %d", len(outcomes))
	}
	var failed, closed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			if !errors.Is(o.Err, boom) {
				t.Fatalf("unexpected failure: %v", o.Err)
			}
			continue
		}
		closed++
		if o.Login.Active {
			t.Fatalf("closed login still active: %+v", o.Login)
		}
	}
	if failed != 1 || closed != 2 {
		t.Fatalf("failed=%d closed=%d, want 1/2", failed, closed)
	}

	// the two successful closures removed their active edges
	remaining := 0
	for _, e := range store.Edges(model.EdgeActiveLogin) {
		if e.FromID == user.ID {
			remaining++
		}
	}
	if remaining != 1 {
		t.Fatalf("want 1 surviving ACTIVE_LOGIN edge, got %d", remaining)
	}
}

func TestDeactivateAll_ListsOldestFirst(t *testing.T) {
	t.Parallel()

	m, store := newManager(t)
	user := seedUser(t, store, "u1")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedLogin(t, store, m, user, "newer", base.Add(time.Hour))
	seedLogin(t, store, m, user, "older", base)

	outcomes, err := m.DeactivateAllActiveSessions(context.Background(), user)
	if err != nil {
		t.Fatalf("DeactivateAllActiveSessions: %v", err)
	}
	if len(outcomes) != 2 || outcomes[0].Login.ID != "older" || outcomes[1].Login.ID != "newer" {
		t.Fatalf("unexpected order: %+v", outcomes)
	}
}
