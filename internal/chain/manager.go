// Package chain maintains the per-user session relationship lists: the
// ACTIVE_LOGIN pointers for open sessions and the INACTIVE_LOGINS head plus
// NEXT chain recording closed sessions in reverse-chronological order.
//
// The store offers no multi-step transactions, so the list invariants are
// emulated by sequencing individual calls. CloseSession detaches the old
// head before attaching the new one, keeping "at most one head" true at
// every observable point. A crash between detach and attach leaves zero
// heads; the next CloseSession treats that as the base case and recovers. A
// crash between attach and NEXT-linking permanently orphans one chain link;
// that gap is accepted and logged, never hidden.
package chain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/sessiongraph/internal/errs"
	"github.com/and161185/sessiongraph/internal/graph"
	"github.com/and161185/sessiongraph/internal/model"
)

// DefaultCloseLimit bounds concurrent session closures during deactivation.
const DefaultCloseLimit = 4

// Outcome is the per-login result of a best-effort batch closure.
type Outcome struct {
	Login model.Login
	Err   error
}

// Manager owns the session relationship lists for all users. CloseSession
// is serialized per user: two concurrent closures for the same user would
// otherwise race on the head read and both link to the same old head.
type Manager struct {
	store      graph.Store
	log        *zap.Logger
	closeLimit int
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager constructs a Manager. closeLimit <= 0 selects DefaultCloseLimit.
func NewManager(store graph.Store, log *zap.Logger, closeLimit int) *Manager {
	if closeLimit <= 0 {
		closeLimit = DefaultCloseLimit
	}
	return &Manager{
		store:      store,
		log:        log,
		closeLimit: closeLimit,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// AttachActiveSession creates the ACTIVE_LOGIN edge from user to a newly
// opened login. Multiple concurrent active sessions per user are valid, so
// no ordering is imposed here.
func (m *Manager) AttachActiveSession(ctx context.Context, user model.User, login model.Login) error {
	if user.ID == "" || login.ID == "" {
		return errs.ErrValidation
	}
	err := m.store.SaveEdge(ctx,
		graph.Ref{Label: model.LabelUser, ID: user.ID},
		graph.EdgeSpec{Type: model.EdgeActiveLogin, TargetLabel: model.LabelLogin},
		login.ID,
	)
	return errs.Store("saveEdge", err)
}

// CloseSession transitions an open login to closed and re-links the history
// chain:
//
//  1. read the current INACTIVE_LOGINS head (at most one)
//  2. detach the old head, if any
//  3. remove the login's ACTIVE_LOGIN edge (absent edge is fine)
//  4. attach this login as the new head
//  5. link NEXT from this login to the old head, if any
//  6. if still flagged active, clear the flag, stamp ended and persist
//
// Calling CloseSession on an already-closed login is a no-op for steps 3
// and 6 and leaves the final state unchanged.
func (m *Manager) CloseSession(ctx context.Context, user model.User, login model.Login) (model.Login, error) {
	if user.ID == "" || login.ID == "" {
		return login, errs.ErrValidation
	}
	lock := m.userLock(user.ID)
	lock.Lock()
	defer lock.Unlock()

	userRef := graph.Ref{Label: model.LabelUser, ID: user.ID}
	loginEdge := graph.EdgeSpec{TargetLabel: model.LabelLogin}

	heads, err := m.store.ListRelated(ctx, userRef,
		graph.EdgeSpec{Type: model.EdgeInactiveLogins, TargetLabel: model.LabelLogin},
		graph.ListOpt{Limit: 1, SortBy: "ended", Desc: true},
	)
	if err != nil {
		return login, errs.Store("listRelated", err)
	}

	var oldHead *graph.Node
	if len(heads) > 0 {
		oldHead = &heads[0]
		spec := loginEdge
		spec.Type = model.EdgeInactiveLogins
		if err := m.store.RemoveEdge(ctx, userRef, spec, oldHead.ID); err != nil {
			return login, errs.Store("removeEdge", err)
		}
	}

	spec := loginEdge
	spec.Type = model.EdgeActiveLogin
	if err := m.store.RemoveEdge(ctx, userRef, spec, login.ID); err != nil {
		return login, errs.Store("removeEdge", err)
	}

	spec = loginEdge
	spec.Type = model.EdgeInactiveLogins
	if err := m.store.SaveEdge(ctx, userRef, spec, login.ID); err != nil {
		return login, errs.Store("saveEdge", err)
	}

	// Re-closing the login already at the head must not link it to itself.
	if oldHead != nil && oldHead.ID != login.ID {
		spec = loginEdge
		spec.Type = model.EdgeNext
		if err := m.store.SaveEdge(ctx, graph.Ref{Label: model.LabelLogin, ID: login.ID}, spec, oldHead.ID); err != nil {
			// The new head is in place but the chain link to the prior
			// history is lost. Known consistency gap; surface it.
			m.log.Error("chain link to previous head failed",
				zap.String("user", user.ID),
				zap.String("login", login.ID),
				zap.String("old_head", oldHead.ID),
				zap.Error(err),
			)
			return login, errs.Store("saveEdge", err)
		}
	}

	if login.Active {
		login.Active = false
		login.Ended = m.now()
		node := graph.Node{Label: model.LabelLogin, ID: login.ID, Props: model.LoginProps(login)}
		if _, err := m.store.UpdateNode(ctx, node); err != nil {
			return login, errs.Store("updateNode", err)
		}
	}
	return login, nil
}

// DeactivateAllActiveSessions closes every open session of the user,
// oldest first. Each closure is attempted regardless of the others'
// outcomes; per-login results are returned for the caller to inspect.
// Closures are best-effort by design: they never fail the enclosing
// deactivation. The returned error covers only the initial listing.
func (m *Manager) DeactivateAllActiveSessions(ctx context.Context, user model.User) ([]Outcome, error) {
	if user.ID == "" {
		return nil, errs.ErrValidation
	}
	nodes, err := m.store.ListRelated(ctx,
		graph.Ref{Label: model.LabelUser, ID: user.ID},
		graph.EdgeSpec{Type: model.EdgeActiveLogin, TargetLabel: model.LabelLogin},
		graph.ListOpt{SortBy: "when"},
	)
	if err != nil {
		return nil, errs.Store("listRelated", err)
	}

	outcomes := make([]Outcome, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.closeLimit)
	for i, n := range nodes {
		i, n := i, n
		login := model.LoginFromNode(n)
		g.Go(func() error {
			closed, err := m.CloseSession(gctx, user, login)
			outcomes[i] = Outcome{Login: closed, Err: err}
			if err != nil {
				m.log.Warn("session closure failed during deactivation",
					zap.String("user", user.ID),
					zap.String("login", login.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; outcomes carry them
	return outcomes, nil
}
