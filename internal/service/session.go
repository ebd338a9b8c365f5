// Package service contains the session orchestrator driving graph-side
// effects around the identity backend's primitive operations.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/sessiongraph/internal/chain"
	"github.com/and161185/sessiongraph/internal/errs"
	"github.com/and161185/sessiongraph/internal/graph"
	"github.com/and161185/sessiongraph/internal/identity"
	"github.com/and161185/sessiongraph/internal/model"
	"github.com/and161185/sessiongraph/internal/timeline"
)

// Decoration reason codes. Set on a successful primary result when graph
// bookkeeping failed and can be retried on its own.
const (
	DecorRealmLink    = "realm-link-failed"
	DecorSessionLink  = "session-link-failed"
	DecorSessionClose = "session-close-failed"
	DecorRealmUpdate  = "realm-update-failed"
)

// SessionService defines the four session commands.
type SessionService interface {
	// Register creates a user and links it into the realm and timeline.
	Register(ctx context.Context, in identity.RegisterInput) (model.Result, error)
	// Login authenticates and opens a new active session.
	Login(ctx context.Context, email, password, ip string) (model.Result, error)
	// Logout resolves a login by token and closes its session.
	Logout(ctx context.Context, token string) (model.Result, error)
	// Deactivate disables a user and closes all of its open sessions.
	Deactivate(ctx context.Context, in identity.DeactivateInput) (model.Result, error)
}

// SessionServiceImpl wires the identity backend, the relationship list
// manager and the timeline attacher into command pipelines. Graph-side
// effects run only after the identity backend reports success, and their
// failures never mask the primary outcome.
type SessionServiceImpl struct {
	id     identity.Backend
	chains *chain.Manager
	tl     *timeline.Attacher
	store  graph.Store
	realm  model.Realm
	log    *zap.Logger
}

// NewSessionService constructs the orchestrator. realm may be zero when no
// realm was resolved; realm-membership decoration is skipped then.
func NewSessionService(id identity.Backend, chains *chain.Manager, tl *timeline.Attacher, store graph.Store, realm model.Realm, log *zap.Logger) *SessionServiceImpl {
	return &SessionServiceImpl{id: id, chains: chains, tl: tl, store: store, realm: realm, log: log}
}

var _ SessionService = (*SessionServiceImpl)(nil)

// Register delegates to the identity backend, then adds the user to the
// realm and to the registration timeline.
func (s *SessionServiceImpl) Register(ctx context.Context, in identity.RegisterInput) (model.Result, error) {
	res, err := s.id.Register(ctx, in)
	if err != nil || !res.OK {
		return res, err
	}
	user := res.User

	if s.realm.ID != "" {
		err := s.store.SaveEdge(ctx,
			graph.Ref{Label: model.LabelRealm, ID: s.realm.ID},
			graph.EdgeSpec{
				Type:        model.EdgeHasUser,
				TargetLabel: model.LabelUser,
				Data:        map[string]any{"active": user.Active},
			},
			user.ID,
		)
		if err != nil {
			s.log.Error("realm membership edge failed",
				zap.String("user", user.ID), zap.Error(err))
			res.Decoration = DecorRealmLink
			return res, nil
		}
		s.attachTimeline(ctx, graph.Ref{Label: model.LabelUser, ID: user.ID}, user.When, model.RelRegisteredOn)
	}
	return res, nil
}

// Login delegates to the identity backend, then records the active session
// and the login timeline entry.
func (s *SessionServiceImpl) Login(ctx context.Context, email, password, ip string) (model.Result, error) {
	res, err := s.id.Login(ctx, email, password, ip)
	if err != nil || !res.OK {
		return res, err
	}

	if err := s.chains.AttachActiveSession(ctx, *res.User, *res.Login); err != nil {
		s.log.Error("active session edge failed",
			zap.String("user", res.User.ID), zap.String("login", res.Login.ID), zap.Error(err))
		res.Decoration = DecorSessionLink
		return res, nil
	}
	s.attachTimeline(ctx, graph.Ref{Label: model.LabelLogin, ID: res.Login.ID}, res.Login.When, model.RelLoggedInAt)
	return res, nil
}

// Logout resolves the login named by the token and closes its session.
func (s *SessionServiceImpl) Logout(ctx context.Context, token string) (model.Result, error) {
	res, err := s.id.ResolveLogin(ctx, token)
	if err != nil || !res.OK {
		return res, err
	}

	closed, err := s.chains.CloseSession(ctx, *res.User, *res.Login)
	if err != nil {
		s.log.Error("session closure failed",
			zap.String("user", res.User.ID), zap.String("login", res.Login.ID), zap.Error(err))
		res.Decoration = DecorSessionClose
		return res, nil
	}
	res.Login = &closed
	return res, nil
}

// Deactivate disables the user, updates the realm membership edge and
// closes all open sessions best-effort. Individual closure failures are
// logged but by design never fail the deactivation.
func (s *SessionServiceImpl) Deactivate(ctx context.Context, in identity.DeactivateInput) (model.Result, error) {
	res, err := s.id.Deactivate(ctx, in)
	if err != nil || !res.OK {
		return res, err
	}

	if s.realm.ID != "" {
		filter := map[string]any{}
		if in.Nick != "" {
			filter["nick"] = in.Nick
		}
		if in.Email != "" {
			filter["email"] = in.Email
		}
		err := s.store.UpdateEdge(ctx,
			graph.Ref{Label: model.LabelRealm, ID: s.realm.ID},
			graph.EdgeSpec{
				Type:        model.EdgeHasUser,
				TargetLabel: model.LabelUser,
				Data:        map[string]any{"active": false},
			},
			filter,
		)
		if err != nil {
			s.log.Error("realm membership update failed",
				zap.String("user", res.User.ID), zap.Error(err))
			res.Decoration = DecorRealmUpdate
		}
	}

	outcomes, err := s.chains.DeactivateAllActiveSessions(ctx, *res.User)
	if err != nil {
		s.log.Error("listing active sessions failed",
			zap.String("user", res.User.ID), zap.Error(err))
		if res.Decoration == "" {
			res.Decoration = DecorSessionClose
		}
		return res, nil
	}
	for _, o := range outcomes {
		if o.Err != nil {
			s.log.Warn("best-effort closure failed",
				zap.String("user", res.User.ID), zap.String("login", o.Login.ID), zap.Error(o.Err))
		}
	}
	return res, nil
}

// attachTimeline is best-effort: a TimelineError is logged by the attacher
// and swallowed here; anything else would be a programming error.
func (s *SessionServiceImpl) attachTimeline(ctx context.Context, entity graph.Ref, at time.Time, rel string) {
	if s.tl == nil {
		return
	}
	err := s.tl.Attach(ctx, timeline.Attachment{Entity: entity, Time: at, Relationship: rel})
	if err != nil {
		var te *errs.TimelineError
		if !errors.As(err, &te) {
			s.log.Error("unexpected timeline failure", zap.Error(err))
		}
	}
}
