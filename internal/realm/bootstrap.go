// Package realm ensures exactly one realm node exists per tenant scope.
package realm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/and161185/sessiongraph/internal/errs"
	"github.com/and161185/sessiongraph/internal/graph"
	"github.com/and161185/sessiongraph/internal/model"
)

// DefaultScope matches the original single-tenant deployment.
const DefaultScope = "UK"

// Bootstrapper performs the startup realm upsert.
type Bootstrapper struct {
	store graph.Store
	log   *zap.Logger
}

// New constructs a Bootstrapper.
func New(store graph.Store, log *zap.Logger) *Bootstrapper {
	return &Bootstrapper{store: store, log: log}
}

// Bootstrap resolves the realm for scope, creating it when absent. The
// check-then-create runs behind a store-level uniqueness constraint on the
// scope property, so two instances racing the create cannot both win: the
// loser's create fails and it re-lists. Finding more than one realm for a
// scope is a fatal invariant violation, never resolved by picking one.
//
// Transient store errors are retried with backoff; the store may still be
// starting up alongside this service.
func (b *Bootstrapper) Bootstrap(ctx context.Context, scope string) (model.Realm, error) {
	if scope == "" {
		scope = DefaultScope
	}

	var out model.Realm
	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := b.resolve(ctx, scope)
		if err != nil {
			if errors.Is(err, errs.ErrInvariant) {
				return err // fatal, do not retry
			}
			b.log.Warn("realm bootstrap attempt failed", zap.String("scope", scope), zap.Error(err))
			return retry.RetryableError(err)
		}
		out = r
		return nil
	})
	return out, err
}

func (b *Bootstrapper) resolve(ctx context.Context, scope string) (model.Realm, error) {
	if err := b.store.EnsureUniqueConstraint(ctx, model.LabelRealm, "scope"); err != nil {
		return model.Realm{}, errs.Store("ensureUniqueConstraint", err)
	}

	existing, err := b.store.ListNodes(ctx, model.LabelRealm, map[string]any{"scope": scope}, graph.ListOpt{})
	if err != nil {
		return model.Realm{}, errs.Store("listNodes", err)
	}
	switch len(existing) {
	case 0:
		// fall through to create
	case 1:
		n := existing[0]
		return model.Realm{ID: n.ID, Scope: scope}, nil
	default:
		return model.Realm{}, fmt.Errorf("%d realms for scope %q: %w", len(existing), scope, errs.ErrInvariant)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.Realm{}, err
	}
	created, err := b.store.CreateNode(ctx, model.LabelRealm, map[string]any{
		"id":    id.String(),
		"scope": scope,
	})
	if err != nil {
		// A concurrent bootstrap may have won the create; the retry
		// re-lists and adopts the winner.
		return model.Realm{}, errs.Store("createNode", err)
	}
	b.log.Info("realm created", zap.String("scope", scope), zap.String("id", created.ID))
	return model.Realm{ID: created.ID, Scope: scope}, nil
}
