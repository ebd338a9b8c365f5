package realm

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/and161185/sessiongraph/internal/errs"
	"github.com/and161185/sessiongraph/internal/graph/graphtest"
	"github.com/and161185/sessiongraph/internal/model"
)

func TestBootstrap_CreatesWhenAbsent(t *testing.T) {
	t.Parallel()

	store := graphtest.New()
	b := New(store, zap.NewNop())

	r, err := b.Bootstrap(context.Background(), "UK")
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if r.ID == "" || r.Scope != "UK" {
		t.Fatalf("bad realm: %+v", r)
	}
	n, ok := store.Node(model.LabelRealm, r.ID)
	if !ok || n.Props["scope"] != "UK" {
		t.Fatalf("realm node not stored: %+v ok=%v", n, ok)
	}
}

func TestBootstrap_IdempotentAcrossRestarts(t *testing.T) {
	t.Parallel()

	store := graphtest.New()
	b := New(store, zap.NewNop())

	first, err := b.Bootstrap(context.Background(), "")
	if err != nil {
		t.Fatalf("first Bootstrap: %v", err)
	}
	if first.Scope != DefaultScope {
		t.Fatalf("scope = %q, want default %q", first.Scope, DefaultScope)
	}
	second, err := New(store, zap.NewNop()).Bootstrap(context.Background(), "")
	if err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second bootstrap created a new realm: %q vs %q", second.ID, first.ID)
	}
}

func TestBootstrap_MultipleRealmsIsFatal(t *testing.T) {
	t.Parallel()

	store := graphtest.New()
	for _, id := range []string{"r1", "r2"} {
		if _, err := store.CreateNode(context.Background(), model.LabelRealm, map[string]any{"id": id, "scope": "UK"}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	_, err := New(store, zap.NewNop()).Bootstrap(context.Background(), "UK")
	if !errors.Is(err, errs.ErrInvariant) {
		t.Fatalf("want ErrInvariant, got %v", err)
	}
}

func TestBootstrap_LosingRacerAdoptsWinner(t *testing.T) {
	t.Parallel()

	store := graphtest.New()
	// Simulate losing the check-then-create race: the first create fails
	// on the constraint because another instance inserted concurrently.
	raced := false
	store.Hook = func(op, id string) error {
		if op == "createNode" && id == model.LabelRealm && !raced {
			raced = true
			if _, err := store.CreateNode(context.Background(), model.LabelRealm, map[string]any{"id": "winner", "scope": "UK"}); err != nil {
				t.Fatalf("seed winner: %v", err)
			}
			return errors.New("unique constraint violated")
		}
		return nil
	}

	r, err := New(store, zap.NewNop()).Bootstrap(context.Background(), "UK")
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if r.ID != "winner" {
		t.Fatalf("expected loser to adopt winner realm, got %+v", r)
	}
}
