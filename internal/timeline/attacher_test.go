package timeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/sessiongraph/internal/errs"
	"github.com/and161185/sessiongraph/internal/graph"
	"github.com/and161185/sessiongraph/internal/graph/graphtest"
	"github.com/and161185/sessiongraph/internal/model"
)

func TestAttach_DefaultsAndParams(t *testing.T) {
	t.Parallel()

	store := graphtest.New()
	a := New(store, zap.NewNop())
	fixed := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	err := a.Attach(context.Background(), Attachment{
		Entity: graph.Ref{Label: model.LabelUser, ID: "u1"},
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if len(store.Statements) != 1 {
		t.Fatalf("want 1 statement, got %d", len(store.Statements))
	}
	stmt := store.Statements[0]
	if !strings.Contains(stmt.Text, "MATCH (n:user {id: $id})") {
		t.Fatalf("unexpected statement text: %s", stmt.Text)
	}
	if strings.Contains(stmt.Text, "u1") {
		t.Fatalf("entity id interpolated into statement text: %s", stmt.Text)
	}
	if stmt.Params["id"] != "u1" ||
		stmt.Params["resolution"] != "Second" ||
		stmt.Params["timezone"] != "UTC" ||
		stmt.Params["relationshipType"] != model.RelDefault {
		t.Fatalf("unexpected params: %+v", stmt.Params)
	}
	if stmt.Params["time"] != fixed.UnixMilli() {
		t.Fatalf("time param = %v, want %v", stmt.Params["time"], fixed.UnixMilli())
	}
}

func TestAttach_ExplicitFields(t *testing.T) {
	t.Parallel()

	store := graphtest.New()
	a := New(store, zap.NewNop())
	at := time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC)

	err := a.Attach(context.Background(), Attachment{
		Entity:       graph.Ref{Label: model.LabelLogin, ID: "l9"},
		Time:         at,
		Resolution:   "Day",
		Timezone:     "Europe/London",
		Relationship: model.RelLoggedInAt,
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	p := store.Statements[0].Params
	if p["resolution"] != "Day" || p["timezone"] != "Europe/London" || p["relationshipType"] != model.RelLoggedInAt || p["time"] != at.UnixMilli() {
		t.Fatalf("unexpected params: %+v", p)
	}
}

func TestAttach_Errors(t *testing.T) {
	t.Parallel()

	store := graphtest.New()
	a := New(store, zap.NewNop())

	var te *errs.TimelineError
	if err := a.Attach(context.Background(), Attachment{Entity: graph.Ref{Label: model.LabelUser}}); !errors.As(err, &te) {
		t.Fatalf("want TimelineError for missing id, got %v", err)
	}
	if err := a.Attach(context.Background(), Attachment{Entity: graph.Ref{Label: "weird", ID: "x"}}); !errors.As(err, &te) {
		t.Fatalf("want TimelineError for unknown label, got %v", err)
	}

	store.RunFunc = func(graph.Statement) ([]map[string]any, error) {
		return nil, errors.New("boom")
	}
	err := a.Attach(context.Background(), Attachment{Entity: graph.Ref{Label: model.LabelUser, ID: "u1"}})
	if !errors.As(err, &te) {
		t.Fatalf("want TimelineError on query failure, got %v", err)
	}
}
