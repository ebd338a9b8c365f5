// Package timeline attaches entities to the time-indexed tree kept in the
// graph store. Timeline data is auxiliary: failures here are reported as
// TimelineError and must never fail the parent operation.
package timeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/sessiongraph/internal/errs"
	"github.com/and161185/sessiongraph/internal/graph"
	"github.com/and161185/sessiongraph/internal/model"
)

// Defaults applied when an Attachment leaves a field unset.
const (
	DefaultResolution   = "Second"
	DefaultTimezone     = "UTC"
	DefaultRelationship = model.RelDefault
)

// Node labels that may appear in an attach statement. The label is the only
// part of the statement text not passed as a parameter, so it is restricted
// to this fixed set.
var allowedLabels = map[string]bool{
	model.LabelRealm: true,
	model.LabelUser:  true,
	model.LabelLogin: true,
}

// Attachment describes one attach-to-timeline request.
type Attachment struct {
	Entity       graph.Ref
	Time         time.Time // zero means now
	Resolution   string
	Timezone     string
	Relationship string
}

// Attacher issues timetree attach requests through the store's raw-query
// escape hatch.
type Attacher struct {
	store graph.Store
	log   *zap.Logger
	now   func() time.Time
}

// New constructs an Attacher.
func New(store graph.Store, log *zap.Logger) *Attacher {
	return &Attacher{store: store, log: log, now: time.Now}
}

// Attach links the entity into the time tree at the given instant. All
// errors are returned as *errs.TimelineError.
func (a *Attacher) Attach(ctx context.Context, att Attachment) error {
	if att.Entity.ID == "" || !allowedLabels[att.Entity.Label] {
		return &errs.TimelineError{Err: fmt.Errorf("entity %q/%q: %w", att.Entity.Label, att.Entity.ID, errs.ErrValidation)}
	}
	at := att.Time
	if at.IsZero() {
		at = a.now()
	}
	res := att.Resolution
	if res == "" {
		res = DefaultResolution
	}
	tz := att.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	rel := att.Relationship
	if rel == "" {
		rel = DefaultRelationship
	}

	stmt := graph.Statement{
		Text: "MATCH (n:" + att.Entity.Label + " {id: $id}) WITH n " +
			"CALL ga.timetree.events.attach({node: n, resolution: $resolution, time: $time, timezone: $timezone, relationshipType: $relationshipType}) " +
			"YIELD node RETURN node",
		Params: map[string]any{
			"id":               att.Entity.ID,
			"resolution":       res,
			"time":             at.UnixMilli(),
			"timezone":         tz,
			"relationshipType": rel,
		},
	}
	if _, err := a.store.Run(ctx, stmt); err != nil {
		a.log.Error("timeline attach failed",
			zap.String("label", att.Entity.Label),
			zap.String("id", att.Entity.ID),
			zap.String("relationship", rel),
			zap.Error(err),
		)
		return &errs.TimelineError{Err: err}
	}
	return nil
}
