// Package graph defines the narrow operation contract consumed from the
// graph-backed entity store. The store offers only individual,
// non-transactional operations; callers sequence them and own the invariants.
package graph

import (
	"context"
)

// Node is a stored entity: a label, an id and its scalar properties.
type Node struct {
	Label string
	ID    string
	Props map[string]any
}

// Ref identifies an existing node without carrying its properties.
type Ref struct {
	Label string
	ID    string
}

// EdgeSpec describes a typed, directed edge pattern. Data carries scalar
// edge properties; TargetLabel names the label of the related node.
type EdgeSpec struct {
	Type        string
	TargetLabel string
	Data        map[string]any
}

// ListOpt bounds and orders a relationship listing.
type ListOpt struct {
	Limit  int
	SortBy string
	Desc   bool
}

// Statement is a parameterized raw query. Text must never contain
// interpolated caller-supplied values; those go through Params.
type Statement struct {
	Text   string
	Params map[string]any
}

// Store is the operation contract the session pipelines run against.
// Implementations must bound every call with a deadline; a removal of an
// absent edge reports success.
type Store interface {
	// CreateNode persists a new node with the given label and properties
	// and returns it with its id assigned.
	CreateNode(ctx context.Context, label string, props map[string]any) (Node, error)
	// UpdateNode overwrites the properties of an existing node.
	UpdateNode(ctx context.Context, n Node) (Node, error)
	// ListNodes returns nodes of a label whose properties match filter.
	ListNodes(ctx context.Context, label string, filter map[string]any, opt ListOpt) ([]Node, error)
	// ListRelated returns nodes reachable from `from` over edges matching spec.
	ListRelated(ctx context.Context, from Ref, spec EdgeSpec, opt ListOpt) ([]Node, error)
	// SaveEdge creates an edge from `from` to the node with id toID.
	SaveEdge(ctx context.Context, from Ref, spec EdgeSpec, toID string) error
	// UpdateEdge replaces the data of edges from `from` matching spec.Type
	// whose target node matches targetFilter.
	UpdateEdge(ctx context.Context, from Ref, spec EdgeSpec, targetFilter map[string]any) error
	// RemoveEdge deletes the edge from `from` to toID matching spec.Type.
	// Removing an edge that does not exist is not an error.
	RemoveEdge(ctx context.Context, from Ref, spec EdgeSpec, toID string) error
	// EnsureUniqueConstraint installs a store-level uniqueness constraint on
	// (label, prop). Idempotent.
	EnsureUniqueConstraint(ctx context.Context, label, prop string) error
	// Run executes a parameterized raw statement. Escape hatch for queries
	// the narrow contract cannot express (timeline attachment).
	Run(ctx context.Context, stmt Statement) ([]map[string]any, error)
}
