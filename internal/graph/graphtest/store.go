// Package graphtest provides an in-memory graph.Store for tests.
package graphtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/and161185/sessiongraph/internal/errs"
	"github.com/and161185/sessiongraph/internal/graph"
)

// Edge is a stored relationship, exported for test assertions.
type Edge struct {
	FromLabel string
	FromID    string
	Type      string
	ToLabel   string
	ToID      string
	Data      map[string]any
}

// Store is an in-memory graph.Store. Hook, when set, runs before every
// operation and can inject a failure; op names mirror the interface methods
// ("saveEdge", "removeEdge", ...), id is the most relevant node id.
type Store struct {
	mu          sync.Mutex
	seq         int
	nodes       map[string]graph.Node
	edges       []Edge
	constraints map[string]bool

	Hook       func(op, id string) error
	Statements []graph.Statement
	RunFunc    func(stmt graph.Statement) ([]map[string]any, error)
}

var _ graph.Store = (*Store)(nil)

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		nodes:       make(map[string]graph.Node),
		constraints: make(map[string]bool),
	}
}

func nodeKey(label, id string) string { return label + "/" + id }

func (s *Store) hook(op, id string) error {
	if s.Hook != nil {
		return s.Hook(op, id)
	}
	return nil
}

// CreateNode stores a new node, assigning a sequential id when none is given.
func (s *Store) CreateNode(_ context.Context, label string, props map[string]any) (graph.Node, error) {
	if err := s.hook("createNode", label); err != nil {
		return graph.Node{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.constraints {
		parts := strings.SplitN(key, ".", 2)
		if parts[0] != label {
			continue
		}
		want, ok := props[parts[1]]
		if !ok {
			continue
		}
		for _, n := range s.nodes {
			if n.Label == label && n.Props[parts[1]] == want {
				return graph.Node{}, fmt.Errorf("unique constraint %s: %w", key, errs.ErrInvariant)
			}
		}
	}
	s.seq++
	id, _ := props["id"].(string)
	if id == "" {
		id = fmt.Sprintf("n%d", s.seq)
	}
	n := graph.Node{Label: label, ID: id, Props: cloneProps(props)}
	n.Props["id"] = id
	s.nodes[nodeKey(label, id)] = n
	return cloneNode(n), nil
}

// UpdateNode overwrites an existing node's properties.
func (s *Store) UpdateNode(_ context.Context, n graph.Node) (graph.Node, error) {
	if err := s.hook("updateNode", n.ID); err != nil {
		return graph.Node{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nodeKey(n.Label, n.ID)
	if _, ok := s.nodes[key]; !ok {
		return graph.Node{}, errs.ErrNotFound
	}
	stored := graph.Node{Label: n.Label, ID: n.ID, Props: cloneProps(n.Props)}
	stored.Props["id"] = n.ID
	s.nodes[key] = stored
	return cloneNode(stored), nil
}

// ListNodes returns nodes of a label matching every filter property.
func (s *Store) ListNodes(_ context.Context, label string, filter map[string]any, opt graph.ListOpt) ([]graph.Node, error) {
	if err := s.hook("listNodes", label); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []graph.Node
	for _, n := range s.nodes {
		if n.Label == label && matches(n.Props, filter) {
			out = append(out, cloneNode(n))
		}
	}
	sortNodes(out, opt)
	return limit(out, opt.Limit), nil
}

// ListRelated returns target nodes of edges from `from` matching spec.Type.
func (s *Store) ListRelated(_ context.Context, from graph.Ref, spec graph.EdgeSpec, opt graph.ListOpt) ([]graph.Node, error) {
	if err := s.hook("listRelated", from.ID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []graph.Node
	for _, e := range s.edges {
		if e.FromLabel != from.Label || e.FromID != from.ID || e.Type != spec.Type {
			continue
		}
		if n, ok := s.nodes[nodeKey(e.ToLabel, e.ToID)]; ok {
			out = append(out, cloneNode(n))
		}
	}
	sortNodes(out, opt)
	return limit(out, opt.Limit), nil
}

// SaveEdge stores a new edge.
func (s *Store) SaveEdge(_ context.Context, from graph.Ref, spec graph.EdgeSpec, toID string) error {
	if err := s.hook("saveEdge", toID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, Edge{
		FromLabel: from.Label,
		FromID:    from.ID,
		Type:      spec.Type,
		ToLabel:   spec.TargetLabel,
		ToID:      toID,
		Data:      cloneProps(spec.Data),
	})
	return nil
}

// UpdateEdge replaces the data of matching edges whose target node matches
// targetFilter.
func (s *Store) UpdateEdge(_ context.Context, from graph.Ref, spec graph.EdgeSpec, targetFilter map[string]any) error {
	if err := s.hook("updateEdge", from.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := false
	for i := range s.edges {
		e := &s.edges[i]
		if e.FromLabel != from.Label || e.FromID != from.ID || e.Type != spec.Type {
			continue
		}
		target, ok := s.nodes[nodeKey(e.ToLabel, e.ToID)]
		if !ok || !matches(target.Props, targetFilter) {
			continue
		}
		e.Data = cloneProps(spec.Data)
		updated = true
	}
	if !updated {
		return errs.ErrNotFound
	}
	return nil
}

// RemoveEdge deletes matching edges; removing an absent edge succeeds.
func (s *Store) RemoveEdge(_ context.Context, from graph.Ref, spec graph.EdgeSpec, toID string) error {
	if err := s.hook("removeEdge", toID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.edges[:0]
	for _, e := range s.edges {
		if e.FromLabel == from.Label && e.FromID == from.ID && e.Type == spec.Type && e.ToID == toID {
			continue
		}
		kept = append(kept, e)
	}
	s.edges = kept
	return nil
}

// EnsureUniqueConstraint records a uniqueness constraint enforced by CreateNode.
func (s *Store) EnsureUniqueConstraint(_ context.Context, label, prop string) error {
	if err := s.hook("ensureUniqueConstraint", label); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.constraints[label+"."+prop] = true
	return nil
}

// Run records the statement and returns RunFunc's result, or one empty record.
func (s *Store) Run(_ context.Context, stmt graph.Statement) ([]map[string]any, error) {
	if err := s.hook("run", ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.Statements = append(s.Statements, stmt)
	fn := s.RunFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(stmt)
	}
	return []map[string]any{{}}, nil
}

// Edges returns a copy of all stored edges of the given type ("" for all).
func (s *Store) Edges(edgeType string) []Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Edge
	for _, e := range s.edges {
		if edgeType == "" || e.Type == edgeType {
			out = append(out, e)
		}
	}
	return out
}

// Node returns a stored node and whether it exists.
func (s *Store) Node(label, id string) (graph.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeKey(label, id)]
	if !ok {
		return graph.Node{}, false
	}
	return cloneNode(n), true
}

func matches(props, filter map[string]any) bool {
	for k, v := range filter {
		if props[k] != v {
			return false
		}
	}
	return true
}

func cloneProps(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func cloneNode(n graph.Node) graph.Node {
	return graph.Node{Label: n.Label, ID: n.ID, Props: cloneProps(n.Props)}
}

func sortNodes(nodes []graph.Node, opt graph.ListOpt) {
	if opt.SortBy == "" {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
		return
	}
	sort.Slice(nodes, func(i, j int) bool {
		less := lessProp(nodes[i].Props[opt.SortBy], nodes[j].Props[opt.SortBy])
		if opt.Desc {
			return !less && !equalProp(nodes[i].Props[opt.SortBy], nodes[j].Props[opt.SortBy])
		}
		return less
	})
}

func lessProp(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		bv, _ := b.(time.Time)
		return av.Before(bv)
	case string:
		bv, _ := b.(string)
		return av < bv
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case float64:
		bv, _ := b.(float64)
		return av < bv
	}
	return false
}

func equalProp(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return a == b
}

func limit(nodes []graph.Node, n int) []graph.Node {
	if n > 0 && len(nodes) > n {
		return nodes[:n]
	}
	return nodes
}
