// Package neo4jstore implements graph.Store on the Neo4j bolt driver.
// Every statement is parameterized; labels, relationship types and sort
// keys are the only interpolated parts and are validated as identifiers
// before use.
package neo4jstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"go.uber.org/zap"

	"github.com/and161185/sessiongraph/internal/errs"
	"github.com/and161185/sessiongraph/internal/graph"
)

// DefaultTimeout bounds a single store call when the caller's context has
// no earlier deadline.
const DefaultTimeout = 5 * time.Second

// Store talks to a Neo4j instance through one shared driver.
type Store struct {
	driver  neo4j.DriverWithContext
	log     *zap.Logger
	timeout time.Duration
}

var _ graph.Store = (*Store)(nil)

// Connect opens a driver and verifies connectivity. timeout <= 0 selects
// DefaultTimeout.
func Connect(ctx context.Context, uri, user, pass string, timeout time.Duration, log *zap.Logger) (*Store, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("open driver: %w", err)
	}
	s := &Store{driver: driver, log: log, timeout: timeout}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(cctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify connectivity: %w", err)
	}
	return s, nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// ident rejects anything that is not a plain cypher identifier. Labels and
// relationship types cannot be passed as parameters, so they must never
// carry user input.
func ident(s string) error {
	if s == "" {
		return fmt.Errorf("empty identifier: %w", errs.ErrValidation)
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return fmt.Errorf("bad identifier %q: %w", s, errs.ErrValidation)
		}
	}
	return nil
}

// mapErr folds driver constraint violations into ErrInvariant so callers
// can distinguish a lost uniqueness race from a transport failure.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var ne *db.Neo4jError
	if errors.As(err, &ne) && strings.Contains(ne.Code, "ConstraintValidation") {
		return fmt.Errorf("%s: %w", ne.Code, errs.ErrInvariant)
	}
	return err
}

func (s *Store) write(ctx context.Context, cypher string, params map[string]any) ([]*db.Record, error) {
	return s.run(ctx, cypher, params, true)
}

func (s *Store) read(ctx context.Context, cypher string, params map[string]any) ([]*db.Record, error) {
	return s.run(ctx, cypher, params, false)
}

func (s *Store) run(ctx context.Context, cypher string, params map[string]any, write bool) ([]*db.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	}
	var out any
	var err error
	if write {
		out, err = session.ExecuteWrite(ctx, work)
	} else {
		out, err = session.ExecuteRead(ctx, work)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	records, _ := out.([]*db.Record)
	return records, nil
}

func toNode(label string, v any) (graph.Node, error) {
	dbn, ok := v.(dbtype.Node)
	if !ok {
		return graph.Node{}, fmt.Errorf("unexpected record value %T", v)
	}
	props := make(map[string]any, len(dbn.Props))
	for k, p := range dbn.Props {
		props[k] = fromBolt(p)
	}
	id, _ := props["id"].(string)
	return graph.Node{Label: label, ID: id, Props: props}, nil
}

// fromBolt normalizes driver types to the small prop vocabulary the model
// layer reads back.
func fromBolt(v any) any {
	switch t := v.(type) {
	case dbtype.LocalDateTime:
		return t.Time()
	case dbtype.Date:
		return t.Time()
	case time.Time:
		return t
	default:
		return v
	}
}

func singleNode(label string, records []*db.Record, key string) (graph.Node, error) {
	if len(records) == 0 {
		return graph.Node{}, errs.ErrNotFound
	}
	v, ok := records[0].Get(key)
	if !ok {
		return graph.Node{}, fmt.Errorf("record missing %q", key)
	}
	return toNode(label, v)
}

// CreateNode creates a node with the given properties.
func (s *Store) CreateNode(ctx context.Context, label string, props map[string]any) (graph.Node, error) {
	if err := ident(label); err != nil {
		return graph.Node{}, err
	}
	records, err := s.write(ctx, "CREATE (n:"+label+") SET n = $props RETURN n", map[string]any{"props": props})
	if err != nil {
		return graph.Node{}, err
	}
	return singleNode(label, records, "n")
}

// UpdateNode replaces the properties of an existing node.
func (s *Store) UpdateNode(ctx context.Context, n graph.Node) (graph.Node, error) {
	if err := ident(n.Label); err != nil {
		return graph.Node{}, err
	}
	records, err := s.write(ctx,
		"MATCH (n:"+n.Label+" {id: $id}) SET n = $props RETURN n",
		map[string]any{"id": n.ID, "props": n.Props},
	)
	if err != nil {
		return graph.Node{}, err
	}
	return singleNode(n.Label, records, "n")
}

// filterClause builds "n.k = $f_k AND ..." predicates, binding the values
// as parameters. Keys are validated as identifiers.
func filterClause(alias string, filter map[string]any, params map[string]any) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(filter))
	for k, v := range filter {
		if err := ident(k); err != nil {
			return "", err
		}
		p := "f_" + k
		parts = append(parts, alias+"."+k+" = $"+p)
		params[p] = v
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func orderAndLimit(alias string, opt graph.ListOpt, params map[string]any) (string, error) {
	var sb strings.Builder
	if opt.SortBy != "" {
		if err := ident(opt.SortBy); err != nil {
			return "", err
		}
		sb.WriteString(" ORDER BY " + alias + "." + opt.SortBy)
		if opt.Desc {
			sb.WriteString(" DESC")
		}
	}
	if opt.Limit > 0 {
		sb.WriteString(" LIMIT $limit")
		params["limit"] = opt.Limit
	}
	return sb.String(), nil
}

// ListNodes returns nodes of a label matching every filter property.
func (s *Store) ListNodes(ctx context.Context, label string, filter map[string]any, opt graph.ListOpt) ([]graph.Node, error) {
	if err := ident(label); err != nil {
		return nil, err
	}
	params := map[string]any{}
	where, err := filterClause("n", filter, params)
	if err != nil {
		return nil, err
	}
	tail, err := orderAndLimit("n", opt, params)
	if err != nil {
		return nil, err
	}
	records, err := s.read(ctx, "MATCH (n:"+label+")"+where+" RETURN n"+tail, params)
	if err != nil {
		return nil, err
	}
	return collectNodes(label, records)
}

// ListRelated returns target nodes reachable over one edge of spec.Type.
func (s *Store) ListRelated(ctx context.Context, from graph.Ref, spec graph.EdgeSpec, opt graph.ListOpt) ([]graph.Node, error) {
	for _, id := range []string{from.Label, spec.Type, spec.TargetLabel} {
		if err := ident(id); err != nil {
			return nil, err
		}
	}
	params := map[string]any{"from": from.ID}
	tail, err := orderAndLimit("n", opt, params)
	if err != nil {
		return nil, err
	}
	cypher := "MATCH (a:" + from.Label + " {id: $from})-[:" + spec.Type + "]->(n:" + spec.TargetLabel + ") RETURN n" + tail
	records, err := s.read(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return collectNodes(spec.TargetLabel, records)
}

func collectNodes(label string, records []*db.Record) ([]graph.Node, error) {
	var out []graph.Node
	for _, r := range records {
		v, ok := r.Get("n")
		if !ok {
			continue
		}
		n, err := toNode(label, v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// SaveEdge creates one edge between two existing nodes.
func (s *Store) SaveEdge(ctx context.Context, from graph.Ref, spec graph.EdgeSpec, toID string) error {
	for _, id := range []string{from.Label, spec.Type, spec.TargetLabel} {
		if err := ident(id); err != nil {
			return err
		}
	}
	data := spec.Data
	if data == nil {
		data = map[string]any{}
	}
	cypher := "MATCH (a:" + from.Label + " {id: $from}), (b:" + spec.TargetLabel + " {id: $to}) " +
		"CREATE (a)-[r:" + spec.Type + "]->(b) SET r = $data RETURN count(r) AS created"
	records, err := s.write(ctx, cypher, map[string]any{"from": from.ID, "to": toID, "data": data})
	if err != nil {
		return err
	}
	if n, _ := count(records, "created"); n == 0 {
		return fmt.Errorf("edge endpoints %s/%s -> %s: %w", from.Label, from.ID, toID, errs.ErrNotFound)
	}
	return nil
}

// UpdateEdge replaces the data of edges whose target matches targetFilter.
// Matching nothing returns ErrNotFound.
func (s *Store) UpdateEdge(ctx context.Context, from graph.Ref, spec graph.EdgeSpec, targetFilter map[string]any) error {
	for _, id := range []string{from.Label, spec.Type, spec.TargetLabel} {
		if err := ident(id); err != nil {
			return err
		}
	}
	params := map[string]any{"from": from.ID, "data": spec.Data}
	where, err := filterClause("b", targetFilter, params)
	if err != nil {
		return err
	}
	cypher := "MATCH (a:" + from.Label + " {id: $from})-[r:" + spec.Type + "]->(b:" + spec.TargetLabel + ")" +
		where + " SET r = $data RETURN count(r) AS updated"
	records, err := s.write(ctx, cypher, params)
	if err != nil {
		return err
	}
	if n, _ := count(records, "updated"); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RemoveEdge deletes matching edges. Removing an absent edge succeeds.
func (s *Store) RemoveEdge(ctx context.Context, from graph.Ref, spec graph.EdgeSpec, toID string) error {
	for _, id := range []string{from.Label, spec.Type, spec.TargetLabel} {
		if err := ident(id); err != nil {
			return err
		}
	}
	cypher := "MATCH (a:" + from.Label + " {id: $from})-[r:" + spec.Type + "]->(b:" + spec.TargetLabel + " {id: $to}) DELETE r"
	_, err := s.write(ctx, cypher, map[string]any{"from": from.ID, "to": toID})
	return err
}

// EnsureUniqueConstraint creates a uniqueness constraint if it is missing.
func (s *Store) EnsureUniqueConstraint(ctx context.Context, label, prop string) error {
	if err := ident(label); err != nil {
		return err
	}
	if err := ident(prop); err != nil {
		return err
	}
	name := "uniq_" + label + "_" + prop
	cypher := "CREATE CONSTRAINT " + name + " IF NOT EXISTS FOR (n:" + label + ") REQUIRE n." + prop + " IS UNIQUE"
	_, err := s.write(ctx, cypher, nil)
	return err
}

// Run executes a raw parameterized statement, the escape hatch for calls
// the typed surface does not cover (timetree attachment).
func (s *Store) Run(ctx context.Context, stmt graph.Statement) ([]map[string]any, error) {
	records, err := s.write(ctx, stmt.Text, stmt.Params)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		m := make(map[string]any, len(r.Keys))
		for i, k := range r.Keys {
			m[k] = fromBolt(r.Values[i])
		}
		out = append(out, m)
	}
	return out, nil
}

func count(records []*db.Record, key string) (int64, bool) {
	if len(records) == 0 {
		return 0, false
	}
	v, ok := records[0].Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(int64)
	return n, ok
}
