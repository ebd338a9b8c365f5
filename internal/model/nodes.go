package model

import (
	"time"

	"github.com/and161185/sessiongraph/internal/graph"
)

// UserFromNode maps a stored user node onto the domain type. Credential
// properties (salt, pass) stay behind in the node; they never leave the
// identity layer.
func UserFromNode(n graph.Node) User {
	return User{
		ID:     n.ID,
		Nick:   propString(n.Props, "nick"),
		Name:   propString(n.Props, "name"),
		Email:  propString(n.Props, "email"),
		Active: propBool(n.Props, "active"),
		When:   propTime(n.Props, "when"),
	}
}

// LoginFromNode maps a stored login node onto the domain type.
func LoginFromNode(n graph.Node) Login {
	return Login{
		ID:     n.ID,
		UserID: propString(n.Props, "user"),
		When:   propTime(n.Props, "when"),
		Ended:  propTime(n.Props, "ended"),
		Active: propBool(n.Props, "active"),
	}
}

// LoginProps builds the stored property set for a login node.
func LoginProps(l Login) map[string]any {
	props := map[string]any{
		"id":     l.ID,
		"user":   l.UserID,
		"when":   l.When,
		"active": l.Active,
	}
	if !l.Ended.IsZero() {
		props["ended"] = l.Ended
	}
	return props
}

func propString(p map[string]any, key string) string {
	v, _ := p[key].(string)
	return v
}

func propBool(p map[string]any, key string) bool {
	v, _ := p[key].(bool)
	return v
}

func propTime(p map[string]any, key string) time.Time {
	v, _ := p[key].(time.Time)
	return v
}
