// Package model defines domain entities used by services and the graph store.
package model

import (
	"time"
)

// Node labels in the graph store.
const (
	LabelRealm = "realm"
	LabelUser  = "user"
	LabelLogin = "login"
)

// Edge types maintained by the session pipelines.
const (
	EdgeHasUser        = "HAS_USER"
	EdgeActiveLogin    = "ACTIVE_LOGIN"
	EdgeInactiveLogins = "INACTIVE_LOGINS"
	EdgeNext           = "NEXT"
)

// Timeline relationship types.
const (
	RelRegisteredOn = "REGISTERED_ON"
	RelLoggedInAt   = "LOGGED_IN_AT"
	RelDefault      = "RELATIONSHIP"
)

// Realm groups users within a tenant scope. At most one realm exists per
// distinct scope value.
type Realm struct {
	ID    string `json:"id"`
	Scope string `json:"scope"`
}

// User is an account created by the identity backend.
type User struct {
	ID     string    `json:"id"`
	Nick   string    `json:"nick"`
	Name   string    `json:"name,omitempty"`
	Email  string    `json:"email"`
	Active bool      `json:"active"`
	When   time.Time `json:"when"`
}

// Login is a single authentication event. Active is true from creation
// until the session is closed.
type Login struct {
	ID     string    `json:"id"`
	UserID string    `json:"user_id"`
	When   time.Time `json:"when"`
	Ended  time.Time `json:"ended,omitempty"`
	Active bool      `json:"active"`
}

// Result is the structured outcome of a session command. OK reflects the
// primary identity operation only. Decoration carries a reason code when the
// primary operation succeeded but graph bookkeeping failed and should be
// retried separately.
type Result struct {
	OK         bool   `json:"ok"`
	Why        string `json:"why,omitempty"`
	User       *User  `json:"user,omitempty"`
	Login      *Login `json:"login,omitempty"`
	Token      string `json:"token,omitempty"`
	Decoration string `json:"decoration,omitempty"`
}
