// Package identity implements the primitive user/login operations the
// session orchestrator delegates to. The orchestrator depends only on the
// Backend interface; graph decoration happens elsewhere.
package identity

import (
	"context"

	"github.com/and161185/sessiongraph/internal/model"
)

// Reason codes returned in Result.Why on primary-operation failure.
const (
	WhyMissingArgument = "missing-argument"
	WhyNickExists      = "nick-exists"
	WhyEmailExists     = "email-exists"
	WhyUserNotFound    = "user-not-found"
	WhyUserInactive    = "user-inactive"
	WhyInvalidPassword = "invalid-password"
	WhyRateLimited     = "rate-limited"
	WhyInvalidToken    = "invalid-token"
	WhyLoginNotFound   = "login-not-found"
)

// RegisterInput carries a registration request. Nick defaults to Email.
type RegisterInput struct {
	Nick     string
	Name     string
	Email    string
	Password string
}

// DeactivateInput selects a user by nick or email.
type DeactivateInput struct {
	Nick  string
	Email string
}

// Backend performs credential-level user and login operations. Domain
// outcomes (bad credentials, duplicates) come back as Result{OK:false, Why}
// with a nil error; errors are reserved for store/transport failures.
type Backend interface {
	Register(ctx context.Context, in RegisterInput) (model.Result, error)
	Login(ctx context.Context, email, password, ip string) (model.Result, error)
	ResolveLogin(ctx context.Context, token string) (model.Result, error)
	Deactivate(ctx context.Context, in DeactivateInput) (model.Result, error)
}
