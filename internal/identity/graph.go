package identity

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/sessiongraph/internal/crypto"
	"github.com/and161185/sessiongraph/internal/errs"
	"github.com/and161185/sessiongraph/internal/graph"
	"github.com/and161185/sessiongraph/internal/limiter"
	"github.com/and161185/sessiongraph/internal/model"
)

// GraphBackend stores users and logins as graph nodes. Credential material
// (salt, pass) lives only in node properties and never crosses this package
// boundary.
type GraphBackend struct {
	store    graph.Store
	log      *zap.Logger
	signKey  []byte
	tokenTTL time.Duration
	lim      limiter.Limiter
	now      func() time.Time
}

// NewGraphBackend constructs a graph-backed identity Backend.
func NewGraphBackend(store graph.Store, log *zap.Logger, signKey []byte, tokenTTL time.Duration, lim limiter.Limiter) *GraphBackend {
	return &GraphBackend{
		store:    store,
		log:      log,
		signKey:  signKey,
		tokenTTL: tokenTTL,
		lim:      lim,
		now:      time.Now,
	}
}

var _ Backend = (*GraphBackend)(nil)

// Register creates a user node with hashed credentials. Nick defaults to
// the email address; duplicate nick or email fails the primary operation.
func (b *GraphBackend) Register(ctx context.Context, in RegisterInput) (model.Result, error) {
	if in.Email == "" || in.Password == "" {
		return model.Result{Why: WhyMissingArgument}, nil
	}
	nick := in.Nick
	if nick == "" {
		nick = in.Email
	}

	if taken, err := b.exists(ctx, "nick", nick); err != nil {
		return model.Result{}, err
	} else if taken {
		return model.Result{Why: WhyNickExists}, nil
	}
	if taken, err := b.exists(ctx, "email", in.Email); err != nil {
		return model.Result{}, err
	} else if taken {
		return model.Result{Why: WhyEmailExists}, nil
	}

	salt, err := pkgcrypto.NewSalt()
	if err != nil {
		return model.Result{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Result{}, err
	}
	node, err := b.store.CreateNode(ctx, model.LabelUser, map[string]any{
		"id":     id.String(),
		"nick":   nick,
		"name":   in.Name,
		"email":  in.Email,
		"active": true,
		"when":   b.now(),
		"salt":   salt,
		"pass":   pkgcrypto.Hash([]byte(in.Password), salt),
	})
	if err != nil {
		return model.Result{}, errs.Store("createNode", err)
	}
	user := model.UserFromNode(node)
	return model.Result{OK: true, User: &user}, nil
}

// Login authenticates by email and opens a new login node with a signed
// token. Failed attempts feed the rate limiter keyed by (email, ip).
func (b *GraphBackend) Login(ctx context.Context, email, password, ip string) (model.Result, error) {
	if email == "" || password == "" {
		return model.Result{Why: WhyMissingArgument}, nil
	}
	ipHash := limiter.HashIP(ip)

	allowed, _, err := b.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Result{}, err
	}
	if !allowed {
		return model.Result{Why: WhyRateLimited}, nil
	}

	node, err := b.findUser(ctx, "email", email)
	if err != nil {
		return model.Result{}, err
	}
	if node == nil {
		_, _, _ = b.lim.Failure(ctx, email, ipHash)
		return model.Result{Why: WhyUserNotFound}, nil
	}
	user := model.UserFromNode(*node)
	if !user.Active {
		return model.Result{Why: WhyUserInactive}, nil
	}
	salt, _ := node.Props["salt"].([]byte)
	pass, _ := node.Props["pass"].([]byte)
	if !pkgcrypto.Verify([]byte(password), salt, pass) {
		if blocked, _, ferr := b.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Result{Why: WhyRateLimited}, nil
		}
		return model.Result{Why: WhyInvalidPassword}, nil
	}
	_ = b.lim.Success(ctx, email, ipHash)

	loginID, err := uuid.NewV4()
	if err != nil {
		return model.Result{}, err
	}
	login := model.Login{ID: loginID.String(), UserID: user.ID, When: b.now(), Active: true}
	if _, err := b.store.CreateNode(ctx, model.LabelLogin, model.LoginProps(login)); err != nil {
		return model.Result{}, errs.Store("createNode", err)
	}

	token, err := b.issueToken(login.ID, user.ID)
	if err != nil {
		return model.Result{}, err
	}
	return model.Result{OK: true, User: &user, Login: &login, Token: token}, nil
}

// ResolveLogin validates a token and loads the login it names along with
// its user. Logout uses this as its primary operation.
func (b *GraphBackend) ResolveLogin(ctx context.Context, token string) (model.Result, error) {
	if token == "" {
		return model.Result{Why: WhyMissingArgument}, nil
	}
	loginID, err := b.parseToken(token)
	if err != nil {
		return model.Result{Why: WhyInvalidToken}, nil
	}

	nodes, err := b.store.ListNodes(ctx, model.LabelLogin, map[string]any{"id": loginID}, graph.ListOpt{Limit: 1})
	if err != nil {
		return model.Result{}, errs.Store("listNodes", err)
	}
	if len(nodes) == 0 {
		return model.Result{Why: WhyLoginNotFound}, nil
	}
	login := model.LoginFromNode(nodes[0])

	userNode, err := b.findUser(ctx, "id", login.UserID)
	if err != nil {
		return model.Result{}, err
	}
	if userNode == nil {
		return model.Result{Why: WhyUserNotFound}, nil
	}
	user := model.UserFromNode(*userNode)
	return model.Result{OK: true, User: &user, Login: &login}, nil
}

// Deactivate flips the user's active flag off. The session cleanup that
// follows belongs to the orchestrator.
func (b *GraphBackend) Deactivate(ctx context.Context, in DeactivateInput) (model.Result, error) {
	if in.Nick == "" && in.Email == "" {
		return model.Result{Why: WhyMissingArgument}, nil
	}
	prop, value := "nick", in.Nick
	if in.Nick == "" {
		prop, value = "email", in.Email
	}
	node, err := b.findUser(ctx, prop, value)
	if err != nil {
		return model.Result{}, err
	}
	if node == nil {
		return model.Result{Why: WhyUserNotFound}, nil
	}

	node.Props["active"] = false
	updated, err := b.store.UpdateNode(ctx, *node)
	if err != nil {
		return model.Result{}, errs.Store("updateNode", err)
	}
	user := model.UserFromNode(updated)
	return model.Result{OK: true, User: &user}, nil
}

func (b *GraphBackend) exists(ctx context.Context, prop, value string) (bool, error) {
	n, err := b.findUser(ctx, prop, value)
	return n != nil, err
}

func (b *GraphBackend) findUser(ctx context.Context, prop, value string) (*graph.Node, error) {
	nodes, err := b.store.ListNodes(ctx, model.LabelUser, map[string]any{prop: value}, graph.ListOpt{Limit: 1})
	if err != nil {
		return nil, errs.Store("listNodes", err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &nodes[0], nil
}

// issueToken creates a signed HS256 JWT naming the login as subject.
func (b *GraphBackend) issueToken(loginID, userID string) (string, error) {
	now := b.now()
	claims := jwt.RegisteredClaims{
		Subject:   loginID,
		Audience:  jwt.ClaimStrings{userID},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(b.tokenTTL)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(b.signKey)
}

func (b *GraphBackend) parseToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return b.signKey, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}
