// Package httpapi exposes the session commands over a JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/sessiongraph/internal/identity"
	"github.com/and161185/sessiongraph/internal/model"
	"github.com/and161185/sessiongraph/internal/service"
)

const maxBodyBytes = 1 << 20

// Server routes HTTP requests to the session service. Primary-operation
// failures stay 200 with ok:false and a why code; 4xx/5xx are reserved for
// transport-level problems.
type Server struct {
	svc service.SessionService
	log *zap.Logger
}

// New constructs a Server.
func New(svc service.SessionService, log *zap.Logger) *Server {
	return &Server{svc: svc, log: log}
}

// Router builds the chi router with logging and panic recovery.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/deactivate", s.handleDeactivate)
	})
	return r
}

type registerRequest struct {
	Nick     string `json:"nick"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type logoutRequest struct {
	Token string `json:"token"`
}

type deactivateRequest struct {
	Nick  string `json:"nick"`
	Email string `json:"email"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.Register(r.Context(), identity.RegisterInput{
		Nick:     req.Nick,
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	s.respond(w, r, res, err)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.Login(r.Context(), req.Email, req.Password, clientIP(r))
	s.respond(w, r, res, err)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !s.decode(w, r, &req) {
		return
	}
	token := req.Token
	if token == "" {
		token = bearerToken(r)
	}
	res, err := s.svc.Logout(r.Context(), token)
	s.respond(w, r, res, err)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.Deactivate(r.Context(), identity.DeactivateInput{Nick: req.Nick, Email: req.Email})
	s.respond(w, r, res, err)
}

// decode reads the JSON body; an empty body decodes to the zero request so
// missing-argument handling stays with the service layer.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, model.Result{Why: "bad-request"})
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, res model.Result, err error) {
	if err != nil {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		s.writeJSON(w, http.StatusInternalServerError, model.Result{Why: "internal"})
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response failed", zap.Error(err))
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
				)
				s.writeJSON(w, http.StatusInternalServerError, model.Result{Why: "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
