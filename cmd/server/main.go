// Command sg-server starts the sessiongraph HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/and161185/sessiongraph/internal/chain"
	"github.com/and161185/sessiongraph/internal/graph/neo4jstore"
	"github.com/and161185/sessiongraph/internal/identity"
	"github.com/and161185/sessiongraph/internal/limiter"
	"github.com/and161185/sessiongraph/internal/realm"
	"github.com/and161185/sessiongraph/internal/server/httpapi"
	"github.com/and161185/sessiongraph/internal/service"
	"github.com/and161185/sessiongraph/internal/timeline"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, bootstraps the realm, and starts the HTTP server.
func main() {
	// Flags
	addr := flag.String("addr", ":8080", "listen address")
	neoURI := flag.String("neo4j-uri", "bolt://localhost:7687", "Neo4j bolt URI")
	neoUser := flag.String("neo4j-user", "neo4j", "Neo4j username")
	neoPass := flag.String("neo4j-pass", "", "Neo4j password")
	scope := flag.String("scope", realm.DefaultScope, "realm scope")
	jwtKey := flag.String("jwt-key", "", "HS256 signing key (required)")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "login token TTL")
	storeTimeout := flag.Duration("store-timeout", neo4jstore.DefaultTimeout, "per-call store timeout")
	closeLimit := flag.Int("close-limit", chain.DefaultCloseLimit, "max concurrent session closures")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	if *jwtKey == "" {
		logger.Fatal("missing jwt signing key (--jwt-key)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The store may still be starting up alongside this service.
	var store *neo4jstore.Store
	backoff := retry.WithMaxRetries(5, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var cerr error
		store, cerr = neo4jstore.Connect(ctx, *neoURI, *neoUser, *neoPass, *storeTimeout, logger)
		if cerr != nil {
			logger.Warn("store connect attempt failed", zap.Error(cerr))
			return retry.RetryableError(cerr)
		}
		return nil
	})
	if err != nil {
		logger.Fatal("connect to store", zap.Error(err))
	}
	defer func() { _ = store.Close(context.Background()) }()

	rlm, err := realm.New(store, logger).Bootstrap(ctx, *scope)
	if err != nil {
		logger.Fatal("realm bootstrap", zap.Error(err))
	}
	logger.Info("realm resolved", zap.String("scope", rlm.Scope), zap.String("id", rlm.ID))

	// Services
	lim := limiter.NewMemory(15*time.Minute, 5, 15*time.Minute)
	backend := identity.NewGraphBackend(store, logger, []byte(*jwtKey), *tokenTTL, lim)
	chains := chain.NewManager(store, logger, *closeLimit)
	attacher := timeline.New(store, logger)
	svc := service.NewSessionService(backend, chains, attacher, store, rlm, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           httpapi.New(svc, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
