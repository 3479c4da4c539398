// Package httpapi provides the HTTP API for subcog: capture, recall, and
// health endpoints over chi.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/subcog/subcog/internal/authctx"
	"github.com/subcog/subcog/internal/capture"
	"github.com/subcog/subcog/internal/config"
	"github.com/subcog/subcog/internal/dedup"
	"github.com/subcog/subcog/internal/embedding"
	"github.com/subcog/subcog/internal/eventbus"
	"github.com/subcog/subcog/internal/recall"
	"github.com/subcog/subcog/internal/router"
)

// scopedServices is one capture/recall Service pair bound to a single
// DomainScope's BackendSet, built lazily and cached alongside it.
type scopedServices struct {
	capture *capture.Service
	recall  *recall.Service
}

// Server is the HTTP API for subcog's core: capture, recall, and health.
type Server struct {
	router       *router.Router
	embedder     embedding.Embedder
	bus          *eventbus.Bus
	captureCfg   capture.Config
	recallCfg    recall.Config
	boost        *recall.Booster
	dedupCfg     config.DedupConfig
	logger       *zap.Logger
	serverConfig config.ServerConfig

	mu       sync.Mutex
	services map[*router.BackendSet]*scopedServices

	httpServer *http.Server
}

// New constructs a Server. embedder may be nil, in which case capture and
// recall degrade the same way capture.Service/recall.Service do without one.
func New(
	r *router.Router,
	embedder embedding.Embedder,
	bus *eventbus.Bus,
	captureCfg capture.Config,
	recallCfg recall.Config,
	boost *recall.Booster,
	dedupCfg config.DedupConfig,
	serverConfig config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		router:       r,
		embedder:     embedder,
		bus:          bus,
		captureCfg:   captureCfg,
		recallCfg:    recallCfg,
		boost:        boost,
		dedupCfg:     dedupCfg,
		serverConfig: serverConfig,
		logger:       logger,
		services:     make(map[*router.BackendSet]*scopedServices),
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/capture", s.handleCapture)
	r.Post("/api/v1/recall", s.handleRecall)
	r.Get("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.serverConfig.Host, s.serverConfig.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: r}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the server and every scoped backend the
// router opened on its behalf.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	return s.router.Close()
}

// resolve maps the request to a DomainScope + key and returns that scope's
// capture/recall services, building them (and their backing BackendSet) on
// first use. Scope/key come from the X-Subcog-Scope / X-Subcog-Key headers;
// an absent scope header defaults to User (there is no reliable server-side
// notion of "the caller's cwd" for an HTTP request the way there is for a
// local CLI invocation).
func (s *Server) resolve(ctx context.Context, req *http.Request) (*scopedServices, error) {
	scope := router.DomainScope(strings.ToLower(req.Header.Get("X-Subcog-Scope")))
	if scope == "" {
		scope = router.ScopeUser
	}
	key := req.Header.Get("X-Subcog-Key")

	bs, err := s.router.Resolve(ctx, scope, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if svc, ok := s.services[bs]; ok {
		return svc, nil
	}

	dd := dedup.New(bs.Index, bs.Vector,
		s.dedupCfg.RecentCaptureCacheSize,
		time.Duration(s.dedupCfg.RecentCaptureWindowSecs)*time.Second,
		float32(s.dedupCfg.SemanticThreshold),
	)
	svc := &scopedServices{
		capture: capture.New(s.captureCfg, bs.Index, bs.Vector, dd, s.embedder, s.bus, s.logger),
		recall:  recall.New(s.recallCfg, bs.Index, bs.Vector, s.embedder, s.bus, s.boost, s.logger),
	}
	s.services[bs] = svc
	return svc, nil
}

// authFromRequest extracts an authctx.Context from the request's
// Authorization header: "Bearer scope1,scope2,...". A request with no
// Authorization header and X-Subcog-Local: true is treated as a local/CLI
// caller with full permissions; otherwise it gets an empty (no-permission)
// context, which authctx.Require then correctly rejects.
func authFromRequest(req *http.Request) authctx.Context {
	if strings.EqualFold(req.Header.Get("X-Subcog-Local"), "true") {
		return authctx.Local()
	}
	header := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return authctx.FromScopes(nil)
	}
	raw := strings.TrimPrefix(header, prefix)
	var scopes []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return authctx.FromScopes(scopes)
}
