// Package router implements the DomainRouter: mapping a
// DomainScope to the concrete IndexBackend/VectorBackend/GraphBackend
// triple that scope's requests should be served from, as a per-scope,
// lazily-opened, cached dispatch rather than a single process-wide
// wiring call.
package router

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/subcog/subcog/internal/errs"
	"github.com/subcog/subcog/internal/graph"
	"github.com/subcog/subcog/internal/index"
	"github.com/subcog/subcog/internal/vectorindex"
)

// DomainScope selects which memory substrate a request is routed to.
type DomainScope string

const (
	ScopeProject DomainScope = "project"
	ScopeUser    DomainScope = "user"
	ScopeOrg     DomainScope = "org"
)

// SqliteSharedConfig backs Org scope with a single shared SQLite file
// (e.g. on a network filesystem all org members can reach).
type SqliteSharedConfig struct {
	Path string
}

// PostgresqlConfig backs Org scope with a shared Postgres cluster.
type PostgresqlConfig struct {
	URL            string
	MaxConnections int
	TimeoutSecs    int
}

// OrgBackendConfig is the closed union of ways Org scope can be backed.
// Exactly one of SqliteShared/Postgresql should be set; both nil means
// "None" — Org scope is not configured at all.
type OrgBackendConfig struct {
	SqliteShared *SqliteSharedConfig
	Postgresql   *PostgresqlConfig
}

func (c OrgBackendConfig) isNone() bool {
	return c.SqliteShared == nil && c.Postgresql == nil
}

// Config configures the router's path resolution and Org dispatch.
type Config struct {
	// UserDataDir is the root under which Project/User (and, for
	// SqliteShared Org config, Org) backend subtrees live. If empty, the
	// platform-specific application-support directory is used
	// (os.UserConfigDir).
	UserDataDir string
	Org         OrgBackendConfig
	Dimensions  int
}

// BackendSet is the concrete triple one DomainScope resolves to.
type BackendSet struct {
	Index  index.Backend
	Vector vectorindex.Backend
	Graph  graph.Backend
}

// Router resolves a DomainScope (+ key, e.g. project path or org name) to
// a BackendSet, opening and caching backends lazily on first use.
type Router struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	resolved map[string]*BackendSet
}

// New constructs a Router. cfg.UserDataDir is resolved to the platform
// application-support directory if empty.
func New(cfg Config, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserDataDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("router: resolve application support dir: %w", err)
		}
		cfg.UserDataDir = filepath.Join(dir, "subcog")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	return &Router{cfg: cfg, logger: logger, resolved: make(map[string]*BackendSet)}, nil
}

// DetectScope implements the Project-vs-User auto-detection rule: if cwd
// is within a version-controlled repo (an ancestor directory contains
// .git), the request defaults to Project scope, else User scope.
func DetectScope(cwd string) DomainScope {
	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return ScopeProject
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ScopeUser
		}
		dir = parent
	}
}

// Resolve returns the BackendSet for scope, opening it on first request
// and caching the result under scope+key (e.g. the absolute project path,
// the user id, or the org name). key may be empty for User scope, where
// one subtree serves the whole local user.
func (r *Router) Resolve(ctx context.Context, scope DomainScope, key string) (*BackendSet, error) {
	cacheKey := string(scope) + ":" + key

	r.mu.Lock()
	if bs, ok := r.resolved[cacheKey]; ok {
		r.mu.Unlock()
		return bs, nil
	}
	r.mu.Unlock()

	bs, err := r.open(ctx, scope, key)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.resolved[cacheKey]; ok {
		// Lost a race with a concurrent Resolve for the same scope+key;
		// close what we just opened and hand back the winner.
		closeBackendSet(bs)
		return existing, nil
	}
	r.resolved[cacheKey] = bs
	return bs, nil
}

func (r *Router) open(ctx context.Context, scope DomainScope, key string) (*BackendSet, error) {
	switch scope {
	case ScopeOrg:
		return r.openOrg(ctx, key)
	default:
		return r.openLocal(ctx, scope, key)
	}
}

// openLocal handles Project and User scope: every backend lives under its
// own subtree of UserDataDir, keyed by scope and an opaque key (the
// project's canonical path, or "" for the single local user).
func (r *Router) openLocal(ctx context.Context, scope DomainScope, key string) (*BackendSet, error) {
	subdir := string(scope)
	if key != "" {
		subdir = filepath.Join(subdir, sanitizeKey(key))
	}
	root := filepath.Join(r.cfg.UserDataDir, subdir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("router: create scope directory: %w", err)
	}

	idx, err := index.NewSQLiteIndex(ctx, filepath.Join(root, "memories.db"), filepath.Join(root, "memories.bleve"))
	if err != nil {
		return nil, fmt.Errorf("router: open index backend: %w", err)
	}
	vec, err := vectorindex.NewMemoryIndex(r.cfg.Dimensions)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("router: open vector backend: %w", err)
	}
	g, err := graph.NewSQLiteGraph(ctx, filepath.Join(root, "graph.db"))
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("router: open graph backend: %w", err)
	}

	return &BackendSet{Index: idx, Vector: vec, Graph: g}, nil
}

// openOrg dispatches on the Org config union. A missing config is a typed
// Configuration error — Org requests never silently fall back to a local
// backend.
func (r *Router) openOrg(ctx context.Context, orgName string) (*BackendSet, error) {
	const op = "router.openOrg"

	switch {
	case r.cfg.Org.Postgresql != nil:
		cfg := r.cfg.Org.Postgresql
		r.logger.Info("router: opening org backend",
			zap.String("org", orgName), zap.String("backend", "postgresql"),
			zap.String("url", sanitizeURL(cfg.URL)))
		idx, err := index.NewPostgresIndex(ctx, cfg.URL)
		if err != nil {
			return nil, errs.New(errs.OperationFailed, op, err)
		}
		vec, err := vectorindex.NewMemoryIndex(r.cfg.Dimensions)
		if err != nil {
			_ = idx.Close()
			return nil, errs.New(errs.OperationFailed, op, err)
		}
		graphRoot := filepath.Join(r.cfg.UserDataDir, "org", sanitizeKey(orgName))
		if err := os.MkdirAll(graphRoot, 0o755); err != nil {
			_ = idx.Close()
			return nil, errs.New(errs.OperationFailed, op, err)
		}
		g, err := graph.NewSQLiteGraph(ctx, filepath.Join(graphRoot, "graph.db"))
		if err != nil {
			_ = idx.Close()
			return nil, errs.New(errs.OperationFailed, op, err)
		}
		return &BackendSet{Index: idx, Vector: vec, Graph: g}, nil

	case r.cfg.Org.SqliteShared != nil:
		cfg := r.cfg.Org.SqliteShared
		r.logger.Info("router: opening org backend",
			zap.String("org", orgName), zap.String("backend", "sqlite_shared"),
			zap.String("path", cfg.Path))
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errs.New(errs.OperationFailed, op, err)
			}
		}
		blevePath := cfg.Path + ".bleve"
		idx, err := index.NewSQLiteIndex(ctx, cfg.Path, blevePath)
		if err != nil {
			return nil, errs.New(errs.OperationFailed, op, err)
		}
		vec, err := vectorindex.NewMemoryIndex(r.cfg.Dimensions)
		if err != nil {
			_ = idx.Close()
			return nil, errs.New(errs.OperationFailed, op, err)
		}
		g, err := graph.NewSQLiteGraph(ctx, cfg.Path+".graph.db")
		if err != nil {
			_ = idx.Close()
			return nil, errs.New(errs.OperationFailed, op, err)
		}
		return &BackendSet{Index: idx, Vector: vec, Graph: g}, nil

	default:
		return nil, errs.New(errs.Configuration, op,
			fmt.Errorf("org scope requested for %q but no org backend is configured", orgName))
	}
}

// Close releases every backend this router has opened.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, bs := range r.resolved {
		if err := closeBackendSet(bs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.resolved = make(map[string]*BackendSet)
	return firstErr
}

func closeBackendSet(bs *BackendSet) error {
	var firstErr error
	if err := bs.Index.Close(); err != nil {
		firstErr = err
	}
	if err := bs.Vector.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := bs.Graph.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// sanitizeKey makes an opaque router key (a filesystem path, typically)
// safe to use as a single path component.
func sanitizeKey(key string) string {
	h := fnv32a(key)
	base := filepath.Base(filepath.Clean(key))
	return fmt.Sprintf("%s-%08x", sanitizeForPath(base), h)
}

func sanitizeForPath(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "scope"
	}
	return string(out)
}

// fnv32a is a tiny non-cryptographic hash used only to make distinct keys
// with the same basename (e.g. two different /project dirs both named
// "api") resolve to distinct cache directories.
func fnv32a(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// sanitizeURL redacts a connection string's password before it reaches a
// log line.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
