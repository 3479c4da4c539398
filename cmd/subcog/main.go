// Package main is the subcog CLI entry point: server, capture, and recall
// over a DomainRouter-resolved backend set.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/subcog/subcog/internal/authctx"
	"github.com/subcog/subcog/internal/capture"
	"github.com/subcog/subcog/internal/config"
	"github.com/subcog/subcog/internal/dedup"
	"github.com/subcog/subcog/internal/embedding"
	"github.com/subcog/subcog/internal/eventbus"
	"github.com/subcog/subcog/internal/httpapi"
	"github.com/subcog/subcog/internal/models"
	"github.com/subcog/subcog/internal/recall"
	"github.com/subcog/subcog/internal/router"
	"github.com/subcog/subcog/internal/watch"
	"github.com/subcog/subcog/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/subcog/config.yaml"

// loadConfig loads config from path, falling back to ./config.yaml in the
// current directory when the default path doesn't exist (for development).
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if path == defaultConfigPath {
			if unwrap := errors.Unwrap(err); unwrap != nil && os.IsNotExist(unwrap) {
				if cwd, cwdErr := os.Getwd(); cwdErr == nil {
					fallback := filepath.Join(cwd, "config.yaml")
					if _, statErr := os.Stat(fallback); statErr == nil {
						return config.Load(fallback)
					}
				}
			}
		}
		return nil, err
	}
	return cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "capture":
		runCapture()
	case "recall":
		runRecall()
	case "version", "--version", "-v":
		fmt.Printf("subcog version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// components bundles everything wired from one Config: the router (owns
// every per-scope backend it opens), a shared embedder/event bus, and the
// policy structs fed into each scope's capture/recall Service.
type components struct {
	router     *router.Router
	embedder   embedding.Embedder
	bus        *eventbus.Bus
	captureCfg capture.Config
	recallCfg  recall.Config
	booster    *recall.Booster
	dedupCfg   config.DedupConfig
}

func (c *components) Close() error {
	c.bus.Close()
	return c.router.Close()
}

func newComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	r, err := router.New(toRouterConfig(cfg.Router), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	var embedder embedding.Embedder
	onnxEmbedder, err := embedding.NewONNXEmbedder(
		cfg.Embedding.ModelPath,
		cfg.Embedding.Dimensions,
		cfg.Embedding.MaxTokens,
		cfg.Embedding.CacheSize,
	)
	if err != nil {
		logger.Warn("onnx embedder unavailable, falling back to mock embedder", zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder = onnxEmbedder
	}

	captureCfg := capture.DefaultConfig()
	captureCfg.EmbedMaxConcurrent = cfg.Resilience.EmbeddingMaxConcurrent
	captureCfg.EmbedTimeout = time.Duration(cfg.Resilience.EmbeddingTimeoutSecs) * time.Second

	recallCfg := recall.DefaultConfig()
	recallCfg.EmbedMaxConcurrent = cfg.Resilience.EmbeddingMaxConcurrent
	recallCfg.EmbedTimeout = time.Duration(cfg.Resilience.EmbeddingTimeoutSecs) * time.Second

	// A nil Booster makes recall.Service skip boosting entirely; only build one when configured on.
	var booster *recall.Booster
	if cfg.Recall.BoostEnabled {
		boostCfg := recall.DefaultBoostConfig()
		if cfg.Recall.SummaryMultiplier != 0 {
			boostCfg.SummaryMultiplier = cfg.Recall.SummaryMultiplier
		}
		if cfg.Recall.Recency24hMultiplier != 0 {
			boostCfg.Recency24hMultiplier = cfg.Recall.Recency24hMultiplier
		}
		if cfg.Recall.RecencyWeekMultiplier != 0 {
			boostCfg.RecencyWeekMultiplier = cfg.Recall.RecencyWeekMultiplier
		}
		booster = recall.NewBooster(boostCfg)
	}

	return &components{
		router:     r,
		embedder:   embedder,
		bus:        eventbus.New(eventbus.WithLogger(logger)),
		captureCfg: captureCfg,
		recallCfg:  recallCfg,
		booster:    booster,
		dedupCfg:   cfg.Dedup,
	}, nil
}

// toRouterConfig translates config.RouterConfig (a plain yaml-tagged data
// struct with no dependency on the router package) into router.Config.
func toRouterConfig(rc config.RouterConfig) router.Config {
	cfg := router.Config{UserDataDir: rc.UserDataDir}
	if rc.Org.SqliteShared != nil {
		cfg.Org.SqliteShared = &router.SqliteSharedConfig{Path: rc.Org.SqliteShared.Path}
	}
	if rc.Org.Postgresql != nil {
		cfg.Org.Postgresql = &router.PostgresqlConfig{
			URL:            rc.Org.Postgresql.URL,
			MaxConnections: rc.Org.Postgresql.MaxConnections,
			TimeoutSecs:    rc.Org.Postgresql.TimeoutSecs,
		}
	}
	return cfg
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, _ := utils.NewProductionLogger()
	defer logger.Sync()

	comp, err := newComponents(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer comp.Close()

	srv := httpapi.New(comp.router, comp.embedder, comp.bus,
		comp.captureCfg, comp.recallCfg, comp.booster, comp.dedupCfg,
		cfg.Server, logger)

	var watchSvc *watch.Service
	if len(cfg.Watch.Directories) > 0 {
		scope := router.DetectScope(cfg.Watch.Directories[0])
		bs, err := comp.router.Resolve(context.Background(), scope, cfg.Watch.Directories[0])
		if err != nil {
			logger.Fatal("failed to resolve watch scope", zap.Error(err))
		}
		dd := dedup.New(bs.Index, bs.Vector,
			cfg.Dedup.RecentCaptureCacheSize,
			time.Duration(cfg.Dedup.RecentCaptureWindowSecs)*time.Second,
			float32(cfg.Dedup.SemanticThreshold))
		captureSvc := capture.New(comp.captureCfg, bs.Index, bs.Vector, dd, comp.embedder, comp.bus, logger)
		watchSvc = watch.New(cfg.Watch.Directories, cfg.Watch.Extensions, cfg.Watch.RecursiveOrDefault(),
			captureSvc, models.Namespace("default"), models.Domain("general"), watch.WithLogger(logger))

		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("failed to start watcher", zap.Error(err))
		}
		watchSvc.SyncExistingFiles()
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runCapture() {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	namespace := fs.String("namespace", "default", "memory namespace")
	domain := fs.String("domain", "general", "memory domain")
	source := fs.String("source", "cli", "capture source")
	_ = fs.Parse(os.Args[2:])

	content, err := readCaptureContent(fs.Args())
	if err != nil {
		fmt.Printf("Failed to read content: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, _ := utils.NewProductionLogger()
	defer logger.Sync()

	comp, err := newComponents(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer comp.Close()

	cwd, _ := os.Getwd()
	scope := router.DetectScope(cwd)
	bs, err := comp.router.Resolve(context.Background(), scope, cwd)
	if err != nil {
		fmt.Printf("Failed to resolve backend: %v\n", err)
		os.Exit(1)
	}
	dd := dedup.New(bs.Index, bs.Vector,
		cfg.Dedup.RecentCaptureCacheSize,
		time.Duration(cfg.Dedup.RecentCaptureWindowSecs)*time.Second,
		float32(cfg.Dedup.SemanticThreshold))
	svc := capture.New(comp.captureCfg, bs.Index, bs.Vector, dd, comp.embedder, comp.bus, logger)

	result, err := svc.Capture(context.Background(), authctx.Local(), capture.Request{
		Content:   content,
		Namespace: models.Namespace(*namespace),
		Domain:    models.Domain(*domain),
		Source:    *source,
	})
	if err != nil {
		fmt.Printf("Capture failed: %v\n", err)
		os.Exit(1)
	}
	if result.Skipped {
		fmt.Printf("Skipped (duplicate of %s): %s\n", result.MatchedURN, result.DedupReason)
		return
	}
	fmt.Printf("Captured: %s\n", result.URN)
}

// readCaptureContent reads the memory content from positional args, joined
// by spaces, or from stdin when none are given.
func readCaptureContent(args []string) (string, error) {
	if len(args) > 0 {
		content := args[0]
		for _, a := range args[1:] {
			content += " " + a
		}
		return content, nil
	}
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runRecall() {
	fs := flag.NewFlagSet("recall", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 10, "number of results")
	mode := fs.String("mode", "hybrid", "search mode: text, vector, or hybrid")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: subcog recall [flags] <query>")
		os.Exit(1)
	}
	query := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, _ := utils.NewProductionLogger()
	defer logger.Sync()

	comp, err := newComponents(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer comp.Close()

	cwd, _ := os.Getwd()
	scope := router.DetectScope(cwd)
	bs, err := comp.router.Resolve(context.Background(), scope, cwd)
	if err != nil {
		fmt.Printf("Failed to resolve backend: %v\n", err)
		os.Exit(1)
	}
	svc := recall.New(comp.recallCfg, bs.Index, bs.Vector, comp.embedder, comp.bus, comp.booster, logger)

	result, err := svc.Search(context.Background(), authctx.Local(), models.SearchQuery{
		Query: query,
		Mode:  models.SearchMode(*mode),
		Limit: *limit,
	})
	if err != nil {
		fmt.Printf("Recall failed: %v\n", err)
		os.Exit(1)
	}
	printRecallResults(result)
}

func printRecallResults(result models.SearchResult) {
	if len(result.Memories) == 0 {
		fmt.Println("No matches.")
		return
	}
	for i, hit := range result.Memories {
		fmt.Printf("%d. [%.3f] %s\n", i+1, hit.Score, hit.Memory.URN())
		fmt.Printf("   %s\n", utils.Truncate(hit.Memory.Content, 200))
	}
	fmt.Printf("\n%d result(s) in %dms\n", result.TotalCount, result.ExecutionTimeMS)
}

func printUsage() {
	fmt.Println(`subcog - persistent memory substrate

Usage:
  subcog server [flags]              Start the HTTP API
  subcog capture [flags] <content>   Capture a memory (reads stdin if omitted)
  subcog recall [flags] <query>      Recall memories
  subcog version                     Show version
  subcog help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/subcog/config.yaml)

Capture Flags:
  --config string     Config file path
  --namespace string  Memory namespace (default: default)
  --domain string      Memory domain (default: general)
  --source string      Capture source (default: cli)

Recall Flags:
  --config string   Config file path
  --limit int       Number of results (default: 10)
  --mode string     text, vector, or hybrid (default: hybrid)

Examples:
  subcog server
  subcog capture "remember to rotate the api key"
  subcog recall "api key"`)
}
