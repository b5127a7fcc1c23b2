package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/carelens/regledger/internal/config"
	"github.com/carelens/regledger/internal/db"
	dbRedis "github.com/carelens/regledger/internal/db/redis"
	"github.com/carelens/regledger/internal/db/sqlite"
	"github.com/carelens/regledger/internal/domain"
	domchunk "github.com/carelens/regledger/internal/domain/chunk"
	logpkg "github.com/carelens/regledger/internal/logger"
	"github.com/carelens/regledger/internal/metrics"
	chunkrepo "github.com/carelens/regledger/internal/repository/chunk"
	convrepo "github.com/carelens/regledger/internal/repository/conversation"
	"github.com/carelens/regledger/internal/repository/embcache"
	"github.com/carelens/regledger/internal/retry"
	openaiEmb "github.com/carelens/regledger/internal/transport/openai"
	accessuc "github.com/carelens/regledger/internal/usecase/access"
	ledgeruc "github.com/carelens/regledger/internal/usecase/ledger"
	pipelineuc "github.com/carelens/regledger/internal/usecase/pipeline"
	searchuc "github.com/carelens/regledger/internal/usecase/search"
	"github.com/carelens/regledger/internal/version"
)

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	app, cleanup := buildApp()
	defer cleanup()

	var err error
	switch cmd {
	case "serve":
		err = runServe(app)
	case "reembed":
		err = runReembed(app, args)
	case "patch-section":
		err = runPatchSection(app, args)
	case "messages":
		err = runMessages(app, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want serve, reembed, patch-section or messages)\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		app.logger.Fatal("Command failed", zap.String("command", cmd), zap.Error(err))
	}
}

// app holds the wired object graph shared by all commands.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	store    *sqlite.DB
	cache    db.Cache
	provider domain.HealthChecker
	chunks   *chunkrepo.Repo
	convs    *convrepo.Repo

	search   *searchuc.Service
	pipeline *pipelineuc.Service
	ledger   *ledgeruc.Service
}

func buildApp() (*app, func()) {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}

	logger.Info("Starting regledger",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.Int("embedding_version", cfg.Embedding.Version),
	)

	store, err := sqlite.Open(cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	logger.Info("Store ready", zap.String("path", store.Path()))

	// Embedding cache is optional: no cache addrs, no cache.
	var cache db.Cache
	if len(cfg.Cache.Addrs) > 0 {
		cache, err = dbRedis.NewCache(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Username: cfg.Cache.Username,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache client", zap.Error(err))
		}
		readiness := time.Duration(cfg.Cache.ReadinessTimeout) * time.Second
		if err := cache.WaitForReady(context.Background(), readiness); err != nil {
			logger.Fatal("Cache not ready", zap.Error(err))
		}
		logger.Info("Connected to embedding cache", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterCoreMetrics()

	embedder, provider := buildEmbedder(cfg, cache, logger)

	chunks := chunkrepo.New(store)
	convs := convrepo.New(store)

	gate := accessuc.New(convs)
	searchSvc := searchuc.New(chunks, chunks, embedder)
	pipelineSvc := pipelineuc.New(chunks, embedder, cfg.Pipeline.PageSize, retry.Config{
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		InitialDelay: time.Duration(cfg.Pipeline.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Pipeline.MaxDelayMs) * time.Millisecond,
	})
	ledgerSvc := ledgeruc.New(convs, chunks, gate, retry.Config{
		MaxAttempts:  cfg.Ledger.AppendRetries,
		InitialDelay: time.Duration(cfg.Ledger.RetryDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Ledger.RetryDelayMs*10) * time.Millisecond,
	})

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		cache:    cache,
		provider: provider,
		chunks:   chunks,
		convs:    convs,
		search:   searchSvc,
		pipeline: pipelineSvc,
		ledger:   ledgerSvc,
	}
	cleanup := func() {
		if cache != nil {
			cache.Close()
		}
		_ = store.Close()
		_ = logger.Sync()
	}
	return a, cleanup
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached. The base
// client doubles as the provider health check regardless of caching.
func buildEmbedder(cfg config.Config, cache db.Cache, logger *zap.Logger) (domain.Embedder, domain.HealthChecker) {
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		Logger:     logger,
	})

	if cache == nil {
		return base, base
	}
	return embcache.New(
		base, cache,
		cfg.Embedding.Model, cfg.Embedding.Version,
		time.Duration(cfg.Cache.TTLHours)*time.Hour,
		metrics.EmbeddingCacheTotal, logger,
	), base
}

// runServe starts the operational HTTP listener and blocks until shutdown.
func runServe(a *app) error {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Get("/healthz", a.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", a.cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(a.cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	a.logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Error during shutdown", zap.Error(err))
	}
	a.logger.Info("Server stopped gracefully")
	return nil
}

func (a *app) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}

	if err := a.store.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body = map[string]string{"status": "degraded", "store": err.Error()}
	} else if a.cache != nil {
		if err := a.cache.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]string{"status": "degraded", "cache": err.Error()}
		}
	}
	if status == http.StatusOK {
		if err := a.provider.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]string{"status": "degraded", "embedding_provider": err.Error()}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// runReembed backfills embeddings for every chunk behind the target version.
func runReembed(a *app, args []string) error {
	fs := flag.NewFlagSet("reembed", flag.ExitOnError)
	targetVersion := fs.Int("version", a.cfg.Embedding.Version, "embedding version to backfill to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := signalContext()
	ctx = logpkg.WithContext(ctx, a.logger)

	report, err := a.pipeline.Run(ctx, *targetVersion)
	if err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}
	fmt.Printf("scanned=%d embedded=%d skipped=%d failed=%d\n",
		report.Scanned, report.Embedded, report.Skipped, report.Failed)
	return nil
}

// runPatchSection corrects chunk metadata for every chunk of a section.
func runPatchSection(a *app, args []string) error {
	fs := flag.NewFlagSet("patch-section", flag.ExitOnError)
	section := fs.String("section", "", "section title to match (required)")
	page := fs.Int("page", -1, "corrected page number")
	uncertain := fs.Bool("uncertain", false, "mark the section's page numbers as uncertain")
	newTitle := fs.String("new-title", "", "corrected section title")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *section == "" {
		return fmt.Errorf("-section is required")
	}

	patch := domchunk.NewPatch()
	switch {
	case *uncertain:
		patch = patch.WithUncertainPage()
	case *page >= 0:
		patch = patch.WithPageNumber(*page)
	}
	if *newTitle != "" {
		patch = patch.WithSectionTitle(*newTitle)
	}
	if patch.IsEmpty() {
		return fmt.Errorf("one of -page, -uncertain or -new-title is required")
	}

	ctx := logpkg.WithContext(signalContext(), a.logger)
	n, err := a.chunks.PatchMetadata(ctx, *section, patch)
	if err != nil {
		return fmt.Errorf("patch metadata: %w", err)
	}
	fmt.Printf("patched %d chunks in section %q\n", n, *section)
	return nil
}

// runMessages prints a conversation's history as JSON, through the gate.
func runMessages(a *app, args []string) error {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	conversationID := fs.Int64("conversation", 0, "conversation id (required for listing)")
	userID := fs.String("user", "", "acting user id")
	privileged := fs.Bool("privileged", false, "bypass ownership checks")
	deleteID := fs.Int64("delete", 0, "delete the message with this id instead of listing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	identity := domain.Identity{UserID: *userID, Privileged: *privileged}
	ctx := logpkg.WithContext(signalContext(), a.logger)

	if *deleteID != 0 {
		if err := a.ledger.Delete(ctx, identity, *deleteID); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		fmt.Printf("deleted message %d\n", *deleteID)
		return nil
	}
	if *conversationID == 0 {
		return fmt.Errorf("-conversation is required")
	}

	msgs, err := a.ledger.Messages(ctx, identity, *conversationID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	type messageOut struct {
		ID               int64             `json:"id"`
		Index            int               `json:"index"`
		Role             string            `json:"role"`
		Content          string            `json:"content"`
		Citations        []json.RawMessage `json:"citations,omitempty"`
		ProcessingTimeMs *int              `json:"processing_time_ms,omitempty"`
		SearchIntent     string            `json:"search_intent,omitempty"`
		Bookmarked       bool              `json:"is_bookmarked"`
		CreatedAt        time.Time         `json:"created_at"`
	}
	out := make([]messageOut, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		var cits []json.RawMessage
		for _, c := range m.Citations() {
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("marshal citation: %w", err)
			}
			cits = append(cits, data)
		}
		out = append(out, messageOut{
			ID:               m.ID(),
			Index:            m.Index(),
			Role:             string(m.Role()),
			Content:          m.Content(),
			Citations:        cits,
			ProcessingTimeMs: m.ProcessingTimeMs(),
			SearchIntent:     m.SearchIntent(),
			Bookmarked:       m.Bookmarked(),
			CreatedAt:        m.CreatedAt(),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()
	return ctx
}
