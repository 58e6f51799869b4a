package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/kailas-cloud/coursedex/internal/catalog"
	"github.com/kailas-cloud/coursedex/internal/config"
	"github.com/kailas-cloud/coursedex/internal/db"
	dbBadger "github.com/kailas-cloud/coursedex/internal/db/badger"
	dbRedis "github.com/kailas-cloud/coursedex/internal/db/redis"
	"github.com/kailas-cloud/coursedex/internal/domain"
	"github.com/kailas-cloud/coursedex/internal/domain/course"
	"github.com/kailas-cloud/coursedex/internal/index/lexical"
	"github.com/kailas-cloud/coursedex/internal/index/semantic"
	logpkg "github.com/kailas-cloud/coursedex/internal/logger"
	"github.com/kailas-cloud/coursedex/internal/metrics"
	budgetrepo "github.com/kailas-cloud/coursedex/internal/repository/budget"
	"github.com/kailas-cloud/coursedex/internal/repository/veccache"
	chiTransport "github.com/kailas-cloud/coursedex/internal/transport/chi"
	openaiClient "github.com/kailas-cloud/coursedex/internal/transport/openai"
	adviseuc "github.com/kailas-cloud/coursedex/internal/usecase/advise"
	embeddinguc "github.com/kailas-cloud/coursedex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/coursedex/internal/usecase/health"
	recommenduc "github.com/kailas-cloud/coursedex/internal/usecase/recommend"
	usageuc "github.com/kailas-cloud/coursedex/internal/usecase/usage"
	"github.com/kailas-cloud/coursedex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting coursedex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("catalog", cfg.Catalog.SnapshotPath),
	)

	// Create vector cache store based on driver
	var store db.Store
	switch cfg.Database.Driver {
	case "badger":
		store, err = dbBadger.NewStore(dbBadger.Config{
			Path: cfg.Database.Path,
		})
	case "redis":
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register retrieval metrics explicitly (no init())
	metrics.RegisterRetrievalMetrics()

	// Single BudgetTracker shared by the embedder and usage service.
	var budget *embeddinguc.BudgetTracker
	budgetCfg := cfg.Embedding.Budget
	if budgetCfg.DailyTokenLimit > 0 || budgetCfg.MonthlyTokenLimit > 0 {
		action := embeddinguc.BudgetActionWarn
		if budgetCfg.Action == "reject" {
			action = embeddinguc.BudgetActionReject
		}
		budget = embeddinguc.NewBudgetTracker(
			"openai", budgetCfg.DailyTokenLimit, budgetCfg.MonthlyTokenLimit, action, logger,
		)
		// Connect persistence store — loads current counters from DB.
		budgetStore := budgetrepo.New(store, 48*time.Hour, 62*24*time.Hour)
		budget.WithStore(ctx, budgetStore)
	}

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	// Go gotcha: (*BudgetTracker)(nil) wrapped in BudgetChecker != nil.
	var budgetChecker embeddinguc.BudgetChecker
	if budget != nil {
		budgetChecker = budget
	}

	// Embedder chain: OpenAI -> Instrumented (budget + metrics). Catalog
	// vectors are cached by the index builder, not an embedder decorator,
	// because the cache key is (course id, content hash), not raw text.
	openaiCfg := &openaiClient.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   "openai",
		Logger:     logger,
	}
	baseEmbedder := openaiClient.NewEmbedder(openaiCfg)
	embedder := embeddinguc.NewInstrumentedEmbedder(
		baseEmbedder, "openai", cfg.Embedding.Model, budgetChecker, logger,
	)
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Retrieval engine
	vecCache := veccache.New(store, metrics.VectorCacheTotal, logger)
	semBuilder := semantic.NewBuilder(embedder, vecCache, logger).
		WithBatching(cfg.Retrieval.BatchSize, cfg.Retrieval.Concurrency)

	recommendSvc := recommenduc.New(
		recommenduc.LoaderFunc(func() (recommenduc.CatalogReader, error) {
			st, err := catalog.Load(cfg.Catalog.SnapshotPath)
			if err != nil {
				return nil, err
			}
			return st, nil
		}),
		recommenduc.SemanticBuilderFunc(func(ctx context.Context, courses []*course.Course) (recommenduc.SemanticIndex, error) {
			ix, err := semBuilder.Build(ctx, courses)
			if err != nil {
				return nil, err
			}
			return ix, nil
		}),
		embedder,
		logger,
	).
		WithLexicalOptions(lexical.Options{
			K1:          cfg.Retrieval.K1,
			B:           cfg.Retrieval.B,
			TitleWeight: cfg.Retrieval.TitleWeight,
		}).
		WithWeights(recommenduc.Weights{
			Lexical:  cfg.Retrieval.LexicalWeight,
			Semantic: cfg.Retrieval.SemanticWeight,
		}).
		WithEmbedTimeout(time.Duration(cfg.Embedding.TimeoutSec) * time.Second)

	// Initial index build. A failure leaves the engine serving 503s on
	// retrieval routes until a successful POST /api/v1/reload.
	if err := recommendSvc.Reload(ctx); err != nil {
		logger.Error("Initial index build failed; serving not-ready until reload", zap.Error(err))
	}

	// Advising (requires an API key for the chat model)
	var adviser chiTransport.Adviser
	if cfg.Embedding.APIKey != "" {
		chatClient := openaiClient.NewChatClient(openaiCfg, cfg.Chat.Model)
		adviser = adviseuc.New(recommendSvc, chatClient, logger)
		logger.Info("Advising enabled", zap.String("chat_model", cfg.Chat.Model))
	}

	// Usage service — reads from shared BudgetTracker
	var budgetReader usageuc.BudgetReader
	if budget != nil {
		budgetReader = budget
	}
	usageSvc := usageuc.New(budgetReader)

	// Health service
	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(baseEmbedder), recommendSvc)

	// Create chi server
	server := chiTransport.NewServer(recommendSvc, adviser, usageSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
