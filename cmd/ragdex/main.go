package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/config"
	"github.com/kailas-cloud/ragdex/internal/corpus"
	"github.com/kailas-cloud/ragdex/internal/db"
	dbRedis "github.com/kailas-cloud/ragdex/internal/db/redis"
	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/index"
	logpkg "github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/metrics"
	"github.com/kailas-cloud/ragdex/internal/repository/embcache"
	chiTransport "github.com/kailas-cloud/ragdex/internal/transport/chi"
	"github.com/kailas-cloud/ragdex/internal/transport/llm"
	openaiEmb "github.com/kailas-cloud/ragdex/internal/transport/openai"
	"github.com/kailas-cloud/ragdex/internal/usecase/chat"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
	"github.com/kailas-cloud/ragdex/internal/usecase/ratelimit"
	"github.com/kailas-cloud/ragdex/internal/usecase/retrieve"
	"github.com/kailas-cloud/ragdex/internal/version"
)

// defaultSystemPrompt is used when the configured prompt file is absent.
const defaultSystemPrompt = "你是一个知识图谱助手。根据提供的参考数据回答用户问题，" +
	"并以JSON格式输出keyinfo和connections。"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("completion_driver", cfg.Completion.Driver),
	)

	metrics.Register()

	ctx := context.Background()

	// Optional Redis-backed embedding cache.
	var store db.Store
	if len(cfg.Cache.Addrs) > 0 {
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer store.Close()

		readiness := time.Duration(cfg.Cache.ReadinessTimeoutSec) * time.Second
		if err := store.WaitForReady(ctx, readiness); err != nil {
			logger.Fatal("Cache store not ready", zap.Error(err))
		}
		logger.Info("Connected to embedding cache", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	embedder := buildEmbedder(cfg, store, logger)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	contentIndex := index.NewManager(
		"content", cfg.Corpus.ContentIndexDir,
		func() ([]domain.Document, error) { return corpus.LoadContent(cfg.Corpus.ContentPath) },
		embedder, cfg.Embedding.Dimensions, logger,
	)
	imageIndex := index.NewManager(
		"image", cfg.Corpus.ImageIndexDir,
		func() ([]domain.Document, error) { return corpus.LoadImages(cfg.Corpus.ImagePath) },
		embedder, cfg.Embedding.Dimensions, logger,
	)

	// Indexes must be usable before the server accepts queries.
	for name, ix := range map[string]*index.Manager{"content": contentIndex, "image": imageIndex} {
		start := time.Now()
		if err := ix.Ensure(ctx); err != nil {
			logger.Fatal("Index initialization failed", zap.String("index", name), zap.Error(err))
		}
		logger.Info("Index ready", zap.String("index", name), zap.Duration("took", time.Since(start)))
	}

	retriever := retrieve.New(contentIndex, imageIndex, embedder).
		WithTopK(cfg.Retrieval.ContentK, cfg.Retrieval.ImageK)

	completer, err := buildCompleter(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create completion client", zap.Error(err))
	}

	systemPrompt := loadSystemPrompt(cfg.Corpus.PromptPath, logger)

	pipeline := chat.New(retriever, completer, systemPrompt, logger).
		WithRetrievalDisabled(!cfg.RetrievalEnabled())

	var limiter chiTransport.Admitter
	if cfg.RateLimitEnabled() {
		limiter = ratelimit.New(ratelimit.Config{
			Window:    time.Duration(cfg.RateLimit.WindowSec) * time.Second,
			Limit:     cfg.RateLimit.Limit,
			Blacklist: time.Duration(cfg.RateLimit.BlacklistSec) * time.Second,
			Logger:    logger,
		})
	}

	healthSvc := healthuc.New(map[string]healthuc.IndexChecker{
		"content": contentIndex,
		"image":   imageIndex,
	}, newEmbeddingHealthChecker(embedder))

	server := chiTransport.NewServer(pipeline, healthSvc, limiter, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.CORSMiddleware())
	r.Use(metrics.Middleware())
	server.Register(r)

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

// buildEmbedder assembles the embedder chain: OpenAI provider, then an
// optional Redis cache decorator.
func buildEmbedder(cfg config.Config, store db.Store, logger *zap.Logger) domain.Embedder {
	base, err := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Failed to create embedder", zap.Error(err))
	}

	if store == nil {
		return base
	}
	ttl := time.Duration(cfg.Cache.TTLSec) * time.Second
	return embcache.New(base, store, ttl, metrics.EmbeddingCacheTotal, logger)
}

// buildCompleter selects the completion backend by driver.
func buildCompleter(cfg config.Config, logger *zap.Logger) (chat.Completer, error) {
	switch cfg.Completion.Driver {
	case "assistant":
		return llm.NewAssistantClient(llm.AssistantConfig{
			APIKey:      cfg.Completion.APIKey,
			BaseURL:     cfg.Completion.BaseURL,
			AssistantID: cfg.Completion.AssistantID,
			Poller: llm.PollerConfig{
				Base:          time.Duration(cfg.Completion.PollBaseMs) * time.Millisecond,
				Growth:        cfg.Completion.PollGrowth,
				Cap:           time.Duration(cfg.Completion.PollCapMs) * time.Millisecond,
				TransientWait: time.Duration(cfg.Completion.PollTransientWait) * time.Millisecond,
				MaxAttempts:   cfg.Completion.PollMaxAttempts,
			},
			Logger: logger,
		})
	default:
		return llm.NewChatClient(llm.ChatConfig{
			APIKey:  cfg.Completion.APIKey,
			BaseURL: cfg.Completion.BaseURL,
			Model:   cfg.Completion.Model,
			RPS:     cfg.Completion.RPS,
			Logger:  logger,
		})
	}
}

// loadSystemPrompt reads the prompt file, falling back to a built-in
// prompt when the file is missing.
func loadSystemPrompt(path string, logger *zap.Logger) string {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("System prompt file missing, using built-in default",
			zap.String("path", path), zap.Error(err))
		return defaultSystemPrompt
	}
	return string(data)
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
						"error":   "internal_error",
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

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.WithContext(r.Context(), reqLogger)

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
