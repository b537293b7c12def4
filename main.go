package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/auth"
	"github.com/loomnotes/loom-engine/pkg/config"
	"github.com/loomnotes/loom-engine/pkg/database"
	"github.com/loomnotes/loom-engine/pkg/handlers"
	"github.com/loomnotes/loom-engine/pkg/llm"
	"github.com/loomnotes/loom-engine/pkg/logging"
	"github.com/loomnotes/loom-engine/pkg/middleware"
	"github.com/loomnotes/loom-engine/pkg/repositories"
	"github.com/loomnotes/loom-engine/pkg/retry"
	"github.com/loomnotes/loom-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// When running in Docker, localhost database hosts point at the host
	// machine instead of the container.
	cfg.Database.Host = config.ResolveHostForDocker(cfg.Database.Host)
	connStr := cfg.Database.ConnectionString()

	logger.Info("Starting loom-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(connStr)))

	// The database may still be starting when the engine comes up, so
	// connect with backoff.
	ctx := context.Background()
	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            connStr,
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	// Migrations run on a dedicated database/sql connection rather than
	// through the pool adapter; the adapter can hang golang-migrate on
	// permission errors.
	migrationDB, err := sql.Open("pgx", connStr)
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	llmClient, err := buildLLMClient(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}
	llmClient = llm.NewRetryingClient(llmClient, retry.DefaultConfig())

	conceptRepo := repositories.NewConceptRepository()
	documentRepo := repositories.NewDocumentRepository()
	knowledgeRepo := repositories.NewKnowledgeRepository()
	tagRepo := repositories.NewObjectTagRepository()
	templateRepo := repositories.NewObjectTemplateRepository()
	propertyRepo := repositories.NewObjectTagPropertyRepository()
	embeddingRepo := repositories.NewEmbeddingRepository()
	referenceRepo := repositories.NewReferenceRepository()

	index := services.NewVectorIndexService(embeddingRepo, llmClient, logger)
	resolver := services.NewConceptResolver(index, conceptRepo, llmClient, cfg.Engine, logger)
	conceptSvc := services.NewConceptService(conceptRepo, knowledgeRepo, tagRepo, index, resolver, logger)
	knowledgeSvc := services.NewKnowledgeService(knowledgeRepo, conceptRepo, tagRepo, propertyRepo, referenceRepo, index, llmClient, cfg.Engine, logger)
	miner := services.NewEntityMiner(conceptSvc, llmClient, cfg.Engine, logger)
	taxonomy := services.NewTaxonomySynchronizer(conceptSvc, tagRepo, templateRepo, propertyRepo, index, llmClient, cfg.Engine, logger)
	synchronizer := services.NewConceptSynchronizer(conceptRepo, knowledgeRepo, tagRepo, documentRepo, knowledgeSvc, taxonomy, index, llmClient, cfg.Engine, logger)
	inspector := services.NewBlockInspector(documentRepo, conceptRepo, knowledgeRepo, miner, knowledgeSvc, synchronizer, logger)
	documentSvc := services.NewDocumentService(documentRepo, conceptRepo, logger)

	authMiddleware := auth.NewMiddleware(logger)
	scopeMiddleware := handlers.NewScopeMiddleware(database.NewOwnerScopeProvider(db), logger)
	secure := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.RequireOwner(scopeMiddleware.Wrap(h))
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewDocumentHandler(documentSvc, inspector, logger).RegisterRoutes(mux, secure)
	handlers.NewConceptHandler(conceptSvc, synchronizer, logger).RegisterRoutes(mux, secure)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// buildLLMClient assembles the configured chat-completion client.
// Embeddings always go through an OpenAI-compatible endpoint, so the
// Anthropic client delegates Embed to one.
func buildLLMClient(cfg *config.Config, logger *zap.Logger) (llm.Client, error) {
	embedderCfg := &llm.Config{
		Endpoint:       cfg.AI.EffectiveEmbeddingBaseURL(),
		Model:          cfg.AI.LLMModel,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		APIKey:         cfg.AI.EffectiveEmbeddingAPIKey(),
	}

	if cfg.AI.Provider == "anthropic" {
		embedder, err := llm.NewOpenAIClient(embedderCfg, logger)
		if err != nil {
			return nil, err
		}
		return llm.NewAnthropicClient(&llm.Config{
			Endpoint: cfg.AI.LLMBaseURL,
			Model:    cfg.AI.LLMModel,
			APIKey:   cfg.AI.LLMAPIKey,
		}, embedder, logger)
	}

	client, err := llm.NewOpenAIClient(&llm.Config{
		Endpoint:       cfg.AI.LLMBaseURL,
		Model:          cfg.AI.LLMModel,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		APIKey:         cfg.AI.LLMAPIKey,
	}, logger)
	if err != nil {
		return nil, err
	}

	if embedderCfg.Endpoint != cfg.AI.LLMBaseURL || embedderCfg.APIKey != cfg.AI.LLMAPIKey {
		embedder, err := llm.NewOpenAIClient(embedderCfg, logger)
		if err != nil {
			return nil, err
		}
		return llm.NewSplitClient(client, embedder), nil
	}

	return client, nil
}
