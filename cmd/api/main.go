// Package main is the entry point for the API server and the inbound workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-agent/internal/config"
	"github.com/capitalize-ai/commerce-agent/internal/functions"
	"github.com/capitalize-ai/commerce-agent/internal/handler"
	"github.com/capitalize-ai/commerce-agent/internal/llm"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	natsclient "github.com/capitalize-ai/commerce-agent/internal/nats"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/internal/scheduler"
	"github.com/capitalize-ai/commerce-agent/internal/search"
	"github.com/capitalize-ai/commerce-agent/internal/service"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
	"github.com/capitalize-ai/commerce-agent/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting commerce agent")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: "commerce-agent",
		Insecure:    cfg.TracingInsecure,
		SampleRatio: 1,
	})
	if err != nil {
		log.Warn("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	// Database
	db, err := repository.OpenPostgres(cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	if cfg.AutoMigrate {
		if err := repository.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		log.Info("database migrated")
	}

	// NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		return err
	}
	defer natsClient.Close()

	streams := natsclient.NewStreamManager(natsClient)
	if err := streams.EnsureStreams(ctx); err != nil {
		return err
	}

	// Repositories
	tenantRepo := repository.NewTenantRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	leadRepo := repository.NewLeadRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	conversationRepo := repository.NewConversationRepository(db)

	// Services
	if cfg.EmbeddingsAPIKey == "" {
		log.Warn("EMBEDDINGS_API_KEY is not set, semantic search will fail")
	}
	searcher := search.NewSearcher(db, search.NewOpenAIEmbedder(cfg.EmbeddingsAPIKey, cfg.EmbeddingsModel), log)
	conversationSvc := service.NewConversationService(conversationRepo, cfg.ActiveConversationWindow, log)
	orderSvc := service.NewOrderService(orderRepo, catalogRepo, log)
	billingSvc := service.NewBillingService(conversationRepo, tenantRepo, log)

	registry := functions.NewDefaultRegistry(functions.Deps{
		Products:   catalogRepo,
		Clients:    catalogRepo,
		Similarity: searcher,
		Orders:     orderSvc,
		Leads:      leadRepo,
		Documents:  documentRepo,
	}, log)
	log.Info("functions registered", zap.Strings("names", registry.Names()))

	orchestrator := service.NewOrchestrator(
		tenantRepo,
		conversationSvc,
		service.NewContextBuilder(documentRepo, catalogRepo, orderSvc, log),
		llm.NewDefaultRouter(cfg.ProviderTimeout),
		registry,
		streams,
		service.OrchestratorConfig{
			MaxToolDepth:    cfg.MaxToolDepth,
			ProviderTimeout: cfg.ProviderTimeout,
			DefaultLocation: cfg.Location(),
		},
		log,
	)

	// Inbound workers
	worker := natsclient.NewInboundWorker(natsClient,
		func(ctx context.Context, in model.InboundMessage) error {
			_, err := orchestrator.HandleInbound(ctx, in)
			return err
		},
		streams,
		natsclient.WorkerConfig{
			Concurrency: cfg.InboundWorkers,
			TurnTimeout: time.Duration(cfg.MaxToolDepth+1)*cfg.ProviderTimeout + time.Minute,
			Classify:    classifyTurnError,
		},
		log,
	)
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer worker.Stop()

	// Janitor
	janitor, err := scheduler.NewJanitor(conversationSvc, streams, scheduler.JanitorConfig{
		Schedule: cfg.JanitorSchedule,
		IdleAge:  cfg.IdleConversationAge,
	}, log)
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	// HTTP
	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		APIToken:          cfg.APIToken,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, handler.Handlers{
		Health: handler.NewHealthHandler(sqlDB, natsClient),
		Integration: handler.NewIntegrationHandler(handler.IntegrationDeps{
			Tenants:  tenantRepo,
			Inbound:  streams,
			Catalog:  catalogRepo,
			Indexer:  searcher,
			Leads:    leadRepo,
			Orders:   orderSvc,
			Location: cfg.Location(),
		}, log),
		Conversations: handler.NewConversationHandler(conversationSvc, log),
		Stream:        handler.NewStreamHandler(conversationSvc, streams, log),
		Leads:         handler.NewLeadHandler(leadRepo, log),
		Billing:       handler.NewBillingHandler(billingSvc, log),
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func classifyTurnError(err error) model.EventType {
	switch {
	case errors.Is(err, service.ErrRecursionLimit):
		return model.EventTypeRecursionLimit
	case errors.Is(err, context.DeadlineExceeded):
		return model.EventTypeTimeout
	default:
		return model.EventTypeError
	}
}
