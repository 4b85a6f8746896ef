package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/procurio/be-po-approvals/internal/client"
	"github.com/procurio/be-po-approvals/internal/config"
	"github.com/procurio/be-po-approvals/internal/database"
	"github.com/procurio/be-po-approvals/internal/handler"
	"github.com/procurio/be-po-approvals/internal/logger"
	"github.com/procurio/be-po-approvals/internal/middleware"
	"github.com/procurio/be-po-approvals/internal/policy"
	"github.com/procurio/be-po-approvals/internal/repository"
	"github.com/procurio/be-po-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting PO Approvals Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Compile the approval policy snapshot. Startup fails on a malformed
	// policy table rather than failing requests later.
	snapshot, err := policy.NewSnapshot(cfg.Engine.SnapshotVersion, cfg.ApprovalPolicies)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compile approval policy snapshot")
	}
	log.Info().
		Str("snapshot_version", cfg.Engine.SnapshotVersion).
		Int("policies", len(cfg.ApprovalPolicies)).
		Msg("Approval policy snapshot loaded")

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(db)
	requestRepo := repository.NewApprovalRequestRepository(db)
	eventRepo := repository.NewIntegrationEventRepository(db)
	projectionRepo := repository.NewReceivingProjectionRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize service clients
	var natsClient *client.NATSClient
	if cfg.NATS.Enabled {
		natsClient, err = client.NewNATSClient(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsClient.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS disabled; notifications will not be published")
	}
	notifier := client.NewNotificationPublisher(natsClient, log.Logger)

	identityClient := client.NewIdentityClient(cfg.Identity.BaseURL, cfg.Identity.Timeout)

	// Initialize services
	clock := service.SystemClock()

	approvalService := service.NewApprovalService(
		orderRepo, requestRepo, eventRepo, auditRepo,
		identityClient, notifier, snapshot, clock,
		service.ApprovalConfig{
			MaxEscalations:  cfg.Engine.MaxEscalations,
			BulkParallelism: cfg.Engine.BulkParallelism,
			DebounceWindow:  cfg.Engine.DebounceWindow,
			Holidays:        cfg.HolidayDates(),
		},
		log,
	)

	receivingService := service.NewReceivingService(
		orderRepo, eventRepo, projectionRepo, auditRepo,
		notifier, cfg.Tolerance, clock,
		service.ReceivingConfig{
			PollInterval: cfg.Engine.EventPollInterval,
		},
		log,
	)

	reconciler := service.NewReconciler(orderRepo, projectionRepo, clock, cfg.Engine.ReconcileInterval, log)

	// Background workers
	go receivingService.Run(ctx)
	go reconciler.Run(ctx)
	go approvalService.RunEscalations(ctx, cfg.Engine.EscalationInterval)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(approvalService, receivingService, orderRepo, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Approval routes
	mux.HandleFunc("/api/v1/approvals/request", httpHandler.RequestApproval)
	mux.HandleFunc("/api/v1/approvals/decide", httpHandler.Decide)
	mux.HandleFunc("/api/v1/approvals/bulk-decide", httpHandler.BulkDecide)
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.PendingRequests)

	// Order routes
	mux.HandleFunc("/api/v1/orders", httpHandler.ListOrders)
	mux.HandleFunc("/api/v1/orders/get", httpHandler.GetOrder)
	mux.HandleFunc("/api/v1/orders/transition", httpHandler.TransitionOrder)
	mux.HandleFunc("/api/v1/orders/audit", httpHandler.AuditTrail)

	// Receiving routes
	mux.HandleFunc("/api/v1/receiving/receipt", httpHandler.ValidateReceipt)
	mux.HandleFunc("/api/v1/receiving/queue", httpHandler.ReceivingQueue)
	mux.HandleFunc("/api/v1/receiving/events/failed", httpHandler.FailedEvents)
	mux.HandleFunc("/api/v1/receiving/events/retry", httpHandler.RetryEvent)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
