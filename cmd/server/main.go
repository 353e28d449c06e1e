package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/openleague/gavel-api/internal/auth"
	"github.com/openleague/gavel-api/internal/broadcast"
	"github.com/openleague/gavel-api/internal/config"
	"github.com/openleague/gavel-api/internal/database"
	"github.com/openleague/gavel-api/internal/engine"
	"github.com/openleague/gavel-api/internal/ledger"
	"github.com/openleague/gavel-api/internal/metrics"
	"github.com/openleague/gavel-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the auction API server with graceful
// shutdown support. It wires the store, the broadcast channel, the
// engine and the bid ledger, then exposes them over HTTP.
func main() {
	cfg := config.Load()

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Broadcast channel: in-process hub by default, Kafka when configured.
	var publisher broadcast.Publisher = broadcast.NewHub()
	if cfg.KafkaEnabled {
		kp := broadcast.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		zlog.Info().Str("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing auction events to kafka")
	}

	router := gin.Default()

	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	if cfg.Env != "production" {
		// Demo credentials for local development; real participants are
		// registered by the surrounding application.
		authService.RegisterParticipant("commish-key", "commish-secret", "commissioner-1", auth.RoleCommissioner)
		authService.RegisterParticipant("bidder-key", "bidder-secret", "bidder-1", auth.RoleBidder)
	}

	auctionEngine := engine.NewEngine(db, publisher, engine.Settings{
		MinParticipants:  cfg.MinParticipants,
		MaxParticipants:  cfg.MaxParticipants,
		TickInterval:     cfg.TickInterval,
		CountdownSeconds: cfg.CountdownSeconds,
		AntiSnipeSeconds: cfg.AntiSnipeSeconds,
		GraceSeconds:     cfg.GraceSeconds,
		BidIncrement:     cfg.BidIncrement,
		StartingBudget:   cfg.StartingBudget,
		SlotLimit:        cfg.SlotLimit,
	})
	defer auctionEngine.StopAll()
	engineHandlers := engine.NewGinHandlers(auctionEngine)

	ledgerService := ledger.NewService(db, publisher)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	router.Use(middleware.RateLimit())
	setupRoutes(router, authService, authHandlers, engineHandlers, ledgerHandlers)

	metricsSrv := metrics.StartServer(cfg.MetricsPort, func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	defer func() { _ = metricsSrv.Close() }()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers.
// Setup endpoints are called by the surrounding application before the
// draft; lifecycle endpoints are commissioner-only; bidding and state
// are open to any authenticated participant.
func setupRoutes(
	router *gin.Engine,
	authService *auth.Service,
	authHandlers *auth.GinHandlers,
	engineHandlers *engine.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		auctions := v1.Group("/auctions")
		auctions.Use(middleware.JWTAuth(authService))
		{
			auctions.GET("/:auction_id", engineHandlers.GetStateHandler())
			auctions.POST("/:auction_id/bids", ledgerHandlers.PlaceBidHandler())

			lifecycle := auctions.Group("")
			lifecycle.Use(middleware.CommissionerOnly())
			{
				lifecycle.POST("/:auction_id/start", engineHandlers.StartAuctionHandler())
				lifecycle.POST("/:auction_id/pause", engineHandlers.PauseAuctionHandler())
				lifecycle.POST("/:auction_id/resume", engineHandlers.ResumeAuctionHandler())
			}
		}

		// Setup endpoints used by the surrounding application.
		internal := v1.Group("/internal")
		internal.Use(middleware.JWTAuth(authService), middleware.CommissionerOnly())
		{
			internal.POST("/auctions", engineHandlers.CreateAuctionHandler())
			internal.POST("/auctions/:auction_id/participants", engineHandlers.AddParticipantHandler())
			internal.POST("/auctions/:auction_id/catalog", engineHandlers.AddCatalogItemHandler())
		}
	}
}
