package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"landflow/internal/api"
	"landflow/internal/automation"
	"landflow/internal/config"
	"landflow/internal/database"
	"landflow/internal/lock"
	"landflow/internal/logging"
	"landflow/internal/mailer"
	"landflow/internal/store"
	"landflow/internal/webhook"
	"landflow/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	database.SyncConfig(db, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New(db)
	sender := mailer.NewSender(st, cfg.Mail, logger)
	engine := automation.NewEngine(automation.FromStore(st), sender, nil, logger)

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	locker, closeLock := lock.ForScheduler(cfg, db.DB, logger)
	defer closeLock()

	scheduler := automation.NewScheduler(engine,
		automation.WithInterval(cfg.Automation.PollInterval),
		automation.WithClaimLease(cfg.Automation.ClaimLease),
		automation.WithLock(locker),
		automation.WithNotifier(hub),
	)
	var health api.HealthReporter
	if cfg.Automation.Enabled {
		if err := scheduler.Start(); err != nil {
			logger.Fatal("Failed to start scheduler", zap.Error(err))
		}
		defer scheduler.Stop()
		health = scheduler
	} else {
		logger.Warn("Automation scheduler disabled; delayed emails will not be sent")
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+api.ClientIDHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api.Handlers{
		Automations: api.NewAutomationHandler(st, logger),
		Leads:       api.NewLeadHandler(st, engine, logger),
		Emails:      api.NewEmailHandler(st, sender, logger),
		Dashboard:   api.NewDashboardHandler(st, health),
	}.Register(r)
	webhook.NewHandler(st, engine, hub, logger).Register(r)
	r.GET("/ws", gin.WrapF(hub.ServeWs))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown", zap.Error(err))
	}
}
