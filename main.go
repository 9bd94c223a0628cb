package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resqlink/config"
	"resqlink/controllers"
	"resqlink/database"
	"resqlink/interfaces"
	"resqlink/middleware"
	"resqlink/repositories"
	"resqlink/routes"
	"resqlink/services"
	"resqlink/utils"
	"resqlink/websocket"
	"resqlink/workers"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()
	setupLogger(cfg)

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatal("Failed to connect to database: ", err)
	}
	defer database.Disconnect()

	// Initialize Redis
	redisClient := config.InitRedis(cfg)
	defer redisClient.Close()

	// Repositories
	emergencyRepo := repositories.NewEmergencyRepository(db)
	lockRepo := repositories.NewLockRepository(db)
	groupRepo := repositories.NewGroupRepository(db)
	userRepo := repositories.NewUserRepository(db, redisClient)

	// WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()

	// Outbound channels
	var sender interfaces.AlertSender
	if cfg.FirebaseCredentials != "" {
		notifier, err := utils.NewNotificationService(
			cfg.FirebaseCredentials,
			cfg.TwilioAccountSID,
			cfg.TwilioAuthToken,
			cfg.TwilioPhoneNumber,
		)
		if err != nil {
			logrus.Fatal("Failed to initialize notification channels: ", err)
		}
		sender = notifier
	} else {
		logrus.Warn("Firebase credentials not configured, using mock alert sender")
		sender = services.NewMockAlertSender()
	}

	// Workers and services
	dispatcher := workers.NewDispatchWorker(cfg.DispatchWorkers)
	dispatcher.Start()
	defer dispatcher.Stop()

	lockService := services.NewLockService(lockRepo)
	notificationService := services.NewNotificationService(userRepo, groupRepo, sender, dispatcher, hub, cfg.FanOutRadiusM)
	locationService := services.NewLocationService(emergencyRepo, userRepo, dispatcher, hub)
	emergencyService := services.NewEmergencyService(emergencyRepo, groupRepo, userRepo, notificationService, dispatcher, locationService)
	reconcileService := services.NewReconcileService(emergencyRepo, groupRepo, lockService)

	cleanupConfig := workers.DefaultCleanupWorkerConfig()
	cleanupConfig.StaleEmergencyAge = time.Duration(cfg.StaleEmergencyHrs) * time.Hour
	cleanupWorker := workers.NewCleanupWorker(emergencyRepo, lockRepo, lockService, reconcileService, cleanupConfig)
	if err := cleanupWorker.Start(); err != nil {
		logrus.Fatal("Failed to start cleanup worker: ", err)
	}
	defer cleanupWorker.Stop()

	// Change stream fan-out
	streamCtx, stopStream := context.WithCancel(context.Background())
	defer stopStream()
	streamService := services.NewStreamService(emergencyRepo, hub)
	go streamService.Run(streamCtx)

	// HTTP surface
	jwtService := utils.NewJWTService(cfg.JWTSecret)
	validator := utils.NewValidationService()
	authMiddleware := middleware.NewAuthMiddleware(jwtService, userRepo)
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Redis:    redisClient,
		Requests: cfg.RateLimitRequests,
		Window:   time.Duration(cfg.RateLimitWindowMin) * time.Minute,
	})

	router := &routes.Router{
		Emergency: controllers.NewEmergencyController(emergencyService, validator),
		Location:  controllers.NewLocationController(locationService, validator),
		User:      controllers.NewUserController(userRepo, validator),
		WebSocket: controllers.NewWebSocketController(hub, authMiddleware, groupRepo, userRepo),
		Hub:       hub,
		Auth:      authMiddleware,
		RateLimit: rateLimiter,
		Config:    cfg,
	}

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router.Setup(),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logrus.Info("ResQLink coordination server starting on port ", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatal("Failed to start server: ", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Fatal("Server forced to shutdown: ", err)
	}

	logrus.Info("Server shutdown complete")
}

func setupLogger(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if cfg.Environment == "development" && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
}
