package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"bloom/internal/donation"
	"bloom/internal/handler"
	"bloom/internal/middleware"
	"bloom/internal/mirror"
	"bloom/internal/repository/postgres"
	"bloom/internal/token"
	"bloom/internal/withdrawal"
	"bloom/pkg/cache"
	"bloom/pkg/config"
	"bloom/pkg/logger"
	"bloom/pkg/validator"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("tokens-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Tokens Service", map[string]interface{}{
		"port": cfg.Server.Port,
	})

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	log.Info("Database connected", nil)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Redis connected", nil)

	// Repositories
	poolRepo := postgres.NewPoolRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	userRepo := postgres.NewUserRepository(db)
	donationRepo := postgres.NewDonationRepository(db)
	withdrawalRepo := postgres.NewWithdrawalRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	// Services
	tokenService := token.NewService(
		db, poolRepo, ledgerRepo, userRepo, outboxRepo, withdrawalRepo,
		token.AdminStatsDeps{
			Donations:   donationRepo,
			Withdrawals: withdrawalRepo,
			Outbox:      outboxRepo,
		},
		log, cfg.Reward.MaxAward, cfg.Reward.MinimumWithdrawal,
	)
	donationService := donation.NewService(db, donationRepo, poolRepo, outboxRepo, log)
	withdrawalService := withdrawal.NewService(
		db, withdrawalRepo, poolRepo, ledgerRepo, tokenService, outboxRepo,
		log, cfg.Reward.MinimumWithdrawal, cfg.Reward.FiatCurrency,
	)

	// Mirror worker
	mirrorClient := mirror.NewHTTPClient(cfg.Mirror, log)
	worker := mirror.NewWorker(outboxRepo, mirrorClient, ledgerRepo, donationRepo, withdrawalRepo, log, cfg.Mirror)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	go worker.Start(workerCtx)

	// Handlers
	val := validator.New()
	poolCache := cache.NewRedisCache(redisClient)
	tokenHandler := handler.NewTokenHandler(tokenService, poolCache, val, log)
	donationHandler := handler.NewDonationHandler(donationService, val, log)
	withdrawalHandler := handler.NewWithdrawalHandler(withdrawalService, val, log)
	mirrorHandler := handler.NewMirrorHandler(outboxRepo, log)
	systemHandler := handler.NewSystemHandler(db, redisClient, log)

	// Router
	r := mux.NewRouter()

	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.NewRateLimiter(redisClient, 150, time.Minute).Limit)

	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	idemMW := middleware.NewIdempotencyMiddleware(redisClient, 24*time.Hour)

	r.HandleFunc("/health", systemHandler.Health).Methods("GET")
	r.HandleFunc("/ready", systemHandler.Ready).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Public routes
	public := r.PathPrefix("/api/v1").Subrouter()
	public.HandleFunc("/pool", tokenHandler.GetPool).Methods("GET")
	public.HandleFunc("/donations", donationHandler.Create).Methods("POST")
	public.HandleFunc("/donations/recent", donationHandler.Recent).Methods("GET")
	public.HandleFunc("/donations/webhook", donationHandler.Webhook).Methods("POST")

	// Authenticated user routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.Authenticate)
	api.Use(middleware.NewRateLimiter(redisClient, 60, time.Minute).Limit)

	api.HandleFunc("/wallet", tokenHandler.GetWallet).Methods("GET")
	api.HandleFunc("/wallet/transactions", tokenHandler.GetHistory).Methods("GET")
	api.HandleFunc("/withdrawals", withdrawalHandler.List).Methods("GET")

	userWrites := api.NewRoute().Subrouter()
	userWrites.Use(idemMW.Require)
	userWrites.HandleFunc("/withdrawals", withdrawalHandler.Create).Methods("POST")

	// Admin routes
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(authMW.RequireAdmin)

	admin.HandleFunc("/pool/stats", tokenHandler.GetAdminStats).Methods("GET")
	admin.HandleFunc("/donations/pending", donationHandler.Pending).Methods("GET")
	admin.HandleFunc("/withdrawals/pending", withdrawalHandler.ListPending).Methods("GET")
	admin.HandleFunc("/mirror/failed", mirrorHandler.ListFailed).Methods("GET")
	admin.HandleFunc("/mirror/{id}/requeue", mirrorHandler.Requeue).Methods("POST")

	adminWrites := admin.NewRoute().Subrouter()
	adminWrites.Use(idemMW.Require)
	adminWrites.HandleFunc("/rewards", tokenHandler.Award).Methods("POST")
	adminWrites.HandleFunc("/rewards/deduct", tokenHandler.Deduct).Methods("POST")
	adminWrites.HandleFunc("/donations/{id}/confirm", donationHandler.Confirm).Methods("POST")
	adminWrites.HandleFunc("/donations/{id}/fail", donationHandler.Fail).Methods("POST")
	adminWrites.HandleFunc("/withdrawals/{id}/approve", withdrawalHandler.Approve).Methods("POST")
	adminWrites.HandleFunc("/withdrawals/{id}/reject", withdrawalHandler.Reject).Methods("POST")
	adminWrites.HandleFunc("/withdrawals/{id}/paid", withdrawalHandler.MarkPaid).Methods("POST")

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Tokens service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down tokens service...", nil)
	stopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Tokens service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Tokens service stopped gracefully", nil)
}
