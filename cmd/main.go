package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iamblackshifu/ecocash-gobackend/internal/config"
	"github.com/iamblackshifu/ecocash-gobackend/internal/db"
	"github.com/iamblackshifu/ecocash-gobackend/internal/ecocash"
	"github.com/iamblackshifu/ecocash-gobackend/internal/handlers"
	"github.com/iamblackshifu/ecocash-gobackend/internal/observe"
	"github.com/iamblackshifu/ecocash-gobackend/internal/orders"
	"github.com/iamblackshifu/ecocash-gobackend/internal/services"
)

// loggingRestorer stands in for the storefront's inventory subsystem until
// one is wired up; restock requests are only recorded.
type loggingRestorer struct {
	sink *observe.Sink
}

func (l *loggingRestorer) RestoreStock(ctx context.Context, orderID string) error {
	l.sink.Info("stock restoration requested", zap.String("order_id", orderID))
	return nil
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Error loading .env: %s", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	sink := observe.NewSink(logger)

	// MongoDB
	client, err := db.Connect(cfg.MongoURI)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()
	log.Println("Successfully connected to MongoDB")

	database := client.Database("ecocashdb")

	// Redis backs the duplicate-initiation guard.
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	// Services
	ledger := services.NewMongoLedger(database, sink)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := ledger.EnsureIndexes(ctx); err != nil {
			cancel()
			log.Fatalf("Failed to create ledger indexes: %v", err)
		}
		cancel()
	}

	orderStore := orders.NewMongoStore(database)
	guard := services.NewRedisGuard(rdb, services.DuplicateWindow)
	ecocashClient := ecocash.NewClient(cfg.APIKey(), cfg.SandboxMode, cfg.BaseURL, sink)
	executor := ecocash.NewExecutor(sink)

	reconciler := services.NewStatusReconciler(cfg, ledger, orderStore,
		&loggingRestorer{sink: sink}, ecocashClient, executor, sink)
	defer reconciler.Stop()

	paymentService := services.NewPaymentService(cfg, ledger, guard, orderStore,
		ecocashClient, executor, reconciler, sink)

	// Handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService, reconciler, ledger)
	orderHandler := handlers.NewOrderHandler(orderStore, ecocashClient)
	webhookHandler := handlers.NewWebhookHandler(cfg.WebhookSecret, reconciler, sink)

	// Router
	router := mux.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-EcoCash-Signature"},
	}))

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")

	// Provider webhook is unauthenticated; the HMAC signature is the auth.
	router.HandleFunc("/ecocash/v1/webhook", webhookHandler.Handle).Methods("POST")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return handlers.RequireAuth(cfg.JWTSecret, next)
	})
	api.HandleFunc("/payment", paymentHandler.InitiatePayment).Methods("POST")
	api.HandleFunc("/refund", paymentHandler.ProcessRefund).Methods("POST")
	api.HandleFunc("/order", orderHandler.CreateOrder).Methods("POST")
	api.HandleFunc("/order/{orderID}", orderHandler.GetOrder).Methods("GET")
	api.HandleFunc("/order/{orderID}/status", paymentHandler.CheckStatus).Methods("POST")
	api.HandleFunc("/order/{orderID}/transactions", paymentHandler.ListTransactions).Methods("GET")
	api.HandleFunc("/ecocash/ping", orderHandler.Ping).Methods("GET")

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Server running on port %s (%s mode)", cfg.Port, cfg.Mode())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
