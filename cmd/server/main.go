package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/YasinArafatAjad/BookWorld/config"
	"github.com/YasinArafatAjad/BookWorld/internal/api"
	"github.com/YasinArafatAjad/BookWorld/internal/broker"
	"github.com/YasinArafatAjad/BookWorld/internal/redisclient"
	"github.com/YasinArafatAjad/BookWorld/internal/service"
	"github.com/YasinArafatAjad/BookWorld/internal/store"
	"github.com/YasinArafatAjad/BookWorld/internal/util"
	"github.com/YasinArafatAjad/BookWorld/internal/worker"
	"github.com/YasinArafatAjad/BookWorld/migrations"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting BookWorld API")

	// Money fields marshal as plain JSON numbers, matching the storefront.
	decimal.MarshalJSONWithoutQuotes = true

	tp, err := util.InitTracer("bookworld-api", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if err := migrations.AutoMigrate(db.GetDB()); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	stockAdjuster := service.NewStockAdjuster(db, redisClient)
	orderService := service.NewOrderService(db, db, stockAdjuster, eventPublisher)
	catalogService := service.NewCatalogService(db, stockAdjuster)

	ctx := context.Background()
	if err := db.EnsureAdminUser(ctx, cfg.Admin.Name, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.Printf("Failed to ensure admin user: %v", err)
	}
	if err := stockAdjuster.SyncStockToCache(ctx); err != nil {
		log.Printf("Failed to sync stock to Redis: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	restockConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	restockWorker := worker.NewRestockWorker(restockConsumer, db, stockAdjuster)
	go func() {
		if err := restockWorker.Start(workerCtx); err != nil {
			log.Printf("Restock worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, catalogService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	restockWorker.Stop()

	log.Println("Server exited")
}
