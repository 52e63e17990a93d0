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

	"bookshop-service/config"
	"bookshop-service/internal/api"
	"bookshop-service/internal/broker"
	"bookshop-service/internal/gateway"
	"bookshop-service/internal/redisclient"
	"bookshop-service/internal/service"
	"bookshop-service/internal/store"
	"bookshop-service/internal/util"
	"bookshop-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting bookshop service")

	tp, err := util.InitTracer("bookshop-service", cfg.Observ.JaegerEndpoint)
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

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		MerchantID:    cfg.Gateway.MerchantID,
		ClientID:      cfg.Gateway.ClientID,
		ClientSecret:  cfg.Gateway.ClientSecret,
		ClientVersion: cfg.Gateway.ClientVersion,
		SaltKey:       cfg.Gateway.SaltKey,
		SaltIndex:     cfg.Gateway.SaltIndex,
		RedirectURL:   cfg.Gateway.RedirectURL,
		ExpireAfter:   cfg.Gateway.ExpireAfter,
	})

	pricing := &service.StaticPricingOracle{
		BasePaperback: cfg.Pricing.PaperbackPrice,
		BaseHardcover: cfg.Pricing.HardcoverPrice,
		BaseCurrency:  cfg.Pricing.Currency,
		BaseSymbol:    cfg.Pricing.Symbol,
		Rates: map[string]service.CurrencyRate{
			"US": {CurrencyCode: "USD", Symbol: "$", Rate: 0.012},
			"DE": {CurrencyCode: "EUR", Symbol: "€", Rate: 0.011},
		},
	}

	reconcileEngine := service.NewReconcileEngine(db, eventPublisher)
	orderService := service.NewOrderService(db, reconcileEngine, gatewayClient, pricing, eventPublisher)
	checkoutService := service.NewCheckoutService(redisClient, db, db, orderService, eventPublisher)
	callbackProcessor := service.NewCallbackProcessor(gatewayClient, db, redisClient, reconcileEngine)
	reviewService := service.NewReviewService(db, service.NewHTTPImageStore(cfg.Images.UploadURL))
	analyticsService := service.NewAnalyticsService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	eventsConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	analyticsWorker := worker.NewAnalyticsWorker(eventsConsumer, db)
	go func() {
		if err := analyticsWorker.Start(workerCtx); err != nil {
			log.Printf("Analytics worker error: %v", err)
		}
	}()

	sweeper := worker.NewSweepWorker(db, reconcileEngine,
		time.Duration(cfg.Business.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.Business.PendingMaxAgeSeconds)*time.Second)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Sweep worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(checkoutService, orderService, callbackProcessor,
		reviewService, analyticsService, eventPublisher, db)
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
	analyticsWorker.Stop()

	log.Println("Server exited")
}
