package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/smartcart/gateway"
	"github.com/example/smartcart/pkg/auth"
	"github.com/example/smartcart/pkg/config"
	"github.com/example/smartcart/pkg/discovery"
	"github.com/example/smartcart/pkg/events"
	"github.com/example/smartcart/pkg/logger"
	"github.com/example/smartcart/pkg/payment"
	"github.com/example/smartcart/pkg/repository"
	"github.com/example/smartcart/pkg/service"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting smartcart API",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	db, err := repository.NewMySQL(&cfg.MySQL)
	if err != nil {
		log.Fatal("Failed to connect to MySQL", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("Failed to get SQL pool", zap.Error(err))
	}

	checks := map[string]gateway.HealthCheck{"mysql": sqlDB.PingContext}

	var (
		cache   service.ProductCache
		limiter service.LoginLimiter
		audit   service.AuditRecorder
		reader  gateway.AuditReader
		pub     events.Publisher = events.NopPublisher{}
	)

	var redisRepo *repository.RedisRepository
	if cfg.Redis.Addr != "" {
		redisRepo = repository.NewRedisRepository(&cfg.Redis)
		if err := redisRepo.Ping(context.Background()); err != nil {
			log.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			_ = redisRepo.Close()
			redisRepo = nil
		} else {
			cache, limiter = redisRepo, redisRepo
			checks["redis"] = redisRepo.Ping
		}
	}

	var mongoRepo *repository.MongoRepository
	if cfg.MongoDB.URI != "" {
		mongoRepo, err = repository.NewMongoRepository(&cfg.MongoDB)
		if err != nil {
			log.Warn("MongoDB unavailable, continuing without audit log", zap.Error(err))
		} else {
			audit, reader = mongoRepo, mongoRepo
			checks["mongodb"] = mongoRepo.Ping
		}
	}

	var rabbit *events.RabbitPublisher
	if cfg.RabbitMQ.URL != "" {
		rabbit, err = events.NewRabbitPublisher(&cfg.RabbitMQ)
		if err != nil {
			log.Warn("RabbitMQ unavailable, order events disabled", zap.Error(err))
		} else {
			pub = rabbit
		}
	}

	// Setup service discovery
	var sd *discovery.ServiceDiscovery
	instance := &discovery.ServiceInstance{Name: cfg.Server.Name, Host: cfg.Server.Host, Port: cfg.Server.Port}
	if len(cfg.Etcd.Endpoints) > 0 {
		sd, err = discovery.NewServiceDiscovery(&cfg.Etcd)
		if err != nil {
			log.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
		} else if err := sd.Register(context.Background(), instance); err != nil {
			log.Warn("Failed to register service", zap.Error(err))
		}
	}

	authSvc := service.NewAuthService(db, auth.NewTokenManager(&cfg.JWT), limiter, cfg.RateLimit, log)
	services := gateway.Services{
		Auth:     authSvc,
		Catalog:  service.NewCatalogService(db, cache, audit, log),
		Cart:     service.NewCartService(db, log),
		Orders:   service.NewOrderService(db, cache, pub, audit, log),
		Reports:  service.NewReportService(db),
		Store:    service.NewStoreService(db, audit, log),
		Payments: payment.NewVerifier(cfg.Payment.KeySecret),
		Audit:    reader,
	}

	// Create gateway
	gw := gateway.NewGateway(cfg, log, services, checks)
	gw.SetupRoutes()

	// Start gateway in goroutine
	gwErr := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErr <- err
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received shutdown signal")
	case err := <-gwErr:
		log.Error("Gateway error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := gw.Shutdown(ctx); err != nil {
		log.Error("Failed to shut down gateway", zap.Error(err))
	}
	if sd != nil {
		if err := sd.Deregister(ctx, instance); err != nil {
			log.Warn("Failed to deregister service", zap.Error(err))
		}
		sd.Close()
	}
	if rabbit != nil {
		rabbit.Close()
	}
	if redisRepo != nil {
		redisRepo.Close()
	}
	if mongoRepo != nil {
		mongoRepo.Close(ctx)
	}
	if err := repository.Close(db); err != nil {
		log.Error("Failed to close MySQL", zap.Error(err))
	}

	log.Info("smartcart API stopped")
}
