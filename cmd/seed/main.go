package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/example/smartcart/pkg/auth"
	"github.com/example/smartcart/pkg/config"
	"github.com/example/smartcart/pkg/logger"
	"github.com/example/smartcart/pkg/repository"
	"github.com/example/smartcart/pkg/seed"
	"github.com/example/smartcart/pkg/service"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	fixturesPath := flag.String("fixtures", "config/fixtures.yaml", "path to the fixtures file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	fixture, err := seed.Load(*fixturesPath)
	if err != nil {
		log.Fatal("Failed to load fixtures", zap.Error(err))
	}

	db, err := repository.NewMySQL(&cfg.MySQL)
	if err != nil {
		log.Fatal("Failed to connect to MySQL", zap.Error(err))
	}
	defer repository.Close(db)

	authSvc := service.NewAuthService(db, auth.NewTokenManager(&cfg.JWT), nil, cfg.RateLimit, log)
	seeder := seed.NewSeeder(db, authSvc, service.NewCatalogService(db, nil, nil, log), log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, err := seeder.Apply(ctx, fixture)
	if err != nil {
		log.Error("Failed to apply fixtures", zap.Error(err))
		return
	}
	log.Info("Seed complete",
		zap.Int("users_created", res.UsersCreated),
		zap.Int("products_created", res.ProductsCreated))
}
