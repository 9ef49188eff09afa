package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"chatline/app/internal/config"
	"chatline/app/internal/devserver"
)

func setupDependencies(cfg config.Server) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	return db, rdb
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg := config.LoadServer()
	db, rdb := setupDependencies(cfg)

	store := devserver.NewStore(db, rdb)
	if err := store.Migrate(); err != nil {
		sugar.Fatalw("failed to run migrations", "error", err)
	}
	sugar.Infow("database and redis connections established, migrations complete")

	hub := devserver.NewHub(store, sugar)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := devserver.NewServer(cfg, store, hub, sugar)

	server := &http.Server{
		Addr:           cfg.Addr,
		Handler:        srv.Router(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	sugar.Infow("dev backend listening", "addr", cfg.Addr)
	sugar.Fatalw("server stopped", "error", server.ListenAndServe())
}
