package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lingua_chat/app"
	"lingua_chat/config"
	"lingua_chat/middleware"
	"lingua_chat/utils"
)

func init() {
	// 服务端统一使用 UTC
	time.Local = time.UTC
}

func main() {
	cfg := config.Load()

	if err := utils.InitDB(cfg.DatabaseURL, cfg.AutoMigrate); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer utils.CloseDB()

	if err := utils.InitRedis(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer utils.CloseRedis()

	middleware.InitAuth(cfg.JWTSecret)

	application, err := app.New(cfg, utils.GetDB(), utils.GetRedis())
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start background workers: %v", err)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: application.Router,
	}
	go func() {
		log.Printf("🚀 lingua_chat service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[INFO] Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] HTTP server shutdown: %v", err)
	}
	application.Stop()
}
