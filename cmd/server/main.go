package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kasia/glutenfree-community/internal/api"
	"github.com/kasia/glutenfree-community/internal/config"
	"github.com/kasia/glutenfree-community/internal/ratelimit"
	"github.com/kasia/glutenfree-community/internal/repository"
	"github.com/kasia/glutenfree-community/internal/repository/postgres"
	"github.com/kasia/glutenfree-community/internal/service"
	"github.com/redis/go-redis/v9"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize database
	db, err := postgres.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	// Initialize repositories
	repos := postgres.NewRepositories(db)

	// Rate-limit store: shared Redis when configured, in-process otherwise.
	var limiter ratelimit.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		limiter = ratelimit.NewRedisStore(client)
	} else {
		limiter = ratelimit.NewMemoryStore(
			ratelimit.WithLimits(cfg.MaxAttempts, cfg.LockoutDuration),
		)
	}

	// Initialize services
	services := service.NewServices(repos, limiter, cfg)

	// Expired sessions are rejected on read; the sweep only bounds table
	// growth.
	stopSweep := startSessionSweep(repos.Session, cfg)
	defer close(stopSweep)

	// Initialize router
	router := api.NewRouter(services, cfg)

	// Create server
	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func startSessionSweep(sessions repository.SessionRepository, cfg *config.Config) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(time.Hour)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				now := time.Now()
				err := sessions.DeleteExpiredBefore(ctx, now.Add(-cfg.SessionMaxTTL), now.Add(-cfg.SessionIdleTTL))
				cancel()
				if err != nil {
					log.Printf("ERROR [main] session sweep failed: %v", err)
				}
			}
		}
	}()

	return stop
}
