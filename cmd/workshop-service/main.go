package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autoshop/workshop-service/internal/config"
	"autoshop/workshop-service/internal/httpapi"
	"autoshop/workshop-service/internal/models"
	"autoshop/workshop-service/internal/relay"
	"autoshop/workshop-service/internal/store"
	"autoshop/workshop-service/internal/store/postgres"
	"autoshop/workshop-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	shutdownTelemetry := telemetry.Setup("workshop-service", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			log.Printf("telemetry shutdown error: %v", err)
		}
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	workshopStore := postgres.NewStore(pool, postgres.Options{
		CommissionRates: store.CommissionRates{
			models.RoleMechanic: cfg.MechanicCommissionPercent,
			models.RoleBodywork: cfg.BodyworkCommissionPercent,
		},
	})
	handler := httpapi.NewHandler(workshopStore)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		WorkerPerMinute: cfg.WorkerRateLimitPerMinute,
		WorkerBurst:     cfg.WorkerRateLimitBurst,
	})

	chain := httpapi.LoggingMiddleware(handler.Routes())
	chain = httpapi.AuthMiddleware(workshopStore, chain)
	chain = limiter.Middleware(chain)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(chain, "workshop-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("workshop-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		if cfg.RedisURL == "" || cfg.RelayInterval <= 0 {
			return
		}
		publisher, err := relay.NewRedisPublisher(cfg.RedisURL)
		if err != nil {
			log.Printf("redis connect: %v", err)
			return
		}
		defer publisher.Close()

		eventRelay := relay.New(workshopStore, publisher, relay.Config{
			Channel:   cfg.RelayChannel,
			BatchSize: cfg.RelayBatchSize,
		})
		ticker := time.NewTicker(cfg.RelayInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			count, err := eventRelay.Run(ctx)
			cancel()
			if err != nil {
				log.Printf("event relay error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("event relay published %d events", count)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
