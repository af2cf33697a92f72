/**
 * @description
 * This is the main entry point for the payment-service. It is responsible for
 * initializing all components of the service, including configuration,
 * database connection, the panel API client, the message producer, the
 * repository, the core application service, the expiry scheduler, and the
 * HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/panelclient: Client for the VPN panel API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/vpnmarket/payment-service/internal/api"
	"github.com/vpnmarket/payment-service/internal/app"
	"github.com/vpnmarket/payment-service/internal/config"
	"github.com/vpnmarket/payment-service/internal/store"
	"github.com/vpnmarket/payment-service/pkg/panelclient"
	rmrabbit "github.com/vpnmarket/payment-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payment-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish notification events. The
	// service only publishes; a missing broker degrades to a no-op producer
	// rather than blocking payments.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the VPN panel API.
	panelClient := panelclient.NewClient(cfg.PanelAPIBaseURL, cfg.PanelAPIKey)

	// Redis backs the proof-submission rate limiter. Missing or unreachable
	// Redis disables limiting instead of blocking startup.
	var redisClient *redis.Client
	if cfg.SubmitRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; submission rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; submission rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; submission rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the engine components.
	assigner := app.NewVerifierAssigner(app.AssignerConfig{
		WeightOpen:          cfg.AssignWeightOpen,
		WeightResponse:      cfg.AssignWeightResponse,
		WeightRecency:       cfg.AssignWeightRecency,
		ResponseRefSeconds:  cfg.AssignResponseRefSeconds,
		RecencyCooldownSecs: cfg.AssignRecencyCooldownSecs,
	})
	provisioner := app.NewProvisioningCoordinator(
		repository,
		panelClient,
		producer,
		cfg.NotifyExchange,
		cfg.ProvisionMaxAttempts,
		time.Duration(cfg.ProvisionRetryBackoffMillis)*time.Millisecond,
	)
	metrics := app.NewMetricsAggregator(repository)

	var limiter app.RateLimiter
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	paymentService := app.NewService(repository, assigner, provisioner, metrics, producer, limiter, app.ServiceConfig{
		PaymentWindow:    time.Duration(cfg.PaymentWindowMinutes) * time.Minute,
		SubmitRateLimit:  cfg.SubmitRateLimitPerMinute,
		SubmitRateWindow: time.Minute,
		NotifyExchange:   cfg.NotifyExchange,
	})

	// Start the recurring payment-window expiry scan.
	monitor := app.NewTimeoutMonitor(paymentService, cfg.ExpiryScanSchedule, cfg.ExpiryScanBatch)
	if err := monitor.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"expiry scheduler start failed\" err=%v", err)
	}

	// Initialize the API handlers and router.
	orderHandlers := api.NewOrderHandlers(paymentService)
	router := chi.NewRouter()
	router.Mount("/payments", api.OrderRoutes(orderHandlers, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	// Let in-flight expiry scans finish before exiting.
	select {
	case <-monitor.Stop().Done():
	case <-ctx.Done():
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
