package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/ridenow/ridenow-gobackend/internal/cache"
	"github.com/ridenow/ridenow-gobackend/internal/config"
	"github.com/ridenow/ridenow-gobackend/internal/db"
	"github.com/ridenow/ridenow-gobackend/internal/events"
	"github.com/ridenow/ridenow-gobackend/internal/handlers"
	"github.com/ridenow/ridenow-gobackend/internal/metrics"
	"github.com/ridenow/ridenow-gobackend/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the payments HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	gateway := services.NewPaystackClient(cfg.PaystackAPIKey, cfg.PaystackInitializeURL, cfg.PaystackVerifyURL, cfg.GatewayTimeout)
	verifier := services.NewSignatureVerifier(cfg.PaystackWebhookSecret)
	paymentService := services.NewPaymentService(store, gateway, verifier)

	if cfg.PaystackAPIKey == "" {
		log.Println("Warning: PAYSTACK_API_KEY not set, gateway calls will fail")
	}

	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Printf("Warning: webhook replay guard disabled: %v", err)
		} else {
			defer rdb.Close()
			paymentService.WithReplayGuard(cache.NewReplayGuard(rdb, cfg.WebhookReplayTTL))
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Printf("Error closing Kafka publisher: %v", err)
			}
		}()
		paymentService.WithEvents(publisher)
	}

	paymentHandler := handlers.NewPaymentHandler(paymentService)

	// Set up router
	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")
	paymentHandler.Register(router, handlers.RequireJWT([]byte(cfg.JWTSecret)))
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server running on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// openStore connects the payment store selected by STORE_DRIVER. The returned
// func releases its connections.
func openStore(ctx context.Context, cfg *config.Config) (services.PaymentStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return db.NewPostgresPaymentStore(pool), pool.Close, nil

	default:
		client, err := db.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				log.Printf("Error disconnecting from MongoDB: %v", err)
			}
		}

		store := db.NewMongoPaymentStore(client.Database(cfg.MongoDatabase))
		indexCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.EnsureIndexes(indexCtx); err != nil {
			log.Printf("Warning: %v", err)
		}
		return store, closeClient, nil
	}
}
