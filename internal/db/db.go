package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridenow/ridenow-gobackend/internal/models"
)

const (
	UserPayments      = "user_payments"
	DriverPayments    = "driver_payments"
	PaymentReferences = "payment_references"
)

// partitions maps a payer kind to its collection/table and payer column.
var partitions = map[models.PayerKind]struct {
	name     string
	payerCol string
}{
	models.PayerUser:   {UserPayments, "user_id"},
	models.PayerDriver: {DriverPayments, "driver_id"},
}

func partitionOf(kind models.PayerKind) (name, payerCol string, err error) {
	p, ok := partitions[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown payer kind %q", kind)
	}
	return p.name, p.payerCol, nil
}

// Connect opens a MongoDB client and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Println("Connected to MongoDB!")
	return client, nil
}

// NewPostgresPool creates a pgx pool sized for request traffic and checks it.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB config: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Connected to PostgreSQL!")
	return pool, nil
}
