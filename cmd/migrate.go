package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/ridenow/ridenow-gobackend/internal/config"
	"github.com/ridenow/ridenow-gobackend/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Prepare the payment store schema",
	Long: `Prepare the payment store selected by STORE_DRIVER.

For postgres the embedded goose migrations are applied.
For mongo the reference and listing indexes are created.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.StoreDriver == config.StorePostgres {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		log.Println("Postgres migrations applied")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := db.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	if err := db.NewMongoPaymentStore(client.Database(cfg.MongoDatabase)).EnsureIndexes(ctx); err != nil {
		return err
	}
	log.Println("MongoDB indexes created")
	return nil
}
