// Package main applies database migrations and exits.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dougwmorrow/open-sc/internal/infrastructure/storage/postgres"
	"github.com/dougwmorrow/open-sc/pkg/logger"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Println("Error: DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	ctx := context.Background()
	log := logger.Default()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		log.Fatalw("migration failed", "error", err)
	}

	log.Info("migrations applied")
}
