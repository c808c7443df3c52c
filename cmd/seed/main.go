// Package main provides a CLI tool for registering API clients.
// Usage: seed --client etl-loader --key <api-key> --role writer
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dougwmorrow/open-sc/internal/domain/auth"
	"github.com/dougwmorrow/open-sc/internal/infrastructure/storage/postgres"
	"github.com/dougwmorrow/open-sc/pkg/logger"
)

func main() {
	clientID := flag.String("client", "", "client identifier")
	apiKey := flag.String("key", "", "api key to hash and store")
	role := flag.String("role", "reader", "client role: admin, writer or reader")
	flag.Parse()

	if *clientID == "" || *apiKey == "" {
		fmt.Println("Error: --client and --key are required")
		flag.Usage()
		os.Exit(1)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Println("Error: DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	ctx := context.Background()
	log := logger.Default()

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txm := postgres.NewTxManager(pool)
	service := auth.NewService(auth.DefaultConfig(os.Getenv("JWT_SECRET")), postgres.NewClientRepo(txm))

	if err := service.Register(ctx, *clientID, *apiKey, auth.Role(*role)); err != nil {
		log.Fatalw("failed to register client", "client_id", *clientID, "error", err)
	}

	log.Infow("client registered", "client_id", *clientID, "role", *role)
}
