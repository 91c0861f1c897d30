// migrate applies the embedded schema migrations to DATABASE_URL.
// Run: go run ./cmd/migrate
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/infrastructure/postgres"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, dbURL, postgres.WithMaxConns(2))
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	applied, err := postgres.Migrate(ctx, pool)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if len(applied) == 0 {
		log.Println("schema is up to date")
		return
	}
	for _, name := range applied {
		log.Printf("applied %s", name)
	}
}
