// Command seed loads the canonical transaction CSV into the transactions
// table so the stream sampler can serve from the database.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./cmd/seed data/transactions.csv
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/fraudsight/fraudsight/internal/dataset"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: seed <transactions.csv>")
		os.Exit(1)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	rows, err := dataset.LoadCSV(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to load CSV: %v", err)
	}

	if err := dataset.InsertPostgres(context.Background(), db, rows); err != nil {
		log.Fatalf("Failed to insert transactions: %v", err)
	}

	log.Printf("Seeded %d transactions", len(rows))
}
