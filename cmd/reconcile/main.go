// reconcile audits cached user balances against the ledger and optionally
// rewrites drifted counters from the authoritative sums.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"bloom/internal/repository/postgres"
	"bloom/pkg/config"
)

func main() {
	_ = godotenv.Load()

	fix := flag.Bool("fix", false, "rewrite drifted cached balances from ledger sums")
	limit := flag.Int("limit", 1000, "maximum users to scan per run")
	flag.Parse()

	cfg := config.Load()
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	ledgerRepo := postgres.NewLedgerRepository(db)

	drifts, err := ledgerRepo.FindDriftedBalances(ctx, *limit)
	if err != nil {
		log.Fatalf("Failed to scan balances: %v", err)
	}
	if len(drifts) == 0 {
		log.Println("All cached balances match the ledger")
		return
	}

	for _, d := range drifts {
		log.Printf("drift user=%s cached=%s ledger=%s",
			d.UserID, d.CachedValue.String(), d.LedgerValue.String())

		if !*fix {
			continue
		}

		// The earned counter is left alone; only the balance is repaired.
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			log.Fatalf("Failed to begin transaction: %v", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET token_balance = $1, updated_at = NOW() WHERE id = $2`,
			d.LedgerValue, d.UserID)
		if err == nil {
			err = tx.Commit()
		} else {
			_ = tx.Rollback()
		}
		if err != nil {
			log.Fatalf("Failed to repair user %s: %v", d.UserID, err)
		}
		log.Printf("repaired user=%s balance=%s", d.UserID, d.LedgerValue.String())
	}

	if *fix {
		log.Printf("Repaired %d drifted balances", len(drifts))
	} else {
		log.Printf("Found %d drifted balances (run with -fix to repair)", len(drifts))
	}
}
