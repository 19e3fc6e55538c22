package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/config"
	"sentinal-relay/internal/repository"
	"sentinal-relay/internal/services"
	"sentinal-relay/pkg/database"
)

const usage = `
Sentinal Relay - Database CLI Tool

Usage:
  migrate [flags] [command]

Commands:
  up          Apply pending migrations
  down        Revert all applied migrations
  status      Show connection and migration status
  seed-dev    Create dev users with key pairs and conversations, print tokens
  truncate    Truncate all tables (DANGEROUS)

Flags:
  -handles string   Comma separated handles for seed-dev (default "alice,bob,carol")
  -no-message       Skip the welcome message in seed-dev

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate -handles alice,bob seed-dev
  go run ./cmd/migrate status
`

func main() {
	handles := flag.String("handles", "alice,bob,carol", "Comma separated handles for seed-dev")
	noMessage := flag.Bool("no-message", false, "Skip the welcome message in seed-dev")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	command := flag.Arg(0)

	cfg := config.LoadConfig()
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch command {
	case "up":
		runMigrationsUp(ctx, db)
	case "down":
		runMigrationsDown(ctx, db)
	case "status":
		showStatus(ctx, db)
	case "seed-dev":
		runSeedDevelopment(ctx, db, cfg, splitHandles(*handles), !*noMessage)
	case "truncate":
		runTruncate(ctx, db)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func splitHandles(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func runMigrationsUp(ctx context.Context, db *sql.DB) {
	log.Println("🚀 Running migrations UP...")

	applied, err := database.MigrateUp(ctx, db)
	if err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	for _, v := range applied {
		log.Printf("   applied %s", v)
	}

	log.Printf("✅ Migrations completed successfully! (%d applied)", len(applied))
}

func runMigrationsDown(ctx context.Context, db *sql.DB) {
	log.Println("⬇️  Rolling back migrations...")

	reverted, err := database.MigrateDown(ctx, db)
	if err != nil {
		log.Fatalf("❌ Rollback failed: %v", err)
	}
	for _, v := range reverted {
		log.Printf("   reverted %s", v)
	}

	log.Println("✅ Rollback completed successfully!")
}

func showStatus(ctx context.Context, db *sql.DB) {
	log.Println("🔍 Checking database status...")

	if err := database.HealthCheck(ctx, db); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	statuses, err := database.Status(ctx, db)
	if err != nil {
		log.Fatalf("❌ Could not read migration status: %v", err)
	}
	for _, st := range statuses {
		if st.Applied {
			log.Printf("✅ Migration %-30s applied %s", st.Version, st.AppliedAt.Format(time.RFC3339))
		} else {
			log.Printf("⏳ Migration %-30s pending", st.Version)
		}
	}

	for _, table := range database.Tables {
		exists, err := database.TableExists(ctx, db, table)
		if err != nil {
			log.Printf("⚠️  Error checking table %s: %v", table, err)
			continue
		}
		if exists {
			count, _ := database.CountRows(ctx, db, table)
			log.Printf("✅ Table %-20s exists (%d rows)", table, count)
		} else {
			log.Printf("❌ Table %-20s does not exist", table)
		}
	}
}

func runSeedDevelopment(ctx context.Context, db *sql.DB, cfg *config.Config, handles []string, withMessage bool) {
	log.Println("🌱 Seeding database (development mode)...")

	users := repository.NewUserRepository(db)
	result, err := database.SeedDevelopment(ctx, database.Repositories{
		Users:         users,
		Conversations: repository.NewConversationRepository(db),
		Messages:      repository.NewMessageRepository(db),
	}, &database.SeedConfig{Handles: handles, WithKeys: true, WithMessage: withMessage})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	auth := services.NewAuthService(users, cfg)
	log.Println("📊 Seed Summary:")
	for _, u := range result.Users {
		token, _, err := auth.IssueAccessToken(u.ID, uuid.New())
		if err != nil {
			log.Fatalf("❌ Token for %s failed: %v", u.Handle, err)
		}
		fmt.Printf("%s\t%s\t%s\n", u.Handle, u.ID, token)
	}
	for _, c := range result.Conversations {
		log.Printf("   - Conversation %s (%s, %d participants)", c.ID, c.Type, len(c.Participants))
	}
	log.Printf("   - Messages: %d", len(result.Messages))
	log.Println("✅ Development seeding completed!")
}

func runTruncate(ctx context.Context, db *sql.DB) {
	log.Println("⚠️  WARNING: This will TRUNCATE all tables!")

	if err := database.Truncate(ctx, db); err != nil {
		log.Fatalf("❌ Truncate failed: %v", err)
	}

	log.Println("✅ All tables truncated!")
}
