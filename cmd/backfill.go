package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mreyes/tradereflect/internal/exchange"
	"github.com/mreyes/tradereflect/internal/ingest"
	"github.com/mreyes/tradereflect/internal/storage"
	"github.com/mreyes/tradereflect/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "One-shot historical fill import for a single account",
	Long: `Fetches and persists an account's fills over a historical window,
without starting the service. Already-known fills are skipped, so the
command is safe to re-run. No review deadlines are armed for imported
fills.`,
	RunE: runBackfill,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(backfillCmd)
	backfillCmd.Flags().StringP("account", "a", "", "Account ID to backfill (required)")
	backfillCmd.Flags().IntP("hours", "H", 24, "How many hours back to import")
	_ = backfillCmd.MarkFlagRequired("account")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	// Load .env if present; real env vars take precedence.
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	accountID, _ := cmd.Flags().GetString("account")
	hours, _ := cmd.Flags().GetInt("hours")
	if hours <= 0 {
		return fmt.Errorf("hours must be positive, got %d", hours)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx := context.Background()

	account, err := store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if account == nil {
		return fmt.Errorf("account %q is not registered", accountID)
	}

	gateway := exchange.NewClient(&exchange.ClientConfig{
		BaseURL:        cfg.BinanceBaseURL,
		Timeout:        cfg.BinanceHTTPTimeout,
		SymbolCacheTTL: cfg.SymbolCacheTTL,
		Logger:         logger,
	})

	poller := ingest.New(&ingest.Config{
		Accounts: store,
		Fills:    store,
		Gateway:  gateway,
		Logger:   logger,
	})

	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	fmt.Printf("Backfilling account %s from %s to %s...\n",
		accountID, start.Format(time.RFC3339), end.Format(time.RFC3339))

	imported, err := poller.PollAccountOnce(ctx, *account, start, end)
	if err != nil {
		return fmt.Errorf("backfill account: %w", err)
	}

	fmt.Printf("Done: %d new fills imported.\n", imported)

	return nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.StorageMode {
	case "postgres":
		return storage.NewPostgresStore(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
	case "sqlite":
		return storage.NewSQLiteStore(cfg.SQLitePath, logger)
	default:
		return storage.NewMemoryStore(logger), nil
	}
}
