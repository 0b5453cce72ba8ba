// Command finanzas runs the email transaction-ingestion daemon.
//
// Modes:
//
//	finanzas              periodic sync daemon (default)
//	finanzas -once        run a single sync batch and exit
//	finanzas -apply-rules apply the user's categorization rules and exit
//	finanzas -seed        seed default categories and exit
//	finanzas -export csv  export the user's transactions and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
	"github.com/matisarralde/finanzas-pwa/pkg/client"
	"github.com/matisarralde/finanzas-pwa/pkg/config"
	"github.com/matisarralde/finanzas-pwa/pkg/export"
	"github.com/matisarralde/finanzas-pwa/pkg/ingest"
	"github.com/matisarralde/finanzas-pwa/pkg/logging"
	"github.com/matisarralde/finanzas-pwa/pkg/provider"
	"github.com/matisarralde/finanzas-pwa/pkg/reader/gmail"
	"github.com/matisarralde/finanzas-pwa/pkg/rules"
	"github.com/matisarralde/finanzas-pwa/pkg/store/postgres"
)

func main() {
	once := flag.Bool("once", false, "run a single sync batch and exit")
	applyRules := flag.Bool("apply-rules", false, "apply categorization rules and exit")
	seed := flag.Bool("seed", false, "seed default categories and exit")
	exportFormat := flag.String("export", "", "export transactions (csv or json) and exit")
	exportOut := flag.String("out", "transactions.csv", "export output file")
	cursor := flag.String("cursor", "", "resume cursor from a previous sync")
	flag.Parse()

	logger := logging.Setup(logging.FromEnv())

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	store, err := postgres.New(ctx, postgres.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
	}, logger.With("component", "store"))
	if err != nil {
		logger.Error("failed to connect to store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if *seed {
		if err := store.SeedCategories(ctx); err != nil {
			logger.Error("failed to seed categories", "error", err)
			os.Exit(1)
		}
		logger.Info("categories seeded")
		return
	}

	if err := store.EnsureUser(ctx, cfg.UserID, cfg.UserEmail); err != nil {
		logger.Error("failed to ensure user", "error", err)
		os.Exit(1)
	}

	if *exportFormat != "" {
		format, err := export.ParseFormat(*exportFormat)
		if err != nil {
			logger.Error("invalid export format", "error", err)
			os.Exit(1)
		}
		txns, err := store.ListTransactions(ctx, cfg.UserID)
		if err != nil {
			logger.Error("failed to list transactions", "error", err)
			os.Exit(1)
		}
		if err := export.WriteFile(*exportOut, format, txns, logger.With("component", "export")); err != nil {
			logger.Error("export failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("exported %d transactions to %s\n", len(txns), *exportOut)
		return
	}

	if *applyRules {
		svc := rules.NewService(store, logger.With("component", "rules"))
		updated, err := svc.ApplyAll(ctx, cfg.UserID)
		if err != nil {
			logger.Error("failed to apply rules", "error", err)
			os.Exit(1)
		}
		fmt.Printf("updated %d transactions\n", updated)
		return
	}

	registry, err := provider.Load(cfg.ProvidersDir, logger.With("component", "providers"))
	if err != nil {
		logger.Error("failed to load provider configs", "error", err)
		os.Exit(1)
	}
	logger.Info("providers loaded", "count", registry.Len())

	httpClient, err := client.New(ctx, config.ClientSecretFile)
	if err != nil {
		logger.Error("failed to create oauth client", "error", err)
		os.Exit(1)
	}

	source, err := gmail.New(httpClient, gmail.Config{Query: cfg.GmailQuery}, logger.With("component", "gmail"))
	if err != nil {
		logger.Error("failed to create gmail source", "error", err)
		os.Exit(1)
	}

	pipeline := ingest.NewPipeline(registry, store, logger.With("component", "pipeline"))
	svc := ingest.NewService(source, pipeline, logger.With("component", "ingest"))

	if *once {
		result, err := svc.Sync(ctx, cfg.UserID, *cursor)
		if err != nil {
			logger.Error("sync failed", "error", err)
			os.Exit(1)
		}
		printResult(result)
		return
	}

	runDaemon(ctx, svc, cfg, logger)
}

// runDaemon syncs on an interval until the context is canceled, carrying
// the cursor from batch to batch so each run resumes where the previous
// one ended.
func runDaemon(ctx context.Context, svc *ingest.Service, cfg config.Config, logger *slog.Logger) {
	logger.Info("starting sync daemon", "interval", cfg.SyncInterval())

	ticker := time.NewTicker(cfg.SyncInterval())
	defer ticker.Stop()

	cursor := ""
	for {
		result, err := svc.Sync(ctx, cfg.UserID, cursor)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("daemon stopped", "reason", ctx.Err())
				return
			}
			logger.Error("sync failed", "error", err)
		} else {
			cursor = result.NextCursor
			logger.Info("sync complete",
				"processed", result.Processed,
				"created", result.Created,
				"duplicates", result.Duplicates,
				"failed", result.Failed,
			)
		}

		select {
		case <-ctx.Done():
			logger.Info("daemon stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

func printResult(result api.SyncResult) {
	fmt.Printf("processed=%d created=%d duplicates=%d failed=%d\n",
		result.Processed, result.Created, result.Duplicates, result.Failed)
	if result.NextCursor != "" {
		fmt.Printf("next cursor: %s\n", result.NextCursor)
	}
}
