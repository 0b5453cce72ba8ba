// Package ingest orchestrates the transaction-ingestion pipeline: provider
// matching, field extraction, deduplication and persistence over one batch
// of raw messages.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
	"github.com/matisarralde/finanzas-pwa/pkg/dedup"
	"github.com/matisarralde/finanzas-pwa/pkg/extract"
	"github.com/matisarralde/finanzas-pwa/pkg/provider"
)

// defaultCurrency is assigned to ingested transactions and auto-created
// accounts. The source notifications carry CLP amounts.
const defaultCurrency = "CLP"

// Pipeline runs the ingestion steps over a batch of messages. Matching and
// extraction are pure; the only shared state is the immutable provider
// registry, so messages may be processed concurrently by multiple pipeline
// instances sharing one resolver and store.
type Pipeline struct {
	registry *provider.Registry
	store    api.Store
	accounts *AccountResolver
	logger   *slog.Logger

	// now stubs time.Now for tests.
	now func() time.Time
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(registry *provider.Registry, store api.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry: registry,
		store:    store,
		accounts: NewAccountResolver(store),
		logger:   logger,
		now:      time.Now,
	}
}

// Run processes one batch of messages for a user and returns the batch
// statistics. Every message is counted in Processed; messages that matched
// no provider or yielded no amount are counted nowhere else. Failures on
// individual messages never abort the batch. When the context is canceled
// the already-committed messages stay committed and Run returns the stats
// so far together with the context error.
func (p *Pipeline) Run(ctx context.Context, userID string, msgs []api.RawMessage) (api.BatchStats, error) {
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID, "user_id", userID)
	logger.Info("starting ingestion batch", "messages", len(msgs))

	var stats api.BatchStats
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			logger.Warn("batch abandoned", "processed", stats.Processed)
			return stats, err
		}

		stats.Processed++

		err := p.processMessage(ctx, userID, msg)
		switch {
		case err == nil:
			stats.Created++
		case errors.Is(err, api.ErrNoProvider), errors.Is(err, api.ErrNoAmount):
			logger.Debug("skipping message", "message_id", msg.ID, "reason", err)
		case errors.Is(err, api.ErrDuplicate):
			stats.Duplicates++
			logger.Debug("duplicate transaction", "message_id", msg.ID)
		default:
			stats.Failed++
			logger.Error("failed to process message", "message_id", msg.ID, "error", err)
		}
	}

	logger.Info("ingestion batch complete",
		"processed", stats.Processed,
		"created", stats.Created,
		"duplicates", stats.Duplicates,
		"failed", stats.Failed,
	)
	return stats, nil
}

// processMessage runs one message through match, extract, dedup, account
// resolution and persistence.
func (p *Pipeline) processMessage(ctx context.Context, userID string, msg api.RawMessage) error {
	cfg := p.registry.Match(msg.From, msg.Subject)
	if cfg == nil {
		return api.ErrNoProvider
	}

	ext, err := extract.Extract(msg, cfg)
	if err != nil {
		return err
	}

	// Resolve the transaction date before fingerprinting: absent dates
	// fall back to the message's received time, then to ingestion time.
	date := ext.Date
	if date.IsZero() {
		date = msg.ReceivedAt
	}
	if date.IsZero() {
		date = p.now()
	}

	fingerprint := dedup.Fingerprint(date, ext.Amount, ext.Merchant, ext.CardTail, ext.Provider)

	// Fast path. The unique index on the fingerprint column remains the
	// source of truth; a concurrent insert between this check and ours
	// surfaces as ErrDuplicate below.
	exists, err := p.store.FingerprintExists(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("checking fingerprint: %w", err)
	}
	if exists {
		return api.ErrDuplicate
	}

	account, err := p.accounts.Resolve(ctx, userID, ext.Provider)
	if err != nil {
		return err
	}

	txn := &api.Transaction{
		UserID:        userID,
		AccountID:     account.ID,
		Date:          date,
		Amount:        ext.Amount,
		Currency:      defaultCurrency,
		Description:   ext.Description,
		Merchant:      ext.Merchant,
		PaymentMethod: ext.CardTail,
		Source:        api.SourceEmail,
		Fingerprint:   fingerprint,
	}

	if err := p.store.InsertTransaction(ctx, txn); err != nil {
		if errors.Is(err, api.ErrDuplicate) {
			return api.ErrDuplicate
		}
		return fmt.Errorf("inserting transaction: %w", err)
	}

	p.logger.Info("created transaction",
		"message_id", msg.ID,
		"provider", ext.Provider,
		"amount", ext.Amount.String(),
	)
	return nil
}
