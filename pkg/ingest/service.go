package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
	"github.com/matisarralde/finanzas-pwa/pkg/dedup"
)

// Service ties the mail-transport collaborator to the pipeline and exposes
// manual transaction entry sharing the same dedup path.
type Service struct {
	source   api.MessageSource
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewService creates an ingestion service.
func NewService(source api.MessageSource, pipeline *Pipeline, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:   source,
		pipeline: pipeline,
		logger:   logger,
	}
}

// Sync fetches one batch of messages from the mail transport, runs the
// pipeline over it, and returns the batch statistics plus the transport's
// resume cursor. The cursor is opaque; pass it back on the next call to
// resume where this batch ended.
func (s *Service) Sync(ctx context.Context, userID, cursor string) (api.SyncResult, error) {
	msgs, nextCursor, err := s.source.Fetch(ctx, cursor)
	if err != nil {
		return api.SyncResult{}, fmt.Errorf("fetching messages: %w", err)
	}

	stats, err := s.pipeline.Run(ctx, userID, msgs)
	result := api.SyncResult{BatchStats: stats, NextCursor: nextCursor}
	if err != nil {
		return result, err
	}
	return result, nil
}

// ManualEntry is the input for a manually entered transaction.
type ManualEntry struct {
	AccountID     int64
	Date          time.Time
	Amount        decimal.Decimal
	Currency      string
	Description   string
	Merchant      string
	CategoryID    *int64
	SubcategoryID *int64
	PaymentMethod string
}

// CreateManual persists a manually entered transaction. It fingerprints on
// the "manual" provider tag with the same digest algorithm as ingested
// transactions, so manual and ingested entries dedupe consistently within
// one user's transaction set.
func (s *Service) CreateManual(ctx context.Context, userID string, entry ManualEntry) (*api.Transaction, error) {
	currency := entry.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	txn := &api.Transaction{
		UserID:        userID,
		AccountID:     entry.AccountID,
		Date:          entry.Date,
		Amount:        entry.Amount,
		Currency:      currency,
		Description:   entry.Description,
		Merchant:      entry.Merchant,
		CategoryID:    entry.CategoryID,
		SubcategoryID: entry.SubcategoryID,
		PaymentMethod: entry.PaymentMethod,
		Source:        api.SourceManual,
		Fingerprint:   dedup.ManualFingerprint(entry.Date, entry.Amount, entry.Merchant),
	}

	if err := s.pipeline.store.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}

	s.logger.Info("created manual transaction", "user_id", userID, "amount", entry.Amount.String())
	return txn, nil
}
