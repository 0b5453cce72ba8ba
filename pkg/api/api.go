// Package api defines the core types and collaborator interfaces for finanzas.
package api

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionSource identifies how a transaction entered the system.
type TransactionSource string

const (
	SourceEmail  TransactionSource = "email"
	SourceManual TransactionSource = "manual"
	SourceImport TransactionSource = "import"
)

// RawMessage is one inbound notification email as delivered by the
// mail-transport collaborator. It is consumed read-only.
type RawMessage struct {
	ID         string
	Subject    string
	Body       string
	From       string
	ReceivedAt time.Time
}

// Extracted holds the fields pulled out of a matched message. It is
// transient: the pipeline owns it until the transaction is persisted.
type Extracted struct {
	Amount decimal.Decimal
	// Date is the transaction date parsed from the message. The zero value
	// means no date could be extracted; the pipeline substitutes the
	// message's received time before fingerprinting.
	Date        time.Time
	Merchant    string
	CardTail    string
	Provider    string
	Description string
}

// Transaction is the persisted transaction shape at the storage boundary.
type Transaction struct {
	ID            int64
	UserID        string
	AccountID     int64
	Date          time.Time
	Amount        decimal.Decimal
	Currency      string
	Description   string
	Merchant      string
	CategoryID    *int64
	SubcategoryID *int64
	PaymentMethod string
	Source        TransactionSource
	// Fingerprint is the dedup digest. It carries a unique index in the
	// store; that constraint is the authoritative deduplication mechanism.
	Fingerprint string
	CreatedAt   time.Time
}

// Account is a per-(user, institution) container for transactions.
// Accounts are auto-provisioned on first sight of a provider.
type Account struct {
	ID          int64
	UserID      string
	Name        string
	Institution string
	Type        string
	Currency    string
	CreatedAt   time.Time
}

// RuleField names a transaction field a categorization rule can match on.
type RuleField string

const (
	FieldMerchant    RuleField = "merchant"
	FieldDescription RuleField = "description"
	FieldAmount      RuleField = "amount"
)

// RuleAction names what a matching rule does to a transaction.
type RuleAction string

const (
	ActionSetCategory    RuleAction = "set_category"
	ActionSetSubcategory RuleAction = "set_subcategory"
)

// Rule is a user-owned categorization rule. Higher priority evaluates
// first; rules with equal priority keep creation order.
type Rule struct {
	ID        int64
	UserID    string
	Pattern   string
	Field     RuleField
	Action    RuleAction
	Value     string
	Priority  int
	CreatedAt time.Time
}

// Category is a spending category. Global categories have an empty UserID.
type Category struct {
	ID       int64
	UserID   string
	Name     string
	ParentID *int64
}

// BatchStats accounts for every message of one pipeline run. Messages that
// matched no provider or yielded no amount are counted only in Processed.
type BatchStats struct {
	Processed  int `json:"processed"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// SyncResult is the outcome of one sync invocation against the mail source.
type SyncResult struct {
	BatchStats
	// NextCursor is an opaque resume token interpreted by the mail
	// transport. Empty when the transport provides none.
	NextCursor string `json:"next_cursor,omitempty"`
}

// MessageSource supplies bounded batches of raw messages. The cursor is
// opaque to callers; pass the previous NextCursor to resume.
type MessageSource interface {
	Fetch(ctx context.Context, cursor string) ([]RawMessage, string, error)
}

// Store is the persistence collaborator for the ingestion pipeline and the
// rule engine.
type Store interface {
	// InsertTransaction persists a transaction. It returns ErrDuplicate
	// when the fingerprint already exists.
	InsertTransaction(ctx context.Context, txn *Transaction) error
	// FingerprintExists reports whether a fingerprint is already stored.
	// This is a fast path only; InsertTransaction remains the authority.
	FingerprintExists(ctx context.Context, fingerprint string) (bool, error)
	// GetOrCreateAccount returns the account for (user, institution),
	// creating it on first sight. Safe under concurrent resolution.
	GetOrCreateAccount(ctx context.Context, userID, institution string) (*Account, error)

	ListRules(ctx context.Context, userID string) ([]Rule, error)
	ListTransactions(ctx context.Context, userID string) ([]*Transaction, error)
	UpdateTransactionCategory(ctx context.Context, txnID int64, categoryID, subcategoryID *int64) error
}
