// Package export writes a user's transactions to CSV or JSON files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat maps a format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// WriteFile writes the transactions to path in the given format. The file
// is replaced, not appended to.
func WriteFile(path string, format Format, txns []*api.Transaction, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening export file: %w", err)
	}
	defer file.Close()

	switch format {
	case FormatCSV:
		err = writeCSV(file, txns)
	case FormatJSON:
		err = writeJSON(file, txns)
	default:
		err = fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return err
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}

	logger.Info("exported transactions", "file", path, "format", string(format), "count", len(txns))
	return nil
}

func writeCSV(file *os.File, txns []*api.Transaction) error {
	w := csv.NewWriter(file)

	headers := []string{"Date", "Amount", "Currency", "Merchant", "Description", "PaymentMethod", "Source"}
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("writing csv headers: %w", err)
	}

	for _, t := range txns {
		record := []string{
			t.Date.Format(time.DateOnly),
			t.Amount.String(),
			t.Currency,
			t.Merchant,
			t.Description,
			t.PaymentMethod,
			string(t.Source),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// exportedTransaction is the JSON export shape. Amounts are rendered as
// strings so values round-trip without float loss.
type exportedTransaction struct {
	Date          string `json:"date"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Merchant      string `json:"merchant,omitempty"`
	Description   string `json:"description,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
	Source        string `json:"source"`
	CategoryID    *int64 `json:"category_id,omitempty"`
	SubcategoryID *int64 `json:"subcategory_id,omitempty"`
}

func writeJSON(file *os.File, txns []*api.Transaction) error {
	out := make([]exportedTransaction, 0, len(txns))
	for _, t := range txns {
		out = append(out, exportedTransaction{
			Date:          t.Date.Format(time.DateOnly),
			Amount:        t.Amount.String(),
			Currency:      t.Currency,
			Merchant:      t.Merchant,
			Description:   t.Description,
			PaymentMethod: t.PaymentMethod,
			Source:        string(t.Source),
			CategoryID:    t.CategoryID,
			SubcategoryID: t.SubcategoryID,
		})
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}
