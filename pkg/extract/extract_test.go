package extract

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
	"github.com/matisarralde/finanzas-pwa/pkg/provider"
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile("(?i)"+p))
	}
	return out
}

func bancoConfig() *provider.Config {
	return &provider.Config{
		Name:     "banco_cl",
		Amount:   compileAll(`Monto:\s*\$\s*([\d.,]+)`, `por\s*\$\s*([\d.,]+)`),
		Date:     compileAll(`el d[ií]a (\d{2}/\d{2}/\d{4})`, `(\d{4}-\d{2}-\d{2})`),
		Merchant: compileAll(`en ([A-Z0-9][^\n.]{2,60}?) el`),
		Card:     []*regexp.Regexp{regexp.MustCompile(`\*{4}\s*(\d{4})`)},
	}
}

func TestExtract_AmountNormalization(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "thousands separator stripped",
			body: "Monto: $15.990",
			want: "15990",
		},
		{
			name: "decimal comma converted",
			body: "Monto: $1.234,56",
			want: "1234.56",
		},
		{
			name: "plain integer",
			body: "Monto: $500",
			want: "500",
		},
		{
			name: "second pattern used when first misses",
			body: "Compra por $2.500 aprobada",
			want: "2500",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := api.RawMessage{Subject: "Compra aprobada", Body: tc.body}
			ext, err := Extract(msg, bancoConfig())
			if err != nil {
				t.Fatalf("extract failed: %v", err)
			}
			if got := ext.Amount.String(); got != tc.want {
				t.Errorf("amount: got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestExtract_NoAmountFails(t *testing.T) {
	msg := api.RawMessage{
		Subject: "Estado de cuenta disponible",
		Body:    "Su estado de cuenta ya se encuentra disponible.",
	}

	_, err := Extract(msg, bancoConfig())
	if !errors.Is(err, api.ErrNoAmount) {
		t.Errorf("expected ErrNoAmount, got %v", err)
	}
}

func TestExtract_ZeroAmountFails(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"plain zero", "Monto: $0"},
		{"zero with separators", "Monto: $0,00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := api.RawMessage{Subject: "Compra aprobada", Body: tc.body}
			_, err := Extract(msg, bancoConfig())
			if !errors.Is(err, api.ErrNoAmount) {
				t.Errorf("expected ErrNoAmount for a zero capture, got %v", err)
			}
		})
	}
}

func TestExtract_ZeroCaptureDoesNotFallThrough(t *testing.T) {
	// The first pattern that yields a parseable numeral settles the
	// amount; a zero there fails the message even when a later pattern
	// would capture a real value.
	msg := api.RawMessage{
		Subject: "Compra aprobada",
		Body:    "Monto: $0 por $2.500",
	}

	_, err := Extract(msg, bancoConfig())
	if !errors.Is(err, api.ErrNoAmount) {
		t.Errorf("expected ErrNoAmount, got %v", err)
	}
}

func TestExtract_UnparseableCaptureFallsThrough(t *testing.T) {
	cfg := &provider.Config{
		Name: "banco_cl",
		Amount: compileAll(
			`Monto:\s*([\d.,]+|pendiente)`, // may capture a non-numeral
			`Total:\s*\$([\d.,]+)`,
		),
	}

	msg := api.RawMessage{Body: "Monto: pendiente\nTotal: $9.990"}
	ext, err := Extract(msg, cfg)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if got := ext.Amount.String(); got != "9990" {
		t.Errorf("amount: got %s, want 9990", got)
	}
}

func TestExtract_DateFormats(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Time
	}{
		{
			name: "slash day-first",
			body: "Monto: $100 el día 05/03/2025",
			want: time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "iso",
			body: "Monto: $100 fecha 2025-03-05",
			want: time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "no date is not a failure",
			body: "Monto: $100",
			want: time.Time{},
		},
		{
			name: "unparseable date stays absent",
			body: "Monto: $100 el día 45/99/2025",
			want: time.Time{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := api.RawMessage{Body: tc.body}
			ext, err := Extract(msg, bancoConfig())
			if err != nil {
				t.Fatalf("extract failed: %v", err)
			}
			if !ext.Date.Equal(tc.want) {
				t.Errorf("date: got %v, want %v", ext.Date, tc.want)
			}
		})
	}
}

func TestExtract_DashSeparatedDate(t *testing.T) {
	cfg := &provider.Config{
		Name:   "banco_cl",
		Amount: compileAll(`\$([\d.,]+)`),
		Date:   compileAll(`(\d{2}-\d{2}-\d{4})`),
	}

	msg := api.RawMessage{Body: "Cargo de $300 registrado el 25-12-2024"}
	ext, err := Extract(msg, cfg)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	want := time.Date(2024, time.December, 25, 0, 0, 0, 0, time.UTC)
	if !ext.Date.Equal(want) {
		t.Errorf("date: got %v, want %v", ext.Date, want)
	}
}

func TestExtract_MerchantAndCardTail(t *testing.T) {
	msg := api.RawMessage{
		Subject: "Compra aprobada",
		Body:    "Monto: $15.990 en UBER TRIP el día 05/03/2025 con tarjeta **** 1234",
	}

	ext, err := Extract(msg, bancoConfig())
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if ext.Merchant != "UBER TRIP" {
		t.Errorf("merchant: got %q, want %q", ext.Merchant, "UBER TRIP")
	}
	if ext.CardTail != "1234" {
		t.Errorf("card tail: got %q, want %q", ext.CardTail, "1234")
	}
	if ext.Provider != "banco_cl" {
		t.Errorf("provider: got %q, want %q", ext.Provider, "banco_cl")
	}
}

func TestExtract_OptionalFieldsAbsent(t *testing.T) {
	msg := api.RawMessage{Subject: "Compra", Body: "Monto: $100"}

	ext, err := Extract(msg, bancoConfig())
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if ext.Merchant != "" || ext.CardTail != "" {
		t.Errorf("optional fields should be empty, got merchant=%q card=%q", ext.Merchant, ext.CardTail)
	}
}

func TestExtract_DescriptionTruncation(t *testing.T) {
	subject := strings.Repeat("compra ", 40) // 280 chars
	msg := api.RawMessage{Subject: subject, Body: "Monto: $100"}

	ext, err := Extract(msg, bancoConfig())
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if got := len([]rune(ext.Description)); got != 200 {
		t.Errorf("description length: got %d, want 200", got)
	}
	if !strings.HasPrefix(subject, ext.Description) {
		t.Error("description is not a prefix of the subject")
	}
}

func TestExtract_SubjectIsPartOfSearchText(t *testing.T) {
	msg := api.RawMessage{
		Subject: "Compra por $4.990 aprobada",
		Body:    "Detalle disponible en la app.",
	}

	ext, err := Extract(msg, bancoConfig())
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if got := ext.Amount.String(); got != "4990" {
		t.Errorf("amount: got %s, want 4990", got)
	}
}
