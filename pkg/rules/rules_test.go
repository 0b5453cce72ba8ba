package rules

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
)

func txn(id int64, merchant, description string) *api.Transaction {
	return &api.Transaction{
		ID:          id,
		Merchant:    merchant,
		Description: description,
		Amount:      decimal.NewFromInt(1000),
	}
}

func rule(pattern string, field api.RuleField, value string, priority int) api.Rule {
	return api.Rule{
		Pattern:  pattern,
		Field:    field,
		Action:   api.ActionSetCategory,
		Value:    value,
		Priority: priority,
	}
}

func TestValidate(t *testing.T) {
	valid := rule("uber", api.FieldMerchant, "5", 10)
	require.NoError(t, Validate(valid))

	tests := []struct {
		name   string
		mutate func(*api.Rule)
	}{
		{"bad pattern", func(r *api.Rule) { r.Pattern = "([" }},
		{"unknown field", func(r *api.Rule) { r.Field = "payment_method" }},
		{"unknown action", func(r *api.Rule) { r.Action = "delete" }},
		{"non-numeric value", func(r *api.Rule) { r.Value = "groceries" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			assert.Error(t, Validate(r))
		})
	}
}

func TestApply_FirstMatchWins(t *testing.T) {
	ruleSet := []api.Rule{
		rule("uber", api.FieldMerchant, "5", 10),
		rule("u.*", api.FieldMerchant, "9", 5),
	}
	txns := []*api.Transaction{txn(1, "Uber Trip", "")}

	engine := NewEngine(nil)
	changed := engine.Apply(ruleSet, txns)

	require.Len(t, changed, 1)
	require.NotNil(t, txns[0].CategoryID)
	// The priority-10 rule wins even though both patterns match.
	assert.Equal(t, int64(5), *txns[0].CategoryID)
}

func TestApply_PriorityTieKeepsCreationOrder(t *testing.T) {
	ruleSet := []api.Rule{
		rule("trip", api.FieldMerchant, "1", 5),
		rule("uber", api.FieldMerchant, "2", 5),
	}
	txns := []*api.Transaction{txn(1, "Uber Trip", "")}

	NewEngine(nil).Apply(ruleSet, txns)

	require.NotNil(t, txns[0].CategoryID)
	assert.Equal(t, int64(1), *txns[0].CategoryID)
}

func TestApply_CaseInsensitiveSearch(t *testing.T) {
	ruleSet := []api.Rule{rule("NETFLIX", api.FieldDescription, "7", 0)}
	txns := []*api.Transaction{txn(1, "", "Cargo netflix.com mensual")}

	changed := NewEngine(nil).Apply(ruleSet, txns)
	require.Len(t, changed, 1)
}

func TestApply_EmptyFieldNeverMatches(t *testing.T) {
	// ".*" matches the empty string, but a rule never fires on a
	// transaction whose target field is absent.
	ruleSet := []api.Rule{rule(".*", api.FieldMerchant, "3", 0)}
	txns := []*api.Transaction{txn(1, "", "some description")}

	changed := NewEngine(nil).Apply(ruleSet, txns)
	assert.Empty(t, changed)
	assert.Nil(t, txns[0].CategoryID)
}

func TestApply_UnknownFieldIsSkipped(t *testing.T) {
	// A rule row with a field outside the enumerated set can exist in the
	// store (inserted past CreateRule, or orphaned by a schema change).
	// It must be skipped like a non-compiling pattern, not crash the
	// batch, and lower-priority valid rules still apply.
	ruleSet := []api.Rule{
		rule("uber", "payment_method", "9", 10),
		rule("uber", api.FieldMerchant, "5", 1),
	}
	txns := []*api.Transaction{txn(1, "Uber Trip", "")}

	changed := NewEngine(nil).Apply(ruleSet, txns)

	require.Len(t, changed, 1)
	require.NotNil(t, txns[0].CategoryID)
	assert.Equal(t, int64(5), *txns[0].CategoryID)
}

func TestApply_AmountField(t *testing.T) {
	ruleSet := []api.Rule{rule(`^50000$`, api.FieldAmount, "4", 0)}
	txns := []*api.Transaction{
		{ID: 1, Amount: decimal.NewFromInt(50000)},
		{ID: 2, Amount: decimal.NewFromInt(49999)},
	}

	changed := NewEngine(nil).Apply(ruleSet, txns)
	require.Len(t, changed, 1)
	assert.Equal(t, int64(1), changed[0].ID)
}

func TestApply_SubcategoryAction(t *testing.T) {
	ruleSet := []api.Rule{{
		Pattern:  "uber",
		Field:    api.FieldMerchant,
		Action:   api.ActionSetSubcategory,
		Value:    "12",
		Priority: 0,
	}}
	txns := []*api.Transaction{txn(1, "UBER EATS", "")}

	NewEngine(nil).Apply(ruleSet, txns)

	assert.Nil(t, txns[0].CategoryID)
	require.NotNil(t, txns[0].SubcategoryID)
	assert.Equal(t, int64(12), *txns[0].SubcategoryID)
}

func TestApply_PerTransactionIndependence(t *testing.T) {
	ruleSet := []api.Rule{
		rule("uber", api.FieldMerchant, "5", 10),
		rule("lider", api.FieldMerchant, "2", 1),
	}
	txns := []*api.Transaction{
		txn(1, "Uber Trip", ""),
		txn(2, "LIDER SUPERMERCADO", ""),
		txn(3, "FARMACIA", ""),
	}

	changed := NewEngine(nil).Apply(ruleSet, txns)

	require.Len(t, changed, 2)
	assert.Equal(t, int64(5), *txns[0].CategoryID)
	assert.Equal(t, int64(2), *txns[1].CategoryID)
	assert.Nil(t, txns[2].CategoryID)
}

// ruleStore is an in-memory api.Store for service tests.
type ruleStore struct {
	api.Store
	rules   []api.Rule
	txns    []*api.Transaction
	updates int
}

func (s *ruleStore) ListRules(ctx context.Context, userID string) ([]api.Rule, error) {
	return s.rules, nil
}

func (s *ruleStore) ListTransactions(ctx context.Context, userID string) ([]*api.Transaction, error) {
	return s.txns, nil
}

func (s *ruleStore) UpdateTransactionCategory(ctx context.Context, txnID int64, categoryID, subcategoryID *int64) error {
	s.updates++
	return nil
}

func TestServiceApplyAll_Idempotent(t *testing.T) {
	store := &ruleStore{
		rules: []api.Rule{rule("uber", api.FieldMerchant, "5", 10)},
		txns:  []*api.Transaction{txn(1, "Uber Trip", ""), txn(2, "JUMBO", "")},
	}
	svc := NewService(store, nil)

	updated, err := svc.ApplyAll(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	// Re-running reassigns the same value: same count, not a doubled one.
	updated, err = svc.ApplyAll(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
}
