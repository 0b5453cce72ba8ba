// Package rules applies user-defined, priority-ordered categorization
// rules to transactions.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
)

// fieldAccessors maps each allowed rule field to its typed extraction
// function. Unknown fields are rejected when the rule is created, never
// silently skipped at evaluation time.
var fieldAccessors = map[api.RuleField]func(*api.Transaction) string{
	api.FieldMerchant:    func(t *api.Transaction) string { return t.Merchant },
	api.FieldDescription: func(t *api.Transaction) string { return t.Description },
	api.FieldAmount:      func(t *api.Transaction) string { return t.Amount.String() },
}

// Validate checks a rule at creation time: the pattern must compile, the
// field must be one of the enumerated set, the action must be known, and
// the value must be a category id.
func Validate(rule api.Rule) error {
	if _, err := regexp.Compile(rule.Pattern); err != nil {
		return fmt.Errorf("invalid rule pattern %q: %w", rule.Pattern, err)
	}
	if _, ok := fieldAccessors[rule.Field]; !ok {
		return fmt.Errorf("unknown rule field %q", rule.Field)
	}
	switch rule.Action {
	case api.ActionSetCategory, api.ActionSetSubcategory:
	default:
		return fmt.Errorf("unknown rule action %q", rule.Action)
	}
	if _, err := strconv.ParseInt(rule.Value, 10, 64); err != nil {
		return fmt.Errorf("rule value %q is not a category id: %w", rule.Value, err)
	}
	return nil
}

// Engine evaluates categorization rules against transactions.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a rule engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Apply evaluates rules against each transaction and mutates the matching
// ones in place, returning the transactions that changed.
//
// Rules are ordered by descending priority; equal priorities keep their
// original (creation) order. For each transaction only the first matching
// rule takes effect. A rule never matches a transaction whose target field
// is empty. Re-running with unchanged rules and data reassigns the same
// values, so the operation is idempotent.
func (e *Engine) Apply(ruleSet []api.Rule, txns []*api.Transaction) []*api.Transaction {
	ordered := make([]api.Rule, len(ruleSet))
	copy(ordered, ruleSet)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	compiled := make([]*regexp.Regexp, len(ordered))
	for i, rule := range ordered {
		// Validate rejects bad patterns and fields at creation; a stored
		// rule that no longer passes is skipped rather than failing the
		// batch.
		if _, ok := fieldAccessors[rule.Field]; !ok {
			e.logger.Warn("skipping rule with unknown field", "rule_id", rule.ID, "field", string(rule.Field))
			continue
		}
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			e.logger.Warn("skipping rule with invalid pattern", "rule_id", rule.ID, "pattern", rule.Pattern)
			continue
		}
		compiled[i] = re
	}

	var changed []*api.Transaction
	for _, txn := range txns {
		for i, rule := range ordered {
			if compiled[i] == nil {
				continue
			}

			value := fieldAccessors[rule.Field](txn)
			if value == "" || !compiled[i].MatchString(value) {
				continue
			}

			if e.applyAction(txn, rule) {
				changed = append(changed, txn)
			}
			break
		}
	}

	return changed
}

func (e *Engine) applyAction(txn *api.Transaction, rule api.Rule) bool {
	id, err := strconv.ParseInt(rule.Value, 10, 64)
	if err != nil {
		e.logger.Warn("skipping rule with non-numeric value", "rule_id", rule.ID, "value", rule.Value)
		return false
	}

	switch rule.Action {
	case api.ActionSetCategory:
		txn.CategoryID = &id
	case api.ActionSetSubcategory:
		txn.SubcategoryID = &id
	default:
		return false
	}
	return true
}

// Service loads rules and transactions from the store, applies them, and
// persists the resulting category assignments.
type Service struct {
	store  api.Store
	engine *Engine
	logger *slog.Logger
}

// NewService creates a rule application service.
func NewService(store api.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		engine: NewEngine(logger),
		logger: logger,
	}
}

// ApplyAll re-scans every transaction of the user against the user's rules
// and returns the number of transactions updated. Partial application on
// failure is safe: re-running resumes and converges to the same result.
func (s *Service) ApplyAll(ctx context.Context, userID string) (int, error) {
	ruleSet, err := s.store.ListRules(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("listing rules: %w", err)
	}

	txns, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("listing transactions: %w", err)
	}

	changed := s.engine.Apply(ruleSet, txns)

	updated := 0
	for _, txn := range changed {
		if err := s.store.UpdateTransactionCategory(ctx, txn.ID, txn.CategoryID, txn.SubcategoryID); err != nil {
			return updated, fmt.Errorf("updating transaction %d: %w", txn.ID, err)
		}
		updated++
	}

	s.logger.Info("applied rules", "user_id", userID, "rules", len(ruleSet), "updated", updated)
	return updated, nil
}
