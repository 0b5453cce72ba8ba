// Package provider holds the declarative per-bank notification patterns and
// selects the provider responsible for an inbound message.
//
// Each provider is one YAML file with six ordered pattern lists. The lists
// are evaluated in declared order with first-match-wins semantics; that
// ordering is part of the configuration contract.
package provider

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// configFile is the on-disk YAML shape of one provider.
type configFile struct {
	SenderPatterns   []string `yaml:"sender_patterns"`
	SubjectPatterns  []string `yaml:"subject_patterns"`
	AmountPatterns   []string `yaml:"amount_patterns"`
	DatePatterns     []string `yaml:"date_patterns"`
	MerchantPatterns []string `yaml:"merchant_patterns"`
	CardPatterns     []string `yaml:"card_patterns"`
}

// Config is one provider's compiled pattern set. Configs are built once at
// load time and never mutated afterwards.
type Config struct {
	Name string

	// Sender patterns run against the lower-cased sender address.
	Sender []*regexp.Regexp
	// Subject patterns are optional: an empty list matches any subject.
	Subject []*regexp.Regexp

	Amount   []*regexp.Regexp
	Date     []*regexp.Regexp
	Merchant []*regexp.Regexp
	Card     []*regexp.Regexp
}

// Registry is the immutable set of loaded providers, kept in file-name
// order. That order is the documented tie-break when more than one
// provider's sender patterns could match the same address.
type Registry struct {
	providers []*Config
}

// Load reads every *.yaml/*.yml file in dir into a Registry. A missing
// directory yields an empty registry. A file that fails to parse or
// contains an invalid pattern is skipped with a log entry; loading
// continues with the remaining providers.
func Load(dir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("providers directory not found", "dir", dir)
			return &Registry{}, nil
		}
		return nil, fmt.Errorf("reading providers directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	// ReadDir already sorts, but registry order is a contract: make it
	// explicit rather than inherited.
	sort.Strings(names)

	reg := &Registry{}
	for _, name := range names {
		cfg, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Error("skipping provider config", "file", name, "error", err)
			continue
		}
		reg.providers = append(reg.providers, cfg)
		logger.Info("loaded provider config", "provider", cfg.Name)
	}

	return reg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var raw configFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	cfg := &Config{Name: name}

	// Sender addresses are lower-cased before matching and card tails are
	// literal digits, so those two lists compile as-is. Everything else
	// matches free-form text case-insensitively.
	fields := []struct {
		dst        *[]*regexp.Regexp
		src        []string
		label      string
		ignoreCase bool
	}{
		{&cfg.Sender, raw.SenderPatterns, "sender", false},
		{&cfg.Subject, raw.SubjectPatterns, "subject", true},
		{&cfg.Amount, raw.AmountPatterns, "amount", true},
		{&cfg.Date, raw.DatePatterns, "date", true},
		{&cfg.Merchant, raw.MerchantPatterns, "merchant", true},
		{&cfg.Card, raw.CardPatterns, "card", false},
	}

	for _, f := range fields {
		for _, pattern := range f.src {
			expr := pattern
			if f.ignoreCase {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("compiling %s pattern %q: %w", f.label, pattern, err)
			}
			*f.dst = append(*f.dst, re)
		}
	}

	return cfg, nil
}

// Len returns the number of loaded providers.
func (r *Registry) Len() int {
	return len(r.providers)
}

// Providers returns the providers in registry order.
func (r *Registry) Providers() []*Config {
	return r.providers
}

// Match selects the provider responsible for a message, or nil when none
// matches. A provider matches when at least one sender pattern matches the
// lower-cased sender address and, if the provider declares subject
// patterns, at least one of them matches the subject. The first match in
// registry order wins.
func (r *Registry) Match(sender, subject string) *Config {
	sender = strings.ToLower(sender)

	for _, p := range r.providers {
		if p.matches(sender, subject) {
			return p
		}
	}
	return nil
}

func (p *Config) matches(sender, subject string) bool {
	if !anyMatch(p.Sender, sender) {
		return false
	}
	if len(p.Subject) > 0 && !anyMatch(p.Subject, subject) {
		return false
	}
	return true
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
