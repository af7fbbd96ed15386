package cli

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/api"
	"github.com/eshaffer321/ledger-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/config"
)

// ReconcileConfig maps the file configuration onto the engine's config.
// Unset values keep the engine defaults.
func ReconcileConfig(cfg *config.Config) (reconcile.Config, error) {
	rc := reconcile.DefaultConfig()
	m := cfg.Matching

	if m.DateWindowDays > 0 {
		rc.Matcher.DateWindowDays = m.DateWindowDays
	}
	if m.MinTextSimilarity > 0 {
		rc.Matcher.MinTextSimilarity = m.MinTextSimilarity
	}
	if m.SplitMaxParts > 0 {
		rc.Matcher.SplitMaxParts = m.SplitMaxParts
	}

	amounts := []struct {
		key string
		val string
		dst *decimal.Decimal
	}{
		{"matching.amount_tolerance", m.AmountTolerance, &rc.Matcher.AmountTolerance},
		{"matching.exact_tolerance", m.ExactTolerance, &rc.Matcher.ExactTolerance},
		{"matching.fuzzy_amount_ratio", m.FuzzyAmountRatio, &rc.Matcher.FuzzyAmountRatio},
		{"matching.amount_delta_weight", m.AmountDeltaWeight, &rc.Matcher.AmountDeltaWeight},
		{"linking.split_tolerance", cfg.Linking.SplitTolerance, &rc.Linker.SplitTolerance},
		{"audit.tolerance", cfg.Audit.Tolerance, &rc.AuditTolerance},
	}
	for _, a := range amounts {
		if a.val == "" {
			continue
		}
		d, err := decimal.NewFromString(a.val)
		if err != nil {
			return reconcile.Config{}, fmt.Errorf("%s: %w", a.key, err)
		}
		if d.IsNegative() {
			return reconcile.Config{}, fmt.Errorf("%s must not be negative, got %s", a.key, a.val)
		}
		*a.dst = d
	}

	if cfg.Linking.AutoApplyThreshold > 0 {
		rc.Linker.AutoApplyThreshold = cfg.Linking.AutoApplyThreshold
	}
	if cfg.Linking.Actor != "" {
		rc.Linker.Actor = cfg.Linking.Actor
	}
	if cfg.Dedupe.ReimportThreshold > 0 {
		rc.Dedupe.ReimportThreshold = cfg.Dedupe.ReimportThreshold
	}
	if cfg.Dedupe.ReversalWindowDays > 0 {
		rc.Dedupe.ReversalWindowDays = cfg.Dedupe.ReversalWindowDays
	}
	if cfg.Workers.Concurrency > 0 {
		rc.Concurrency = cfg.Workers.Concurrency
	}
	return rc, nil
}

// APIConfig maps the file configuration onto the server's config.
func APIConfig(cfg *config.Config) api.Config {
	ac := api.DefaultConfig()
	if cfg.API.Port > 0 {
		ac.Port = cfg.API.Port
	}
	if len(cfg.API.AllowedOrigins) > 0 {
		ac.AllowedOrigins = cfg.API.AllowedOrigins
	}
	return ac
}
