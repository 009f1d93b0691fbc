package rules

import (
	"context"
	"fmt"

	"costadvisor/internal/normalize"
	"costadvisor/internal/score"
	"costadvisor/pkg/catalog"
	"costadvisor/pkg/inventory"
)

// CrossProviderRule proposes moving a compute resource to a cheaper
// equivalent SKU at another enabled provider.
type CrossProviderRule struct{}

// NewCrossProviderRule creates the rule.
func NewCrossProviderRule() *CrossProviderRule { return &CrossProviderRule{} }

func (r *CrossProviderRule) Meta() Meta {
	return Meta{
		ID:            "cross_provider_price",
		Name:          "Cross-provider price check",
		Category:      CategoryMigration,
		Severity:      SeverityMedium,
		Scope:         ScopeResource,
		ResourceTypes: []string{inventory.TypeInstance},
	}
}

// Applies skips cluster members (priced by the aggregate rule) and resources
// that are not running: comparing a stopped resource's near-zero cost to a
// running alternative is invalid.
func (r *CrossProviderRule) Applies(res inventory.Resource, _ *Context) bool {
	if res.GroupID != "" {
		return false
	}
	return res.Status == inventory.StatusRunning
}

func (r *CrossProviderRule) Evaluate(ctx context.Context, res inventory.Resource, ectx *Context) ([]Output, error) {
	target := normalize.FromResource(res)
	if !target.Comparable() {
		// No usable size signal for this resource type; price comparison
		// is skipped rather than guessed (known upstream gap).
		return nil, nil
	}

	dismissed, err := ectx.History.DismissedTargets(ctx, ectx.TenantID, res.ID, TypeCrossProviderMigration)
	if err != nil {
		return nil, fmt.Errorf("failed to load dismissed targets: %w", err)
	}
	providers := excludeProviders(ectx.EnabledProviders, res.Provider, dismissed)
	if len(providers) == 0 {
		return nil, nil
	}

	rows, err := catalog.RowsByRegionTier(ctx, ectx.Catalog, providers, inventory.TypeInstance, res.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to query price catalog: %w", err)
	}

	specs := make([]normalize.NormalizedSpec, 0, len(rows))
	for _, row := range rows {
		specs = append(specs, normalize.FromPriceRow(row))
	}

	candidates := score.FilterAndRank(target, specs, ectx.Config.ScoreThreshold)
	best, ok := score.Cheapest(candidates)
	if !ok {
		return nil, nil
	}

	savings := res.MonthlyCost.Sub(best.Spec.MonthlyPrice)
	if !savingsGate(ectx.Config, savings, res.MonthlyCost) {
		return nil, nil
	}

	current, _ := res.MonthlyCost.Float64()
	recommended, _ := best.Spec.MonthlyPrice.Float64()
	out := Output{
		RuleID:     r.Meta().ID,
		ResourceID: res.ID,
		Type:       TypeCrossProviderMigration,
		Category:   CategoryMigration,
		Severity:   SeverityMedium,
		Title:      fmt.Sprintf("Cheaper equivalent at %s", best.Spec.Provider),
		Description: fmt.Sprintf("%s (%s) has an equivalent offering %s in %s for %s/mo, down from %s/mo.",
			res.Name, res.Provider, best.Spec.SKU, best.Spec.Region,
			best.Spec.MonthlyPrice.StringFixed(2), res.MonthlyCost.StringFixed(2)),
		Savings:        savings,
		Currency:       res.Currency,
		Confidence:     best.Score,
		TargetProvider: best.Spec.Provider,
		TargetSKU:      best.Spec.SKU,
		TargetRegion:   best.Spec.Region,
		Insights: Insights{
			CurrentMonthlyCost:     current,
			RecommendedMonthlyCost: recommended,
			SavingsPercent:         savingsPercent(savings, res.MonthlyCost),
			Similarity:             best.Score,
			TargetRegion:           best.Spec.Region,
		},
	}
	return []Output{out}, nil
}
