package rules

import (
	"context"
	"fmt"

	"costadvisor/internal/normalize"
	"costadvisor/pkg/catalog"
	"costadvisor/pkg/inventory"
)

// RightsizeRule recommends downsizing underutilized compute to the
// next-smaller SKU in the same provider and region.
type RightsizeRule struct{}

// NewRightsizeRule creates the rule.
func NewRightsizeRule() *RightsizeRule { return &RightsizeRule{} }

func (r *RightsizeRule) Meta() Meta {
	return Meta{
		ID:            "rightsize_underutilized",
		Name:          "Underutilized instance rightsizing",
		Category:      CategoryRightsizing,
		Severity:      SeverityMedium,
		Scope:         ScopeResource,
		ResourceTypes: []string{inventory.TypeInstance},
	}
}

// Applies requires recent utilization metrics on a running resource.
func (r *RightsizeRule) Applies(res inventory.Resource, _ *Context) bool {
	return res.Status == inventory.StatusRunning && res.Utilization != nil
}

func (r *RightsizeRule) Evaluate(ctx context.Context, res inventory.Resource, ectx *Context) ([]Output, error) {
	util := res.Utilization
	if util.CPUAvgPercent >= ectx.Config.LowCPUAvgPercent ||
		util.CPUPeakPercent >= ectx.Config.LowCPUPeakPercent {
		return nil, nil
	}

	target := normalize.FromResource(res)
	if !target.Comparable() {
		return nil, nil
	}
	if *target.Cores <= 1 {
		// Already at minimal size.
		return nil, nil
	}

	rows, err := ectx.Catalog.Rows(ctx, catalog.Query{
		Providers:    []string{res.Provider},
		ResourceType: inventory.TypeInstance,
		Region:       res.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query price catalog: %w", err)
	}

	smaller := nextSmaller(target, rows)
	if smaller == nil {
		return nil, nil
	}

	savings := res.MonthlyCost.Sub(smaller.MonthlyPrice)
	if savings.Sign() <= 0 {
		return nil, nil
	}

	current, _ := res.MonthlyCost.Float64()
	recommended, _ := smaller.MonthlyPrice.Float64()
	out := Output{
		RuleID:     r.Meta().ID,
		ResourceID: res.ID,
		Type:       TypeRightsize,
		Category:   CategoryRightsizing,
		Severity:   SeverityMedium,
		Title:      fmt.Sprintf("Downsize %s to %s", res.Name, smaller.SKU),
		Description: fmt.Sprintf("CPU averaged %.0f%% (peak %.0f%%) over the last %d days; %s would cover the observed load.",
			util.CPUAvgPercent, util.CPUPeakPercent, util.WindowDays, smaller.SKU),
		Savings:        savings,
		Currency:       res.Currency,
		Confidence:     rightsizeConfidence(util),
		TargetProvider: res.Provider,
		TargetSKU:      smaller.SKU,
		TargetRegion:   smaller.Region,
		Insights: Insights{
			CurrentMonthlyCost:     current,
			RecommendedMonthlyCost: recommended,
			SavingsPercent:         savingsPercent(savings, res.MonthlyCost),
			TargetRegion:           smaller.Region,
		},
	}
	return []Output{out}, nil
}

// nextSmaller finds the largest offering strictly below the current size:
// fewer cores (or equal cores with less memory), same family characteristics,
// cheaper than the current cost. Candidates are compared on cores first, then
// memory, so the downsizing step is the smallest available.
func nextSmaller(target normalize.NormalizedSpec, rows []catalog.PriceRow) *normalize.NormalizedSpec {
	var best *normalize.NormalizedSpec
	for _, row := range rows {
		spec := normalize.FromPriceRow(row)
		if !spec.Comparable() {
			continue
		}
		if spec.Baseline != target.Baseline || spec.Storage != target.Storage {
			continue
		}
		if !smallerThan(spec, target) {
			continue
		}
		if !spec.MonthlyPrice.LessThan(target.MonthlyPrice) {
			continue
		}
		if best == nil || smallerThan(*best, spec) {
			s := spec
			best = &s
		}
	}
	return best
}

func smallerThan(a, b normalize.NormalizedSpec) bool {
	if *a.Cores != *b.Cores {
		return *a.Cores < *b.Cores
	}
	return *a.MemoryGB < *b.MemoryGB
}

// rightsizeConfidence scales with how far usage sits below the thresholds and
// how long the observation window is.
func rightsizeConfidence(util *inventory.Utilization) float64 {
	confidence := 0.70
	if util.CPUPeakPercent < 30 {
		confidence += 0.15
	}
	if util.WindowDays >= 14 {
		confidence += 0.10
	}
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}
