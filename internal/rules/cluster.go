package rules

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"costadvisor/internal/normalize"
	"costadvisor/internal/score"
	"costadvisor/pkg/catalog"
	"costadvisor/pkg/inventory"
)

// ClusterPriceRule compares a managed cluster against other providers by
// pricing each structural component separately (control plane, every worker
// pool's exact spec, attached volumes, load balancers) instead of matching
// the aggregate as one opaque unit. Region matching stays inside the
// cluster's geography so the rule never proposes a cross-continent move.
type ClusterPriceRule struct{}

// NewClusterPriceRule creates the rule.
func NewClusterPriceRule() *ClusterPriceRule { return &ClusterPriceRule{} }

func (r *ClusterPriceRule) Meta() Meta {
	return Meta{
		ID:            "cluster_aggregate_price",
		Name:          "Cluster aggregate price check",
		Category:      CategoryMigration,
		Severity:      SeverityMedium,
		Scope:         ScopeResource,
		ResourceTypes: []string{inventory.TypeCluster},
	}
}

func (r *ClusterPriceRule) Applies(res inventory.Resource, _ *Context) bool {
	if res.Status != inventory.StatusRunning {
		return false
	}
	_, ok := normalize.ClusterFromResource(res)
	return ok
}

func (r *ClusterPriceRule) Evaluate(ctx context.Context, res inventory.Resource, ectx *Context) ([]Output, error) {
	layout, ok := normalize.ClusterFromResource(res)
	if !ok {
		return nil, nil
	}

	dismissed, err := ectx.History.DismissedTargets(ctx, ectx.TenantID, res.ID, TypeClusterMigration)
	if err != nil {
		return nil, fmt.Errorf("failed to load dismissed targets: %w", err)
	}
	providers := excludeProviders(ectx.EnabledProviders, res.Provider, dismissed)
	if len(providers) == 0 {
		return nil, nil
	}

	var best *clusterQuote
	var bestProvider string
	for _, provider := range providers {
		q, err := r.quoteProvider(ctx, provider, res, layout, ectx)
		if err != nil {
			return nil, err
		}
		if q == nil {
			continue // provider cannot host every component in-geography
		}
		if best == nil || q.total.LessThan(best.total) {
			best = q
			bestProvider = provider
		}
	}
	if best == nil {
		return nil, nil
	}

	savings := res.MonthlyCost.Sub(best.total)
	if !savingsGate(ectx.Config, savings, res.MonthlyCost) {
		return nil, nil
	}

	current, _ := res.MonthlyCost.Float64()
	recommended, _ := best.total.Float64()
	out := Output{
		RuleID:     r.Meta().ID,
		ResourceID: res.ID,
		Type:       TypeClusterMigration,
		Category:   CategoryMigration,
		Severity:   SeverityMedium,
		Title:      fmt.Sprintf("Cluster %s is cheaper on %s", res.Name, bestProvider),
		Description: fmt.Sprintf("Re-pricing %d workers, %d load balancers, %.0f GiB of volumes and the control plane on %s comes to %s/mo, down from %s/mo.",
			layout.WorkerCount(), layout.LoadBalancers, layout.VolumeGB,
			bestProvider, best.total.StringFixed(2), res.MonthlyCost.StringFixed(2)),
		Savings:        savings,
		Currency:       res.Currency,
		Confidence:     best.similarity,
		TargetProvider: bestProvider,
		TargetSKU:      best.sku,
		TargetRegion:   res.Region,
		Insights: Insights{
			CurrentMonthlyCost:     current,
			RecommendedMonthlyCost: recommended,
			SavingsPercent:         savingsPercent(savings, res.MonthlyCost),
			Similarity:             best.similarity,
			TargetRegion:           res.Region,
			Components:             best.breakdown,
		},
	}
	return []Output{out}, nil
}

type clusterQuote struct {
	sku        string
	total      decimal.Decimal
	similarity float64
	breakdown  map[string]float64
}

// quoteProvider prices the full layout on one target provider. Returns nil
// when any required component has no in-geography offering.
func (r *ClusterPriceRule) quoteProvider(ctx context.Context, provider string, res inventory.Resource, layout normalize.ClusterLayout, ectx *Context) (*clusterQuote, error) {
	providers := []string{provider}
	total := decimal.Zero
	breakdown := make(map[string]float64)

	// Control plane: match the tier when the catalog distinguishes tiers.
	cpRows, err := catalog.RowsByGeography(ctx, ectx.Catalog, providers, inventory.TypeControlPlane, res.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to query control plane rows: %w", err)
	}
	cpRow := pickControlPlane(cpRows, layout.ControlPlaneTier)
	if cpRow == nil {
		return nil, nil
	}
	total = total.Add(cpRow.MonthlyPrice)
	breakdown["control_plane"], _ = cpRow.MonthlyPrice.Float64()

	// Workers: each group's exact spec, including its real storage type.
	workerRows, err := catalog.RowsByGeography(ctx, ectx.Catalog, providers, inventory.TypeInstance, res.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to query worker rows: %w", err)
	}
	workerSpecs := make([]normalize.NormalizedSpec, 0, len(workerRows))
	for _, row := range workerRows {
		workerSpecs = append(workerSpecs, normalize.FromPriceRow(row))
	}

	workerTotal := decimal.Zero
	similarity := 1.0
	for _, w := range layout.Workers {
		target := normalize.NormalizedSpec{
			Provider:  res.Provider,
			Region:    res.Region,
			Cores:     &w.Cores,
			MemoryGB:  &w.MemoryGB,
			Storage:   w.StorageType,
			StorageGB: w.StorageGB,
		}
		candidates := score.FilterAndRank(target, workerSpecs, ectx.Config.ScoreThreshold)
		bestWorker, ok := score.Cheapest(candidates)
		if !ok {
			return nil, nil
		}
		workerTotal = workerTotal.Add(bestWorker.Spec.MonthlyPrice.Mul(decimal.NewFromInt(int64(w.Count))))
		if bestWorker.Score < similarity {
			similarity = bestWorker.Score
		}
	}
	total = total.Add(workerTotal)
	breakdown["workers"], _ = workerTotal.Float64()

	// Attached volumes are priced per GiB-month in the catalog.
	if layout.VolumeGB > 0 {
		volRows, err := catalog.RowsByGeography(ctx, ectx.Catalog, providers, inventory.TypeVolume, res.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to query volume rows: %w", err)
		}
		volRow := cheapestRow(volRows)
		if volRow == nil {
			return nil, nil
		}
		volTotal := volRow.MonthlyPrice.Mul(decimal.NewFromFloat(layout.VolumeGB))
		total = total.Add(volTotal)
		breakdown["volumes"], _ = volTotal.Float64()
	}

	if layout.LoadBalancers > 0 {
		lbRows, err := catalog.RowsByGeography(ctx, ectx.Catalog, providers, inventory.TypeLoadBalancer, res.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to query load balancer rows: %w", err)
		}
		lbRow := cheapestRow(lbRows)
		if lbRow == nil {
			return nil, nil
		}
		lbTotal := lbRow.MonthlyPrice.Mul(decimal.NewFromInt(int64(layout.LoadBalancers)))
		total = total.Add(lbTotal)
		breakdown["load_balancers"], _ = lbTotal.Float64()
	}

	return &clusterQuote{
		sku:        cpRow.SKU,
		total:      total,
		similarity: similarity,
		breakdown:  breakdown,
	}, nil
}

func pickControlPlane(rows []catalog.PriceRow, tier string) *catalog.PriceRow {
	var fallback *catalog.PriceRow
	for i := range rows {
		row := &rows[i]
		if tier != "" && row.Attributes["tier"] == tier {
			return row
		}
		if fallback == nil || row.MonthlyPrice.LessThan(fallback.MonthlyPrice) {
			fallback = row
		}
	}
	return fallback
}

func cheapestRow(rows []catalog.PriceRow) *catalog.PriceRow {
	var best *catalog.PriceRow
	for i := range rows {
		if best == nil || rows[i].MonthlyPrice.LessThan(best.MonthlyPrice) {
			best = &rows[i]
		}
	}
	return best
}
