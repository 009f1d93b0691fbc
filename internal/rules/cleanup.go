package rules

import (
	"context"
	"fmt"
	"time"

	"costadvisor/pkg/inventory"
)

// CleanupRule flags resources that cost money without doing work: stopped
// compute still billed for attached storage, old snapshots, and reserved
// addresses nothing points at. Savings equal the full resource cost since the
// remedy is deletion, not substitution.
type CleanupRule struct{}

// NewCleanupRule creates the rule.
func NewCleanupRule() *CleanupRule { return &CleanupRule{} }

func (r *CleanupRule) Meta() Meta {
	return Meta{
		ID:       "idle_cleanup",
		Name:     "Idle resource and aged artifact cleanup",
		Category: CategoryCleanup,
		Severity: SeverityLow,
		Scope:    ScopeResource,
		ResourceTypes: []string{
			inventory.TypeInstance,
			inventory.TypeSnapshot,
			inventory.TypeAddress,
		},
	}
}

func (r *CleanupRule) Applies(res inventory.Resource, ectx *Context) bool {
	if res.MonthlyCost.Sign() <= 0 {
		return false
	}
	switch res.Type {
	case inventory.TypeInstance:
		return res.Status == inventory.StatusStopped || res.Status == inventory.StatusTerminated
	case inventory.TypeSnapshot:
		return olderThanDays(res.CreatedAt, ectx.Config.SnapshotMaxAgeDays, ectx.Now)
	case inventory.TypeAddress:
		return !addressAttached(res) && olderThanDays(res.CreatedAt, ectx.Config.AddressMaxAgeDays, ectx.Now)
	}
	return false
}

func (r *CleanupRule) Evaluate(ctx context.Context, res inventory.Resource, ectx *Context) ([]Output, error) {
	current, _ := res.MonthlyCost.Float64()
	ageDays := int(ectx.Now.Sub(res.CreatedAt).Hours() / 24)

	out := Output{
		RuleID:     r.Meta().ID,
		ResourceID: res.ID,
		Category:   CategoryCleanup,
		Severity:   SeverityLow,
		Savings:    res.MonthlyCost,
		Currency:   res.Currency,
		Confidence: 0.90,
		Insights: Insights{
			CurrentMonthlyCost: current,
			SavingsPercent:     100,
		},
	}

	switch res.Type {
	case inventory.TypeInstance:
		out.Type = TypeIdleInstance
		out.Title = fmt.Sprintf("Stopped instance %s still incurs cost", res.Name)
		out.Description = fmt.Sprintf("%s is %s but keeps billing %s/mo for attached resources. Deleting it saves the full amount.",
			res.Name, res.Status, res.MonthlyCost.StringFixed(2))
		out.Insights.Reason = string(res.Status)
	case inventory.TypeSnapshot:
		out.Type = TypeAgedSnapshot
		out.Title = fmt.Sprintf("Snapshot %s is %d days old", res.Name, ageDays)
		out.Description = fmt.Sprintf("Snapshot %s exceeds the %d-day retention bar and costs %s/mo.",
			res.Name, ectx.Config.SnapshotMaxAgeDays, res.MonthlyCost.StringFixed(2))
		out.Insights.Reason = fmt.Sprintf("age_days=%d", ageDays)
	case inventory.TypeAddress:
		out.Type = TypeUnattachedAddress
		out.Title = fmt.Sprintf("Reserved address %s is unattached", res.Name)
		out.Description = fmt.Sprintf("Address %s has been reserved but unattached for %d days, billing %s/mo.",
			res.Name, ageDays, res.MonthlyCost.StringFixed(2))
		out.Insights.Reason = "unattached"
	default:
		return nil, nil
	}
	return []Output{out}, nil
}

func olderThanDays(t time.Time, days int, now time.Time) bool {
	if t.IsZero() || days <= 0 {
		return false
	}
	return now.Sub(t) > time.Duration(days)*24*time.Hour
}

func addressAttached(res inventory.Resource) bool {
	if res.Config == nil {
		return true // absence of signal must not trigger deletion advice
	}
	if v, ok := res.Config["attached"].(bool); ok {
		return v
	}
	return true
}
