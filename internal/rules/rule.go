// Package rules contains the pluggable optimization heuristics and the
// registry that selects them. Rules are side-effect-free: they only return
// candidate outputs, persistence happens downstream.
package rules

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"costadvisor/internal/config"
	"costadvisor/pkg/catalog"
	"costadvisor/pkg/inventory"
)

// Scope declares when a rule runs: once per resource, or once per run with
// the full inventory.
type Scope string

const (
	ScopeResource Scope = "resource"
	ScopeGlobal   Scope = "global"
)

// Category groups recommendations for the dashboard.
type Category string

const (
	CategoryMigration   Category = "migration"
	CategoryRightsizing Category = "rightsizing"
	CategoryCleanup     Category = "cleanup"
)

// Severity is the default urgency a rule assigns its outputs.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Recommendation types emitted by the built-in rules.
const (
	TypeCrossProviderMigration = "cross_provider_migration"
	TypeRightsize              = "rightsize"
	TypeIdleInstance           = "idle_instance"
	TypeAgedSnapshot           = "aged_snapshot"
	TypeUnattachedAddress      = "unattached_address"
	TypeClusterMigration       = "cluster_migration"
)

// Meta is the static applicability metadata of a rule.
type Meta struct {
	ID            string
	Name          string
	Category      Category
	Severity      Severity
	Scope         Scope
	ResourceTypes []string // resource types the rule understands
	Providers     []string // empty = all providers
}

// AppliesToType reports static resource-type applicability.
func (m Meta) AppliesToType(resourceType string) bool {
	for _, t := range m.ResourceTypes {
		if t == resourceType {
			return true
		}
	}
	return false
}

// AppliesToProvider reports static provider applicability.
func (m Meta) AppliesToProvider(provider string) bool {
	if len(m.Providers) == 0 {
		return true
	}
	for _, p := range m.Providers {
		if p == provider {
			return true
		}
	}
	return false
}

// Insights is the structured payload attached to an output.
type Insights struct {
	CurrentMonthlyCost     float64            `json:"current_monthly_cost"`
	RecommendedMonthlyCost float64            `json:"recommended_monthly_cost,omitempty"`
	SavingsPercent         float64            `json:"savings_percent,omitempty"`
	Similarity             float64            `json:"similarity,omitempty"`
	TargetRegion           string             `json:"target_region,omitempty"`
	Components             map[string]float64 `json:"components,omitempty"`
	Reason                 string             `json:"reason,omitempty"`
}

// Output is one candidate recommendation produced by a rule. The tuple
// (RuleID, ResourceID, Type, TargetProvider, TargetSKU) is the identity key
// of the persisted record; two outputs differing only in target provider or
// SKU are distinct records.
type Output struct {
	RuleID     string
	ResourceID string
	Type       string

	// Source resource facts, filled in by the orchestrator before
	// persistence so stored records can be filtered by origin.
	SourceProvider     string
	SourceResourceType string

	Category    Category
	Severity    Severity
	Title       string
	Description string

	Savings    decimal.Decimal
	Currency   string
	Confidence float64

	TargetProvider string
	TargetSKU      string
	TargetRegion   string

	Insights Insights
}

// History gives rules read access to prior lifecycle decisions, most notably
// the dismissed target providers that drive progressive disclosure.
type History interface {
	DismissedTargets(ctx context.Context, tenantID, resourceID, recType string) ([]string, error)
}

// Context carries everything a rule evaluation may consult. Built once per
// engine run.
type Context struct {
	TenantID         string
	Catalog          catalog.Store
	History          History
	Inventory        []inventory.Resource
	EnabledProviders []string
	Config           config.Config
	Logger           *zap.Logger
	Now              time.Time
}

// Rule is one optimization heuristic.
type Rule interface {
	Meta() Meta
	Applies(res inventory.Resource, ectx *Context) bool
	Evaluate(ctx context.Context, res inventory.Resource, ectx *Context) ([]Output, error)
}

// savingsGate reports whether a substitution output clears the configured
// minimums. Clearing either bar is enough: a large resource passes on
// percentage, a small one has to pass on the absolute amount.
func savingsGate(cfg config.Config, savings, current decimal.Decimal) bool {
	if savings.Sign() <= 0 {
		return false
	}
	if savings.GreaterThanOrEqual(decimal.NewFromFloat(cfg.MinSavingsAmount)) {
		return true
	}
	if current.Sign() <= 0 {
		return false
	}
	pct := savings.Div(current).Mul(decimal.NewFromInt(100))
	return pct.GreaterThanOrEqual(decimal.NewFromFloat(cfg.MinSavingsPercent))
}

// savingsPercent is a display helper; zero current cost yields zero.
func savingsPercent(savings, current decimal.Decimal) float64 {
	if current.Sign() <= 0 {
		return 0
	}
	pct, _ := savings.Div(current).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// excludeProviders filters the enabled provider set down to those not yet
// dismissed for this resource and recommendation type, and never proposes a
// migration onto the provider the resource already runs on.
func excludeProviders(enabled []string, own string, dismissed []string) []string {
	skip := make(map[string]bool, len(dismissed)+1)
	skip[own] = true
	for _, p := range dismissed {
		skip[p] = true
	}
	var out []string
	for _, p := range enabled {
		if !skip[p] {
			out = append(out, p)
		}
	}
	return out
}
