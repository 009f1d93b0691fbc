// Package inventory defines the resource-inventory contracts consumed by the
// recommendation engine. Inventory collection and sync live outside this
// module; the engine only reads the snapshot the sync left behind.
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the provider-reported lifecycle state of a resource.
type Status string

const (
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusTerminated Status = "terminated"
)

// Resource type categories shared with the price catalog.
const (
	TypeInstance     = "compute_instance"
	TypeVolume       = "volume"
	TypeSnapshot     = "snapshot"
	TypeAddress      = "address"
	TypeCluster      = "cluster"
	TypeLoadBalancer = "load_balancer"
	TypeControlPlane = "cluster_control_plane"
)

// Utilization is the rolling usage summary attached by the sync, when the
// provider exposes one. Percent values are 0-100.
type Utilization struct {
	CPUAvgPercent  float64 `json:"cpu_avg_percent"`
	CPUPeakPercent float64 `json:"cpu_peak_percent"`
	CPUMinPercent  float64 `json:"cpu_min_percent"`
	WindowDays     int     `json:"window_days"`
}

// Resource is one currently-active inventory entry for a tenant.
//
// Config carries the provider-specific configuration blob as delivered by the
// sync. Nested sections may arrive either as structured maps or as their
// serialized JSON text form; only the normalization layer is allowed to look
// inside it.
type Resource struct {
	ID          string                 `json:"id"`
	TenantID    string                 `json:"tenant_id"`
	Provider    string                 `json:"provider"`
	Region      string                 `json:"region"`
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Status      Status                 `json:"status"`
	Config      map[string]interface{} `json:"config"`
	MonthlyCost decimal.Decimal        `json:"monthly_cost"`
	Currency    string                 `json:"currency"`
	Utilization *Utilization           `json:"utilization,omitempty"`
	GroupID     string                 `json:"group_id,omitempty"` // cluster membership
	Excluded    bool                   `json:"excluded"`           // user opted out of analysis
	CreatedAt   time.Time              `json:"created_at"`
	SyncedAt    time.Time              `json:"synced_at"`
}

// Active reports whether the resource still exists at the provider.
// Stopped resources are active: they keep incurring cost and are exactly what
// the cleanup rule looks for.
func (r Resource) Active() bool {
	return r.Status != StatusTerminated || !r.MonthlyCost.IsZero()
}

// Preferences are the tenant-level knobs the engine consumes.
type Preferences struct {
	TenantID         string   `json:"tenant_id"`
	EnabledProviders []string `json:"enabled_providers"`
}

// Source provides read access to a tenant's synced inventory.
type Source interface {
	ListResources(ctx context.Context, tenantID string) ([]Resource, error)
	Preferences(ctx context.Context, tenantID string) (*Preferences, error)
}
