// Package recstore persists recommendations and drives their lifecycle:
// idempotent reconciliation, suppression windows, auto-dismissal sweeps, and
// user actions.
package recstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status is the lifecycle state of a recommendation.
type Status string

const (
	StatusPending       Status = "pending"
	StatusSeen          Status = "seen"
	StatusDismissed     Status = "dismissed"
	StatusImplemented   Status = "implemented"
	StatusSnoozed       Status = "snoozed"
	StatusAutoDismissed Status = "auto_dismissed"
)

// Live reports whether the record occupies the at-most-one-live slot for its
// identity key. Snoozed records hold the slot so a fresh duplicate cannot be
// created underneath them.
func (s Status) Live() bool {
	return s == StatusPending || s == StatusSeen || s == StatusSnoozed
}

// Terminal reports whether the record can never change status again. Terminal
// records are only ever superseded by a brand-new record under the
// improvement-override rule.
func (s Status) Terminal() bool {
	return s == StatusDismissed || s == StatusImplemented || s == StatusAutoDismissed
}

// Auto-dismissal reasons.
const (
	ReasonStale    = "condition_no_longer_holds"
	ReasonNoAction = "no_user_action"
)

// Recommendation is one persisted, user-facing suggestion.
//
// The identity key is (TenantID, RuleID, ResourceID, Type, TargetProvider,
// TargetSKU). It never changes after creation: a different target means a
// different record. The key is enforced by a partial unique index over live
// statuses (see Migrate), so concurrent tenant runs and retried syncs cannot
// create a second live record while historical terminal records with the same
// key remain queryable.
type Recommendation struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID string    `gorm:"index;not null" json:"tenant_id"`

	// Identity key
	RuleID         string `gorm:"index:idx_rec_identity;not null" json:"rule_id"`
	ResourceID     string `gorm:"index:idx_rec_identity;not null" json:"resource_id"`
	Type           string `gorm:"index:idx_rec_identity;not null" json:"type"`
	TargetProvider string `gorm:"index:idx_rec_identity" json:"target_provider"`
	TargetSKU      string `gorm:"index:idx_rec_identity" json:"target_sku"`

	// Denormalized resource facts for filtering
	Provider     string `gorm:"index" json:"provider"`
	ResourceType string `json:"resource_type"`
	TargetRegion string `json:"target_region,omitempty"`

	Category    string `gorm:"index" json:"category"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Savings    decimal.Decimal `gorm:"type:numeric(18,4)" json:"savings"`
	Currency   string          `json:"currency"`
	Confidence float64         `json:"confidence"`
	Insights   datatypes.JSON  `json:"insights"`

	Status        Status `gorm:"index;not null" json:"status"`
	DismissReason string `json:"dismiss_reason,omitempty"`

	FirstSeenAt    time.Time  `json:"first_seen_at"`
	SeenAt         *time.Time `json:"seen_at,omitempty"`
	DismissedAt    *time.Time `json:"dismissed_at,omitempty"`
	ImplementedAt  *time.Time `json:"implemented_at,omitempty"`
	SnoozedUntil   *time.Time `json:"snoozed_until,omitempty"`
	LastVerifiedAt time.Time  `json:"last_verified_at"`

	// Consecutive sync cycles in which the rule did not re-emit this record.
	MissedCycles int `json:"missed_cycles"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleSetting is an admin enable/disable override for a rule. Nil scopes mean
// broader applicability; the most specific matching setting wins.
type RuleSetting struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	RuleID       string  `gorm:"uniqueIndex:idx_rule_setting_scope;not null" json:"rule_id"`
	Provider     *string `gorm:"uniqueIndex:idx_rule_setting_scope" json:"provider,omitempty"`
	ResourceType *string `gorm:"uniqueIndex:idx_rule_setting_scope" json:"resource_type,omitempty"`
	Enabled      bool    `gorm:"not null" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EngineRun is the persisted summary of one sync-triggered engine run.
type EngineRun struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID string    `gorm:"index;not null" json:"tenant_id"`

	Status        string     `gorm:"index" json:"status"` // running, completed, failed
	FailureReason string     `json:"failure_reason,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	DurationMS    int64      `json:"duration_ms"`

	ResourcesEvaluated   int `json:"resources_evaluated"`
	OutputsProduced      int `json:"outputs_produced"`
	RecordsCreated       int `json:"records_created"`
	RecordsUpdated       int `json:"records_updated"`
	OutputsSuppressed    int `json:"outputs_suppressed"`
	RuleFailures         int `json:"rule_failures"`
	AutoDismissedStale   int `json:"auto_dismissed_stale"`
	AutoDismissedIgnored int `json:"auto_dismissed_ignored"`
	SnoozesExpired       int `json:"snoozes_expired"`

	// Per-rule invocation/output/failure/skip counters.
	RuleMetrics datatypes.JSON `json:"rule_metrics,omitempty"`
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
