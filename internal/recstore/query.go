package recstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Filter selects recommendations for listing. Zero-value fields are
// unconstrained.
type Filter struct {
	Statuses   []Status
	Category   string
	Provider   string
	ResourceID string
	RuleID     string
	Limit      int
	Offset     int
}

// List returns recommendations for a tenant, largest savings first.
func (s *Store) List(ctx context.Context, tenantID string, f Filter) ([]Recommendation, error) {
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Provider != "" {
		q = q.Where("provider = ?", f.Provider)
	}
	if f.ResourceID != "" {
		q = q.Where("resource_id = ?", f.ResourceID)
	}
	if f.RuleID != "" {
		q = q.Where("rule_id = ?", f.RuleID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var recs []Recommendation
	if err := q.Order("savings DESC, created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	return recs, nil
}

// Summary is the tenant-level rollup behind the dashboard header.
type Summary struct {
	LastRun          *EngineRun                 `json:"last_run,omitempty"`
	CountsByStatus   map[Status]int64           `json:"counts_by_status"`
	PotentialSavings map[string]decimal.Decimal `json:"potential_savings"` // per currency, live records only
}

// Summarize computes status counts and aggregate potential savings, and
// attaches the most recent engine run.
func (s *Store) Summarize(ctx context.Context, tenantID string) (*Summary, error) {
	summary := &Summary{
		CountsByStatus:   make(map[Status]int64),
		PotentialSavings: make(map[string]decimal.Decimal),
	}

	type statusCount struct {
		Status Status
		N      int64
	}
	var counts []statusCount
	err := s.db.WithContext(ctx).
		Model(&Recommendation{}).
		Select("status, count(*) as n").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	for _, c := range counts {
		summary.CountsByStatus[c.Status] = c.N
	}

	type savingsRow struct {
		Currency string
		Total    decimal.Decimal
	}
	var savings []savingsRow
	err = s.db.WithContext(ctx).
		Model(&Recommendation{}).
		Select("currency, sum(savings) as total").
		Where("tenant_id = ? AND status IN ?", tenantID, []Status{StatusPending, StatusSeen}).
		Group("currency").
		Scan(&savings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum savings: %w", err)
	}
	for _, row := range savings {
		summary.PotentialSavings[row.Currency] = row.Total
	}

	lastRun, err := s.LastRun(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	summary.LastRun = lastRun
	return summary, nil
}

// SaveRuleSetting upserts an admin rule override at its exact scope.
func (s *Store) SaveRuleSetting(ctx context.Context, setting *RuleSetting) error {
	q := s.db.WithContext(ctx).Where("rule_id = ?", setting.RuleID)
	if setting.Provider != nil {
		q = q.Where("provider = ?", *setting.Provider)
	} else {
		q = q.Where("provider IS NULL")
	}
	if setting.ResourceType != nil {
		q = q.Where("resource_type = ?", *setting.ResourceType)
	} else {
		q = q.Where("resource_type IS NULL")
	}

	var existing RuleSetting
	err := q.First(&existing).Error
	switch {
	case err == nil:
		setting.ID = existing.ID
		setting.CreatedAt = existing.CreatedAt
	case errors.Is(err, gorm.ErrRecordNotFound):
		// fall through to insert
	default:
		return fmt.Errorf("failed to load rule setting: %w", err)
	}

	if err := s.db.WithContext(ctx).Save(setting).Error; err != nil {
		return fmt.Errorf("failed to save rule setting: %w", err)
	}
	return nil
}

// RuleEnabled resolves the admin override for a rule in a given provider and
// resource-type context. The most specific matching scope wins; a setting
// whose non-nil scope does not match the context is ignored entirely.
func (s *Store) RuleEnabled(ctx context.Context, ruleID, provider, resourceType string) (enabled, found bool, err error) {
	var settings []RuleSetting
	if err := s.db.WithContext(ctx).Where("rule_id = ?", ruleID).Find(&settings).Error; err != nil {
		return false, false, fmt.Errorf("failed to load rule settings: %w", err)
	}

	best := -1
	for _, setting := range settings {
		specificity := 0
		if setting.Provider != nil {
			if *setting.Provider != provider {
				continue
			}
			specificity += 2
		}
		if setting.ResourceType != nil {
			if *setting.ResourceType != resourceType {
				continue
			}
			specificity++
		}
		if specificity > best {
			best = specificity
			enabled = setting.Enabled
			found = true
		}
	}
	return enabled, found, nil
}

// CreateRun persists a new engine-run record.
func (s *Store) CreateRun(ctx context.Context, run *EngineRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}
	return nil
}

// SaveRun updates an engine-run record.
func (s *Store) SaveRun(ctx context.Context, run *EngineRun) error {
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	return nil
}

// LastRun returns the most recently started run for a tenant, or nil when the
// engine has never run.
func (s *Store) LastRun(ctx context.Context, tenantID string) (*EngineRun, error) {
	var run EngineRun
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last run: %w", err)
	}
	return &run, nil
}

// ListRuns returns recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, tenantID string, limit int) ([]EngineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []EngineRun
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
