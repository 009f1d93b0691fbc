package recstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"costadvisor/internal/config"
	"costadvisor/internal/rules"
)

// ErrNotFound is returned when a recommendation does not exist.
var ErrNotFound = errors.New("recommendation not found")

// ErrInvalidTransition is returned when a user action is not allowed from the
// record's current status. Terminal records never reopen.
var ErrInvalidTransition = errors.New("invalid status transition")

// Outcome classifies what Reconcile did with an output.
type Outcome string

const (
	OutcomeCreated    Outcome = "created"    // no live record existed
	OutcomeRefreshed  Outcome = "refreshed"  // live record re-verified
	OutcomeSuppressed Outcome = "suppressed" // swallowed by a suppression window
	OutcomeResurfaced Outcome = "resurfaced" // new record superseding a terminal one
)

// Store is the persistence and lifecycle manager for recommendations.
type Store struct {
	db     *gorm.DB
	cfg    config.Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a store. The gorm DB should be opened with TranslateError so
// uniqueness conflicts surface as gorm.ErrDuplicatedKey.
func New(db *gorm.DB, cfg config.Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, cfg: cfg, logger: logger, now: time.Now}
}

// WithClock overrides the store's clock. Tests use this to step through
// suppression windows and sweep thresholds.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Migrate creates the schema. The identity key is enforced with a partial
// unique index over live statuses: at most one live record per key, while
// terminal history with the same key stays queryable. The constraint lives in
// the database, not the application, so concurrent tenant runs and retried
// syncs stay correct.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Recommendation{}, &RuleSetting{}, &EngineRun{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_rec_identity_live
		ON recommendations (tenant_id, rule_id, resource_id, type, target_provider, target_sku)
		WHERE status IN ('pending', 'seen', 'snoozed')
	`).Error
	if err != nil {
		return fmt.Errorf("failed to create identity index: %w", err)
	}
	return nil
}

// Reconcile folds one rule output into the persisted state. It is idempotent:
// reconciling the same output twice refreshes one record instead of creating
// two, and it never regresses a terminal status.
func (s *Store) Reconcile(ctx context.Context, tenantID string, out rules.Output) (Outcome, *Recommendation, error) {
	now := s.now()

	var existing []Recommendation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND rule_id = ? AND resource_id = ? AND type = ? AND target_provider = ? AND target_sku = ?",
			tenantID, out.RuleID, out.ResourceID, out.Type, out.TargetProvider, out.TargetSKU).
		Order("created_at DESC").
		Find(&existing).Error
	if err != nil {
		return "", nil, fmt.Errorf("failed to load existing records: %w", err)
	}

	var live *Recommendation
	var latestTerminal *Recommendation
	for i := range existing {
		rec := &existing[i]
		if live == nil && rec.Status.Live() {
			live = rec
		}
		if latestTerminal == nil && rec.Status.Terminal() {
			latestTerminal = rec
		}
	}

	if live != nil {
		return s.reconcileLive(ctx, live, out, now)
	}
	if latestTerminal != nil {
		if suppressed := s.suppressedBy(latestTerminal, out, now); suppressed {
			return OutcomeSuppressed, latestTerminal, nil
		}
		rec, err := s.create(ctx, tenantID, out, now)
		if err != nil {
			return "", nil, err
		}
		return OutcomeResurfaced, rec, nil
	}

	rec, err := s.create(ctx, tenantID, out, now)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			// Lost an insert race; the winner's record becomes ours to
			// refresh.
			return s.retryAsRefresh(ctx, tenantID, out, now)
		}
		return "", nil, err
	}
	return OutcomeCreated, rec, nil
}

func (s *Store) reconcileLive(ctx context.Context, live *Recommendation, out rules.Output, now time.Time) (Outcome, *Recommendation, error) {
	if live.Status == StatusSnoozed {
		if live.SnoozedUntil != nil && now.Before(*live.SnoozedUntil) {
			// Still snoozed: keep it verified so the staleness sweep
			// does not fire underneath the snooze, but do not surface.
			live.LastVerifiedAt = now
			live.MissedCycles = 0
			if err := s.db.WithContext(ctx).Save(live).Error; err != nil {
				return "", nil, fmt.Errorf("failed to update snoozed record: %w", err)
			}
			return OutcomeSuppressed, live, nil
		}
		// Snooze elapsed: the record returns to pending for re-evaluation.
		live.Status = StatusPending
		live.SnoozedUntil = nil
		s.refreshFields(live, out, now)
		if err := s.db.WithContext(ctx).Save(live).Error; err != nil {
			return "", nil, fmt.Errorf("failed to unsnooze record: %w", err)
		}
		return OutcomeResurfaced, live, nil
	}

	s.refreshFields(live, out, now)
	if err := s.db.WithContext(ctx).Save(live).Error; err != nil {
		return "", nil, fmt.Errorf("failed to refresh record: %w", err)
	}
	return OutcomeRefreshed, live, nil
}

// suppressedBy decides whether a terminal record still swallows this output.
// Dismissed and implemented records suppress for their configured windows
// unless the new savings clear the improvement margin; auto-dismissed records
// never suppress (the underlying condition evidently holds again).
func (s *Store) suppressedBy(terminal *Recommendation, out rules.Output, now time.Time) bool {
	var since *time.Time
	var windowDays int
	var marginPct float64

	switch terminal.Status {
	case StatusDismissed:
		since, windowDays, marginPct = terminal.DismissedAt, s.cfg.DismissedWindowDays, s.cfg.DismissedOverridePercent
	case StatusImplemented:
		since, windowDays, marginPct = terminal.ImplementedAt, s.cfg.ImplementedWindowDays, s.cfg.ImplementedOverridePercent
	default:
		return false
	}
	if since == nil {
		return false
	}
	if now.Sub(*since) > time.Duration(windowDays)*24*time.Hour {
		return false
	}

	// Inside the window: only a material improvement resurfaces the
	// suggestion.
	bar := terminal.Savings.Mul(decimal.NewFromFloat(1 + marginPct/100))
	return !out.Savings.GreaterThan(bar)
}

func (s *Store) create(ctx context.Context, tenantID string, out rules.Output, now time.Time) (*Recommendation, error) {
	insights, err := json.Marshal(out.Insights)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal insights: %w", err)
	}

	rec := &Recommendation{
		ID:             uuid.New(),
		TenantID:       tenantID,
		RuleID:         out.RuleID,
		ResourceID:     out.ResourceID,
		Type:           out.Type,
		TargetProvider: out.TargetProvider,
		TargetSKU:      out.TargetSKU,
		TargetRegion:   out.TargetRegion,
		Provider:       out.SourceProvider,
		ResourceType:   out.SourceResourceType,
		Category:       string(out.Category),
		Severity:       string(out.Severity),
		Title:          out.Title,
		Description:    out.Description,
		Savings:        out.Savings,
		Currency:       out.Currency,
		Confidence:     out.Confidence,
		Insights:       insights,
		Status:         StatusPending,
		FirstSeenAt:    now,
		LastVerifiedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) retryAsRefresh(ctx context.Context, tenantID string, out rules.Output, now time.Time) (Outcome, *Recommendation, error) {
	var live Recommendation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND rule_id = ? AND resource_id = ? AND type = ? AND target_provider = ? AND target_sku = ? AND status IN ?",
			tenantID, out.RuleID, out.ResourceID, out.Type, out.TargetProvider, out.TargetSKU,
			[]Status{StatusPending, StatusSeen, StatusSnoozed}).
		First(&live).Error
	if err != nil {
		return "", nil, fmt.Errorf("failed to reload record after conflict: %w", err)
	}
	return s.reconcileLive(ctx, &live, out, now)
}

func (s *Store) refreshFields(rec *Recommendation, out rules.Output, now time.Time) {
	if insights, err := json.Marshal(out.Insights); err == nil {
		rec.Insights = insights
	}
	rec.Savings = out.Savings
	rec.Currency = out.Currency
	rec.Confidence = out.Confidence
	rec.Title = out.Title
	rec.Description = out.Description
	rec.Severity = string(out.Severity)
	rec.TargetRegion = out.TargetRegion
	rec.LastVerifiedAt = now
	rec.MissedCycles = 0
}

// DismissedTargets returns the target providers of user-dismissed records for
// a resource and recommendation type whose suppression window is still open.
// Substitution rules remove them from the candidate pool so the next-best
// alternative surfaces instead of a rejected one.
func (s *Store) DismissedTargets(ctx context.Context, tenantID, resourceID, recType string) ([]string, error) {
	cutoff := s.now().Add(-time.Duration(s.cfg.DismissedWindowDays) * 24 * time.Hour)

	var providers []string
	err := s.db.WithContext(ctx).
		Model(&Recommendation{}).
		Distinct("target_provider").
		Where("tenant_id = ? AND resource_id = ? AND type = ? AND status = ? AND dismissed_at > ?",
			tenantID, resourceID, recType, StatusDismissed, cutoff).
		Pluck("target_provider", &providers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query dismissed targets: %w", err)
	}
	return providers, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
