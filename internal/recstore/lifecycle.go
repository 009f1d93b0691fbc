package recstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StalenessSweep increments the miss counter of every live pending/seen
// record the run did not re-verify, and auto-dismisses those that crossed the
// consecutive-miss threshold: the condition that produced them evidently no
// longer holds. Returns the number of records auto-dismissed.
func (s *Store) StalenessSweep(ctx context.Context, tenantID string, runStart time.Time) (int, error) {
	now := s.now()

	var stale []Recommendation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ? AND last_verified_at < ?",
			tenantID, []Status{StatusPending, StatusSeen}, runStart).
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load stale candidates: %w", err)
	}

	dismissed := 0
	for i := range stale {
		rec := &stale[i]
		rec.MissedCycles++
		if rec.MissedCycles >= s.cfg.StaleMissThreshold {
			rec.Status = StatusAutoDismissed
			rec.DismissReason = ReasonStale
			rec.DismissedAt = &now
			dismissed++
			s.logger.Info("recommendation auto-dismissed as stale",
				zap.String("id", rec.ID.String()),
				zap.String("rule", rec.RuleID),
				zap.Int("missed_cycles", rec.MissedCycles))
		}
		if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
			return dismissed, fmt.Errorf("failed to update stale record: %w", err)
		}
	}
	return dismissed, nil
}

// IgnoredSweep auto-dismisses records that sat in seen status beyond the
// configured window without any user action.
func (s *Store) IgnoredSweep(ctx context.Context, tenantID string) (int, error) {
	now := s.now()
	cutoff := now.Add(-time.Duration(s.cfg.SeenMaxAgeDays) * 24 * time.Hour)

	var ignored []Recommendation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND seen_at < ?", tenantID, StatusSeen, cutoff).
		Find(&ignored).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load ignored candidates: %w", err)
	}

	for i := range ignored {
		rec := &ignored[i]
		rec.Status = StatusAutoDismissed
		rec.DismissReason = ReasonNoAction
		rec.DismissedAt = &now
		if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
			return i, fmt.Errorf("failed to auto-dismiss ignored record: %w", err)
		}
	}
	return len(ignored), nil
}

// SnoozeSweep returns expired snoozes to pending so the next cycle
// re-evaluates them.
func (s *Store) SnoozeSweep(ctx context.Context, tenantID string) (int, error) {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&Recommendation{}).
		Where("tenant_id = ? AND status = ? AND snoozed_until <= ?", tenantID, StatusSnoozed, now).
		Updates(map[string]interface{}{"status": StatusPending, "snoozed_until": nil})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire snoozes: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// Get loads one recommendation by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Recommendation, error) {
	var rec Recommendation
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recommendation: %w", err)
	}
	return &rec, nil
}

// MarkSeen records that the user viewed a pending recommendation. Calling it
// on an already-seen record is a no-op.
func (s *Store) MarkSeen(ctx context.Context, id uuid.UUID) (*Recommendation, error) {
	return s.transition(ctx, id, func(rec *Recommendation, now time.Time) error {
		switch rec.Status {
		case StatusSeen:
			return nil
		case StatusPending:
			rec.Status = StatusSeen
			rec.SeenAt = &now
			return nil
		default:
			return ErrInvalidTransition
		}
	})
}

// Dismiss rejects a recommendation. Valid from any live status; dismissal
// starts the suppression window for this identity key.
func (s *Store) Dismiss(ctx context.Context, id uuid.UUID, reason string) (*Recommendation, error) {
	return s.transition(ctx, id, func(rec *Recommendation, now time.Time) error {
		if !rec.Status.Live() {
			return ErrInvalidTransition
		}
		rec.Status = StatusDismissed
		rec.DismissReason = reason
		rec.DismissedAt = &now
		return nil
	})
}

// Implement marks a recommendation as acted upon.
func (s *Store) Implement(ctx context.Context, id uuid.UUID) (*Recommendation, error) {
	return s.transition(ctx, id, func(rec *Recommendation, now time.Time) error {
		if !rec.Status.Live() {
			return ErrInvalidTransition
		}
		rec.Status = StatusImplemented
		rec.ImplementedAt = &now
		return nil
	})
}

// Snooze defers a recommendation until the given time.
func (s *Store) Snooze(ctx context.Context, id uuid.UUID, until time.Time) (*Recommendation, error) {
	return s.transition(ctx, id, func(rec *Recommendation, now time.Time) error {
		if rec.Status != StatusPending && rec.Status != StatusSeen {
			return ErrInvalidTransition
		}
		if !until.After(now) {
			return fmt.Errorf("snooze time must be in the future")
		}
		rec.Status = StatusSnoozed
		rec.SnoozedUntil = &until
		return nil
	})
}

func (s *Store) transition(ctx context.Context, id uuid.UUID, apply func(*Recommendation, time.Time) error) (*Recommendation, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(rec, s.now()); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to save transition: %w", err)
	}
	return rec, nil
}
