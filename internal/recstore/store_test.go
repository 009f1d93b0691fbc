package recstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"costadvisor/internal/config"
	"costadvisor/internal/rules"
)

// testClock is a settable clock for stepping through windows and sweeps.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	clock := &testClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	store := New(db, config.Default(), zap.NewNop()).WithClock(clock.Now)
	require.NoError(t, store.Migrate())
	return store, clock
}

func testOutput(savings int64) rules.Output {
	return rules.Output{
		RuleID:             "cross_provider_price",
		ResourceID:         "vm-1",
		Type:               rules.TypeCrossProviderMigration,
		SourceProvider:     "gcp",
		SourceResourceType: "compute_instance",
		Category:           rules.CategoryMigration,
		Severity:           rules.SeverityMedium,
		Title:              "Cheaper equivalent at aws",
		Description:        "test",
		Savings:            decimal.NewFromInt(savings),
		Currency:           "USD",
		Confidence:         0.92,
		TargetProvider:     "aws",
		TargetSKU:          "m-large",
		TargetRegion:       "eu-west-1",
	}
}

func TestReconcileCreatesPending(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	outcome, rec, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "gcp", rec.Provider)
	assert.Equal(t, clock.Now(), rec.FirstSeenAt)
	assert.Equal(t, clock.Now(), rec.LastVerifiedAt)
}

func TestReconcileIsIdempotent(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, first, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	outcome, second, err := store.Reconcile(ctx, "tenant-1", testOutput(420))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, outcome)
	assert.Equal(t, first.ID, second.ID, "the same identity key refreshes, never duplicates")
	assert.True(t, second.Savings.Equal(decimal.NewFromInt(420)), "refresh carries the new savings")
	assert.Equal(t, clock.Now(), second.LastVerifiedAt)

	recs, err := store.List(ctx, "tenant-1", Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestReconcileDistinctTargetsAreDistinctRecords(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)

	other := testOutput(300)
	other.TargetProvider = "azure"
	other.TargetSKU = "d4"
	outcome, _, err := store.Reconcile(ctx, "tenant-1", other)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	recs, err := store.List(ctx, "tenant-1", Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestDismissalSuppressesWithinWindow(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, rec, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)
	_, err = store.Dismiss(ctx, rec.ID, "not migrating")
	require.NoError(t, err)

	// Same proposal next cycle: swallowed.
	clock.Advance(24 * time.Hour)
	outcome, _, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)

	// 10% better: still under the 15% margin.
	outcome, _, err = store.Reconcile(ctx, "tenant-1", testOutput(440))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)

	// 20% better: clears the margin and resurfaces as a new record.
	outcome, fresh, err := store.Reconcile(ctx, "tenant-1", testOutput(480))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResurfaced, outcome)
	assert.NotEqual(t, rec.ID, fresh.ID)
	assert.Equal(t, StatusPending, fresh.Status)
}

func TestDismissalWindowExpires(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, rec, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)
	_, err = store.Dismiss(ctx, rec.ID, "")
	require.NoError(t, err)

	clock.Advance(61 * 24 * time.Hour)
	outcome, _, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResurfaced, outcome, "the 60-day window has passed")
}

func TestImplementedWindowUsesOwnMargin(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, rec, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)
	_, err = store.Implement(ctx, rec.ID)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)

	// 15% better clears the dismissed margin but not the implemented one.
	outcome, _, err := store.Reconcile(ctx, "tenant-1", testOutput(460))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)

	outcome, _, err = store.Reconcile(ctx, "tenant-1", testOutput(490))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResurfaced, outcome, "22.5% improvement clears the 20% margin")
}

func TestAutoDismissedNeverSuppresses(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)

	// Three runs without re-emission auto-dismiss the record.
	for i := 0; i < 3; i++ {
		clock.Advance(24 * time.Hour)
		_, err := store.StalenessSweep(ctx, "tenant-1", clock.Now())
		require.NoError(t, err)
	}

	outcome, _, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResurfaced, outcome,
		"the condition holds again, so the auto-dismissal must not swallow it")
}

func TestStalenessSweep(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, rec, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)

	// Two missed cycles: still live.
	for i := 0; i < 2; i++ {
		clock.Advance(24 * time.Hour)
		dismissed, err := store.StalenessSweep(ctx, "tenant-1", clock.Now())
		require.NoError(t, err)
		assert.Zero(t, dismissed)
	}

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 2, got.MissedCycles)

	// Third miss crosses the threshold.
	clock.Advance(24 * time.Hour)
	dismissed, err := store.StalenessSweep(ctx, "tenant-1", clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, dismissed)

	got, err = store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAutoDismissed, got.Status)
	assert.Equal(t, ReasonStale, got.DismissReason)
}

func TestStalenessResetOnReemission(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, rec, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		clock.Advance(24 * time.Hour)
		_, err := store.StalenessSweep(ctx, "tenant-1", clock.Now())
		require.NoError(t, err)
	}

	// The rule emits again at cycle three: the miss counter resets.
	clock.Advance(24 * time.Hour)
	_, _, err = store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Zero(t, got.MissedCycles)
	assert.Equal(t, StatusPending, got.Status)
}

func TestIgnoredSweep(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, rec, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)
	_, err = store.MarkSeen(ctx, rec.ID)
	require.NoError(t, err)

	clock.Advance(29 * 24 * time.Hour)
	n, err := store.IgnoredSweep(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Zero(t, n, "inside the window nothing happens")

	clock.Advance(2 * 24 * time.Hour)
	n, err = store.IgnoredSweep(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAutoDismissed, got.Status)
	assert.Equal(t, ReasonNoAction, got.DismissReason)
}

func TestSnoozeLifecycle(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, rec, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)

	until := clock.Now().Add(7 * 24 * time.Hour)
	_, err = store.Snooze(ctx, rec.ID, until)
	require.NoError(t, err)

	// A re-emission during the snooze refreshes silently.
	clock.Advance(24 * time.Hour)
	outcome, _, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSnoozed, got.Status)
	assert.Equal(t, clock.Now(), got.LastVerifiedAt, "snoozed records stay verified so staleness cannot fire")

	// After expiry the sweep returns it to pending.
	clock.Advance(7 * 24 * time.Hour)
	n, err := store.SnoozeSweep(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.SnoozedUntil)
}

func TestTransitions(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, rec, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)

	seen, err := store.MarkSeen(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSeen, seen.Status)
	require.NotNil(t, seen.SeenAt)

	// Seen again is a no-op, not an error.
	again, err := store.MarkSeen(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSeen, again.Status)

	// Snoozing into the past is rejected.
	_, err = store.Snooze(ctx, rec.ID, clock.Now().Add(-time.Hour))
	assert.Error(t, err)

	_, err = store.Dismiss(ctx, rec.ID, "no")
	require.NoError(t, err)

	// Terminal records never reopen.
	_, err = store.MarkSeen(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = store.Implement(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = store.Dismiss(ctx, rec.ID, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDismissedTargets(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, rec, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)
	_, err = store.Dismiss(ctx, rec.ID, "")
	require.NoError(t, err)

	targets, err := store.DismissedTargets(ctx, "tenant-1", "vm-1", rules.TypeCrossProviderMigration)
	require.NoError(t, err)
	assert.Equal(t, []string{"aws"}, targets)

	// Outside the window the target is proposable again.
	clock.Advance(61 * 24 * time.Hour)
	targets, err = store.DismissedTargets(ctx, "tenant-1", "vm-1", rules.TypeCrossProviderMigration)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestRuleEnabledSpecificity(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	aws := "aws"
	instance := "compute_instance"

	require.NoError(t, store.SaveRuleSetting(ctx, &RuleSetting{RuleID: "r1", Enabled: false}))
	require.NoError(t, store.SaveRuleSetting(ctx, &RuleSetting{RuleID: "r1", Provider: &aws, Enabled: true}))
	require.NoError(t, store.SaveRuleSetting(ctx, &RuleSetting{RuleID: "r1", Provider: &aws, ResourceType: &instance, Enabled: false}))

	// Most specific scope wins.
	enabled, found, err := store.RuleEnabled(ctx, "r1", "aws", "compute_instance")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, enabled)

	// Provider scope beats the global default.
	enabled, found, err = store.RuleEnabled(ctx, "r1", "aws", "volume")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, enabled)

	// Unmatched scopes are ignored entirely.
	enabled, found, err = store.RuleEnabled(ctx, "r1", "gcp", "volume")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, enabled)

	// Unknown rule has no setting at any scope.
	_, found, err = store.RuleEnabled(ctx, "r2", "aws", "volume")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveRuleSettingUpserts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRuleSetting(ctx, &RuleSetting{RuleID: "r1", Enabled: false}))
	require.NoError(t, store.SaveRuleSetting(ctx, &RuleSetting{RuleID: "r1", Enabled: true}))

	enabled, found, err := store.RuleEnabled(ctx, "r1", "aws", "volume")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, enabled, "saving the same scope twice updates in place")
}

func TestListAndSummarize(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Reconcile(ctx, "tenant-1", testOutput(400))
	require.NoError(t, err)

	big := testOutput(900)
	big.ResourceID = "vm-9"
	big.Category = rules.CategoryCleanup
	_, rec, err := store.Reconcile(ctx, "tenant-1", big)
	require.NoError(t, err)
	_, err = store.Dismiss(ctx, rec.ID, "")
	require.NoError(t, err)

	live, err := store.List(ctx, "tenant-1", Filter{Statuses: []Status{StatusPending}})
	require.NoError(t, err)
	require.Len(t, live, 1)

	all, err := store.List(ctx, "tenant-1", Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Savings.GreaterThanOrEqual(all[1].Savings), "largest savings first")

	summary, err := store.Summarize(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.CountsByStatus[StatusPending])
	assert.Equal(t, int64(1), summary.CountsByStatus[StatusDismissed])
	assert.True(t, summary.PotentialSavings["USD"].Equal(decimal.NewFromInt(400)),
		"dismissed records do not count toward potential savings")
}
