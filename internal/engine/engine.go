// Package engine drives one recommendation run per completed inventory sync:
// a per-resource pass, a global pass, reconciliation of every output, and the
// post-run auto-dismissal sweeps.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"costadvisor/internal/config"
	"costadvisor/internal/recstore"
	"costadvisor/internal/rules"
	"costadvisor/pkg/catalog"
	"costadvisor/pkg/inventory"
)

// RuleMetrics are the per-rule counters reported on the run record.
type RuleMetrics struct {
	Invocations int `json:"invocations"`
	Outputs     int `json:"outputs"`
	Failures    int `json:"failures"`
}

// Engine orchestrates recommendation runs. One instance serves all tenants;
// runs for different tenants may execute concurrently since all mutable state
// lives on the run, not the engine.
type Engine struct {
	registry  *rules.Registry
	catalog   catalog.Store
	inventory inventory.Source
	store     *recstore.Store
	cfg       config.Config
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an engine.
func New(registry *rules.Registry, cat catalog.Store, inv inventory.Source, store *recstore.Store, cfg config.Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:  registry,
		catalog:   cat,
		inventory: inv,
		store:     store,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the engine clock for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run executes one full evaluation for a tenant. Individual rule failures are
// logged and counted but never abort the run; only a total inability to load
// the inventory or reach the price catalog fails it. Re-running against
// identical inputs is idempotent.
func (e *Engine) Run(ctx context.Context, tenantID string) (*recstore.EngineRun, error) {
	runStart := e.now()
	run := &recstore.EngineRun{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Status:    recstore.RunStatusRunning,
		StartedAt: runStart,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	if err := e.catalog.Ping(ctx); err != nil {
		return run, e.fail(ctx, run, fmt.Errorf("price catalog unavailable: %w", err))
	}
	resources, err := e.inventory.ListResources(ctx, tenantID)
	if err != nil {
		return run, e.fail(ctx, run, fmt.Errorf("inventory unavailable: %w", err))
	}
	prefs, err := e.inventory.Preferences(ctx, tenantID)
	if err != nil {
		return run, e.fail(ctx, run, fmt.Errorf("tenant preferences unavailable: %w", err))
	}

	ectx := &rules.Context{
		TenantID:         tenantID,
		Catalog:          e.catalog,
		History:          e.store,
		Inventory:        resources,
		EnabledProviders: prefs.EnabledProviders,
		Config:           e.cfg,
		Logger:           e.logger,
		Now:              runStart,
	}

	metrics := make(map[string]*RuleMetrics)
	skips := make(map[string]int)

	// Pass 1: resource-scope rules, one resource at a time.
	for _, res := range resources {
		if res.Excluded || !res.Active() {
			continue
		}
		run.ResourcesEvaluated++

		applicable, resSkips := e.registry.Applicable(ctx, res, ectx)
		for reason, n := range resSkips {
			skips[reason] += n
		}
		for _, rule := range applicable {
			e.invoke(ctx, run, rule, res, ectx, metrics)
		}
	}

	// Pass 2: global-scope rules see the full inventory once, after every
	// resource-scope output is known.
	for _, rule := range e.registry.Global() {
		if e.cfg.RuleDisabled(rule.Meta().ID) {
			skips[rules.SkipDisabledConfig]++
			continue
		}
		e.invoke(ctx, run, rule, inventory.Resource{}, ectx, metrics)
	}

	// Post-persist sweeps.
	if run.AutoDismissedStale, err = e.store.StalenessSweep(ctx, tenantID, runStart); err != nil {
		return run, e.fail(ctx, run, err)
	}
	if run.AutoDismissedIgnored, err = e.store.IgnoredSweep(ctx, tenantID); err != nil {
		return run, e.fail(ctx, run, err)
	}
	if run.SnoozesExpired, err = e.store.SnoozeSweep(ctx, tenantID); err != nil {
		return run, e.fail(ctx, run, err)
	}

	finished := e.now()
	run.Status = recstore.RunStatusCompleted
	run.FinishedAt = &finished
	run.DurationMS = finished.Sub(runStart).Milliseconds()
	run.RuleMetrics = marshalMetrics(metrics, skips)
	if err := e.store.SaveRun(ctx, run); err != nil {
		return run, err
	}

	e.logger.Info("recommendation run completed",
		zap.String("tenant", tenantID),
		zap.String("run", run.ID.String()),
		zap.Int("resources", run.ResourcesEvaluated),
		zap.Int("outputs", run.OutputsProduced),
		zap.Int("created", run.RecordsCreated),
		zap.Int("updated", run.RecordsUpdated),
		zap.Int("suppressed", run.OutputsSuppressed),
		zap.Int("rule_failures", run.RuleFailures),
		zap.Int("auto_dismissed_stale", run.AutoDismissedStale),
		zap.Int("auto_dismissed_ignored", run.AutoDismissedIgnored),
		zap.Int64("duration_ms", run.DurationMS))
	return run, nil
}

// invoke runs one rule against one resource (or the whole inventory for
// global rules) and reconciles its outputs. Failures are isolated here.
func (e *Engine) invoke(ctx context.Context, run *recstore.EngineRun, rule rules.Rule, res inventory.Resource, ectx *rules.Context, metrics map[string]*RuleMetrics) {
	meta := rule.Meta()
	m := metrics[meta.ID]
	if m == nil {
		m = &RuleMetrics{}
		metrics[meta.ID] = m
	}
	m.Invocations++

	outputs, err := rule.Evaluate(ctx, res, ectx)
	if err != nil {
		m.Failures++
		run.RuleFailures++
		e.logger.Error("rule evaluation failed",
			zap.String("rule", meta.ID),
			zap.String("resource", res.ID),
			zap.Error(err))
		return
	}

	for _, out := range outputs {
		out.SourceProvider = res.Provider
		out.SourceResourceType = res.Type
		m.Outputs++
		run.OutputsProduced++

		outcome, _, err := e.store.Reconcile(ctx, ectx.TenantID, out)
		if err != nil {
			e.logger.Error("failed to reconcile output",
				zap.String("rule", meta.ID),
				zap.String("resource", out.ResourceID),
				zap.Error(err))
			continue
		}
		switch outcome {
		case recstore.OutcomeCreated, recstore.OutcomeResurfaced:
			run.RecordsCreated++
		case recstore.OutcomeRefreshed:
			run.RecordsUpdated++
		case recstore.OutcomeSuppressed:
			run.OutputsSuppressed++
		}
	}
}

func (e *Engine) fail(ctx context.Context, run *recstore.EngineRun, cause error) error {
	finished := e.now()
	run.Status = recstore.RunStatusFailed
	run.FailureReason = cause.Error()
	run.FinishedAt = &finished
	run.DurationMS = finished.Sub(run.StartedAt).Milliseconds()
	if saveErr := e.store.SaveRun(ctx, run); saveErr != nil {
		e.logger.Error("failed to persist failed run", zap.Error(saveErr))
	}
	e.logger.Error("recommendation run failed",
		zap.String("tenant", run.TenantID),
		zap.String("run", run.ID.String()),
		zap.Error(cause))
	return cause
}

func marshalMetrics(metrics map[string]*RuleMetrics, skips map[string]int) []byte {
	payload := struct {
		Rules map[string]*RuleMetrics `json:"rules"`
		Skips map[string]int          `json:"skips,omitempty"`
	}{Rules: metrics, Skips: skips}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}
