package rules

import (
	"context"

	"go.uber.org/zap"

	"costadvisor/pkg/inventory"
)

// Skip reasons surfaced in run metrics and debug logs.
const (
	SkipTypeMismatch     = "type_mismatch"
	SkipProviderMismatch = "provider_mismatch"
	SkipDisabledConfig   = "disabled_config"
	SkipDisabledAdmin    = "disabled_admin"
	SkipNotApplicable    = "not_applicable"
)

// SettingsResolver answers admin enable/disable overrides for a rule. The
// most specific scope wins: resource-type+provider beats provider-only beats
// global. found is false when no setting exists at any scope.
type SettingsResolver interface {
	RuleEnabled(ctx context.Context, ruleID, provider, resourceType string) (enabled, found bool, err error)
}

// Registry holds the registered rules and filters them per resource.
type Registry struct {
	rules    []Rule
	settings SettingsResolver
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. settings may be nil when no admin
// override store is wired (tests, one-off CLI runs).
func NewRegistry(settings SettingsResolver, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{settings: settings, logger: logger}
}

// Register adds rules to the registry.
func (r *Registry) Register(rules ...Rule) {
	r.rules = append(r.rules, rules...)
}

// All returns every registered rule.
func (r *Registry) All() []Rule {
	return r.rules
}

// Global returns the rules declared with global scope.
func (r *Registry) Global() []Rule {
	var out []Rule
	for _, rule := range r.rules {
		if rule.Meta().Scope == ScopeGlobal {
			out = append(out, rule)
		}
	}
	return out
}

// Applicable resolves the resource-scope rules that apply to a resource:
// static metadata first, then admin settings, then the rule's own predicate.
// Skips are returned per reason for run diagnostics.
func (r *Registry) Applicable(ctx context.Context, res inventory.Resource, ectx *Context) ([]Rule, map[string]int) {
	skips := make(map[string]int)
	var out []Rule

	for _, rule := range r.rules {
		meta := rule.Meta()
		if meta.Scope != ScopeResource {
			continue
		}

		reason := r.skipReason(ctx, rule, res, ectx)
		if reason != "" {
			skips[reason]++
			r.logger.Debug("rule skipped",
				zap.String("rule", meta.ID),
				zap.String("resource", res.ID),
				zap.String("reason", reason))
			continue
		}
		out = append(out, rule)
	}
	return out, skips
}

func (r *Registry) skipReason(ctx context.Context, rule Rule, res inventory.Resource, ectx *Context) string {
	meta := rule.Meta()
	if !meta.AppliesToType(res.Type) {
		return SkipTypeMismatch
	}
	if !meta.AppliesToProvider(res.Provider) {
		return SkipProviderMismatch
	}
	if ectx.Config.RuleDisabled(meta.ID) {
		return SkipDisabledConfig
	}
	if r.settings != nil {
		enabled, found, err := r.settings.RuleEnabled(ctx, meta.ID, res.Provider, res.Type)
		if err != nil {
			// Settings lookup failures must not silence rules; fall
			// through to the rule's own predicate.
			r.logger.Warn("rule setting lookup failed",
				zap.String("rule", meta.ID), zap.Error(err))
		} else if found && !enabled {
			return SkipDisabledAdmin
		}
	}
	if !rule.Applies(res, ectx) {
		return SkipNotApplicable
	}
	return ""
}
