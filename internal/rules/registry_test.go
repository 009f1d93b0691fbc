package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"costadvisor/pkg/catalog"
	"costadvisor/pkg/inventory"
)

// stubSettings answers admin overrides from a fixed map keyed by rule ID.
type stubSettings struct {
	disabled map[string]bool
	err      error
}

func (s *stubSettings) RuleEnabled(ctx context.Context, ruleID, provider, resourceType string) (bool, bool, error) {
	if s.err != nil {
		return false, false, s.err
	}
	if v, ok := s.disabled[ruleID]; ok {
		return !v, true, nil
	}
	return false, false, nil
}

func runningInstance() inventory.Resource {
	return inventory.Resource{
		ID:          "vm-1",
		Provider:    "aws",
		Type:        inventory.TypeInstance,
		Status:      inventory.StatusRunning,
		MonthlyCost: decimal.NewFromInt(100),
		Config: map[string]interface{}{
			"cores":     float64(2),
			"memory_gb": float64(4),
		},
	}
}

func TestRegistryApplicable(t *testing.T) {
	registry := NewRegistry(nil, zap.NewNop())
	registry.Register(NewCrossProviderRule(), NewRightsizeRule(), NewCleanupRule(), NewClusterPriceRule())

	ectx := testContext(catalog.NewMemoryStore(), "aws", "gcp")
	res := runningInstance()

	applicable, skips := registry.Applicable(context.Background(), res, ectx)
	require.Len(t, applicable, 1, "only the cross-provider rule applies to a running instance without metrics")
	assert.Equal(t, "cross_provider_price", applicable[0].Meta().ID)
	assert.Equal(t, 1, skips[SkipTypeMismatch], "the cluster rule does not understand instances")
	assert.Equal(t, 2, skips[SkipNotApplicable], "rightsize lacks metrics, cleanup sees a running resource")
}

func TestRegistryConfigDisable(t *testing.T) {
	registry := NewRegistry(nil, zap.NewNop())
	registry.Register(NewCrossProviderRule())

	ectx := testContext(catalog.NewMemoryStore(), "aws", "gcp")
	ectx.Config.DisabledRules = []string{"cross_provider_price"}

	applicable, skips := registry.Applicable(context.Background(), runningInstance(), ectx)
	assert.Empty(t, applicable)
	assert.Equal(t, 1, skips[SkipDisabledConfig])
}

func TestRegistryAdminDisable(t *testing.T) {
	settings := &stubSettings{disabled: map[string]bool{"cross_provider_price": true}}
	registry := NewRegistry(settings, zap.NewNop())
	registry.Register(NewCrossProviderRule())

	ectx := testContext(catalog.NewMemoryStore(), "aws", "gcp")

	applicable, skips := registry.Applicable(context.Background(), runningInstance(), ectx)
	assert.Empty(t, applicable)
	assert.Equal(t, 1, skips[SkipDisabledAdmin])
}

func TestRegistrySettingsFailureDoesNotSilenceRules(t *testing.T) {
	settings := &stubSettings{err: errors.New("settings store down")}
	registry := NewRegistry(settings, zap.NewNop())
	registry.Register(NewCrossProviderRule())

	ectx := testContext(catalog.NewMemoryStore(), "aws", "gcp")

	applicable, _ := registry.Applicable(context.Background(), runningInstance(), ectx)
	require.Len(t, applicable, 1, "a failed settings lookup falls through to the rule's own predicate")
}

func TestRegistryGlobal(t *testing.T) {
	registry := NewRegistry(nil, zap.NewNop())
	registry.Register(NewCrossProviderRule(), NewCleanupRule())

	assert.Empty(t, registry.Global(), "the built-in rules are all resource-scoped")
	assert.Len(t, registry.All(), 2)
}

func TestMetaApplicability(t *testing.T) {
	meta := Meta{
		ResourceTypes: []string{inventory.TypeInstance},
		Providers:     []string{"aws"},
	}

	assert.True(t, meta.AppliesToType(inventory.TypeInstance))
	assert.False(t, meta.AppliesToType(inventory.TypeVolume))
	assert.True(t, meta.AppliesToProvider("aws"))
	assert.False(t, meta.AppliesToProvider("gcp"))

	open := Meta{ResourceTypes: []string{inventory.TypeInstance}}
	assert.True(t, open.AppliesToProvider("anything"), "an empty provider list matches all providers")
}
