package rules

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costadvisor/pkg/catalog"
	"costadvisor/pkg/inventory"
)

func idleInstance(cost int64, util *inventory.Utilization) inventory.Resource {
	return inventory.Resource{
		ID:          "vm-2",
		TenantID:    "tenant-1",
		Provider:    "aws",
		Region:      "eu-west-1",
		Type:        inventory.TypeInstance,
		Name:        "batch-1",
		Status:      inventory.StatusRunning,
		MonthlyCost: decimal.NewFromInt(cost),
		Currency:    "USD",
		Utilization: util,
		Config: map[string]interface{}{
			"cores":     float64(4),
			"memory_gb": float64(16),
		},
	}
}

func sizedRow(sku string, cores int, memoryGB float64, price int64) catalog.PriceRow {
	return catalog.PriceRow{
		SKU:          sku,
		Provider:     "aws",
		Region:       "eu-west-1",
		ResourceType: inventory.TypeInstance,
		Cores:        cores,
		MemoryGB:     memoryGB,
		MonthlyPrice: decimal.NewFromInt(price),
		Currency:     "USD",
	}
}

func TestRightsizeProposesNextSmaller(t *testing.T) {
	cat := catalog.NewMemoryStore()
	cat.Add(
		sizedRow("c-1", 1, 4, 200),
		sizedRow("c-2", 2, 8, 400),
		sizedRow("c-4", 4, 16, 800),
	)
	ectx := testContext(cat, "aws")
	res := idleInstance(800, &inventory.Utilization{
		CPUAvgPercent:  10,
		CPUPeakPercent: 25,
		WindowDays:     30,
	})

	rule := NewRightsizeRule()
	require.True(t, rule.Applies(res, ectx))

	outputs, err := rule.Evaluate(context.Background(), res, ectx)
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	out := outputs[0]
	assert.Equal(t, TypeRightsize, out.Type)
	assert.Equal(t, "c-2", out.TargetSKU, "the step down is the smallest available, not the floor")
	assert.Equal(t, "aws", out.TargetProvider, "rightsizing stays on the same provider")
	assert.True(t, out.Savings.Equal(decimal.NewFromInt(400)))
	assert.InDelta(t, 0.95, out.Confidence, 1e-9, "low peak plus a long window maxes out confidence")
}

func TestRightsizeSkipsBusyInstance(t *testing.T) {
	ectx := testContext(catalog.NewMemoryStore(), "aws")

	tests := []struct {
		name string
		util inventory.Utilization
	}{
		{"average too high", inventory.Utilization{CPUAvgPercent: 45, CPUPeakPercent: 50, WindowDays: 30}},
		{"peak too high", inventory.Utilization{CPUAvgPercent: 10, CPUPeakPercent: 85, WindowDays: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.util
			outputs, err := NewRightsizeRule().Evaluate(context.Background(), idleInstance(800, &u), ectx)
			require.NoError(t, err)
			assert.Empty(t, outputs)
		})
	}
}

func TestRightsizeSkipsSingleCore(t *testing.T) {
	cat := catalog.NewMemoryStore()
	cat.Add(sizedRow("c-tiny", 1, 1, 50))
	ectx := testContext(cat, "aws")

	res := idleInstance(100, &inventory.Utilization{CPUAvgPercent: 5, CPUPeakPercent: 10, WindowDays: 30})
	res.Config["cores"] = float64(1)
	res.Config["memory_gb"] = float64(2)

	outputs, err := NewRightsizeRule().Evaluate(context.Background(), res, ectx)
	require.NoError(t, err)
	assert.Empty(t, outputs, "one core is already minimal")
}

func TestRightsizeRequiresUtilization(t *testing.T) {
	ectx := testContext(catalog.NewMemoryStore(), "aws")
	assert.False(t, NewRightsizeRule().Applies(idleInstance(800, nil), ectx))
}

func TestRightsizeConfidence(t *testing.T) {
	tests := []struct {
		name     string
		util     inventory.Utilization
		expected float64
	}{
		{"base", inventory.Utilization{CPUPeakPercent: 50, WindowDays: 7}, 0.70},
		{"quiet peak", inventory.Utilization{CPUPeakPercent: 20, WindowDays: 7}, 0.85},
		{"long window", inventory.Utilization{CPUPeakPercent: 50, WindowDays: 30}, 0.80},
		{"both", inventory.Utilization{CPUPeakPercent: 20, WindowDays: 30}, 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.util
			assert.InDelta(t, tt.expected, rightsizeConfidence(&u), 1e-9)
		})
	}
}
