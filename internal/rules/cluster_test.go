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

func testCluster(cost int64) inventory.Resource {
	return inventory.Resource{
		ID:          "k8s-1",
		TenantID:    "tenant-1",
		Provider:    "gcp",
		Region:      "eu-west-1",
		Type:        inventory.TypeCluster,
		Name:        "prod-cluster",
		Status:      inventory.StatusRunning,
		MonthlyCost: decimal.NewFromInt(cost),
		Currency:    "USD",
		Config: map[string]interface{}{
			"cluster": map[string]interface{}{
				"control_plane_tier": "regional",
				"workers": []interface{}{
					map[string]interface{}{
						"count":        float64(6),
						"cores":        float64(4),
						"memory_gb":    float64(16),
						"storage_gb":   float64(128),
						"storage_type": "network-hdd",
					},
				},
				"volumes": []interface{}{
					map[string]interface{}{"size_gb": float64(750)},
				},
				"load_balancers": float64(2),
			},
		},
	}
}

func clusterCatalog() *catalog.MemoryStore {
	cat := catalog.NewMemoryStore()
	cat.Add(
		catalog.PriceRow{
			SKU: "cp-regional", Provider: "aws", Region: "eu-west-1",
			ResourceType: inventory.TypeControlPlane,
			MonthlyPrice: decimal.NewFromInt(70), Currency: "USD",
			Attributes: map[string]string{"tier": "regional"},
		},
		catalog.PriceRow{
			SKU: "w-4x16", Provider: "aws", Region: "eu-west-1",
			ResourceType: inventory.TypeInstance,
			Cores:        4, MemoryGB: 16,
			Storage:      `{"type":"hdd","size_gb":128}`,
			MonthlyPrice: decimal.NewFromInt(100), Currency: "USD",
		},
		catalog.PriceRow{
			SKU: "vol-std", Provider: "aws", Region: "eu-west-1",
			ResourceType: inventory.TypeVolume,
			MonthlyPrice: decimal.NewFromFloat(0.08), Currency: "USD",
		},
		catalog.PriceRow{
			SKU: "lb-std", Provider: "aws", Region: "eu-west-1",
			ResourceType: inventory.TypeLoadBalancer,
			MonthlyPrice: decimal.NewFromInt(18), Currency: "USD",
		},
	)
	return cat
}

func TestClusterAggregateProducesSingleOutput(t *testing.T) {
	ectx := testContext(clusterCatalog(), "gcp", "aws")
	res := testCluster(4000)

	rule := NewClusterPriceRule()
	require.True(t, rule.Applies(res, ectx))

	outputs, err := rule.Evaluate(context.Background(), res, ectx)
	require.NoError(t, err)
	require.Len(t, outputs, 1, "the cluster yields one aggregate output, not one per component")

	out := outputs[0]
	assert.Equal(t, TypeClusterMigration, out.Type)
	assert.Equal(t, "aws", out.TargetProvider)
	assert.Equal(t, "cp-regional", out.TargetSKU)

	// 70 control plane + 6*100 workers + 750*0.08 volumes + 2*18 LBs = 766
	assert.True(t, out.Savings.Equal(decimal.NewFromInt(3234)), "got %s", out.Savings)
	assert.InDelta(t, 70, out.Insights.Components["control_plane"], 1e-9)
	assert.InDelta(t, 600, out.Insights.Components["workers"], 1e-9)
	assert.InDelta(t, 60, out.Insights.Components["volumes"], 1e-9)
	assert.InDelta(t, 36, out.Insights.Components["load_balancers"], 1e-9)
	assert.InDelta(t, 1.0, out.Confidence, 1e-9)
}

func TestClusterAggregateRequiresEveryComponent(t *testing.T) {
	cat := catalog.NewMemoryStore()
	// Control plane and workers priced, but no load balancer offering.
	cat.Add(
		catalog.PriceRow{
			SKU: "cp-regional", Provider: "aws", Region: "eu-west-1",
			ResourceType: inventory.TypeControlPlane,
			MonthlyPrice: decimal.NewFromInt(70), Currency: "USD",
		},
		catalog.PriceRow{
			SKU: "w-4x16", Provider: "aws", Region: "eu-west-1",
			ResourceType: inventory.TypeInstance,
			Cores:        4, MemoryGB: 16,
			Storage:      `{"type":"hdd","size_gb":128}`,
			MonthlyPrice: decimal.NewFromInt(100), Currency: "USD",
		},
		catalog.PriceRow{
			SKU: "vol-std", Provider: "aws", Region: "eu-west-1",
			ResourceType: inventory.TypeVolume,
			MonthlyPrice: decimal.NewFromFloat(0.08), Currency: "USD",
		},
	)
	ectx := testContext(cat, "gcp", "aws")

	outputs, err := NewClusterPriceRule().Evaluate(context.Background(), testCluster(4000), ectx)
	require.NoError(t, err)
	assert.Empty(t, outputs, "a provider that cannot host every component is not quoted")
}

func TestClusterAggregateStaysInGeography(t *testing.T) {
	cat := clusterCatalog()
	ectx := testContext(cat, "gcp", "aws")

	res := testCluster(4000)
	res.Region = "us-east-1" // catalog only has eu offerings

	outputs, err := NewClusterPriceRule().Evaluate(context.Background(), res, ectx)
	require.NoError(t, err)
	assert.Empty(t, outputs, "cluster quoting never widens beyond the cluster's geography")
}

func TestClusterAggregateProgressiveDisclosure(t *testing.T) {
	ectx := testContext(clusterCatalog(), "gcp", "aws")
	ectx.History = &stubHistory{dismissed: map[string][]string{"k8s-1": {"aws"}}}

	outputs, err := NewClusterPriceRule().Evaluate(context.Background(), testCluster(4000), ectx)
	require.NoError(t, err)
	assert.Empty(t, outputs, "the only alternative provider was dismissed")
}

func TestClusterAppliesRequiresLayout(t *testing.T) {
	ectx := testContext(clusterCatalog(), "gcp", "aws")
	rule := NewClusterPriceRule()

	res := testCluster(4000)
	res.Config = map[string]interface{}{}
	assert.False(t, rule.Applies(res, ectx))
}
