// Package catalog provides read access to the priced-SKU catalog. Catalog
// ingestion (provider pricing connectors) happens outside this module; the
// engine consumes normalized rows only.
package catalog

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceRow is one priced SKU for a provider/region.
//
// Storage holds the raw storage descriptor as ingested: depending on the
// connector this is a JSON object, a JSON array of disks, or the serialized
// text form of either. The normalization layer decodes it defensively.
type PriceRow struct {
	SKU          string            `json:"sku"`
	Provider     string            `json:"provider"`
	Region       string            `json:"region"`
	ResourceType string            `json:"resource_type"`
	Cores        int               `json:"cores"`
	MemoryGB     float64           `json:"memory_gb"`
	Storage      interface{}       `json:"storage,omitempty"`
	MonthlyPrice decimal.Decimal   `json:"monthly_price"`
	Currency     string            `json:"currency"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Query selects catalog rows. Zero-value fields are unconstrained.
type Query struct {
	Providers    []string
	ResourceType string
	Region       string // exact region match
	RegionPrefix string // geography prefix match, e.g. "eu"
}

// Store is the catalog read interface.
type Store interface {
	Rows(ctx context.Context, q Query) ([]PriceRow, error)
	Ping(ctx context.Context) error
	Close() error
}

// RegionPrefix extracts the geography prefix of a region identifier,
// e.g. "eu-west-1" -> "eu". Regions without a separator are their own prefix.
func RegionPrefix(region string) string {
	if i := strings.IndexAny(region, "-_"); i > 0 {
		return region[:i]
	}
	return region
}

// RowsByRegionTier searches the catalog in widening region tiers: identical
// region first, then same geography prefix, then unrestricted. The first tier
// that yields at least one row wins.
func RowsByRegionTier(ctx context.Context, store Store, providers []string, resourceType, region string) ([]PriceRow, error) {
	tiers := []Query{
		{Providers: providers, ResourceType: resourceType, Region: region},
		{Providers: providers, ResourceType: resourceType, RegionPrefix: RegionPrefix(region)},
		{Providers: providers, ResourceType: resourceType},
	}
	return rowsByTiers(ctx, store, tiers)
}

// RowsByGeography is like RowsByRegionTier but never widens beyond the
// region's geography prefix. Used where a cross-continent proposal would be
// unrealistic, e.g. cluster migrations.
func RowsByGeography(ctx context.Context, store Store, providers []string, resourceType, region string) ([]PriceRow, error) {
	tiers := []Query{
		{Providers: providers, ResourceType: resourceType, Region: region},
		{Providers: providers, ResourceType: resourceType, RegionPrefix: RegionPrefix(region)},
	}
	return rowsByTiers(ctx, store, tiers)
}

func rowsByTiers(ctx context.Context, store Store, tiers []Query) ([]PriceRow, error) {
	for _, q := range tiers {
		rows, err := store.Rows(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	return nil, nil
}
