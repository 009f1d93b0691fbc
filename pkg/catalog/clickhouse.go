package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Config holds ClickHouse connection configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultConfig returns default development configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     9000,
		Database: "costadvisor",
		Username: "default",
		Password: "",
		Debug:    false,
	}
}

// ClickHouseStore implements Store against the columnar price catalog that
// the ingestion connectors keep up to date.
type ClickHouseStore struct {
	conn clickhouse.Conn
	cfg  *Config
}

// NewClickHouseStore opens a connection to the catalog database.
func NewClickHouseStore(cfg *Config) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	return &ClickHouseStore{conn: conn, cfg: cfg}, nil
}

// Ping checks database connectivity.
func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// Rows returns catalog rows matching the query.
func (s *ClickHouseStore) Rows(ctx context.Context, q Query) ([]PriceRow, error) {
	query := `
		SELECT sku, provider, region, resource_type, cores, memory_gb,
		       storage, monthly_price, currency
		FROM price_catalog FINAL
		WHERE _deleted = 0
	`
	var args []interface{}

	if len(q.Providers) > 0 {
		query += fmt.Sprintf(" AND provider IN (%s)", placeholders(len(q.Providers)))
		for _, p := range q.Providers {
			args = append(args, p)
		}
	}
	if q.ResourceType != "" {
		query += " AND resource_type = ?"
		args = append(args, q.ResourceType)
	}
	if q.Region != "" {
		query += " AND region = ?"
		args = append(args, q.Region)
	} else if q.RegionPrefix != "" {
		query += " AND startsWith(region, ?)"
		args = append(args, q.RegionPrefix)
	}
	query += " ORDER BY provider, sku"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price catalog: %w", err)
	}
	defer rows.Close()

	var out []PriceRow
	for rows.Next() {
		var row PriceRow
		var storage string
		if err := rows.Scan(
			&row.SKU, &row.Provider, &row.Region, &row.ResourceType,
			&row.Cores, &row.MemoryGB, &storage, &row.MonthlyPrice, &row.Currency,
		); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		if storage != "" {
			// Kept as serialized text; the normalization layer decodes it.
			row.Storage = storage
		}
		out = append(out, row)
	}
	return out, nil
}

// BulkInsertRows inserts rows efficiently using batch insert. Exposed for
// seeding and for connector-side tooling that shares this module.
func (s *ClickHouseStore) BulkInsertRows(ctx context.Context, rows []PriceRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_catalog (
			sku, provider, region, resource_type, cores, memory_gb,
			storage, monthly_price, currency, ingested_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	now := time.Now()
	for _, row := range rows {
		storage := ""
		if s, ok := row.Storage.(string); ok {
			storage = s
		}
		if err := batch.Append(
			row.SKU, row.Provider, row.Region, row.ResourceType,
			row.Cores, row.MemoryGB, storage, row.MonthlyPrice, row.Currency, now,
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	return batch.Send()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
