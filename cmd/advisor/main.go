// Cost Advisor CLI - multi-cloud optimization recommendations
//
// Usage:
//   advisor run --tenant acme --inventory snapshot.json
//   advisor serve --port 8080
//   advisor migrate
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"costadvisor/api"
	"costadvisor/internal/config"
	"costadvisor/internal/engine"
	"costadvisor/internal/recstore"
	"costadvisor/internal/rules"
	"costadvisor/pkg/catalog"
	"costadvisor/pkg/inventory"
	"costadvisor/pkg/platform"
	"costadvisor/pkg/units"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "advisor",
		Usage:   "Multi-cloud cost optimization recommendation engine",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"ADVISOR_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to tuning config YAML (optional)",
				EnvVars: []string{"ADVISOR_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "database-dsn",
				Value:   "advisor.db",
				Usage:   "Postgres DSN, or a file path for a local SQLite database",
				EnvVars: []string{"ADVISOR_DATABASE_DSN"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-host",
				Usage:   "ClickHouse host for the price catalog (empty = use --price-file)",
				EnvVars: []string{"CLICKHOUSE_HOST"},
			},
			&cli.IntFlag{
				Name:    "clickhouse-port",
				Value:   9000,
				Usage:   "ClickHouse native port",
				EnvVars: []string{"CLICKHOUSE_PORT"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-database",
				Value:   "costadvisor",
				Usage:   "ClickHouse database",
				EnvVars: []string{"CLICKHOUSE_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-user",
				Value:   "default",
				Usage:   "ClickHouse user",
				EnvVars: []string{"CLICKHOUSE_USER"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-password",
				Value:   "",
				Usage:   "ClickHouse password",
				EnvVars: []string{"CLICKHOUSE_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "price-file",
				Usage:   "Path to a JSON price catalog (local development)",
				EnvVars: []string{"ADVISOR_PRICE_FILE"},
			},
		},

		Commands: []*cli.Command{
			runCommand(),
			serveCommand(),
			migrateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// RUN COMMAND
// =============================================================================

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one evaluation cycle for a tenant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "tenant",
				Aliases:  []string{"t"},
				Usage:    "Tenant ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "inventory",
				Aliases:  []string{"i"},
				Usage:    "Path to an inventory snapshot JSON",
				Required: true,
			},
		},
		Action: runRun,
	}
}

func runRun(c *cli.Context) error {
	logger, err := platform.NewLogger(c.String("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	cat, err := openCatalog(c)
	if err != nil {
		return err
	}
	defer cat.Close()

	inv, err := inventory.NewFileSource(c.String("inventory"))
	if err != nil {
		return err
	}

	store, err := openStore(c, cfg, logger)
	if err != nil {
		return err
	}

	registry := rules.NewRegistry(store, logger)
	registry.Register(defaultRules()...)

	eng := engine.New(registry, cat, inv, store, cfg, logger)
	run, err := eng.Run(context.Background(), c.String("tenant"))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

// =============================================================================
// SERVE COMMAND (API SERVER)
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the advisor API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "API server port",
				EnvVars: []string{"ADVISOR_PORT"},
			},
			&cli.StringFlag{
				Name:    "cors-origins",
				Value:   "*",
				Usage:   "Comma-separated list of allowed CORS origins",
				EnvVars: []string{"ADVISOR_CORS_ORIGINS"},
			},
			&cli.StringFlag{
				Name:     "inventory",
				Usage:    "Path to an inventory snapshot JSON",
				Required: true,
				EnvVars:  []string{"ADVISOR_INVENTORY"},
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	logger, err := platform.NewLogger(c.String("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	cat, err := openCatalog(c)
	if err != nil {
		return err
	}
	defer cat.Close()

	inv, err := inventory.NewFileSource(c.String("inventory"))
	if err != nil {
		return err
	}

	store, err := openStore(c, cfg, logger)
	if err != nil {
		return err
	}

	registry := rules.NewRegistry(store, logger)
	registry.Register(defaultRules()...)

	eng := engine.New(registry, cat, inv, store, cfg, logger)

	corsOrigins := strings.Split(c.String("cors-origins"), ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}

	server := api.NewServer(eng, store, registry, cat, logger, &api.Config{
		Port:           c.Int("port"),
		ReadTimeout:    api.DefaultConfig().ReadTimeout,
		WriteTimeout:   api.DefaultConfig().WriteTimeout,
		MaxRequestSize: api.DefaultConfig().MaxRequestSize,
		CORSOrigins:    corsOrigins,
	})

	return server.StartWithGracefulShutdown()
}

// =============================================================================
// MIGRATE COMMAND
// =============================================================================

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the recommendation database schema",
		Action: func(c *cli.Context) error {
			logger, err := platform.NewLogger(c.String("log-level"))
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			if _, err := openStore(c, cfg, logger); err != nil {
				return err
			}
			logger.Info("schema up to date")
			return nil
		},
	}
}

// =============================================================================
// WIRING
// =============================================================================

func defaultRules() []rules.Rule {
	return []rules.Rule{
		rules.NewCrossProviderRule(),
		rules.NewRightsizeRule(),
		rules.NewCleanupRule(),
		rules.NewClusterPriceRule(),
	}
}

// openStore connects to the recommendation database and migrates the schema.
// DSNs containing "=" are treated as Postgres; anything else is a SQLite file
// path for local development.
func openStore(c *cli.Context, cfg config.Config, logger *zap.Logger) (*recstore.Store, error) {
	dsn := c.String("database-dsn")

	var dialector gorm.Dialector
	if strings.Contains(dsn, "=") || strings.HasPrefix(dsn, "postgres://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := recstore.New(db, cfg, logger)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// openCatalog connects to ClickHouse when a host is configured, otherwise
// loads a local JSON price file.
func openCatalog(c *cli.Context) (catalog.Store, error) {
	if host := c.String("clickhouse-host"); host != "" {
		return catalog.NewClickHouseStore(&catalog.Config{
			Host:     host,
			Port:     c.Int("clickhouse-port"),
			Database: c.String("clickhouse-database"),
			Username: c.String("clickhouse-user"),
			Password: c.String("clickhouse-password"),
		})
	}

	path := c.String("price-file")
	if path == "" {
		return nil, fmt.Errorf("either --clickhouse-host or --price-file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price file: %w", err)
	}
	// Price files may quote hourly rates instead of monthly ones.
	type fileRow struct {
		catalog.PriceRow
		HourlyPrice decimal.Decimal `json:"hourly_price"`
	}
	var rows []fileRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse price file: %w", err)
	}

	store := catalog.NewMemoryStore()
	for _, r := range rows {
		row := r.PriceRow
		if row.MonthlyPrice.IsZero() && !r.HourlyPrice.IsZero() {
			row.MonthlyPrice = r.HourlyPrice.Mul(decimal.NewFromFloat(units.HoursPerMonth))
		}
		store.Add(row)
	}
	return store, nil
}
