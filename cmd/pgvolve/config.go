package main

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/pgvolve/pgvolve/internal/dialect"
	"github.com/pgvolve/pgvolve/internal/migrate"
	"github.com/pgvolve/pgvolve/internal/pverr"
)

// Config represents the pgvolve.yaml configuration file.
type Config struct {
	DatabaseURL   string `yaml:"database_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	Dialect       string `yaml:"dialect"`

	// Optional documents for validation and the test harness.
	BaseSchemaFile  string `yaml:"base_schema"`
	ExpectationFile string `yaml:"expectation"`
	DropPlanFile    string `yaml:"drop_plan"`
}

// envConfig holds the environment-variable configuration. A full URL in
// DATABASE_URL wins over the individual PGVOLVE_DB_* parts.
type envConfig struct {
	DatabaseURL   string `env:"DATABASE_URL"`
	Host          string `env:"PGVOLVE_DB_HOST" envDefault:"localhost"`
	Port          int    `env:"PGVOLVE_DB_PORT" envDefault:"5432"`
	Name          string `env:"PGVOLVE_DB_NAME"`
	User          string `env:"PGVOLVE_DB_USER"`
	Password      string `env:"PGVOLVE_DB_PASSWORD"`
	SSLMode       string `env:"PGVOLVE_DB_SSLMODE" envDefault:"disable"`
	MigrationsDir string `env:"PGVOLVE_MIGRATIONS_DIR"`
}

// connectionURL assembles a postgres URL from the individual parts.
func (e envConfig) connectionURL() string {
	if e.Name == "" {
		return ""
	}
	u := &url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", e.Host, e.Port),
		Path:     "/" + e.Name,
		RawQuery: "sslmode=" + e.SSLMode,
	}
	if e.User != "" {
		if e.Password != "" {
			u.User = url.UserPassword(e.User, e.Password)
		} else {
			u.User = url.User(e.User)
		}
	}
	return u.String()
}

// loadConfig loads configuration from file, env vars, and CLI flags.
// Precedence: CLI flags > env vars > config file > defaults.
func loadConfig() (*Config, error) {
	cfg := &Config{
		MigrationsDir: "./migrations",
		Dialect:       "postgres",
	}

	if data, err := os.ReadFile(configFile); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
		// ${VAR} interpolation so secrets stay out of the file
		cfg.DatabaseURL = os.Expand(cfg.DatabaseURL, os.Getenv)
	}

	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if ec.DatabaseURL != "" {
		cfg.DatabaseURL = ec.DatabaseURL
	} else if fromParts := ec.connectionURL(); fromParts != "" {
		cfg.DatabaseURL = fromParts
	}
	if ec.MigrationsDir != "" {
		cfg.MigrationsDir = ec.MigrationsDir
	}

	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}

	return cfg, nil
}

// databaseName extracts the database name from the connection URL.
func (c *Config) databaseName() (string, error) {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "", pverr.Wrap(pverr.ErrSQLConnection, err, "invalid database URL")
	}
	if len(u.Path) <= 1 {
		return "", pverr.New(pverr.ErrSQLConnection, "database URL has no database name")
	}
	return u.Path[1:], nil
}

// openDB connects to the configured database and returns the handle with
// its dialect.
func openDB(cfg *Config) (*sql.DB, dialect.Dialect, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, pverr.New(pverr.ErrSQLConnection,
			"no database URL configured (set --database-url, DATABASE_URL, or pgvolve.yaml)")
	}

	d := dialect.Get(cfg.Dialect)
	if d == nil {
		return nil, nil, pverr.Newf(pverr.ErrSQLConnection, "unsupported dialect %q", cfg.Dialect)
	}

	db, err := sql.Open(d.DriverName(), cfg.DatabaseURL)
	if err != nil {
		return nil, nil, pverr.Wrap(pverr.ErrSQLConnection, err, "failed to open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, pverr.Wrap(pverr.ErrSQLConnection, err, "failed to connect to database")
	}
	return db, d, nil
}

// newExecutor wires up the executor against the configured database.
// The caller closes the returned db.
func newExecutor(cfg *Config) (*sql.DB, *migrate.Executor, error) {
	db, d, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	exec := migrate.NewExecutor(db, d, migrate.NewSQLLedger(db, d))
	return db, exec, nil
}

// loadDropPlan reads the drop-plan YAML file when configured.
func loadDropPlan(cfg *Config) (migrate.DropPlan, error) {
	var plan migrate.DropPlan
	if cfg.DropPlanFile == "" {
		return plan, nil
	}
	data, err := os.ReadFile(cfg.DropPlanFile)
	if err != nil {
		return plan, pverr.Wrap(pverr.ErrFileRead, err, "failed to read drop plan").
			WithFilename(cfg.DropPlanFile)
	}
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return plan, pverr.Wrap(pverr.ErrFileRead, err, "failed to parse drop plan").
			WithFilename(cfg.DropPlanFile)
	}
	return plan, nil
}
