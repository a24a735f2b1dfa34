// Package domain defines the core interfaces and types for ringscan.
package domain

import (
	"context"
	"time"
)

// Repository archives analysis reports and the alerts raised for them.
// The analysis pipeline never reads from it; every run stands alone.
type Repository interface {
	// Report operations
	SaveReport(ctx context.Context, report *Report) error
	GetReport(ctx context.Context, reportID string) (*Report, error)
	ListReports(ctx context.Context, limit int) ([]*ReportSummary, error)

	// Alert operations
	SaveAlerts(ctx context.Context, alerts []Alert) error
	ListAlerts(ctx context.Context, reportID string) ([]Alert, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ReportSummary is a lightweight listing entry for stored reports.
type ReportSummary struct {
	ID        string    `json:"analysis_id"`
	Summary   Summary   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
