// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/ringscan/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveReport archives a report. The full report is kept as a JSON document
// next to its summary counters.
func (r *SQLRepository) SaveReport(ctx context.Context, report *domain.Report) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	createdAt := report.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO reports (
			id, total_accounts, suspicious_accounts, fraud_rings,
			processing_seconds, report, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID,
		report.Summary.TotalAccountsAnalyzed,
		report.Summary.SuspiciousAccountsFlagged,
		report.Summary.FraudRingsDetected,
		report.Summary.ProcessingTimeSeconds,
		string(body),
		createdAt,
	)
	return err
}

// GetReport retrieves an archived report by ID.
func (r *SQLRepository) GetReport(ctx context.Context, reportID string) (*domain.Report, error) {
	query := `SELECT report FROM reports WHERE id = ?`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), reportID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var report domain.Report
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", reportID, err)
	}

	return &report, nil
}

// ListReports returns the most recent reports, newest first.
func (r *SQLRepository) ListReports(ctx context.Context, limit int) ([]*domain.ReportSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, total_accounts, suspicious_accounts, fraud_rings,
			   processing_seconds, created_at
		FROM reports
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*domain.ReportSummary
	for rows.Next() {
		var s domain.ReportSummary
		if err := rows.Scan(
			&s.ID,
			&s.Summary.TotalAccountsAnalyzed,
			&s.Summary.SuspiciousAccountsFlagged,
			&s.Summary.FraudRingsDetected,
			&s.Summary.ProcessingTimeSeconds,
			&s.CreatedAt,
		); err != nil {
			return nil, err
		}
		reports = append(reports, &s)
	}

	return reports, rows.Err()
}

// SaveAlerts stores alerts in a single transaction.
func (r *SQLRepository) SaveAlerts(ctx context.Context, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	query := r.rebind(`
		INSERT INTO alerts (
			id, report_id, rule_id, account_id, suspicion_score,
			ring_id, severity, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for _, a := range alerts {
		if a.ID == "" || a.AnalysisID == "" {
			return fmt.Errorf("%w: alert id and analysis id are required", ErrInvalidInput)
		}
		if _, err := dbTx.ExecContext(ctx, query,
			a.ID, a.AnalysisID, a.RuleID, a.AccountID, a.SuspicionScore,
			a.RingID, a.Severity, a.Reason, a.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to save alert %s: %w", a.ID, err)
		}
	}

	return dbTx.Commit()
}

// ListAlerts returns the alerts raised for a report, highest score first.
func (r *SQLRepository) ListAlerts(ctx context.Context, reportID string) ([]domain.Alert, error) {
	query := `
		SELECT id, report_id, rule_id, account_id, suspicion_score,
			   ring_id, severity, reason, created_at
		FROM alerts
		WHERE report_id = ?
		ORDER BY suspicion_score DESC, account_id, rule_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []domain.Alert{}
	for rows.Next() {
		var a domain.Alert
		var ringID, reason sql.NullString
		if err := rows.Scan(
			&a.ID, &a.AnalysisID, &a.RuleID, &a.AccountID, &a.SuspicionScore,
			&ringID, &a.Severity, &reason, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.RingID = ringID.String
		a.Reason = reason.String
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
