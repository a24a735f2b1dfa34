package repository

// Schema definitions for the ringscan archive.
// Compatible with both SQLite and PostgreSQL.

const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    total_accounts INTEGER NOT NULL,
    suspicious_accounts INTEGER NOT NULL,
    fraud_rings INTEGER NOT NULL,
    processing_seconds REAL NOT NULL,
    report TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    report_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    suspicion_score REAL NOT NULL,
    ring_id TEXT,
    severity TEXT NOT NULL,
    reason TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_report ON alerts(report_id);
CREATE INDEX IF NOT EXISTS idx_alerts_account ON alerts(account_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaReports,
		schemaAlerts,
	}
}
