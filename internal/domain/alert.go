package domain

import "time"

// AlertRule is a CEL expression evaluated against every suspicious account
// after scoring. Rules never change scores; they only decide what gets alerted.
type AlertRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// CEL expression returning bool
	Expression string `json:"expression"`

	// Severity attached to alerts raised by this rule: low, medium, high
	Severity string `json:"severity"`

	Enabled bool `json:"enabled"`
}

// Alert is raised when an AlertRule matches a suspicious account.
type Alert struct {
	ID             string    `json:"id"`
	AnalysisID     string    `json:"analysis_id"`
	RuleID         string    `json:"rule_id"`
	AccountID      string    `json:"account_id"`
	SuspicionScore float64   `json:"suspicion_score"`
	RingID         string    `json:"ring_id,omitempty"`
	Severity       string    `json:"severity"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

// Alert severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)
