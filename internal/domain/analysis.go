package domain

import (
	"time"
)

// Graph maps a sender account to its receivers and the total amount sent to each.
// Self loops are kept. A Graph is read-only once built.
type Graph map[string]map[string]float64

// FlowMetrics holds per-account money flow aggregates for one batch.
type FlowMetrics struct {
	IncomingTotal    float64 `json:"incoming_total"`
	OutgoingTotal    float64 `json:"outgoing_total"`
	NetFlow          float64 `json:"net_flow"`
	TransactionCount int     `json:"transaction_count"`
}

// Cycle is an ordered list of accounts forming a closed directed walk.
// The closing edge from the last account back to the first is implied.
type Cycle []string

// PatternSet is the output of the fan-in/fan-out (smurfing) detector.
type PatternSet struct {
	FanIn  []string `json:"fan_in"`
	FanOut []string `json:"fan_out"`
}

// FraudRing is a group of accounts connected by a detected circular flow.
type FraudRing struct {
	RingID         string   `json:"ring_id"`
	MemberAccounts []string `json:"member_accounts"`
	PatternType    string   `json:"pattern_type"`
	RiskScore      float64  `json:"risk_score"`
}

// SuspiciousAccount is the aggregated verdict for one flagged account.
type SuspiciousAccount struct {
	AccountID        string   `json:"account_id"`
	SuspicionScore   float64  `json:"suspicion_score"`
	DetectedPatterns []string `json:"detected_patterns"`
	RingID           string   `json:"ring_id"`
}

// Edge is one collapsed sender→receiver edge of the transaction graph.
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// Summary holds the headline counts of an analysis.
type Summary struct {
	TotalAccountsAnalyzed     int     `json:"total_accounts_analyzed"`
	SuspiciousAccountsFlagged int     `json:"suspicious_accounts_flagged"`
	FraudRingsDetected        int     `json:"fraud_rings_detected"`
	ProcessingTimeSeconds     float64 `json:"processing_time_seconds"`
}

// Report is the complete result of analysing one transaction batch.
type Report struct {
	ID                 string              `json:"analysis_id"`
	SuspiciousAccounts []SuspiciousAccount `json:"suspicious_accounts"`
	FraudRings         []FraudRing         `json:"fraud_rings"`
	GraphEdges         []Edge              `json:"graph_edges"`
	Summary            Summary             `json:"summary"`
	CreatedAt          time.Time           `json:"created_at"`

	// Raw outputs kept for in-process consumers (alert rules, CLI).
	Graph       Graph                  `json:"-"`
	FlowMetrics map[string]FlowMetrics `json:"-"`
}

// Pattern names recorded in SuspiciousAccount.DetectedPatterns.
const (
	PatternCycle         = "cycle"
	PatternFanIn         = "fan_in"
	PatternFanOut        = "fan_out"
	PatternShellAccount  = "shell_account"
	PatternHighVelocity  = "high_velocity"
	PatternAmountAnomaly = "amount_anomaly"
)
