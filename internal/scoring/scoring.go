// Package scoring turns raw detector outputs into ranked suspicious accounts
// and fraud rings.
package scoring

import (
	"fmt"
	"slices"

	"github.com/opensource-finance/ringscan/internal/domain"
)

// RingRiskScore is the fixed risk score of every cycle ring.
const RingRiskScore = 90

// Weights are the additive score increments per detector.
type Weights struct {
	CycleMember   float64
	FanIn         float64
	FanOut        float64
	ShellAccount  float64
	HighVelocity  float64
	AmountAnomaly float64
}

// DefaultWeights returns the stock increments.
func DefaultWeights() Weights {
	return Weights{
		CycleMember:   50,
		FanIn:         25,
		FanOut:        20,
		ShellAccount:  15,
		HighVelocity:  25,
		AmountAnomaly: 10,
	}
}

// Aggregator combines detector outputs into a final verdict.
type Aggregator struct {
	Weights Weights
}

// NewAggregator creates an aggregator with default weights.
func NewAggregator() *Aggregator {
	return &Aggregator{Weights: DefaultWeights()}
}

// Input contains every detector output of one analysis run.
type Input struct {
	Cycles       []domain.Cycle
	Smurfing     domain.PatternSet
	Shells       []string
	HighVelocity []string
	Anomalies    []string
	Influence    map[string]float64

	// FlowMetrics is carried through but does not contribute to scores.
	FlowMetrics map[string]domain.FlowMetrics
}

// Score builds one ring per raw cycle and scores every flagged account.
//
// Order of application:
//  1. each cycle becomes ring RING_NNN; an account in several cycles keeps the last ring
//  2. cycle members, then fan-in, fan-out, shell, velocity and anomaly increments
//  3. every flagged account adds its influence score
//
// Accounts are returned by descending score; ties keep the order in which the
// accounts were first flagged. Accounts no detector flagged are not returned.
func (a *Aggregator) Score(in *Input) ([]domain.SuspiciousAccount, []domain.FraudRing) {
	rings := make([]domain.FraudRing, 0, len(in.Cycles))
	ringOf := make(map[string]string)
	var members []string

	for i, cycle := range in.Cycles {
		ringID := RingID(i + 1)
		rings = append(rings, domain.FraudRing{
			RingID:         ringID,
			MemberAccounts: slices.Clone(cycle),
			PatternType:    domain.PatternCycle,
			RiskScore:      RingRiskScore,
		})

		for _, account := range cycle {
			if _, seen := ringOf[account]; !seen {
				members = append(members, account)
			}
			ringOf[account] = ringID
		}
	}

	t := newTally(ringOf)

	for _, account := range members {
		t.add(account, a.Weights.CycleMember, domain.PatternCycle)
	}
	for _, account := range in.Smurfing.FanIn {
		t.add(account, a.Weights.FanIn, domain.PatternFanIn)
	}
	for _, account := range in.Smurfing.FanOut {
		t.add(account, a.Weights.FanOut, domain.PatternFanOut)
	}
	for _, account := range in.Shells {
		t.add(account, a.Weights.ShellAccount, domain.PatternShellAccount)
	}
	for _, account := range in.HighVelocity {
		t.add(account, a.Weights.HighVelocity, domain.PatternHighVelocity)
	}
	for _, account := range in.Anomalies {
		t.add(account, a.Weights.AmountAnomaly, domain.PatternAmountAnomaly)
	}

	for _, record := range t.records {
		record.SuspicionScore += in.Influence[record.AccountID]
	}

	return t.ranked(), rings
}

// RingID formats the 1-based ring sequence number.
func RingID(n int) string {
	return fmt.Sprintf("RING_%03d", n)
}

// tally owns the per-account records of one run, created on first flag.
type tally struct {
	ringOf  map[string]string
	index   map[string]*domain.SuspiciousAccount
	records []*domain.SuspiciousAccount
}

func newTally(ringOf map[string]string) *tally {
	return &tally{
		ringOf: ringOf,
		index:  make(map[string]*domain.SuspiciousAccount),
	}
}

func (t *tally) add(account string, increment float64, pattern string) {
	record, ok := t.index[account]
	if !ok {
		record = &domain.SuspiciousAccount{
			AccountID:        account,
			DetectedPatterns: []string{},
			RingID:           t.ringOf[account],
		}
		t.index[account] = record
		t.records = append(t.records, record)
	}

	record.SuspicionScore += increment
	if !slices.Contains(record.DetectedPatterns, pattern) {
		record.DetectedPatterns = append(record.DetectedPatterns, pattern)
	}
}

func (t *tally) ranked() []domain.SuspiciousAccount {
	out := make([]domain.SuspiciousAccount, len(t.records))
	for i, record := range t.records {
		out[i] = *record
	}

	slices.SortStableFunc(out, func(x, y domain.SuspiciousAccount) int {
		switch {
		case x.SuspicionScore > y.SuspicionScore:
			return -1
		case x.SuspicionScore < y.SuspicionScore:
			return 1
		default:
			return 0
		}
	})
	return out
}
