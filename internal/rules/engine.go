// Package rules provides the CEL-Go based alert rule engine.
//
// Rules run after scoring and only decide which suspicious accounts raise an
// alert. They never feed back into suspicion scores.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/uuid"

	"github.com/opensource-finance/ringscan/internal/domain"
)

// Engine is the CEL-based alert rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.AlertRule
	Program cel.Program
}

// NewEngine creates a new alert rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// One activation per suspicious account
	env, err := cel.NewEnv(
		cel.Variable("account_id", cel.StringType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("ring_id", cel.StringType),
		cel.Variable("patterns", cel.ListType(cel.StringType)),
		cel.Variable("incoming_total", cel.DoubleType),
		cel.Variable("outgoing_total", cel.DoubleType),
		cel.Variable("net_flow", cel.DoubleType),
		cel.Variable("transaction_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// DefaultAlertRules returns the stock alert rules.
func DefaultAlertRules() []*domain.AlertRule {
	return []*domain.AlertRule{
		{
			ID:          "ring-member",
			Name:        "Fraud ring member",
			Description: "Account belongs to a detected circular flow",
			Expression:  `ring_id != ""`,
			Severity:    domain.SeverityHigh,
			Enabled:     true,
		},
		{
			ID:          "high-score",
			Name:        "High suspicion score",
			Description: "Combined suspicion score at or above 75",
			Expression:  `score >= 75.0`,
			Severity:    domain.SeverityMedium,
			Enabled:     true,
		},
	}
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.AlertRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.AlertRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (e *Engine) LoadRules(configs []*domain.AlertRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Evaluate runs every loaded rule against each suspicious account in
// parallel. Alerts come back in account order, then rule ID order.
// A rule that fails to evaluate for an account is logged and skipped.
// If ctx is cancelled before every account is evaluated, no alerts are
// returned and the error wraps ctx.Err().
func (e *Engine) Evaluate(ctx context.Context, analysisID string, accounts []domain.SuspiciousAccount, flow map[string]domain.FlowMetrics) ([]domain.Alert, error) {
	rules := e.sortedRules()
	if len(rules) == 0 || len(accounts) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	results := make([][]domain.Alert, len(accounts))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, account := range accounts {
		wg.Add(1)
		go func(idx int, acc domain.SuspiciousAccount) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if ctx.Err() != nil {
				return
			}

			activation := activationFor(acc, flow[acc.AccountID])
			for _, r := range rules {
				if matched := e.evaluateRule(r, activation); matched {
					results[idx] = append(results[idx], domain.Alert{
						ID:             uuid.New().String(),
						AnalysisID:     analysisID,
						RuleID:         r.Config.ID,
						AccountID:      acc.AccountID,
						SuspicionScore: acc.SuspicionScore,
						RingID:         acc.RingID,
						Severity:       r.Config.Severity,
						Reason:         r.Config.Name,
						CreatedAt:      now,
					})
				}
			}
		}(i, account)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		slog.Warn("alert evaluation interrupted",
			"analysis_id", analysisID,
			"accounts", len(accounts),
			"error", err,
		)
		return nil, fmt.Errorf("alert evaluation interrupted: %w", err)
	}

	var alerts []domain.Alert
	for _, r := range results {
		alerts = append(alerts, r...)
	}
	return alerts, nil
}

func activationFor(acc domain.SuspiciousAccount, m domain.FlowMetrics) map[string]any {
	patterns := acc.DetectedPatterns
	if patterns == nil {
		patterns = []string{}
	}
	return map[string]any{
		"account_id":        acc.AccountID,
		"score":             acc.SuspicionScore,
		"ring_id":           acc.RingID,
		"patterns":          patterns,
		"incoming_total":    m.IncomingTotal,
		"outgoing_total":    m.OutgoingTotal,
		"net_flow":          m.NetFlow,
		"transaction_count": int64(m.TransactionCount),
	}
}

func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any) bool {
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		slog.Warn("alert rule evaluation failed",
			"rule_id", rule.Config.ID,
			"account_id", activation["account_id"],
			"error", err,
		)
		return false
	}

	matched, ok := out.(types.Bool)
	return ok && bool(matched)
}

func (e *Engine) sortedRules() []*CompiledRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	slices.SortFunc(rules, func(a, b *CompiledRule) int {
		return strings.Compare(a.Config.ID, b.Config.ID)
	})
	return rules
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// On a compile error the previous rule set stays in place.
func (e *Engine) ReloadRules(configs []*domain.AlertRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations, by ID.
func (e *Engine) GetLoadedRules() []*domain.AlertRule {
	compiled := e.sortedRules()
	rules := make([]*domain.AlertRule, 0, len(compiled))
	for _, c := range compiled {
		rules = append(rules, c.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.AlertRule) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if outputType := ast.OutputType(); !outputType.IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
