// Package analysis runs the detection pipeline over one transaction batch.
//
// The graph is built first. The seven independent units (cycle search, the four
// transaction heuristics, influence scoring and flow metrics) then run
// concurrently on a bounded errgroup, each writing only its own result. Scoring
// starts only after every unit has returned; the first failing unit fails the
// whole run and no partial report is produced.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/ringscan/internal/detect"
	"github.com/opensource-finance/ringscan/internal/domain"
	"github.com/opensource-finance/ringscan/internal/graph"
	"github.com/opensource-finance/ringscan/internal/scoring"
)

// ErrDetectorFailed wraps the error (or recovered panic) of a failing unit.
var ErrDetectorFailed = errors.New("detector failed")

var tracer = otel.Tracer("ringscan-analysis")

// Units is the number of independent units dispatched per run.
const Units = 7

// Detectors holds the functions run by the pipeline. Swapping one out is how
// tests inject failures.
type Detectors struct {
	Cycles          func(g domain.Graph, minLen, maxLen int) ([]domain.Cycle, error)
	FanInFanOut     func(txs []domain.Transaction, threshold int) domain.PatternSet
	ShellAccounts   func(txs []domain.Transaction, maxActivity int) []string
	HighVelocity    func(txs []domain.Transaction, minOutgoing int) []string
	AmountAnomalies func(txs []domain.Transaction, zThreshold float64) []string
	Influence       func(g domain.Graph) map[string]float64
	FlowMetrics     func(txs []domain.Transaction) map[string]domain.FlowMetrics
}

// DefaultDetectors returns the stock detector set.
func DefaultDetectors() Detectors {
	return Detectors{
		Cycles:          graph.DetectCycles,
		FanInFanOut:     detect.FanInFanOut,
		ShellAccounts:   detect.ShellAccounts,
		HighVelocity:    detect.HighVelocity,
		AmountAnomalies: detect.AmountAnomalies,
		Influence:       graph.InfluenceScores,
		FlowMetrics:     graph.ComputeFlowMetrics,
	}
}

// Pipeline analyses transaction batches. It holds no per-run state and is
// safe for concurrent use.
type Pipeline struct {
	Detectors  Detectors
	Aggregator *scoring.Aggregator

	cfg domain.DetectionConfig
}

// NewPipeline creates a pipeline with the given thresholds.
func NewPipeline(cfg domain.DetectionConfig) (*Pipeline, error) {
	if err := graph.ValidateCycleBounds(cfg.MinCycleLength, cfg.MaxCycleLength); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = Units
	}

	return &Pipeline{
		Detectors:  DefaultDetectors(),
		Aggregator: scoring.NewAggregator(),
		cfg:        cfg,
	}, nil
}

// Config returns the thresholds the pipeline runs with.
func (p *Pipeline) Config() domain.DetectionConfig {
	return p.cfg
}

// Analyze runs every detector over txs and aggregates their outputs.
// An empty batch produces an empty report, not an error.
func (p *Pipeline) Analyze(ctx context.Context, txs []domain.Transaction) (*domain.Report, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "analysis.Analyze",
		trace.WithAttributes(attribute.Int("transactions", len(txs))),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := graph.Build(txs)

	var (
		cycles    []domain.Cycle
		smurfing  domain.PatternSet
		shells    []string
		velocity  []string
		anomalies []string
		influence map[string]float64
		flow      map[string]domain.FlowMetrics
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Workers)

	d := p.Detectors
	p.dispatch(egCtx, eg, "cycles", func() (err error) {
		cycles, err = d.Cycles(g, p.cfg.MinCycleLength, p.cfg.MaxCycleLength)
		return err
	})
	p.dispatch(egCtx, eg, "fan_in_fan_out", func() error {
		smurfing = d.FanInFanOut(txs, p.cfg.FanThreshold)
		return nil
	})
	p.dispatch(egCtx, eg, "shell_accounts", func() error {
		shells = d.ShellAccounts(txs, p.cfg.ShellMaxActivity)
		return nil
	})
	p.dispatch(egCtx, eg, "high_velocity", func() error {
		velocity = d.HighVelocity(txs, p.cfg.VelocityMinOutgoing)
		return nil
	})
	p.dispatch(egCtx, eg, "amount_anomalies", func() error {
		anomalies = d.AmountAnomalies(txs, p.cfg.AnomalyZScore)
		return nil
	})
	p.dispatch(egCtx, eg, "influence", func() error {
		influence = d.Influence(g)
		return nil
	})
	p.dispatch(egCtx, eg, "flow_metrics", func() error {
		flow = d.FlowMetrics(txs)
		return nil
	})

	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		return nil, err
	}

	accounts, rings := p.Aggregator.Score(&scoring.Input{
		Cycles:       cycles,
		Smurfing:     smurfing,
		Shells:       shells,
		HighVelocity: velocity,
		Anomalies:    anomalies,
		Influence:    influence,
		FlowMetrics:  flow,
	})

	report := &domain.Report{
		ID:                 uuid.New().String(),
		SuspiciousAccounts: accounts,
		FraudRings:         rings,
		GraphEdges:         graph.Edges(g),
		CreatedAt:          time.Now().UTC(),
		Graph:              g,
		FlowMetrics:        flow,
	}
	report.Summary = domain.Summary{
		TotalAccountsAnalyzed:     graph.Accounts(g),
		SuspiciousAccountsFlagged: len(accounts),
		FraudRingsDetected:        len(rings),
		ProcessingTimeSeconds:     math.Round(time.Since(start).Seconds()*100) / 100,
	}

	span.SetAttributes(
		attribute.Int("suspicious_accounts", len(accounts)),
		attribute.Int("fraud_rings", len(rings)),
	)

	slog.Debug("analysis complete",
		"analysis_id", report.ID,
		"transactions", len(txs),
		"accounts", report.Summary.TotalAccountsAnalyzed,
		"suspicious_accounts", len(accounts),
		"fraud_rings", len(rings),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return report, nil
}

// dispatch runs one unit on the group. Panics are converted to errors so a
// broken detector fails the run instead of the process.
func (p *Pipeline) dispatch(ctx context.Context, eg *errgroup.Group, unit string, fn func() error) {
	eg.Go(func() (err error) {
		_, span := tracer.Start(ctx, "detector."+unit)
		defer span.End()

		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s: panic: %v", ErrDetectorFailed, unit, r)
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, unit+" failed")
			}
		}()

		if err := fn(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDetectorFailed, unit, err)
		}
		return nil
	})
}
