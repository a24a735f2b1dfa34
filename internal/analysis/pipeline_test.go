package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ringscan/internal/domain"
)

func tx(id, from, to string, amount float64) domain.Transaction {
	return domain.Transaction{ID: id, SenderID: from, ReceiverID: to, Amount: amount, Timestamp: "2025-03-01 10:00:00"}
}

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(domain.DefaultDetectionConfig())
	require.NoError(t, err)
	return p
}

func accountByID(r *domain.Report, id string) (domain.SuspiciousAccount, bool) {
	for _, a := range r.SuspiciousAccounts {
		if a.AccountID == id {
			return a, true
		}
	}
	return domain.SuspiciousAccount{}, false
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	t.Run("CircularFlow", func(t *testing.T) {
		report, err := p.Analyze(ctx, []domain.Transaction{
			tx("t1", "A", "B", 100),
			tx("t2", "B", "C", 100),
			tx("t3", "C", "A", 100),
		})
		require.NoError(t, err)

		require.NotEmpty(t, report.FraudRings)
		assert.Equal(t, []string{"A", "B", "C"}, report.FraudRings[0].MemberAccounts)
		for _, ring := range report.FraudRings {
			assert.Equal(t, "cycle", ring.PatternType)
			assert.Equal(t, 90.0, ring.RiskScore)
		}

		for _, id := range []string{"A", "B", "C"} {
			a, ok := accountByID(report, id)
			require.True(t, ok, id)
			assert.GreaterOrEqual(t, a.SuspicionScore, 51.0)
			assert.NotEmpty(t, a.RingID)
		}

		assert.Equal(t, 3, report.Summary.TotalAccountsAnalyzed)
		assert.Equal(t, len(report.FraudRings), report.Summary.FraudRingsDetected)
		assert.Len(t, report.GraphEdges, 3)
		assert.NotEmpty(t, report.ID)
	})

	t.Run("FanIn", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 10; i++ {
			from := fmt.Sprintf("S%02d", i)
			txs = append(txs, tx("t"+from, from, "X", 500))
		}

		report, err := p.Analyze(ctx, txs)
		require.NoError(t, err)

		x, ok := accountByID(report, "X")
		require.True(t, ok)
		assert.Equal(t, 25.0, x.SuspicionScore)
		assert.Equal(t, []string{domain.PatternFanIn}, x.DetectedPatterns)
		assert.Empty(t, report.FraudRings)
	})

	t.Run("IdenticalAmounts", func(t *testing.T) {
		report, err := p.Analyze(ctx, []domain.Transaction{
			tx("t1", "A", "B", 50),
			tx("t2", "C", "D", 50),
			tx("t3", "E", "F", 50),
		})
		require.NoError(t, err)

		for _, a := range report.SuspiciousAccounts {
			assert.NotContains(t, a.DetectedPatterns, domain.PatternAmountAnomaly)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		report, err := p.Analyze(ctx, nil)
		require.NoError(t, err)

		assert.Empty(t, report.Graph)
		assert.Empty(t, report.SuspiciousAccounts)
		assert.Empty(t, report.FraudRings)
		assert.Empty(t, report.GraphEdges)
		assert.Empty(t, report.FlowMetrics)
		assert.Equal(t, 0, report.Summary.TotalAccountsAnalyzed)
	})

	t.Run("QuietAccountsNotReported", func(t *testing.T) {
		report, err := p.Analyze(ctx, []domain.Transaction{
			tx("t1", "A", "B", 10),
			tx("t2", "A", "C", 10),
		})
		require.NoError(t, err)

		_, ok := accountByID(report, "B")
		assert.False(t, ok)
		assert.Empty(t, report.SuspiciousAccounts)
	})

	t.Run("RankedByScore", func(t *testing.T) {
		txs := []domain.Transaction{
			tx("t1", "A", "B", 100),
			tx("t2", "B", "C", 100),
			tx("t3", "C", "A", 100),
			tx("t4", "V", "P", 1),
			tx("t5", "V", "Q", 1),
			tx("t6", "V", "R", 1),
			tx("t7", "V", "S", 1),
		}

		report, err := p.Analyze(ctx, txs)
		require.NoError(t, err)

		for i := 1; i < len(report.SuspiciousAccounts); i++ {
			assert.GreaterOrEqual(t,
				report.SuspiciousAccounts[i-1].SuspicionScore,
				report.SuspiciousAccounts[i].SuspicionScore,
			)
		}
	})
}

func TestAnalyzeFailures(t *testing.T) {
	ctx := context.Background()
	batch := []domain.Transaction{tx("t1", "A", "B", 1)}

	t.Run("DetectorError", func(t *testing.T) {
		p := newPipeline(t)
		boom := errors.New("boom")
		p.Detectors.Cycles = func(domain.Graph, int, int) ([]domain.Cycle, error) {
			return nil, boom
		}

		report, err := p.Analyze(ctx, batch)

		assert.Nil(t, report)
		assert.ErrorIs(t, err, ErrDetectorFailed)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "cycles")
	})

	t.Run("DetectorPanic", func(t *testing.T) {
		p := newPipeline(t)
		p.Detectors.ShellAccounts = func([]domain.Transaction, int) []string {
			panic("index out of range")
		}

		report, err := p.Analyze(ctx, batch)

		assert.Nil(t, report)
		assert.ErrorIs(t, err, ErrDetectorFailed)
		assert.Contains(t, err.Error(), "shell_accounts")
	})

	t.Run("CancelledBeforeStart", func(t *testing.T) {
		p := newPipeline(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := p.Analyze(cctx, batch)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewPipeline(t *testing.T) {
	cfg := domain.DefaultDetectionConfig()
	cfg.MaxCycleLength = 8

	_, err := NewPipeline(cfg)
	assert.Error(t, err)

	cfg = domain.DefaultDetectionConfig()
	cfg.Workers = 0
	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	assert.Equal(t, Units, p.cfg.Workers)
}

func TestAnalyzeSerialWorkers(t *testing.T) {
	cfg := domain.DefaultDetectionConfig()
	cfg.Workers = 1
	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	report, err := p.Analyze(context.Background(), []domain.Transaction{
		tx("t1", "A", "B", 100),
		tx("t2", "B", "C", 100),
		tx("t3", "C", "A", 100),
	})
	require.NoError(t, err)
	assert.Len(t, report.FraudRings, 3)
}
