package analysis

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ringscan/internal/bus"
	"github.com/opensource-finance/ringscan/internal/cache"
	"github.com/opensource-finance/ringscan/internal/domain"
	"github.com/opensource-finance/ringscan/internal/ingest"
	"github.com/opensource-finance/ringscan/internal/repository"
	"github.com/opensource-finance/ringscan/internal/rules"
)

const triangleCSV = "transaction_id,sender_id,receiver_id,amount,timestamp\n" +
	"T1,A,B,100,2025-03-01 10:00:00\n" +
	"T2,B,C,100,2025-03-01 11:00:00\n" +
	"T3,C,A,100,2025-03-01 12:00:00\n"

func newService(t *testing.T) (*Service, *bus.ChannelBus) {
	t.Helper()

	engine, err := rules.NewEngine(4)
	require.NoError(t, err)
	require.NoError(t, engine.LoadRules(rules.DefaultAlertRules()))

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "ringscan.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	return &Service{
		Pipeline: newPipeline(t),
		Rules:    engine,
		Reports:  cache.NewReportCache(cache.NewLRUCache(16), time.Minute),
		Repo:     repo,
		Bus:      eventBus,
	}, eventBus
}

func TestServiceRun(t *testing.T) {
	ctx := context.Background()

	t.Run("AnalyzesArchivesAndAlerts", func(t *testing.T) {
		svc, eventBus := newService(t)

		var mu sync.Mutex
		var completed []domain.Report
		var alerts []domain.Alert
		done := make(chan struct{}, 16)

		eventBus.Subscribe(ctx, domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			var r domain.Report
			assert.NoError(t, json.Unmarshal(msg.Payload, &r))
			mu.Lock()
			completed = append(completed, r)
			mu.Unlock()
			done <- struct{}{}
			return nil
		})
		eventBus.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			var a domain.Alert
			assert.NoError(t, json.Unmarshal(msg.Payload, &a))
			mu.Lock()
			alerts = append(alerts, a)
			mu.Unlock()
			done <- struct{}{}
			return nil
		})

		result, err := svc.Run(ctx, []byte(triangleCSV))
		require.NoError(t, err)
		assert.False(t, result.Cached)
		assert.Len(t, result.Report.FraudRings, 3)

		// Every cycle member is a ring member
		require.Len(t, result.Alerts, 3)
		for _, a := range result.Alerts {
			assert.Equal(t, "ring-member", a.RuleID)
			assert.Equal(t, result.Report.ID, a.AnalysisID)
		}

		stored, err := svc.Repo.GetReport(ctx, result.Report.ID)
		require.NoError(t, err)
		assert.Equal(t, result.Report.Summary, stored.Summary)

		storedAlerts, err := svc.Repo.ListAlerts(ctx, result.Report.ID)
		require.NoError(t, err)
		assert.Len(t, storedAlerts, 3)

		for i := 0; i < 4; i++ {
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for published events")
			}
		}
		mu.Lock()
		defer mu.Unlock()
		require.Len(t, completed, 1)
		assert.Equal(t, result.Report.ID, completed[0].ID)
		assert.Len(t, alerts, 3)
	})

	t.Run("SecondUploadServedFromCache", func(t *testing.T) {
		svc, _ := newService(t)

		first, err := svc.Run(ctx, []byte(triangleCSV))
		require.NoError(t, err)

		second, err := svc.Run(ctx, []byte(triangleCSV))
		require.NoError(t, err)

		assert.True(t, second.Cached)
		assert.Equal(t, first.Report.ID, second.Report.ID)
		assert.Len(t, second.Alerts, 3)

		list, err := svc.Repo.ListReports(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("SecondUploadPublishesCompleted", func(t *testing.T) {
		svc, eventBus := newService(t)

		var mu sync.Mutex
		var completed []string
		done := make(chan struct{}, 4)
		eventBus.Subscribe(ctx, domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			var r domain.Report
			assert.NoError(t, json.Unmarshal(msg.Payload, &r))
			mu.Lock()
			completed = append(completed, r.ID)
			mu.Unlock()
			done <- struct{}{}
			return nil
		})

		first, err := svc.Run(ctx, []byte(triangleCSV))
		require.NoError(t, err)
		second, err := svc.Run(ctx, []byte(triangleCSV))
		require.NoError(t, err)
		require.True(t, second.Cached)

		for i := 0; i < 2; i++ {
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for analysis.completed")
			}
		}
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{first.Report.ID, first.Report.ID}, completed)
	})

	t.Run("ThresholdChangeMissesCache", func(t *testing.T) {
		svc, _ := newService(t)

		_, err := svc.Run(ctx, []byte(triangleCSV))
		require.NoError(t, err)

		cfg := domain.DefaultDetectionConfig()
		cfg.MinCycleLength = 4
		stricter, err := NewPipeline(cfg)
		require.NoError(t, err)
		other := &Service{Pipeline: stricter, Reports: svc.Reports}

		result, err := other.Run(ctx, []byte(triangleCSV))
		require.NoError(t, err)
		assert.False(t, result.Cached)
		assert.Empty(t, result.Report.FraudRings)
	})

	t.Run("IngestionError", func(t *testing.T) {
		svc, _ := newService(t)

		_, err := svc.Run(ctx, []byte("transaction_id,sender_id\nT1,A\n"))
		assert.ErrorIs(t, err, ingest.ErrMissingColumn)
	})

	t.Run("DetectorFailureStoresNothing", func(t *testing.T) {
		svc, _ := newService(t)
		svc.Pipeline.Detectors.HighVelocity = func([]domain.Transaction, int) []string {
			panic("boom")
		}

		result, err := svc.Run(ctx, []byte(triangleCSV))
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrDetectorFailed)

		list, err := svc.Repo.ListReports(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("PipelineOnly", func(t *testing.T) {
		svc := &Service{Pipeline: newPipeline(t)}

		result, err := svc.Run(ctx, []byte(triangleCSV))
		require.NoError(t, err)
		assert.Len(t, result.Report.FraudRings, 3)
		assert.Empty(t, result.Alerts)
	})
}
