package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/ringscan/internal/cache"
	"github.com/opensource-finance/ringscan/internal/domain"
	"github.com/opensource-finance/ringscan/internal/ingest"
	"github.com/opensource-finance/ringscan/internal/rules"
)

// Service wires the pipeline to its collaborators: ingestion, alert rules,
// the report cache, the archive and the event bus. Every collaborator except
// the pipeline is optional.
type Service struct {
	Pipeline *Pipeline
	Rules    *rules.Engine
	Reports  *cache.ReportCache
	Repo     domain.Repository
	Bus      domain.EventBus
}

// Result is the outcome of one submitted ledger.
type Result struct {
	Report *domain.Report
	Alerts []domain.Alert
	Cached bool
}

// Run parses an uploaded CSV ledger and analyses it. Ingestion errors wrap
// ingest.ErrMissingColumn or ingest.ErrInvalidRecord; detector failures wrap
// ErrDetectorFailed. Archiving, caching and publishing are best effort and
// never fail the run.
//
// A cached report is announced on ringscan.analysis.completed again so every
// submitted batch gets a result; its alerts were published the first time
// and are not repeated.
func (s *Service) Run(ctx context.Context, upload []byte) (*Result, error) {
	digest := cache.Digest(upload, s.Pipeline.Config())

	if s.Reports != nil {
		cached, err := s.Reports.Get(ctx, digest)
		if err != nil {
			slog.Warn("report cache lookup failed", "error", err)
		}
		if cached != nil {
			s.publishCompleted(ctx, cached)
			return &Result{Report: cached, Alerts: s.storedAlerts(ctx, cached.ID), Cached: true}, nil
		}
	}

	txs, err := ingest.ParseCSV(bytes.NewReader(upload))
	if err != nil {
		return nil, err
	}

	report, err := s.Pipeline.Analyze(ctx, txs)
	if err != nil {
		return nil, err
	}

	var alerts []domain.Alert
	if s.Rules != nil {
		alerts, err = s.Rules.Evaluate(ctx, report.ID, report.SuspiciousAccounts, report.FlowMetrics)
		if err != nil {
			return nil, err
		}
	}

	s.archive(ctx, report, alerts)

	if s.Reports != nil {
		if err := s.Reports.Set(ctx, digest, report); err != nil {
			slog.Warn("failed to cache report", "analysis_id", report.ID, "error", err)
		}
	}

	s.publish(ctx, report, alerts)

	return &Result{Report: report, Alerts: alerts}, nil
}

func (s *Service) archive(ctx context.Context, report *domain.Report, alerts []domain.Alert) {
	if s.Repo == nil {
		return
	}

	if err := s.Repo.SaveReport(ctx, report); err != nil {
		slog.Error("failed to save report",
			"analysis_id", report.ID,
			"error", err,
		)
		return
	}
	if err := s.Repo.SaveAlerts(ctx, alerts); err != nil {
		slog.Error("failed to save alerts",
			"analysis_id", report.ID,
			"alert_count", len(alerts),
			"error", err,
		)
	}
}

func (s *Service) publish(ctx context.Context, report *domain.Report, alerts []domain.Alert) {
	if s.Bus == nil {
		return
	}

	s.publishCompleted(ctx, report)

	for _, alert := range alerts {
		payload, err := json.Marshal(alert)
		if err != nil {
			slog.Error("failed to encode alert", "alert_id", alert.ID, "error", err)
			continue
		}
		if err := s.Bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"analysis_id", report.ID,
				"alert_id", alert.ID,
				"error", err,
			)
		}
	}
}

func (s *Service) publishCompleted(ctx context.Context, report *domain.Report) {
	if s.Bus == nil {
		return
	}

	payload, err := json.Marshal(report)
	if err != nil {
		slog.Error("failed to encode report", "analysis_id", report.ID, "error", err)
		return
	}
	if err := s.Bus.Publish(ctx, domain.TopicAnalysisCompleted, payload); err != nil {
		slog.Error("failed to publish analysis",
			"analysis_id", report.ID,
			"error", err,
		)
	}
}

func (s *Service) storedAlerts(ctx context.Context, analysisID string) []domain.Alert {
	if s.Repo == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	alerts, err := s.Repo.ListAlerts(ctx, analysisID)
	if err != nil {
		slog.Warn("failed to load alerts for cached report",
			"analysis_id", analysisID,
			"error", err,
		)
		return nil
	}
	return alerts
}
