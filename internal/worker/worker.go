// Package worker analyses ledger batches submitted over the EventBus.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/ringscan/internal/analysis"
	"github.com/opensource-finance/ringscan/internal/domain"
)

// Worker consumes ringscan.batch.submitted messages. Each payload is a raw
// CSV ledger; results are archived and published by the analysis service.
type Worker struct {
	bus     domain.EventBus
	service *analysis.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, service *analysis.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		service: service,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to submitted batches.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicBatchSubmitted, w.handleBatch)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started",
		"topic", domain.TopicBatchSubmitted,
	)
	return nil
}

func (w *Worker) handleBatch(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	result, err := w.service.Run(ctx, msg.Payload)
	if err != nil {
		w.failed.Add(1)
		slog.Error("batch analysis failed",
			"message_id", msg.ID,
			"bytes", len(msg.Payload),
			"error", err,
		)
		return err
	}

	w.processed.Add(1)
	slog.Info("batch analysed",
		"message_id", msg.ID,
		"analysis_id", result.Report.ID,
		"suspicious_accounts", result.Report.Summary.SuspiciousAccountsFlagged,
		"fraud_rings", result.Report.Summary.FraudRingsDetected,
		"alerts", len(result.Alerts),
		"cached", result.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops all subscriptions.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
