package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/ringscan/internal/domain"
)

// ReportCache stores finished reports keyed by the digest of the uploaded
// ledger and the detector thresholds. Analysis is deterministic, so the same
// upload under the same thresholds maps to the same report.
type ReportCache struct {
	cache domain.Cache
	ttl   time.Duration
}

// NewReportCache wraps a byte cache.
func NewReportCache(c domain.Cache, ttl time.Duration) *ReportCache {
	return &ReportCache{cache: c, ttl: ttl}
}

// Digest returns the cache key for an uploaded ledger analysed with cfg.
// Only the thresholds that change a report are part of the key, so replicas
// sharing a Redis cache never serve each other reports computed under
// different settings.
func Digest(upload []byte, cfg domain.DetectionConfig) string {
	h := sha256.New()
	fmt.Fprintf(h, "cycles=%d-%d fan=%d shell=%d velocity=%d z=%g\n",
		cfg.MinCycleLength,
		cfg.MaxCycleLength,
		cfg.FanThreshold,
		cfg.ShellMaxActivity,
		cfg.VelocityMinOutgoing,
		cfg.AnomalyZScore,
	)
	h.Write(upload)
	return "report:" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached report for digest, or nil on a miss.
// Entries that no longer decode are treated as misses.
func (r *ReportCache) Get(ctx context.Context, digest string) (*domain.Report, error) {
	data, err := r.cache.Get(ctx, digest)
	if err != nil || data == nil {
		return nil, err
	}

	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		_ = r.cache.Delete(ctx, digest)
		return nil, nil
	}
	return &report, nil
}

// Set caches report under digest.
func (r *ReportCache) Set(ctx context.Context, digest string, report *domain.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return r.cache.Set(ctx, digest, data, r.ttl)
}
