package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	maxAlerts       = 50
	exposedAlerts   = 10
	metricRetention = 7 * 24 * time.Hour
	pruneInterval   = 30 * time.Minute

	alertErrorRate = 0.20
	alertMinSample = 10
)

// ProcessingMetric acumula estadísticas de procesamiento por tipo de medio
// y por día. Se crea perezosamente y se poda después de 7 días.
type ProcessingMetric struct {
	Count             int64   `json:"count"`
	TotalSize         int64   `json:"total_size"`
	TotalDurationMs   int64   `json:"total_duration_ms"`
	SuccessCount      int64   `json:"success_count"`
	ErrorCount        int64   `json:"error_count"`
	AvgProcessingTime float64 `json:"avg_processing_time_ms"`
}

// Alert señala una tasa de error sostenida en algún tipo de medio.
type Alert struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CacheStats is the hit/miss summary exposed to monitoring.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hit_rate_percent"`
}

// Snapshot is the full telemetry view for monitoring endpoints.
type Snapshot struct {
	Cache      CacheStats                  `json:"cache"`
	Processing map[string]ProcessingMetric `json:"processing"`
	Alerts     []Alert                     `json:"alerts"`
}

// Recorder keeps in-memory operational counters for the media pipeline.
// Todo es best-effort: se pierde en cada reinicio y eso es aceptable.
type Recorder struct {
	hits   int64
	misses int64

	mu      sync.Mutex
	metrics map[string]*ProcessingMetric
	alerts  []Alert

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{
		metrics: make(map[string]*ProcessingMetric),
		stopCh:  make(chan struct{}),
	}
}

// Start arranca la poda periódica de métricas viejas.
func (r *Recorder) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.PruneOldMetrics()
			}
		}
	}()
}

func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Recorder) RecordCacheHit() {
	atomic.AddInt64(&r.hits, 1)
}

func (r *Recorder) RecordCacheMiss() {
	atomic.AddInt64(&r.misses, 1)
}

func (r *Recorder) GetCacheStats() CacheStats {
	hits := atomic.LoadInt64(&r.hits)
	misses := atomic.LoadInt64(&r.misses)
	total := hits + misses

	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total) * 100
	}

	return CacheStats{Hits: hits, Misses: misses, Total: total, HitRate: rate}
}

// RecordProcessing upserts the day-keyed metric for mediaType and raises an
// alert when the error rate crosses the threshold with enough samples.
func (r *Recorder) RecordProcessing(mediaType string, byteSize int64, duration time.Duration, success bool) {
	key := metricKey(mediaType, time.Now().UTC())

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.metrics[key]
	if !ok {
		m = &ProcessingMetric{}
		r.metrics[key] = m
	}

	m.Count++
	m.TotalSize += byteSize
	m.TotalDurationMs += duration.Milliseconds()
	if success {
		m.SuccessCount++
	} else {
		m.ErrorCount++
	}
	m.AvgProcessingTime = float64(m.TotalDurationMs) / float64(m.Count)

	if !success {
		rate := float64(m.ErrorCount) / float64(m.Count)
		if rate > alertErrorRate && m.Count > alertMinSample {
			r.appendAlertLocked(Alert{
				Kind: "high_error_rate",
				Message: fmt.Sprintf("error rate %.1f%% for %s (%d/%d jobs failed)",
					rate*100, key, m.ErrorCount, m.Count),
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

func (r *Recorder) appendAlertLocked(a Alert) {
	r.alerts = append(r.alerts, a)
	if len(r.alerts) > maxAlerts {
		r.alerts = r.alerts[len(r.alerts)-maxAlerts:]
	}
	logrus.Warnf("[TELEMETRY] ALERT %s: %s", a.Kind, a.Message)
}

// GetAlerts returns the most recent alerts (up to 10).
func (r *Recorder) GetAlerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := 0
	if len(r.alerts) > exposedAlerts {
		start = len(r.alerts) - exposedAlerts
	}
	out := make([]Alert, len(r.alerts)-start)
	copy(out, r.alerts[start:])
	return out
}

// PruneOldMetrics removes metric entries older than the retention window.
func (r *Recorder) PruneOldMetrics() {
	cutoff := time.Now().UTC().Add(-metricRetention)

	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.metrics {
		day, err := dayFromKey(key)
		if err != nil {
			continue
		}
		if day.Before(cutoff.Truncate(24 * time.Hour)) {
			delete(r.metrics, key)
		}
	}
}

// GetSnapshot copies the full telemetry state.
func (r *Recorder) GetSnapshot() Snapshot {
	r.mu.Lock()
	processing := make(map[string]ProcessingMetric, len(r.metrics))
	for k, v := range r.metrics {
		processing[k] = *v
	}
	r.mu.Unlock()

	return Snapshot{
		Cache:      r.GetCacheStats(),
		Processing: processing,
		Alerts:     r.GetAlerts(),
	}
}

func metricKey(mediaType string, t time.Time) string {
	return mediaType + "_" + t.Format("2006-01-02")
}

func dayFromKey(key string) (time.Time, error) {
	if len(key) < 10 {
		return time.Time{}, fmt.Errorf("short key: %s", key)
	}
	return time.Parse("2006-01-02", key[len(key)-10:])
}
