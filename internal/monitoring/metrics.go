package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds application counters for the scoring service.
type Metrics struct {
	RequestCount        int64
	ErrorCount          int64
	ScoresComputed      int64
	PartialScores       int64
	RecommendationRuns  int64
	CacheHits           int64
	CacheMisses         int64
	CoalescedWaits      int64
	CoalesceFallbacks   int64
	SignalFetchFailures int64
	AverageResponseTime int64 // nanoseconds
	StartTime           time.Time

	// Response time samples for percentiles, last 1000 kept.
	ResponseTimes      []time.Duration
	ResponseTimesMutex sync.RWMutex

	RequestCountByStatus map[int]int64
	StatusMutex          sync.RWMutex

	RateLimitIPBlocks      int64
	RateLimitRedisErrors   int64
	RateLimitFallbackCount int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:            time.Now(),
		ResponseTimes:        make([]time.Duration, 0, 1000),
		RequestCountByStatus: make(map[int]int64),
	}
}

// IncrementRequest increments the request count.
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count.
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// IncrementScoreComputed increments the computed-score count; partial
// marks scores degraded by signal failures or deadlines.
func (m *Metrics) IncrementScoreComputed(partial bool) {
	atomic.AddInt64(&m.ScoresComputed, 1)
	if partial {
		atomic.AddInt64(&m.PartialScores, 1)
	}
}

// IncrementRecommendationRun increments the ranking-pass count.
func (m *Metrics) IncrementRecommendationRun() {
	atomic.AddInt64(&m.RecommendationRuns, 1)
}

// IncrementCacheHit increments the score cache hit count.
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
}

// IncrementCacheMiss increments the score cache miss count.
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
}

// IncrementCoalescedWait counts a caller that reused an in-flight compute.
func (m *Metrics) IncrementCoalescedWait() {
	atomic.AddInt64(&m.CoalescedWaits, 1)
}

// IncrementCoalesceFallback counts a coalescing timeout that fell back
// to a direct compute.
func (m *Metrics) IncrementCoalesceFallback() {
	atomic.AddInt64(&m.CoalesceFallbacks, 1)
}

// IncrementSignalFetchFailure counts a signal fetch degraded to 0.
func (m *Metrics) IncrementSignalFetchFailure() {
	atomic.AddInt64(&m.SignalFetchFailures, 1)
}

// IncrementRateLimitIPBlock increments IP-based rate limit blocks.
func (m *Metrics) IncrementRateLimitIPBlock() {
	atomic.AddInt64(&m.RateLimitIPBlocks, 1)
}

// IncrementRateLimitRedisError increments Redis rate-limit errors.
func (m *Metrics) IncrementRateLimitRedisError() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// IncrementRateLimitFallback increments in-memory fallback limiter usage.
func (m *Metrics) IncrementRateLimitFallback() {
	atomic.AddInt64(&m.RateLimitFallbackCount, 1)
}

// RecordResponseTime records a response time for averaging and percentiles.
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	current := atomic.LoadInt64(&m.AverageResponseTime)
	newAverage := (current + duration.Nanoseconds()) / 2
	atomic.StoreInt64(&m.AverageResponseTime, newAverage)

	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = append(m.ResponseTimes, duration)
	if len(m.ResponseTimes) > 1000 {
		m.ResponseTimes = m.ResponseTimes[1:]
	}
	m.ResponseTimesMutex.Unlock()
}

// RecordRequestByStatus records request count by HTTP status code.
func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.StatusMutex.Lock()
	defer m.StatusMutex.Unlock()
	m.RequestCountByStatus[statusCode]++
}

// GetPercentileResponseTime calculates a response time percentile.
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.ResponseTimesMutex.RLock()
	defer m.ResponseTimesMutex.RUnlock()

	if len(m.ResponseTimes) == 0 {
		return 0
	}

	times := make([]time.Duration, len(m.ResponseTimes))
	copy(times, m.ResponseTimes)
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	index := int(float64(len(times)-1) * percentile / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

// GetStatusCodeDistribution returns request counts by status code.
func (m *Metrics) GetStatusCodeDistribution() map[int]int64 {
	m.StatusMutex.RLock()
	defer m.StatusMutex.RUnlock()

	distribution := make(map[int]int64, len(m.RequestCountByStatus))
	for code, count := range m.RequestCountByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetStats returns the current metrics snapshot.
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	cacheHitRate := float64(0)
	if total := cacheHits + cacheMisses; total > 0 {
		cacheHitRate = float64(cacheHits) / float64(total) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":         time.Since(m.StartTime).Seconds(),
		"total_requests":         requests,
		"error_count":            errors,
		"error_rate_percent":     errorRate,
		"scores_computed":        atomic.LoadInt64(&m.ScoresComputed),
		"partial_scores":         atomic.LoadInt64(&m.PartialScores),
		"recommendation_runs":    atomic.LoadInt64(&m.RecommendationRuns),
		"cache_hits":             cacheHits,
		"cache_misses":           cacheMisses,
		"cache_hit_rate_percent": cacheHitRate,
		"coalesced_waits":        atomic.LoadInt64(&m.CoalescedWaits),
		"coalesce_fallbacks":     atomic.LoadInt64(&m.CoalesceFallbacks),
		"signal_fetch_failures":  atomic.LoadInt64(&m.SignalFetchFailures),
		"avg_response_time_ms":   float64(atomic.LoadInt64(&m.AverageResponseTime)) / 1e6,
		"p50_response_time_ms":   float64(m.GetPercentileResponseTime(50)) / 1e6,
		"p95_response_time_ms":   float64(m.GetPercentileResponseTime(95)) / 1e6,
		"p99_response_time_ms":   float64(m.GetPercentileResponseTime(99)) / 1e6,

		"status_code_distribution": m.GetStatusCodeDistribution(),
		"rate_limit": map[string]interface{}{
			"ip_blocks":      atomic.LoadInt64(&m.RateLimitIPBlocks),
			"redis_errors":   atomic.LoadInt64(&m.RateLimitRedisErrors),
			"fallback_count": atomic.LoadInt64(&m.RateLimitFallbackCount),
		},

		"start_time": m.StartTime.Format(time.RFC3339),
	}
}

// Reset resets all metrics. Useful for tests.
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.RequestCount, 0)
	atomic.StoreInt64(&m.ErrorCount, 0)
	atomic.StoreInt64(&m.ScoresComputed, 0)
	atomic.StoreInt64(&m.PartialScores, 0)
	atomic.StoreInt64(&m.RecommendationRuns, 0)
	atomic.StoreInt64(&m.CacheHits, 0)
	atomic.StoreInt64(&m.CacheMisses, 0)
	atomic.StoreInt64(&m.CoalescedWaits, 0)
	atomic.StoreInt64(&m.CoalesceFallbacks, 0)
	atomic.StoreInt64(&m.SignalFetchFailures, 0)
	atomic.StoreInt64(&m.AverageResponseTime, 0)
	atomic.StoreInt64(&m.RateLimitIPBlocks, 0)
	atomic.StoreInt64(&m.RateLimitRedisErrors, 0)
	atomic.StoreInt64(&m.RateLimitFallbackCount, 0)

	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = m.ResponseTimes[:0]
	m.ResponseTimesMutex.Unlock()

	m.StatusMutex.Lock()
	m.RequestCountByStatus = make(map[int]int64)
	m.StatusMutex.Unlock()

	m.StartTime = time.Now()
}
