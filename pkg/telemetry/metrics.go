package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricJobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edsl",
		Name:      "jobs_started_total",
		Help:      "Number of jobs started.",
	})
	metricJobsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edsl",
		Name:      "jobs_cancelled_total",
		Help:      "Number of jobs cancelled before every interview ran.",
	})
	metricInterviewsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "edsl",
		Name:      "interviews_active",
		Help:      "Interviews currently running.",
	})
	metricInterviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edsl",
		Name:      "interviews_total",
		Help:      "Finished interviews by terminal status.",
	}, []string{"status"})
	metricInterviewDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "edsl",
		Name:      "interview_duration_seconds",
		Help:      "Wall time of finished interviews.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	metricQuestions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edsl",
		Name:      "questions_total",
		Help:      "Resolved questions by status.",
	}, []string{"status"})
	metricQuestionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "edsl",
		Name:      "question_latency_seconds",
		Help:      "Time from dispatch to answer, cache hits included.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})
	metricCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edsl",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by result.",
	}, []string{"result"})
	metricCacheStoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edsl",
		Name:      "cache_store_errors_total",
		Help:      "Persisted cache store failures that degraded to a miss.",
	})
	metricModelRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edsl",
		Name:      "model_retries_total",
		Help:      "Model call retries by error code.",
	}, []string{"code"})
)

// RecordEvent updates the Prometheus metrics for event.
func RecordEvent(event Event) {
	switch event.Type {
	case EventJobStarted:
		metricJobsStarted.Inc()
	case EventJobCancelled:
		metricJobsCancelled.Inc()
	case EventInterviewStarted:
		metricInterviewsActive.Inc()
	case EventInterviewCompleted, EventInterviewStopped, EventInterviewFailed:
		metricInterviewsActive.Dec()
		metricInterviews.WithLabelValues(interviewStatus(event.Type)).Inc()
		if d, ok := durationOf(event); ok {
			metricInterviewDuration.Observe(d.Seconds())
		}
	case EventQuestionAnswered:
		metricQuestions.WithLabelValues("answered").Inc()
		if d, ok := durationOf(event); ok {
			metricQuestionLatency.Observe(d.Seconds())
		}
	case EventQuestionSkipped:
		metricQuestions.WithLabelValues("skipped").Inc()
	case EventQuestionFailed:
		metricQuestions.WithLabelValues("failed").Inc()
	case EventCacheHit:
		metricCacheLookups.WithLabelValues("hit").Inc()
	case EventCacheMiss:
		metricCacheLookups.WithLabelValues("miss").Inc()
	case EventCacheStoreError:
		metricCacheStoreErrors.Inc()
	case EventModelRetry:
		code, _ := event.Data["code"].(string)
		if code == "" {
			code = "unknown"
		}
		metricModelRetries.WithLabelValues(code).Inc()
	}
}

// RecordMetrics subscribes to hub before returning, then records events on
// its own goroutine until ctx is done or the hub closes. The returned channel
// is closed when recording stops.
func RecordMetrics(ctx context.Context, hub *Hub) <-chan struct{} {
	events, unsubscribe := hub.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				RecordEvent(event)
			}
		}
	}()
	return done
}

func interviewStatus(t EventType) string {
	switch t {
	case EventInterviewCompleted:
		return "completed"
	case EventInterviewStopped:
		return "stopped"
	default:
		return "failed"
	}
}

func durationOf(event Event) (time.Duration, bool) {
	switch v := event.Data["duration_ms"].(type) {
	case int64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	case float64:
		return time.Duration(v * float64(time.Millisecond)), true
	}
	return 0, false
}
