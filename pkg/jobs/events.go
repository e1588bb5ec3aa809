package jobs

import (
	"github.com/expectedparrot/edsl-sub003/pkg/cache"
	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/interview"
	"github.com/expectedparrot/edsl-sub003/pkg/model"
	"github.com/expectedparrot/edsl-sub003/pkg/telemetry"
)

func (r *Runner) publish(ev telemetry.Event) {
	r.opts.Hub.Publish(ev)
}

// bridge forwards interview events to the hub.
func (r *Runner) bridge(jobID string) func(interview.Event) {
	if r.opts.Hub == nil {
		return nil
	}
	return func(e interview.Event) {
		data := map[string]any{"index": e.Index}
		if e.Duration > 0 {
			data["duration_ms"] = e.Duration.Milliseconds()
		}
		if e.Type == interview.EventQuestionAnswered {
			data["cached"] = e.Cached
		}
		if e.Err != nil {
			data["error"] = e.Err.Error()
			data["code"] = string(errors.GetCode(e.Err))
		}
		r.publish(telemetry.Event{
			Type:        telemetry.EventType(e.Type),
			JobID:       jobID,
			InterviewID: e.InterviewID,
			Question:    e.Question,
			Data:        data,
		})
	}
}

// CacheObserver publishes cache lookups and store failures to hub. It is
// meant for cache.Options.Observer.
func CacheObserver(hub *telemetry.Hub) func(cache.Event) {
	if hub == nil {
		return nil
	}
	return func(e cache.Event) {
		var t telemetry.EventType
		switch e.Kind {
		case cache.EventHit:
			t = telemetry.EventCacheHit
		case cache.EventMiss:
			t = telemetry.EventCacheMiss
		case cache.EventWrite:
			t = telemetry.EventCacheWrite
		case cache.EventStoreError:
			t = telemetry.EventCacheStoreError
		default:
			return
		}
		hub.Publish(telemetry.Event{Type: t, Data: map[string]any{"key": e.Key}})
	}
}

// RetryObserver publishes model retries to hub. It is meant for
// model.RetryOptions.OnRetry.
func RetryObserver(hub *telemetry.Hub) func(*model.Request, int, error) {
	if hub == nil {
		return nil
	}
	return func(req *model.Request, attempt int, err error) {
		hub.Publish(telemetry.Event{
			Type:     telemetry.EventModelRetry,
			Question: req.Question,
			Data: map[string]any{
				"attempt": attempt,
				"model":   req.Model.String(),
				"code":    string(errors.GetCode(err)),
				"error":   err.Error(),
			},
		})
	}
}
