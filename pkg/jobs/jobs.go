// Package jobs runs a compiled survey over every combination of agents,
// scenarios, models and iterations and merges the records in combination
// order.
package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/expectedparrot/edsl-sub003/pkg/cache"
	"github.com/expectedparrot/edsl-sub003/pkg/cohort"
	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/interview"
	"github.com/expectedparrot/edsl-sub003/pkg/logging"
	"github.com/expectedparrot/edsl-sub003/pkg/model"
	"github.com/expectedparrot/edsl-sub003/pkg/results"
	"github.com/expectedparrot/edsl-sub003/pkg/survey"
	"github.com/expectedparrot/edsl-sub003/pkg/telemetry"
)

// DefaultConcurrency is the number of interviews run at once when Options
// leaves it unset.
const DefaultConcurrency = 4

// Options configures a job.
type Options struct {
	// Caller answers every question. Required.
	Caller model.Caller
	// Cache is shared by every interview. Nil disables caching.
	Cache *cache.Cache
	// Concurrency bounds the number of interviews in flight.
	Concurrency int
	// JobID names the job. Empty generates a ULID.
	JobID  string
	Parser interview.Parser
	Logger *logging.Logger
	Hub    *telemetry.Hub
	Tracer trace.Tracer
	// OnRecord is called once per finished interview, from worker goroutines.
	OnRecord func(results.Record)
}

// Runner executes jobs with a fixed set of dependencies.
type Runner struct {
	opts Options
}

// NewRunner returns a runner. Defaults are applied to opts.
func NewRunner(opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer()
	}
	return &Runner{opts: opts}
}

// Run executes one job with opts.
func Run(ctx context.Context, compiled *survey.Compiled, product cohort.Product, opts Options) (*results.Set, error) {
	return NewRunner(opts).Run(ctx, compiled, product)
}

// Run administers compiled to every combination of product. Configuration
// errors are returned before any interview starts. Interview failures are
// recorded in their records and never fail the job. When ctx is cancelled,
// combinations that never started are recorded as stopped, the set is marked
// cancelled, and Run returns a nil error.
func (r *Runner) Run(ctx context.Context, compiled *survey.Compiled, product cohort.Product) (*results.Set, error) {
	if err := r.validate(compiled, product); err != nil {
		return nil, err
	}

	jobID := r.opts.JobID
	if jobID == "" {
		jobID = ulid.Make().String()
	}
	logger := r.opts.Logger.ForJob(jobID)
	n := product.Len()
	set := results.NewSet(jobID, n)
	set.StartedAt = time.Now()

	ctx, span := r.opts.Tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("edsl.job.id", jobID),
		attribute.Int("edsl.job.combinations", n),
		attribute.Int("edsl.job.questions", compiled.Len()),
		attribute.Int("edsl.job.concurrency", r.opts.Concurrency),
	))
	defer span.End()

	_ = logger.Info(logging.CategoryJob, "job.started", "job started", map[string]any{
		"combinations": n,
		"questions":    compiled.Len(),
		"concurrency":  r.opts.Concurrency,
	})
	r.publish(telemetry.Event{Type: telemetry.EventJobStarted, JobID: jobID, Data: map[string]any{
		"combinations": n,
	}})

	started := 0
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)

	it := product.Iter()
	for {
		if ctx.Err() != nil {
			break
		}
		combo, ok := it.Next()
		if !ok {
			break
		}
		started++
		g.Go(func() error {
			iv := interview.New(compiled, combo, interview.Deps{
				Caller:  r.opts.Caller,
				Cache:   r.opts.Cache,
				Parser:  r.opts.Parser,
				Logger:  logger,
				Tracer:  r.opts.Tracer,
				OnEvent: r.bridge(jobID),
			})
			rec := iv.Run(ctx)
			set.Place(rec)
			if r.opts.OnRecord != nil {
				r.opts.OnRecord(rec)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, rec := range set.Records {
		if rec != nil {
			continue
		}
		set.Records[i] = interview.Unstarted(compiled, product.At(i))
	}
	set.Cancelled = ctx.Err() != nil
	set.FinishedAt = time.Now()

	summary := set.Summary()
	details := map[string]any{
		"combinations": n,
		"started":      started,
		"completed":    summary[results.StatusCompleted],
		"stopped":      summary[results.StatusStopped],
		"failed":       summary[results.StatusFailed],
		"duration_ms":  set.Duration().Milliseconds(),
	}
	if r.opts.Cache != nil {
		stats := r.opts.Cache.Stats()
		details["cache_hits"] = stats.Hits
		details["cache_misses"] = stats.Misses
	}
	span.SetAttributes(
		attribute.Int("edsl.job.failed", summary[results.StatusFailed]),
		attribute.Bool("edsl.job.cancelled", set.Cancelled),
	)

	if set.Cancelled {
		span.SetStatus(codes.Error, "cancelled")
		_ = logger.Warn(logging.CategoryJob, "job.cancelled", "job cancelled", details)
		r.publish(telemetry.Event{Type: telemetry.EventJobCancelled, JobID: jobID, Data: details})
	} else {
		_ = logger.Info(logging.CategoryJob, "job.completed", "job completed", details)
		r.publish(telemetry.Event{Type: telemetry.EventJobCompleted, JobID: jobID, Data: details})
	}
	return set, nil
}

func (r *Runner) validate(compiled *survey.Compiled, product cohort.Product) error {
	if compiled == nil {
		return errors.New(errors.ErrCodeSurveyInvalid, "survey is not compiled")
	}
	if r.opts.Caller == nil {
		return errors.New(errors.ErrCodeModelNotFound, "no model caller configured")
	}
	for _, m := range product.Models {
		if strings.TrimSpace(m.Name) == "" {
			return errors.New(errors.ErrCodeInvalidInput, "model name is required").
				WithContext("provider", m.Provider)
		}
	}
	return CheckRequiredFields(compiled, product)
}

// CheckRequiredFields reports the first agent or scenario that lacks a trait
// or field the survey reads.
func CheckRequiredFields(compiled *survey.Compiled, product cohort.Product) error {
	req := compiled.RequiredFields()
	if len(req.Agent) > 0 {
		agents := product.Agents
		if len(agents) == 0 {
			agents = []cohort.Agent{{}}
		}
		for i, a := range agents {
			if missing := cohort.Missing(a.Fields(), req.Agent); len(missing) > 0 {
				return errors.Newf(errors.ErrCodeTemplateUnresolved,
					"agent %q is missing traits: %s", a.Name, strings.Join(missing, ", ")).
					WithContext("agent_index", i)
			}
		}
	}
	if len(req.Scenario) > 0 {
		scenarios := product.Scenarios
		if len(scenarios) == 0 {
			scenarios = []cohort.Scenario{{}}
		}
		for i, s := range scenarios {
			if missing := cohort.Missing(s.Values(), req.Scenario); len(missing) > 0 {
				return errors.Newf(errors.ErrCodeTemplateUnresolved,
					"scenario %q is missing fields: %s", s.Name, strings.Join(missing, ", ")).
					WithContext("scenario_index", i)
			}
		}
	}
	return nil
}
