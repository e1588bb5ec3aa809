// Package interview administers a compiled survey to one combination of
// agent, scenario, model and iteration.
//
// A single goroutine owns the interview state. Questions whose dependencies
// are resolved are dispatched concurrently; their completions come back over
// a channel and are applied in arrival order. Skip rules are checked when a
// question becomes ready, stop rules right after their trigger is answered.
// A fired stop rule withholds only the questions positioned after its
// trigger; earlier questions are still asked.
package interview

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/expectedparrot/edsl-sub003/pkg/cache"
	"github.com/expectedparrot/edsl-sub003/pkg/cohort"
	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/expr"
	"github.com/expectedparrot/edsl-sub003/pkg/logging"
	"github.com/expectedparrot/edsl-sub003/pkg/model"
	"github.com/expectedparrot/edsl-sub003/pkg/results"
	"github.com/expectedparrot/edsl-sub003/pkg/survey"
)

const tracerName = "github.com/expectedparrot/edsl-sub003/pkg/interview"

// Event types reported through Deps.OnEvent.
const (
	EventStarted          = "interview.started"
	EventCompleted        = "interview.completed"
	EventStopped          = "interview.stopped"
	EventFailed           = "interview.failed"
	EventQuestionAnswered = "question.answered"
	EventQuestionSkipped  = "question.skipped"
	EventQuestionFailed   = "question.failed"
)

// Event describes a step of an interview.
type Event struct {
	Type        string
	InterviewID string
	Index       int
	Question    string
	Cached      bool
	Duration    time.Duration
	Err         error
}

// Deps are the collaborators an interview calls out to. Only Caller is
// required.
type Deps struct {
	Caller  model.Caller
	Cache   *cache.Cache
	Parser  Parser
	Logger  *logging.Logger
	Tracer  trace.Tracer
	OnEvent func(Event)
}

// Interview runs one combination through a compiled survey. It is not safe
// to Run twice.
type Interview struct {
	id       string
	compiled *survey.Compiled
	combo    cohort.Combination
	deps     Deps
	logger   *logging.Logger
	system   string

	agentFields    map[string]any
	scenarioFields map[string]any
	modelFields    map[string]any

	state    *State
	warned   map[string]bool
	stopped  bool
	stopAt   int
	inflight int
}

type completion struct {
	index    int
	entry    cache.Entry
	cached   bool
	err      error
	started  time.Time
	finished time.Time
}

// New prepares an interview. Nothing is called until Run.
func New(compiled *survey.Compiled, combo cohort.Combination, deps Deps) *Interview {
	id := ulid.Make().String()
	if deps.Parser == nil {
		deps.Parser = LineParser{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Interview{
		id:             id,
		compiled:       compiled,
		combo:          combo,
		deps:           deps,
		logger:         deps.Logger.ForInterview(id),
		system:         combo.Agent.SystemPrompt(),
		agentFields:    combo.Agent.Fields(),
		scenarioFields: combo.Scenario.Values(),
		modelFields:    modelFields(combo.Model),
		state:          newState(compiled.Names()),
		warned:         make(map[string]bool),
	}
}

// ID returns the interview id.
func (iv *Interview) ID() string { return iv.id }

// State returns the interview state. It is only consistent once Run returns.
func (iv *Interview) State() *State { return iv.state }

// Run administers the survey and returns the flat record. Cancellation of
// ctx stops the interview: in-flight calls are abandoned and every question
// without an answer is not_administered.
func (iv *Interview) Run(ctx context.Context) results.Record {
	ctx, span := iv.deps.Tracer.Start(ctx, "interview.run", trace.WithAttributes(
		attribute.String("edsl.interview.id", iv.id),
		attribute.Int("edsl.combination.index", iv.combo.Index),
		attribute.String("edsl.model", iv.combo.Model.String()),
		attribute.Int("edsl.iteration", iv.combo.Iteration),
	))
	defer span.End()

	st := iv.state
	st.Status = StatusRunning
	st.StartedAt = time.Now()
	iv.emit(Event{Type: EventStarted})
	_ = iv.logger.Debug(logging.CategoryInterview, EventStarted, "", map[string]any{
		"index": iv.combo.Index,
		"model": iv.combo.Model.String(),
	})

	g := iv.compiled.Graph
	n := iv.compiled.Len()
	waiting := make([]int, n)
	for i := 0; i < n; i++ {
		waiting[i] = len(g.Predecessors(i))
	}
	ready := g.Roots()
	done := make(chan completion, n)
	halted := false

	release := func(i int) {
		for _, s := range g.Successors(i) {
			waiting[s]--
			if waiting[s] == 0 {
				ready = insertSorted(ready, s)
			}
		}
	}

	for {
		if !halted && ctx.Err() != nil {
			st.Cancelled = true
			halted = true
		}

		for !halted && len(ready) > 0 {
			i := ready[0]
			ready = ready[1:]

			if iv.stopped && i > iv.stopAt {
				continue
			}
			if iv.shouldSkip(i) {
				iv.markSkipped(i)
				release(i)
				continue
			}

			req, err := iv.prepare(i)
			if err != nil {
				iv.fail(i, err)
				halted = true
				break
			}

			iv.inflight++
			st.Questions[i].StartedAt = time.Now()
			q := iv.compiled.Question(i)
			go func(i int, q survey.Question, req *model.Request) {
				done <- iv.ask(ctx, i, q, req)
			}(i, q, req)
		}

		if iv.inflight == 0 {
			break
		}

		c := <-done
		iv.inflight--
		if iv.complete(ctx, c) {
			halted = true
			continue
		}
		release(c.index)
	}

	iv.finish(span)
	return iv.Record()
}

// shouldSkip evaluates the skip rules targeting question i.
func (iv *Interview) shouldSkip(i int) bool {
	name := iv.state.Questions[i].Name
	if len(iv.compiled.Rules.SkipRulesFor(name)) == 0 {
		return false
	}
	targets, warnings := iv.compiled.Rules.ApplicableSkipTargets(iv.snapshot())
	iv.warn(warnings)
	return targets[name]
}

func (iv *Interview) markSkipped(i int) {
	q := &iv.state.Questions[i]
	q.Status = QuestionSkipped
	q.FinishedAt = time.Now()
	iv.emit(Event{Type: EventQuestionSkipped, Question: q.Name})
	_ = iv.logger.Debug(logging.CategoryInterview, EventQuestionSkipped, "", map[string]any{"question": q.Name})
}

// prepare renders question i against everything resolved so far.
func (iv *Interview) prepare(i int) (*model.Request, error) {
	snap := iv.snapshot()
	text, options, err := iv.compiled.Render(i, snap.Env)
	if err != nil {
		return nil, err
	}
	q := &iv.state.Questions[i]
	memory := iv.compiled.Memory.ContextFor(q.Name, snap)
	q.Text = text
	q.Prompt = buildPrompt(text, options, memory)

	return &model.Request{
		Model:     iv.combo.Model,
		System:    iv.system,
		Prompt:    q.Prompt,
		Question:  q.Name,
		Options:   options,
		Iteration: iv.combo.Iteration,
	}, nil
}

// ask runs on its own goroutine and must not touch iv.state.
func (iv *Interview) ask(ctx context.Context, i int, q survey.Question, req *model.Request) completion {
	ctx, span := iv.deps.Tracer.Start(ctx, "interview.question", trace.WithAttributes(
		attribute.String("edsl.interview.id", iv.id),
		attribute.String("edsl.question", q.Name),
	))
	defer span.End()

	c := completion{index: i, started: time.Now()}
	fill := func(ctx context.Context) (cache.Entry, error) {
		var parsed Parsed
		check := func(resp *model.Response) error {
			p, err := iv.deps.Parser.Parse(q, req.Options, resp)
			if err != nil {
				return err
			}
			parsed = p
			return nil
		}
		resp, err := callChecked(ctx, iv.deps.Caller, req, check)
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.Entry{
			Model:     req.Model.String(),
			System:    req.System,
			Prompt:    req.Prompt,
			Params:    req.Model.Params,
			Iteration: req.Iteration,
			Answer:    parsed.Answer,
			Comment:   parsed.Comment,
			Raw:       resp.Raw,
			CreatedAt: time.Now().UTC(),
		}, nil
	}

	if iv.deps.Cache != nil {
		c.entry, c.cached, c.err = iv.deps.Cache.Fetch(ctx, cache.KeyFor(req), fill)
	} else {
		c.entry, c.err = fill(ctx)
	}
	c.finished = time.Now()

	span.SetAttributes(attribute.Bool("edsl.cache.hit", c.cached))
	if c.err != nil {
		span.RecordError(c.err)
		span.SetStatus(codes.Error, c.err.Error())
	}
	return c
}

// complete applies a finished call. It returns true when the interview must
// stop dispatching altogether. A fired stop rule only records its trigger
// position.
func (iv *Interview) complete(ctx context.Context, c completion) bool {
	st := iv.state
	q := &st.Questions[c.index]
	q.StartedAt = c.started
	q.FinishedAt = c.finished

	if c.err != nil {
		if ctx.Err() != nil {
			q.Status = QuestionNotAdministered
			st.Cancelled = true
			return true
		}
		iv.fail(c.index, c.err)
		return true
	}

	q.Status = QuestionAnswered
	q.Answer = answerValue(iv.compiled.Question(c.index), c.entry.Answer)
	q.Comment = c.entry.Comment
	q.Raw = c.entry.Raw
	q.Cached = c.cached
	q.Sequence = st.nextSequence()

	iv.emit(Event{Type: EventQuestionAnswered, Question: q.Name, Cached: c.cached, Duration: c.finished.Sub(c.started)})
	_ = iv.logger.Debug(logging.CategoryInterview, EventQuestionAnswered, "", map[string]any{
		"question": q.Name,
		"sequence": q.Sequence,
		"cached":   c.cached,
	})

	stop, warnings := iv.compiled.Rules.ShouldStop(q.Name, iv.snapshot())
	iv.warn(warnings)
	if stop {
		if !iv.stopped || c.index < iv.stopAt {
			iv.stopAt = c.index
		}
		iv.stopped = true
		_ = iv.logger.Info(logging.CategoryInterview, "interview.stop_rule", "stop rule fired", map[string]any{"question": q.Name})
	}
	return false
}

// fail records err on question i. The first failure decides the interview
// error; later ones are kept on their questions only.
func (iv *Interview) fail(i int, err error) {
	st := iv.state
	q := &st.Questions[i]
	q.Status = QuestionFailed
	q.Err = err
	if q.FinishedAt.IsZero() {
		q.FinishedAt = time.Now()
	}
	if st.Err == nil {
		st.Err = err
		st.FailedQuestion = q.Name
	}
	iv.emit(Event{Type: EventQuestionFailed, Question: q.Name, Err: err})
	_ = iv.logger.Error(logging.CategoryInterview, EventQuestionFailed, err.Error(), map[string]any{
		"question": q.Name,
		"code":     string(errors.GetCode(err)),
	})
}

func (iv *Interview) finish(span trace.Span) {
	st := iv.state
	for i := range st.Questions {
		if !st.Questions[i].resolved() {
			st.Questions[i].Status = QuestionNotAdministered
		}
	}

	switch {
	case st.Err != nil:
		st.Status = StatusFailed
	case iv.stopped || st.Cancelled:
		st.Status = StatusStopped
	default:
		st.Status = StatusCompleted
	}
	st.FinishedAt = time.Now()

	elapsed := st.FinishedAt.Sub(st.StartedAt)
	details := map[string]any{
		"index":       iv.combo.Index,
		"duration_ms": elapsed.Milliseconds(),
	}
	span.SetAttributes(attribute.String("edsl.interview.status", string(st.Status)))

	switch st.Status {
	case StatusFailed:
		span.SetStatus(codes.Error, st.Err.Error())
		details["failed_question"] = st.FailedQuestion
		iv.emit(Event{Type: EventFailed, Question: st.FailedQuestion, Err: st.Err, Duration: elapsed})
		_ = iv.logger.Error(logging.CategoryInterview, EventFailed, st.Err.Error(), details)
	case StatusStopped:
		details["cancelled"] = st.Cancelled
		iv.emit(Event{Type: EventStopped, Duration: elapsed})
		_ = iv.logger.Info(logging.CategoryInterview, EventStopped, "", details)
	default:
		iv.emit(Event{Type: EventCompleted, Duration: elapsed})
		_ = iv.logger.Info(logging.CategoryInterview, EventCompleted, "", details)
	}
}

// snapshot exposes answered questions to rules, templates and memory.
func (iv *Interview) snapshot() survey.Snapshot {
	st := iv.state
	answers := make(map[string]any)
	comments := make(map[string]any)
	resolved := make(map[string]bool)
	prompts := make(map[string]string)
	for _, q := range st.Questions {
		if q.Status == QuestionAnswered {
			answers[q.Name] = q.Answer
			comments[q.Name] = q.Comment
		}
		if q.resolved() {
			resolved[q.Name] = true
		}
		if q.Text != "" {
			prompts[q.Name] = q.Text
		}
	}
	return survey.Snapshot{
		Env: expr.Env{
			Answers:   answers,
			Comments:  comments,
			Agent:     iv.agentFields,
			Scenario:  iv.scenarioFields,
			Model:     iv.modelFields,
			Iteration: iv.combo.Iteration,
		},
		Resolved: resolved,
		Prompts:  prompts,
	}
}

func (iv *Interview) warn(warnings []error) {
	for _, w := range warnings {
		msg := w.Error()
		if iv.warned[msg] {
			continue
		}
		iv.warned[msg] = true
		iv.state.Warnings = append(iv.state.Warnings, msg)
		_ = iv.logger.Warn(logging.CategorySurvey, "rule.warning", msg, nil)
	}
}

func (iv *Interview) emit(e Event) {
	if iv.deps.OnEvent == nil {
		return
	}
	e.InterviewID = iv.id
	e.Index = iv.combo.Index
	iv.deps.OnEvent(e)
}

// callChecked asks caller for a response check accepts. Callers that know
// how to retry get the check so a rejected response is asked again.
func callChecked(ctx context.Context, caller model.Caller, req *model.Request, check model.CheckFunc) (*model.Response, error) {
	if caller == nil {
		return nil, errors.New(errors.ErrCodeModelNotFound, "no model caller configured")
	}
	if checker, ok := caller.(model.Checker); ok {
		return checker.Do(ctx, req, check)
	}
	resp, err := caller.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, model.Malformed("nil response")
	}
	if err := check(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func modelFields(spec model.Spec) map[string]any {
	out := make(map[string]any, len(spec.Params)+2)
	for k, v := range spec.Params {
		out[k] = v
	}
	out["name"] = spec.Name
	out["provider"] = spec.Provider
	return out
}

func insertSorted(list []int, v int) []int {
	i := sort.SearchInts(list, v)
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}
