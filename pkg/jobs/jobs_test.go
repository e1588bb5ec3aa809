package jobs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expectedparrot/edsl-sub003/pkg/cache"
	"github.com/expectedparrot/edsl-sub003/pkg/cohort"
	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/logging"
	"github.com/expectedparrot/edsl-sub003/pkg/model"
	"github.com/expectedparrot/edsl-sub003/pkg/results"
	"github.com/expectedparrot/edsl-sub003/pkg/survey"
	"github.com/expectedparrot/edsl-sub003/pkg/telemetry"
)

// funcCaller answers with fn and counts calls.
type funcCaller struct {
	fn    func(ctx context.Context, req *model.Request) (string, error)
	calls atomic.Int64
}

func (c *funcCaller) Invoke(ctx context.Context, req *model.Request) (*model.Response, error) {
	c.calls.Add(1)
	text, err := c.fn(ctx, req)
	if err != nil {
		return nil, err
	}
	return &model.Response{Text: text}, nil
}

func answering(answers map[string]string) *funcCaller {
	return &funcCaller{fn: func(_ context.Context, req *model.Request) (string, error) {
		if a, ok := answers[req.Question]; ok {
			return a, nil
		}
		return "answer to " + req.Question, nil
	}}
}

func carSurvey() *survey.Survey {
	return survey.New(
		survey.Question{Name: "q1", Text: "Do you own a car?", Type: "yes_no", Options: []string{"Yes", "No"}},
		survey.Question{Name: "q2", Text: "What color is your car?", Type: "free_text"},
	)
}

func compile(t *testing.T, s *survey.Survey) *survey.Compiled {
	t.Helper()
	c, err := survey.Build(s)
	require.NoError(t, err)
	return c
}

func scripted() []model.Spec {
	return []model.Spec{{Name: "test-model", Provider: model.ProviderScripted}}
}

func agents(names ...string) []cohort.Agent {
	out := make([]cohort.Agent, len(names))
	for i, n := range names {
		out[i] = cohort.Agent{Name: n, Traits: map[string]any{"persona": n}}
	}
	return out
}

func TestRunSkipScenario(t *testing.T) {
	compiled := compile(t, carSurvey().WithSkipRule("q1", "q1 == 'No'", "q2"))
	caller := answering(map[string]string{"q1": "No"})

	set, err := Run(context.Background(), compiled, cohort.Product{Models: scripted()}, Options{Caller: caller})
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())

	rec := set.Records[0]
	assert.Equal(t, results.StatusCompleted, rec.Status())
	assert.Equal(t, "No", rec.Answer("q1"))
	assert.Equal(t, results.QuestionSkipped, rec.QuestionStatus("q2"))
	assert.Nil(t, rec.Answer("q2"))
	assert.EqualValues(t, 1, caller.calls.Load())
	assert.False(t, set.Cancelled)
}

func TestRunStopScenario(t *testing.T) {
	compiled := compile(t, carSurvey().WithStopRule("q1", "q1 == 'No'"))
	caller := answering(map[string]string{"q1": "No"})

	set, err := Run(context.Background(), compiled, cohort.Product{Models: scripted()}, Options{Caller: caller})
	require.NoError(t, err)

	rec := set.Records[0]
	assert.Equal(t, results.StatusStopped, rec.Status())
	assert.Equal(t, "No", rec.Answer("q1"))
	assert.Equal(t, results.QuestionNotAdministered, rec.QuestionStatus("q2"))
	assert.Nil(t, rec.Answer("q2"))
}

func TestRunIsIdempotentWithSharedCache(t *testing.T) {
	compiled := compile(t, carSurvey())
	c := cache.New(cache.NewMemoryStore(), cache.Options{})
	product := cohort.Product{Agents: agents("ann", "bob"), Models: scripted(), Repetitions: 2}

	first := answering(nil)
	set, err := Run(context.Background(), compiled, product, Options{Caller: first, Cache: c})
	require.NoError(t, err)
	assert.EqualValues(t, 8, first.calls.Load())

	second := answering(nil)
	again, err := Run(context.Background(), compiled, product, Options{Caller: second, Cache: c})
	require.NoError(t, err)
	assert.Zero(t, second.calls.Load())

	for i, rec := range again.Records {
		assert.Equal(t, set.Records[i].Answer("q1"), rec.Answer("q1"))
		assert.True(t, rec.Cached("q1"))
		assert.True(t, rec.Cached("q2"))
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	compiled := compile(t, carSurvey())
	caller := &funcCaller{fn: func(_ context.Context, req *model.Request) (string, error) {
		if strings.Contains(req.System, "persona: carl") && req.Question == "q2" {
			return "", errors.New(errors.ErrCodeModelAPIError, "bad request")
		}
		return "Yes", nil
	}}
	product := cohort.Product{Agents: agents("ann", "bob", "carl", "dan", "eve"), Models: scripted()}

	set, err := Run(context.Background(), compiled, product, Options{Caller: caller, Concurrency: 2})
	require.NoError(t, err)
	require.Equal(t, 5, set.Len())

	summary := set.Summary()
	assert.Equal(t, 4, summary[results.StatusCompleted])
	assert.Equal(t, 1, summary[results.StatusFailed])

	failed := set.Records[2]
	assert.Equal(t, results.StatusFailed, failed.Status())
	assert.Equal(t, "q2", failed[results.KeyFailedQuestion])
	assert.Contains(t, failed[results.KeyError], "MODEL_API_ERROR")
	assert.Equal(t, "Yes", failed.Answer("q1"))
}

func TestRunPlacesRecordsInCombinationOrder(t *testing.T) {
	compiled := compile(t, carSurvey())
	caller := &funcCaller{fn: func(_ context.Context, req *model.Request) (string, error) {
		// Earlier agents answer slower so completion order is reversed.
		if strings.Contains(req.System, "persona: a0") {
			time.Sleep(30 * time.Millisecond)
		}
		return "Yes", nil
	}}
	product := cohort.Product{
		Agents:    agents("a0", "a1", "a2"),
		Scenarios: []cohort.Scenario{{Name: "s0"}, {Name: "s1"}},
		Models:    scripted(),
	}

	var (
		mu    sync.Mutex
		order []int
	)
	set, err := Run(context.Background(), compiled, product, Options{
		Caller:      caller,
		Concurrency: 6,
		OnRecord: func(rec results.Record) {
			mu.Lock()
			order = append(order, rec.Index())
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.Equal(t, product.Len(), set.Len())
	assert.Len(t, order, 6)

	for i, rec := range set.Records {
		want := product.At(i)
		assert.Equal(t, i, rec.Index())
		assert.Equal(t, want.Agent.Name, rec[results.KeyAgentName])
		assert.Equal(t, want.Scenario.Name, rec[results.KeyScenarioName])
	}
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	compiled := compile(t, survey.New(survey.Question{Name: "q1", Text: "Hi?"}))
	var active, peak atomic.Int64
	caller := &funcCaller{fn: func(context.Context, *model.Request) (string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return "hello", nil
	}}
	product := cohort.Product{Models: scripted(), Repetitions: 12}

	set, err := Run(context.Background(), compiled, product, Options{Caller: caller, Concurrency: 3})
	require.NoError(t, err)
	assert.Equal(t, 12, set.Summary()[results.StatusCompleted])
	assert.LessOrEqual(t, peak.Load(), int64(3))
}

func TestRunCancellationRecordsEveryCombination(t *testing.T) {
	compiled := compile(t, carSurvey())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	product := cohort.Product{Agents: agents("a", "b", "c", "d", "e"), Models: scripted()}
	set, err := Run(ctx, compiled, product, Options{
		Caller:      answering(nil),
		Concurrency: 1,
		OnRecord:    func(results.Record) { cancel() },
	})
	require.NoError(t, err)
	require.Equal(t, 5, set.Len())
	assert.True(t, set.Cancelled)

	assert.Equal(t, results.StatusCompleted, set.Records[0].Status())
	for _, rec := range set.Records[1:] {
		require.NotNil(t, rec)
		assert.Equal(t, results.StatusStopped, rec.Status())
		assert.Equal(t, results.QuestionNotAdministered, rec.QuestionStatus("q1"))
		assert.Equal(t, results.QuestionNotAdministered, rec.QuestionStatus("q2"))
	}
}

func TestRunRejectsMissingFields(t *testing.T) {
	compiled := compile(t, survey.New(
		survey.Question{Name: "q1", Text: "How old are you, {{ agent.age }}?"},
		survey.Question{Name: "q2", Text: "Do you like {{ scenario.city }}?"},
	))
	caller := answering(nil)

	_, err := Run(context.Background(), compiled, cohort.Product{
		Agents:    []cohort.Agent{{Name: "ann", Traits: map[string]any{"age": 30}}, {Name: "bob"}},
		Scenarios: []cohort.Scenario{{Name: "s", Fields: map[string]any{"city": "Paris"}}},
		Models:    scripted(),
	}, Options{Caller: caller})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTemplateUnresolved))
	assert.Contains(t, err.Error(), "bob")

	_, err = Run(context.Background(), compiled, cohort.Product{
		Agents: []cohort.Agent{{Name: "ann", Traits: map[string]any{"age": 30}}},
		Models: scripted(),
	}, Options{Caller: caller})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "city")
	assert.Zero(t, caller.calls.Load())
}

func TestRunNamesAreAlwaysAvailable(t *testing.T) {
	compiled := compile(t, survey.New(
		survey.Question{Name: "q1", Text: "Hi {{ agent.name }} in {{ scenario.name }}"},
	))
	caller := answering(nil)

	set, err := Run(context.Background(), compiled, cohort.Product{Models: scripted()}, Options{Caller: caller})
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, results.StatusCompleted, set.Records[0].Status())
	assert.EqualValues(t, 1, caller.calls.Load())
	require.NoError(t, CheckRequiredFields(compiled, cohort.Product{
		Agents:    []cohort.Agent{{Traits: map[string]any{"age": 3}}},
		Scenarios: []cohort.Scenario{{Fields: map[string]any{"city": "Oslo"}}},
		Models:    scripted(),
	}))
}

func TestRunConfigurationErrors(t *testing.T) {
	compiled := compile(t, carSurvey())

	_, err := Run(context.Background(), nil, cohort.Product{Models: scripted()}, Options{Caller: answering(nil)})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSurveyInvalid))

	_, err = Run(context.Background(), compiled, cohort.Product{Models: scripted()}, Options{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeModelNotFound))

	_, err = Run(context.Background(), compiled, cohort.Product{Models: []model.Spec{{Provider: "openai"}}}, Options{Caller: answering(nil)})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestRunWithoutModelsIsEmpty(t *testing.T) {
	set, err := Run(context.Background(), compile(t, carSurvey()), cohort.Product{}, Options{Caller: answering(nil)})
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

func TestRunPublishesTelemetryAndLogs(t *testing.T) {
	compiled := compile(t, carSurvey())
	hub := telemetry.NewHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	var buf bytes.Buffer
	c := cache.New(nil, cache.Options{Observer: CacheObserver(hub)})
	set, err := Run(context.Background(), compiled, cohort.Product{Models: scripted()}, Options{
		Caller: answering(nil),
		Cache:  c,
		Hub:    hub,
		Logger: logging.NewWriterLogger(&buf, ""),
	})
	require.NoError(t, err)

	var types []telemetry.EventType
	for len(events) > 0 {
		ev := <-events
		types = append(types, ev.Type)
		if ev.Type == telemetry.EventInterviewCompleted {
			assert.Equal(t, set.JobID, ev.JobID)
			assert.NotEmpty(t, ev.InterviewID)
		}
	}
	assert.Equal(t, telemetry.EventJobStarted, types[0])
	assert.Equal(t, telemetry.EventJobCompleted, types[len(types)-1])
	assert.Contains(t, types, telemetry.EventInterviewStarted)
	assert.Contains(t, types, telemetry.EventQuestionAnswered)
	assert.Contains(t, types, telemetry.EventCacheMiss)

	assert.Contains(t, buf.String(), `"job.started"`)
	assert.Contains(t, buf.String(), `"job.completed"`)
	assert.Contains(t, buf.String(), set.JobID)
}

func TestRetryObserver(t *testing.T) {
	hub := telemetry.NewHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	observe := RetryObserver(hub)
	observe(&model.Request{Question: "q1", Model: scripted()[0]}, 2,
		errors.New(errors.ErrCodeModelRateLimit, "429").WithRetryable(true))

	ev := <-events
	assert.Equal(t, telemetry.EventModelRetry, ev.Type)
	assert.Equal(t, "q1", ev.Question)
	assert.Equal(t, "MODEL_RATE_LIMIT", ev.Data["code"])
	assert.Equal(t, 2, ev.Data["attempt"])

	assert.Nil(t, RetryObserver(nil))
	assert.Nil(t, CacheObserver(nil))
}

func TestLoadJobFile(t *testing.T) {
	dir := t.TempDir()
	surveyYAML := `
questions:
  - name: q1
    text: Do you own a car?
    options: ["Yes", "No"]
  - name: q2
    text: What color is it, {{ agent.name }}?
rules:
  - kind: skip
    trigger: q1
    if: "q1 == 'No'"
    target: q2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "survey.yaml"), []byte(surveyYAML), 0o600))

	jobYAML := `
survey_path: survey.yaml
agents:
  - name: ann
    traits:
      age: 30
scenarios:
  - name: city
    fields:
      city: Paris
models:
  - name: test-model
    provider: scripted
    params:
      temperature: 0.2
n: 3
`
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(jobYAML), 0o600))

	job, err := LoadJobFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Survey.Len())
	assert.Equal(t, 3, job.Product.Len())
	assert.Equal(t, "ann", job.Product.Agents[0].Name)
	assert.Equal(t, 0.2, job.Product.Models[0].Params["temperature"])

	compiled, err := survey.Build(job.Survey)
	require.NoError(t, err)
	set, err := Run(context.Background(), compiled, job.Product, Options{Caller: model.NewScripted(map[string]string{"q1": "No"})})
	require.NoError(t, err)
	for _, rec := range set.Records {
		assert.Equal(t, results.QuestionSkipped, rec.QuestionStatus("q2"))
	}
}

func TestLoadJobFileInlineSurvey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
survey:
  questions:
    - name: q1
      text: Hello?
models:
  - name: m
    provider: scripted
`), 0o600))

	job, err := LoadJobFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Survey.Len())
	assert.Equal(t, 1, job.Product.Len())
}

func TestLoadJobFileErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		yaml string
		code errors.ErrorCode
	}{
		{"no survey", "models: [{name: m, provider: scripted}]", errors.ErrCodeConfigInvalid},
		{"no models", "survey: {questions: [{name: q1, text: Hi}]}", errors.ErrCodeConfigInvalid},
		{"both surveys", "survey_path: x.yaml\nsurvey: {questions: [{name: q1, text: Hi}]}\nmodels: [{name: m}]", errors.ErrCodeConfigInvalid},
		{"bad yaml", "models: [", errors.ErrCodeConfigParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			_, err := LoadJobFile(path)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), err.Error())
		})
	}

	_, err := LoadJobFile(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigLoad))
}
