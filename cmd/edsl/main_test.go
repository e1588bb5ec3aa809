package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
)

const surveyYAML = `
questions:
  - name: q1
    text: Do you own a car?
    options: ["Yes", "No"]
  - name: q2
    text: What color is your car, {{ agent.name }}?
  - name: q3
    text: What do you think of {{ scenario.topic }}?
rules:
  - kind: skip
    trigger: q1
    if: "q1 == 'No'"
    target: q2
`

const jobYAML = `
survey_path: survey.yaml
agents:
  - name: ann
  - name: bob
scenarios:
  - name: s1
    fields:
      topic: trains
models:
  - name: gpt-4o-mini
    provider: openai
`

type fixture struct {
	dir    string
	job    string
	survey string
	config string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:    dir,
		job:    filepath.Join(dir, "job.yaml"),
		survey: filepath.Join(dir, "survey.yaml"),
		config: filepath.Join(dir, "config.yaml"),
	}
	require.NoError(t, os.WriteFile(f.survey, []byte(surveyYAML), 0o600))
	require.NoError(t, os.WriteFile(f.job, []byte(jobYAML), 0o600))
	cfg := fmt.Sprintf("logging:\n  dir: %s\ncache:\n  backend: sqlite\n  dsn: %s\n",
		filepath.Join(dir, "logs"), filepath.Join(dir, "cache.db"))
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o600))
	return f
}

func execute(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	err := Execute(&stdout, &stderr, args)
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute("version")
	require.NoError(t, err)
	assert.Contains(t, out, "edsl dev")
}

func TestValidateJob(t *testing.T) {
	f := newFixture(t)

	out, _, err := execute("validate", f.job)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "3 questions, 1 rules")
	assert.Contains(t, out, "2 combinations")
}

func TestValidateReportsMissingFields(t *testing.T) {
	f := newFixture(t)
	job := filepath.Join(f.dir, "bad-job.yaml")
	require.NoError(t, os.WriteFile(job, []byte("survey_path: survey.yaml\nagents: [{name: ann}]\nmodels: [{name: m, provider: scripted}]\n"), 0o600))

	_, _, err := execute("validate", job)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTemplateUnresolved))
	assert.Equal(t, exitConfig, exitCodeForError(err))
}

func TestValidateRejectsCycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
questions:
  - name: q1
    text: "After {{ q2.answer }}?"
  - name: q2
    text: "After {{ q1.answer }}?"
`), 0o600))

	_, _, err := execute("validate", "--survey", path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDependencyCycle))
	assert.Equal(t, exitConfig, exitCodeForError(err))
}

func TestGraphCommand(t *testing.T) {
	f := newFixture(t)

	out, _, err := execute("graph", "--survey", "--edges", f.survey)
	require.NoError(t, err)
	assert.Contains(t, out, "2 waves")
	assert.Contains(t, out, "q1, q3")
	assert.Contains(t, out, "q1 -> q2")
}

func TestRunDryRunWritesResults(t *testing.T) {
	f := newFixture(t)
	output := filepath.Join(f.dir, "results.csv")

	out, stderr, err := execute("--config", f.config, "run", "--dry-run", "-o", output, f.job)
	require.NoError(t, err, stderr)
	assert.Contains(t, out, "completed")
	assert.Contains(t, stderr, "[1/2]")

	file, err := os.Open(output)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Contains(t, rows[0], "answer.q1")
	assert.Contains(t, rows[0], "agent.name")

	entries, err := os.ReadDir(filepath.Join(f.dir, "logs", "jobs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	_, err = os.Stat(filepath.Join(f.dir, "cache.db"))
	assert.NoError(t, err)
}

func TestLogsShowsLatestJob(t *testing.T) {
	f := newFixture(t)

	_, stderr, err := execute("--config", f.config, "run", "--dry-run", "-q", f.job)
	require.NoError(t, err, stderr)

	out, _, err := execute("--config", f.config, "logs", "-n", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "job.started")
	assert.Contains(t, out, "job.completed")

	_, _, err = execute("--config", f.config, "logs", "no-such-job")
	require.Error(t, err)
}

func TestRunRejectsBadFlags(t *testing.T) {
	f := newFixture(t)

	_, _, err := execute("--config", f.config, "run", "--cache", "postgres", f.job)
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCodeForError(err))

	_, _, err = execute("--config", f.config, "run", "--dry-run", "-q", filepath.Join(f.dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCodeForError(err))
}

func TestExitCodeForError(t *testing.T) {
	assert.Equal(t, exitOK, exitCodeForError(nil))
	assert.Equal(t, exitError, exitCodeForError(fmt.Errorf("boom")))
	assert.Equal(t, exitInterviewsFail, exitCodeForError(withExitCode(fmt.Errorf("x"), exitInterviewsFail)))
	assert.Equal(t, exitConfig, exitCodeForError(errors.New(errors.ErrCodeRuleInvalid, "bad rule")))
	assert.Equal(t, exitError, exitCodeForError(exitErr{}))
	assert.Nil(t, withExitCode(nil, exitConfig))
}
