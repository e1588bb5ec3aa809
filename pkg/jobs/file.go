package jobs

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/expectedparrot/edsl-sub003/pkg/cohort"
	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/model"
	"github.com/expectedparrot/edsl-sub003/pkg/survey"
)

// File is the YAML form of a job: a survey plus the cohort that answers it.
type File struct {
	// SurveyPath points at a survey file, relative to the job file.
	SurveyPath string            `yaml:"survey_path,omitempty"`
	Survey     *survey.File      `yaml:"survey,omitempty"`
	Agents     []cohort.Agent    `yaml:"agents,omitempty"`
	Scenarios  []cohort.Scenario `yaml:"scenarios,omitempty"`
	Models     []model.Spec      `yaml:"models"`
	N          int               `yaml:"n,omitempty"`
}

// Job is a loaded job definition.
type Job struct {
	Survey  *survey.Survey
	Product cohort.Product
}

// LoadJobFile reads a job definition. Exactly one of survey_path or survey
// must be set.
func LoadJobFile(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "read job file").
			WithContext("path", path)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigParse, "parse job file").
			WithContext("path", path)
	}
	return f.Job(filepath.Dir(path))
}

// Job resolves the file into a survey and product. baseDir anchors a
// relative survey_path.
func (f File) Job(baseDir string) (*Job, error) {
	var (
		s   *survey.Survey
		err error
	)
	switch {
	case f.SurveyPath != "" && f.Survey != nil:
		return nil, errors.New(errors.ErrCodeConfigInvalid, "job sets both survey_path and survey")
	case f.SurveyPath != "":
		p := f.SurveyPath
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		s, err = survey.LoadFile(p)
	case f.Survey != nil:
		s, err = f.Survey.Survey()
	default:
		return nil, errors.New(errors.ErrCodeConfigInvalid, "job has no survey")
	}
	if err != nil {
		return nil, err
	}
	if len(f.Models) == 0 {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "job lists no models")
	}
	if f.N < 0 {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "n must be positive, got %d", f.N)
	}
	return &Job{
		Survey: s,
		Product: cohort.Product{
			Agents:      f.Agents,
			Scenarios:   f.Scenarios,
			Models:      f.Models,
			Repetitions: f.N,
		},
	}, nil
}
