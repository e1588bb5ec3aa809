package main

import (
	"github.com/expectedparrot/edsl-sub003/pkg/cohort"
	"github.com/expectedparrot/edsl-sub003/pkg/jobs"
	"github.com/expectedparrot/edsl-sub003/pkg/survey"
)

// loadInput reads path as a survey file when surveyOnly is set and as a job
// file otherwise. The product is empty for a bare survey.
func loadInput(path string, surveyOnly bool) (*survey.Compiled, cohort.Product, error) {
	var (
		s       *survey.Survey
		product cohort.Product
	)
	if surveyOnly {
		loaded, err := survey.LoadFile(path)
		if err != nil {
			return nil, product, err
		}
		s = loaded
	} else {
		job, err := jobs.LoadJobFile(path)
		if err != nil {
			return nil, product, err
		}
		s, product = job.Survey, job.Product
	}
	compiled, err := survey.Build(s)
	if err != nil {
		return nil, product, err
	}
	return compiled, product, nil
}

// waveNames maps graph waves to question names.
func waveNames(compiled *survey.Compiled) [][]string {
	waves := compiled.Graph.Waves()
	out := make([][]string, len(waves))
	for i, wave := range waves {
		for _, q := range wave {
			out[i] = append(out[i], compiled.Graph.Name(q))
		}
	}
	return out
}
