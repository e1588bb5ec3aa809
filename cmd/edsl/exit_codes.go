package main

import (
	stderrors "errors"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
)

// Process exit codes.
const (
	exitOK             = 0
	exitError          = 1
	exitConfig         = 2
	exitInterviewsFail = 3
	exitCancelled      = 130
)

type exitCoder interface {
	ExitCode() int
}

type exitErr struct {
	code int
	err  error
}

func (e exitErr) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitErr) Unwrap() error {
	return e.err
}

func (e exitErr) ExitCode() int {
	if e.code == 0 {
		return exitError
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitErr{code: code, err: err}
}

func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	var coded exitCoder
	if stderrors.As(err, &coded) {
		return coded.ExitCode()
	}
	if errors.IsConfiguration(err) {
		return exitConfig
	}
	return exitError
}
