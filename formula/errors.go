package formula

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------

// Stage names a step of the build pipeline.
type Stage string

const (
	StageLoad     Stage = "load"
	StageVersion  Stage = "version"
	StageOptions  Stage = "options"
	StageResolve  Stage = "resolve"
	StageGenerate Stage = "generate"
	StageBuild    Stage = "build"
	StagePackage  Stage = "package"
	StagePublish  Stage = "publish"
)

// StageError wraps a failure with the stage and package it occurred in.
type StageError struct {
	Stage   Stage
	Package string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: stage %s: %v", e.Package, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------

// ConfigurationError reports an invalid descriptor, version source or option
// assignment. It is always detected before any build step runs.
type ConfigurationError struct {
	Package string
	Option  string
	Reason  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Package != "" {
		b.WriteString(" in ")
		b.WriteString(e.Package)
	}
	if e.Option != "" {
		b.WriteString(" option ")
		b.WriteString(e.Option)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Configf returns a ConfigurationError for pkg with a formatted reason.
func Configf(pkg, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Package: pkg, Reason: fmt.Sprintf(format, args...)}
}

// -----------------------------------------------------------------------------

// ConstraintOrigin is a version constraint together with the descriptor that
// declared it.
type ConstraintOrigin struct {
	Constraint string
	Origin     string
}

// ResolutionConflict reports that no available version of Package satisfies
// every declared constraint.
type ResolutionConflict struct {
	Package     string
	Constraints []ConstraintOrigin
	Candidates  []string
}

func (e *ResolutionConflict) Error() string {
	parts := make([]string, len(e.Constraints))
	for i, c := range e.Constraints {
		parts[i] = fmt.Sprintf("%q from %s", c.Constraint, c.Origin)
	}
	msg := fmt.Sprintf("version conflict for %s: no version satisfies %s", e.Package, strings.Join(parts, ", "))
	if len(e.Candidates) > 0 {
		msg += " (available: " + strings.Join(e.Candidates, ", ") + ")"
	}
	return msg
}

// -----------------------------------------------------------------------------

// BuildFailure reports a non-zero result of the native build system. Its
// diagnostic output has already been streamed unmodified.
type BuildFailure struct {
	Step     string // configure, build or install
	Command  []string
	ExitCode int
	Err      error
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("%s failed (exit code %d): %s", e.Step, e.ExitCode, strings.Join(e.Command, " "))
}

func (e *BuildFailure) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------

// PackagingError reports an artifact that was expected after a successful
// build but could not be found or copied.
type PackagingError struct {
	Package  string
	Artifact string
	Reason   string
	Err      error
}

func (e *PackagingError) Error() string {
	msg := fmt.Sprintf("packaging %s: %s: %s", e.Package, e.Artifact, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PackagingError) Unwrap() error {
	return e.Err
}
