package interp

import (
	"errors"
	"fmt"
)

var (
	// ErrVirtualResolution reports a virtual dispatch that found no unique
	// target on a class that should have one.
	ErrVirtualResolution = errors.New("virtual resolution failed")

	// ErrUnsafeReentry reports a generic-path entry into a pinned save
	// method. Every caller was expected to be routed through the passenger
	// special case.
	ErrUnsafeReentry = errors.New("unsafe reentry into pinned save method")

	// ErrInvariant reports a broken internal invariant of the analyzer.
	ErrInvariant = errors.New("analyzer invariant broken")
)

// AnalysisError wraps a fatal error with the class, method and program
// counter it occurred at.
type AnalysisError struct {
	Class  string
	Method string
	PC     int
	Err    error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s.%s at pc %d: %v", e.Class, e.Method, e.PC, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

func (r *Runner) fail(err error) error {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return err // already located
	}
	return &AnalysisError{Class: r.ptr.Class, Method: r.ptr.Name, PC: r.pc, Err: err}
}
