// Package buildinfo holds the values derived once per configuration evaluation
// and the two ways their derivation can fail.
//
// A derivation either succeeds, degrades to a sentinel with an operator-facing
// warning, or fails fatally. Degradation is carried in the Constant itself;
// fatal failures are returned as *FatalError.
package buildinfo

import (
	"errors"
	"fmt"
)

// Status reports how a Constant was derived.
type Status int

const (
	// StatusOK means the value came from its intended source.
	StatusOK Status = iota
	// StatusDegraded means the source was unavailable and a sentinel was used.
	StatusDegraded
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Constant is an immutable build-time value substituted as a literal into
// compiled output.
type Constant struct {
	// Name is the identifier replaced at every reference site (e.g. __VERSION__).
	Name string
	// Value is the literal text of the constant.
	Value string
	// Status reports whether Value is real or a sentinel.
	Status Status
	// Warning explains a degraded value and how to fix it. Empty when OK.
	Warning string
}

// OK returns a constant derived from its intended source.
func OK(name, value string) Constant {
	return Constant{Name: name, Value: value, Status: StatusOK}
}

// Degraded returns a constant holding a sentinel value and the warning shown
// to the build operator.
func Degraded(name, sentinel, warning string) Constant {
	return Constant{Name: name, Value: sentinel, Status: StatusDegraded, Warning: warning}
}

// IsDegraded reports whether the constant holds a sentinel.
func (c Constant) IsDegraded() bool {
	return c.Status == StatusDegraded
}

// Constants is the full set of values injected into a build.
type Constants struct {
	Version  Constant
	Licenses Constant
}

// All returns the constants in a stable order.
func (c Constants) All() []Constant {
	return []Constant{c.Version, c.Licenses}
}

// Warnings returns the warnings of every degraded constant.
func (c Constants) Warnings() []string {
	var warnings []string
	for _, constant := range c.All() {
		if constant.IsDegraded() && constant.Warning != "" {
			warnings = append(warnings, constant.Warning)
		}
	}
	return warnings
}

// FatalError aborts configuration evaluation. Resource names the file or
// input that was missing or malformed.
type FatalError struct {
	Resource string
	Err      error
}

// Fatal wraps err as a FatalError attributed to resource.
func Fatal(resource string, err error) error {
	return &FatalError{Resource: resource, Err: err}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Resource, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is, or wraps, a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
