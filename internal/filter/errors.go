package filter

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrInvalidDeclaration matches every CompileError through errors.Is.
var ErrInvalidDeclaration = errors.New("invalid event filter declaration")

// CompileError reports a declaration that could not be turned into an Entry.
type CompileError struct {
	Name    string
	Value   string
	NoValue bool
	Reason  string
	Err     error
}

func (e *CompileError) Error() string {
	value := e.Value
	if e.NoValue {
		value = "<null>"
	}
	if e.Err != nil {
		return fmt.Sprintf("'%s = %s': %s: %v", e.Name, value, e.Reason, e.Err)
	}
	return fmt.Sprintf("'%s = %s': %s", e.Name, value, e.Reason)
}

func (e *CompileError) Unwrap() error { return e.Err }

func (e *CompileError) Is(target error) bool { return target == ErrInvalidDeclaration }

func compileErrorf(d Declaration, format string, args ...any) *CompileError {
	return &CompileError{
		Name:    d.Name,
		Value:   d.Value,
		NoValue: d.NoValue,
		Reason:  fmt.Sprintf(format, args...),
	}
}
