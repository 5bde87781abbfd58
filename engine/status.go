// Package engine describes the external collective engine consumed by the
// coll package: status codes, datatype and reduction descriptors, process
// groups, request builders and the execution driver.
package engine

import "fmt"

// Status is an engine status code. Negative values are failures and satisfy
// the error interface.
type Status int8

const (
	StatusOK         Status = 0
	StatusInProgress Status = 1

	ErrNoResource   Status = -2
	ErrInvalidParam Status = -3
	ErrUnsupported  Status = -4
	ErrNotFound     Status = -5
	ErrNoMemory     Status = -6
	ErrInvalidState Status = -7
	ErrUnreachable  Status = -8
	ErrIO           Status = -9
)

// Error implements error.
func (s Status) Error() string {
	return s.String()
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "success"
	case StatusInProgress:
		return "operation in progress"
	case ErrNoResource:
		return "resources are not available"
	case ErrInvalidParam:
		return "invalid parameter"
	case ErrUnsupported:
		return "unsupported operation"
	case ErrNotFound:
		return "element not found"
	case ErrNoMemory:
		return "out of memory"
	case ErrInvalidState:
		return "invalid state"
	case ErrUnreachable:
		return "destination is unreachable"
	case ErrIO:
		return "input/output error"
	default:
		return fmt.Sprintf("engine status %d", int8(s))
	}
}

// Failed reports whether s is a failure code.
func (s Status) Failed() bool {
	return s < 0
}

// Err converts s to an error, returning nil for non-failure codes.
func (s Status) Err() error {
	if s.Failed() {
		return s
	}
	return nil
}

// WithOp adds operation context to a failure status.
func (s Status) WithOp(op string) error {
	if !s.Failed() {
		return nil
	}
	if op == "" {
		return s
	}
	return fmt.Errorf("ucg %s: %w", op, s)
}
