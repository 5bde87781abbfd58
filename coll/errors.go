package coll

import (
	"errors"
	"fmt"

	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/internal/pool"
)

var (
	// ErrUnsupportedDatatype indicates a datatype that is not committed or already freed.
	ErrUnsupportedDatatype = errors.New("ucg coll: unsupported datatype")
	// ErrAdaptation indicates the datatype or operation could not be bridged to the engine.
	ErrAdaptation = errors.New("ucg coll: adaptation failed")
	// ErrEngineBuild indicates the engine rejected the request parameters.
	ErrEngineBuild = errors.New("ucg coll: engine request build failed")
	// ErrEngineRuntime indicates a failure while starting or polling an engine request.
	ErrEngineRuntime = errors.New("ucg coll: engine request failed")
	// ErrNotFound is the cache miss signal. It never reaches callers.
	ErrNotFound = errors.New("ucg coll: not found")
	// ErrResourceExhausted indicates a pool hit its growth ceiling.
	ErrResourceExhausted = pool.ErrExhausted

	// ErrMissingFallback indicates the previous implementation table is incomplete.
	ErrMissingFallback = errors.New("ucg coll: missing previous implementation")
	// ErrUnsupportedComm indicates a communicator the component does not accelerate.
	ErrUnsupportedComm = errors.New("ucg coll: unsupported communicator")
	// ErrClosed indicates the component or module has been closed.
	ErrClosed = errors.New("ucg coll: closed")
)

// Stage names the lifecycle step that failed.
type Stage string

const (
	StageAcquire Stage = "acquire"
	StageAdapt   Stage = "adapt"
	StageBuild   Stage = "build"
	StageStart   Stage = "start"
	StageExecute Stage = "execute"
	StageCache   Stage = "cache"
)

// OpError describes a failed collective request. It unwraps to both the
// sentinel in Err and, when set, the engine status.
type OpError struct {
	Kind   Kind
	Stage  Stage
	Status engine.Status
	Err    error
}

func (e *OpError) Error() string {
	if e.Status != engine.StatusOK {
		return fmt.Sprintf("ucg %s %s: %v (%s)", e.Kind, e.Stage, e.Err, e.Status)
	}
	return fmt.Sprintf("ucg %s %s: %v", e.Kind, e.Stage, e.Err)
}

// Unwrap allows errors.Is / errors.As to match the sentinel and the engine status.
func (e *OpError) Unwrap() []error {
	if e.Status != engine.StatusOK {
		return []error{e.Err, e.Status}
	}
	return []error{e.Err}
}

func opError(kind Kind, stage Stage, sentinel error, st engine.Status) *OpError {
	return &OpError{Kind: kind, Stage: stage, Status: st, Err: sentinel}
}

// buildError classifies an error returned by an engine builder.
func buildError(kind Kind, err error) *OpError {
	var st engine.Status
	if !errors.As(err, &st) {
		st = engine.ErrInvalidParam
	}
	return &OpError{Kind: kind, Stage: StageBuild, Status: st, Err: fmt.Errorf("%w: %w", ErrEngineBuild, err)}
}
