// Package host models the message-passing runtime that owns datatypes,
// reduction operations, request handles and communicators. The coll
// package accelerates collectives on top of it.
package host

import "errors"

var (
	// ErrRequest reports an invalid request or an operation not allowed in its current state.
	ErrRequest = errors.New("host: invalid request")
	// ErrInternal reports a failure with no more specific classification.
	ErrInternal = errors.New("host: internal error")
	// ErrType reports an invalid or uncommitted datatype.
	ErrType = errors.New("host: invalid datatype")
	// ErrOp reports an invalid reduction operation.
	ErrOp = errors.New("host: invalid operation")
	// ErrArg reports an invalid argument.
	ErrArg = errors.New("host: invalid argument")
	// ErrTruncate reports a buffer too small for the data described.
	ErrTruncate = errors.New("host: message truncated")
	// ErrKeyval reports a freed or unknown attribute key.
	ErrKeyval = errors.New("host: invalid keyval")
)
