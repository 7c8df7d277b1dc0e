package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a job failure for metrics and acknowledgement
// routing.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation_error"
	KindJSONDecode      ErrorKind = "json_decode_error"
	KindTimeout         ErrorKind = "timeout"
	KindVectorStore     ErrorKind = "vector_store_error"
	KindNaming          ErrorKind = "naming_error"
	KindRendering       ErrorKind = "rendering_error"
	KindUpload          ErrorKind = "upload_error"
	KindPublish         ErrorKind = "publish_error"
	KindBrokerTransient ErrorKind = "broker_transient"
	KindUnexpected      ErrorKind = "unexpected_error"
)

// JobError attaches a kind to an underlying failure.
type JobError struct {
	Kind ErrorKind
	Err  error
}

func (e *JobError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *JobError) Unwrap() error { return e.Err }

// NewJobError wraps err under the given kind.
func NewJobError(kind ErrorKind, err error) *JobError {
	return &JobError{Kind: kind, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to
// unexpected_error for unclassified failures.
func KindOf(err error) ErrorKind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnexpected
}
