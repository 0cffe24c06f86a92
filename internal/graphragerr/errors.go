// Package graphragerr defines the machine-readable error kinds shared across
// the ingestion and query pipelines. Every boundary that can fail surfaces
// one of these kinds rather than an ad-hoc string, so callers can branch on
// Kind instead of matching message text.
package graphragerr

import "fmt"

// Kind is a closed set of machine-readable failure categories.
type Kind string

const (
	BinaryFileRejected Kind = "BINARY_FILE_REJECTED"
	EncodingError      Kind = "ENCODING_ERROR"
	GraphNotFound      Kind = "GRAPH_NOT_FOUND"
	MissingProjectID   Kind = "MISSING_PROJECT_ID"
	LLMTransient       Kind = "LLM_TRANSIENT"
	LLMFatal           Kind = "LLM_FATAL"
	LLMParseError      Kind = "LLM_PARSE_ERROR"
	StorageTransient   Kind = "STORAGE_TRANSIENT"
	StorageFatal       Kind = "STORAGE_FATAL"
	CircularMerge      Kind = "CIRCULAR_MERGE"
	SelfLoopRelation   Kind = "SELF_LOOP_RELATION"
	Cancelled          Kind = "CANCELLED"
	InvalidMode        Kind = "INVALID_MODE"
)

// retryable is the set of kinds that a caller should retry with backoff
// before the producer escalates to the matching *_FATAL kind.
var retryable = map[Kind]bool{
	LLMTransient:     true,
	StorageTransient: true,
}

// Error is the error value surfaced across component boundaries. It never
// leaks information about a project other than its own id.
type Error struct {
	Kind      Kind
	ProjectID string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.ProjectID == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: project %s: %s", e.Kind, e.ProjectID, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the kind should be retried with backoff before
// being escalated to its fatal counterpart.
func (e *Error) Retryable() bool { return retryable[e.Kind] }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, projectID, message string) *Error {
	return &Error{Kind: kind, ProjectID: projectID, Message: message}
}

// Wrap constructs an *Error around an existing error.
func Wrap(kind Kind, projectID, message string, err error) *Error {
	return &Error{Kind: kind, ProjectID: projectID, Message: message, Err: err}
}

// Is reports whether err (or something it wraps) is a *Error of kind k. It
// lets call sites write `graphragerr.Is(err, graphragerr.GraphNotFound)`
// instead of manually unwrapping.
func Is(err error, k Kind) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	return e.Kind == k
}

// asError is a small local errors.As to avoid importing "errors" twice in
// call sites that already alias it; kept private and trivial.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
