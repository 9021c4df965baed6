package engine

import "errors"

// Error kinds. Pipelines classify failures into these buckets: a missing
// reference is reported and never retried, a validation failure skips the
// SKU, a storage failure rolls back the one operation and the loop
// continues, a policy failure is a benign refusal, and a fatal error
// aborts the run.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation failed")
	ErrStorage       = errors.New("storage failure")
	ErrPolicy        = errors.New("policy refused")
	ErrFatal         = errors.New("fatal")
)

// Classify maps an error onto its statistics bucket. Unrecognized errors
// count as storage failures, the transient kind.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPolicy):
		return "policy"
	case errors.Is(err, ErrFatal):
		return "fatal"
	default:
		return "storage"
	}
}

// IsFatal reports whether the run must abort.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
