// Package errs defines the closed error taxonomy of the consensus core.
//
// Every fallible operation in this module returns one of these kinds,
// wrapped with context via fmt.Errorf("%w", ...). Exceptions/panics are
// never used for control flow; callers discriminate with errors.Is/As.
package errs

import "errors"

// Kind classifies an error into one of the four categories of the
// error-handling design: Admission, Validation, Resource, Fatal.
type Kind int

const (
	KindAdmission Kind = iota
	KindValidation
	KindResource
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindAdmission:
		return "admission"
	case KindValidation:
		return "validation"
	case KindResource:
		return "resource"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. Code is a short machine-readable
// identifier (e.g. "InsufficientBalance") stable enough for a caller
// to discriminate on without parsing the message.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + ":" + e.Code
	}
	return e.Kind.String() + ":" + e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, errs.KindValidation) style checks by Kind
// when wrapped as a sentinel via New(kind, code, nil).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// New constructs a tagged error.
func New(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// Admission wraps err as an Admission-kind error with the given code.
func Admission(code string, err error) *Error { return New(KindAdmission, code, err) }

// Validation wraps err as a Validation-kind error with the given code.
func Validation(code string, err error) *Error { return New(KindValidation, code, err) }

// Resource wraps err as a Resource-kind error with the given code.
func Resource(code string, err error) *Error { return New(KindResource, code, err) }

// Fatal wraps err as a Fatal-kind error with the given code.
func Fatal(code string, err error) *Error { return New(KindFatal, code, err) }

// KindOf reports the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Sentinel error codes identifying each rejection reason callers care to
// discriminate on.
const (
	CodeMalformed            = "Malformed"
	CodeInsufficientBalance  = "InsufficientBalance"
	CodeNonceMismatch        = "NonceMismatch"
	CodeQueueFull            = "QueueFull"
	CodeDuplicateNonce       = "DuplicateNonce"
	CodeHeaderLinkage        = "HeaderLinkage"
	CodeRootMismatch         = "RootMismatch"
	CodeSignatureInvalid     = "SignatureInvalid"
	CodeStakeBelowThreshold  = "StakeBelowThreshold"
	CodeProofRejected        = "ProofRejected"
	CodeAmendmentInvalid     = "AmendmentInvalid"
	CodePoolFull             = "PoolFull"
	CodeDeadlineExceeded     = "DeadlineExceeded"
	CodeBackendUnavailable   = "BackendUnavailable"
	CodeStateDivergence      = "StateDivergence"
	CodeDataCorruption       = "DataCorruption"
	CodeImageIDMismatch      = "ImageIDMismatch"
)
