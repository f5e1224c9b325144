package usecase

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. DomainError and TechnicalError unwrap to one of these so
// callers can branch with errors.Is.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrValidation             = errors.New("validation failed")
	ErrSignatureVerification  = errors.New("signature verification failed")
	ErrDataNotFound           = errors.New("data not found")
	ErrInsufficientCandidates = errors.New("insufficient replacement candidates")
	ErrManualRecoveryNeeded   = errors.New("manual recovery needed")
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
)

const (
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeValidation            = "VALIDATION_ERROR"
	CodeInvalidSignature      = "INVALID_SIGNATURE"
	CodeDataNotFound          = "DATA_NOT_FOUND"
	CodeInsufficientCandidate = "INSUFFICIENT_REPLACEMENT_CANDIDATES"
	CodeManualRecovery        = "MANUAL_RECOVERY_NEEDED"
	CodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	CodeDatabase              = "DATABASE_ERROR"
)

// DomainError is a failure the caller can act on. Details carries whatever an
// operator needs to follow up (ids, amounts, processor metadata).
type DomainError struct {
	Code    string
	Message string
	Details map[string]any
	Kind    error
}

func (e *DomainError) Error() string {
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Kind
}

func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// TechnicalError wraps infrastructure failures (database, upstream APIs).
type TechnicalError struct {
	Code    string
	Message string
	Err     error
}

func (e *TechnicalError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *TechnicalError) Unwrap() error {
	return e.Err
}

func IsTechnicalError(err error) bool {
	var te *TechnicalError
	return errors.As(err, &te)
}

func newValidationError(errs []ValidationError) *DomainError {
	parts := make([]string, 0, len(errs))
	fields := make(map[string]any, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
		fields[e.Field] = e.Message
	}
	return &DomainError{
		Code:    CodeValidation,
		Message: "validation failed: " + strings.Join(parts, ", "),
		Details: fields,
		Kind:    ErrValidation,
	}
}

func newNotFoundError(msg string, details map[string]any) *DomainError {
	return &DomainError{Code: CodeDataNotFound, Message: msg, Details: details, Kind: ErrDataNotFound}
}

func newDatabaseError(op string, err error) *TechnicalError {
	return &TechnicalError{Code: CodeDatabase, Message: fmt.Sprintf("%s failed", op), Err: err}
}

func newUpstreamError(service string, err error) *TechnicalError {
	return &TechnicalError{
		Code:    CodeUpstreamUnavailable,
		Message: service + " unavailable",
		Err:     errors.Join(ErrUpstreamUnavailable, err),
	}
}
