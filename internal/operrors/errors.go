// Package operrors defines the typed error kinds shared across the
// operator's components, along with the retry/terminal policy attached
// to each kind.
package operrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the category of failure a component produced, per
// the error-handling design: each kind carries its own propagation
// policy (retry, surface on the CR, fatal at startup, log-only).
type Kind string

const (
	KindTranslationError    Kind = "TranslationError"
	KindBackendUnavailable  Kind = "BackendUnavailable"
	KindCredentialMissing   Kind = "CredentialMissing"
	KindPodStructureInvalid Kind = "PodStructureInvalid"
	KindValidationError     Kind = "ValidationError"
	KindStatusUpdateFailed  Kind = "StatusUpdateFailed"
	KindAlreadyExists       Kind = "AlreadyExists"
	KindNotFound            Kind = "NotFound"
)

// Error wraps an underlying cause with a Kind and an optional field
// name, so reconcilers can build a condition reason like
// "TranslationFailed_memory" without string-parsing the error text.
type Error struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s(%s): %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason renders the condition reason the reconcilers attach to a
// CR's Ready=False condition.
func (e *Error) Reason() string {
	if e.Field != "" {
		return fmt.Sprintf("%sFailed_%s", strings.TrimSuffix(string(e.Kind), "Error"), e.Field)
	}
	return string(e.Kind)
}

func New(kind Kind, field string, err error) *Error {
	return &Error{Kind: kind, Field: field, Err: err}
}

func Translation(field string, err error) *Error {
	return New(KindTranslationError, field, err)
}

func BackendUnavailable(err error) *Error {
	return New(KindBackendUnavailable, "", err)
}

func CredentialMissing(err error) *Error {
	return New(KindCredentialMissing, "", err)
}

func PodStructureInvalid(err error) *Error {
	return New(KindPodStructureInvalid, "", err)
}

func StatusUpdateFailed(err error) *Error {
	return New(KindStatusUpdateFailed, "", err)
}

func AlreadyExists(err error) *Error {
	return New(KindAlreadyExists, "", err)
}

func NotFound(err error) *Error {
	return New(KindNotFound, "", err)
}

// IsKind reports whether err (or something it wraps) carries the
// given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ReasonFor renders the CR condition reason for any error: an
// *Error's own Reason(), or "Unknown" for an error this package didn't
// produce.
func ReasonFor(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason()
	}
	return "Unknown"
}

// KindOf returns the Kind carried by err, or "" if err is not an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the reconciler should retry the operation
// that produced err within the current reconcile, bounded by the
// caller's own attempt budget. Only BackendUnavailable is retryable;
// every other kind is terminal from the reconciler's perspective.
func Retryable(err error) bool {
	return IsKind(err, KindBackendUnavailable)
}
