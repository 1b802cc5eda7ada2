package core

import (
	"fmt"
	"net/http"
)

// Error carries the machine code and suggested HTTP status alongside the
// message, so the HTTP layer and the stored lastError diagnostics both get
// the taxonomy without string matching.
type Error struct {
	Code    string
	Status  int
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by code, so wrapped instances carrying extra
// context still compare equal to their taxonomy entry.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Error taxonomy. Constructors below attach per-case context.
var (
	ErrInvalidDomain      = &Error{Code: "invalid_domain", Status: http.StatusBadRequest, Message: "invalid domain"}
	ErrCAAMismatch        = &Error{Code: "caa_mismatch", Status: http.StatusForbidden, Message: "CAA policy forbids configured issuer"}
	ErrNotFound           = &Error{Code: "not_found", Status: http.StatusNotFound, Message: "domain is not configured"}
	ErrInvalidInput       = &Error{Code: "invalid_input", Status: http.StatusBadRequest, Message: "invalid request input"}
	ErrChallengeNotFound  = &Error{Code: "challenge_not_found", Status: http.StatusNotFound, Message: "challenge not found"}
	ErrChallengeFail      = &Error{Code: "challenge_failed", Status: http.StatusInternalServerError, Message: "challenge lookup failed"}
	ErrAccountUnavailable = &Error{Code: "account_unavailable", Status: http.StatusServiceUnavailable, Message: "ACME account unavailable"}
	ErrAcmeFailure        = &Error{Code: "acme_failure", Status: http.StatusBadGateway, Message: "certificate authority error"}
)

func invalidDomainError(domain string, err error) *Error {
	return &Error{
		Code:    ErrInvalidDomain.Code,
		Status:  ErrInvalidDomain.Status,
		Message: fmt.Sprintf("invalid domain %q", domain),
		Err:     err,
	}
}

func caaMismatchError(domain string, err error) *Error {
	return &Error{
		Code:    ErrCAAMismatch.Code,
		Status:  ErrCAAMismatch.Status,
		Message: fmt.Sprintf("CAA policy for %q forbids the configured issuer", domain),
		Err:     err,
	}
}

func invalidInputError(details map[string]string) *Error {
	return &Error{
		Code:    ErrInvalidInput.Code,
		Status:  ErrInvalidInput.Status,
		Message: ErrInvalidInput.Message,
		Details: details,
	}
}

// internalError covers store and key-handling failures that have no
// dedicated taxonomy entry.
func internalError(message string, err error) *Error {
	return &Error{
		Code:    "internal",
		Status:  http.StatusInternalServerError,
		Message: message,
		Err:     err,
	}
}

func acmeFailureError(domain string, err error) *Error {
	return &Error{
		Code:    ErrAcmeFailure.Code,
		Status:  ErrAcmeFailure.Status,
		Message: fmt.Sprintf("issuance for %q failed", domain),
		Err:     err,
	}
}
