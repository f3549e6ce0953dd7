package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	SignonErrorBadInput              = "SIGNON_BAD_INPUT"
	SignonErrorDuplicateHandler      = "SIGNON_DUPLICATE_HANDLER"
	SignonErrorAuthenticationFailed  = "SIGNON_AUTHENTICATION_FAILED"
	SignonErrorCredentialUnavailable = "SIGNON_CREDENTIAL_UNAVAILABLE"
	SignonErrorChannelInvalidated    = "SIGNON_CHANNEL_INVALIDATED"
	SignonErrorStoreFailure          = "SIGNON_STORE_FAILURE"
	SignonErrorInternal              = "SIGNON_INTERNAL_ERROR"
)

// ErrNoIdentitySession is returned (wrapped) by IdentityService.CreateSession
// when the account's credential reference cannot be resolved to a session.
var ErrNoIdentitySession = errors.New("core: no identity session available")

func signonErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSignonErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "already handling"):
		return newSignonError(err.Error(), goerrors.CategoryConflict, SignonErrorDuplicateHandler)
	case strings.Contains(msg, "authentication failed"), strings.Contains(msg, "rejected"):
		return newSignonError(err.Error(), goerrors.CategoryAuth, SignonErrorAuthenticationFailed)
	case strings.Contains(msg, "invalidated"), strings.Contains(msg, "channel closed"):
		return newSignonError(err.Error(), goerrors.CategoryOperation, SignonErrorChannelInvalidated)
	case strings.Contains(msg, "no credential"), strings.Contains(msg, "no identity session"):
		return newSignonError(err.Error(), goerrors.CategoryNotFound, SignonErrorCredentialUnavailable)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "unsupported"):
		return newSignonError(err.Error(), goerrors.CategoryBadInput, SignonErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSignonErrorEnvelope(mapped)
}

func newSignonError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureSignonErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureSignonErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = signonHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSignonTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultSignonTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return SignonErrorBadInput
	case goerrors.CategoryNotFound:
		return SignonErrorCredentialUnavailable
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return SignonErrorAuthenticationFailed
	case goerrors.CategoryConflict:
		return SignonErrorDuplicateHandler
	case goerrors.CategoryOperation:
		return SignonErrorStoreFailure
	default:
		return SignonErrorInternal
	}
}

func signonHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// MapError normalizes any error into the signon error envelope. Exposed so
// the leaf packages produce uniform envelopes without re-deriving the
// taxonomy.
func MapError(err error) *goerrors.Error {
	return signonErrorMapper(err)
}

// BadInput builds the ArgumentError envelope: surfaced synchronously to the
// caller and never retried.
func BadInput(message string) *goerrors.Error {
	return newSignonError(message, goerrors.CategoryBadInput, SignonErrorBadInput)
}

// DuplicateHandler reports a second handle attempt for a channel that
// already has a live session.
func DuplicateHandler(message string) *goerrors.Error {
	return newSignonError(message, goerrors.CategoryConflict, SignonErrorDuplicateHandler)
}

// AuthenticationFailed reports a peer credential rejection. Non-fatal: the
// caller may re-prompt and retry on a fresh channel.
func AuthenticationFailed(message string) *goerrors.Error {
	return newSignonError(message, goerrors.CategoryAuth, SignonErrorAuthenticationFailed)
}

// CredentialUnavailable reports that no stored or derivable credential
// exists; the interactive path must take over.
func CredentialUnavailable(message string) *goerrors.Error {
	return newSignonError(message, goerrors.CategoryNotFound, SignonErrorCredentialUnavailable)
}

// ChannelInvalidated reports a channel that died mid-flow. Terminal cleanup
// only; never surfaced as an error upward.
func ChannelInvalidated(message string) *goerrors.Error {
	return newSignonError(message, goerrors.CategoryOperation, SignonErrorChannelInvalidated)
}

// StoreFailure reports a secret-store persistence failure. Logged only; it
// does not unwind the authentication outcome.
func StoreFailure(message string, cause error) *goerrors.Error {
	if cause == nil {
		return newSignonError(message, goerrors.CategoryOperation, SignonErrorStoreFailure)
	}
	return ensureSignonErrorEnvelope(
		goerrors.Wrap(cause, goerrors.CategoryOperation, message).
			WithTextCode(SignonErrorStoreFailure),
	)
}

// IsArgumentError reports whether err carries the bad-input text code.
func IsArgumentError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == SignonErrorBadInput || richErr.TextCode == SignonErrorDuplicateHandler
}

// IsAuthenticationFailed reports whether err is a peer credential rejection.
func IsAuthenticationFailed(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == SignonErrorAuthenticationFailed
}

// IsChannelInvalidated reports whether err came from channel teardown.
func IsChannelInvalidated(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == SignonErrorChannelInvalidated
}
