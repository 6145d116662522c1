package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers that need to decide between retrying,
// surfacing to the client or failing the operation outright.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindState      Kind = "state"
	KindConflict   Kind = "conflict"
	KindTransient  Kind = "transient"
	KindFatal      Kind = "fatal"
	KindInternal   Kind = "internal"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Kind    Kind   `json:"kind,omitempty"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned and wrapped copies of a
// predefined error still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, kind Kind, status int, message string) *Error {
	return &Error{Code: code, Kind: kind, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Kind: kindForStatus(status), Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound   = New("NOT_FOUND", KindNotFound, http.StatusNotFound, "resource not found")
	ErrConflict   = New("CONFLICT", KindConflict, http.StatusConflict, "conflict")
	ErrValidation = New("VALIDATION_ERROR", KindValidation, http.StatusBadRequest, "validation failed")
	ErrInternal   = New("INTERNAL_ERROR", KindInternal, http.StatusInternalServerError, "internal server error")
	ErrCacheMiss  = New("CACHE_MISS", KindNotFound, http.StatusNotFound, "cache miss")

	ErrCardNotFound    = New("card_not_found", KindNotFound, http.StatusNotFound, "card is not registered to any student")
	ErrStudentNotFound = New("student_not_found", KindNotFound, http.StatusNotFound, "student not found")
	ErrClassNotFound   = New("class_not_found", KindNotFound, http.StatusNotFound, "class not found")
	ErrSessionNotFound = New("session_not_found", KindNotFound, http.StatusNotFound, "session not found")
	ErrReportNotFound  = New("report_not_found", KindNotFound, http.StatusNotFound, "report not found")

	ErrNoSession     = New("no_session", KindState, http.StatusConflict, "no active session for this class")
	ErrAlreadyMarked = New("already_marked", KindState, http.StatusConflict, "attendance already recorded for this session")
	ErrSessionActive = New("session_active", KindConflict, http.StatusConflict, "class already has an active session")

	ErrStorageUnavailable = New("storage_unavailable", KindFatal, http.StatusServiceUnavailable, "storage unavailable")
	ErrDeliveryFailed     = New("delivery_failed", KindTransient, http.StatusBadGateway, "notification delivery failed")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Fatal wraps a persistence failure. The operation it interrupted must be
// treated as not having happened.
func Fatal(err error, message string) *Error {
	if message == "" {
		message = ErrStorageUnavailable.Message
	}
	return &Error{Code: ErrStorageUnavailable.Code, Kind: KindFatal, Status: ErrStorageUnavailable.Status, Message: message, Err: err}
}

// Transient wraps a retryable failure such as a notification sink timeout.
func Transient(err error, message string) *Error {
	if message == "" {
		message = ErrDeliveryFailed.Message
	}
	return &Error{Code: ErrDeliveryFailed.Code, Kind: KindTransient, Status: ErrDeliveryFailed.Status, Message: message, Err: err}
}

// KindOf reports the classification of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return KindTransient
	case http.StatusServiceUnavailable:
		return KindFatal
	default:
		return KindInternal
	}
}
