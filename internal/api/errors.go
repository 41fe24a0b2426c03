package api

import "errors"

// ErrorKind separates failures the sync engine retries from failures
// it parks for manual intervention.
type ErrorKind string

const (
	// KindTransient covers network failures, timeouts, throttling and
	// 5xx responses. Retried automatically with backoff.
	KindTransient ErrorKind = "transient"
	// KindPermanent covers validation rejections (4xx). Never retried
	// automatically.
	KindPermanent ErrorKind = "permanent"
)

// Error is a classified submission failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int // 0 when the request never completed
	Message    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// IsTransient reports whether err is a retriable submission failure.
// Uses errors.As to handle wrapped errors.
func IsTransient(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == KindTransient
	}
	return false
}

// IsPermanent reports whether err is a non-retriable rejection.
// Uses errors.As to handle wrapped errors.
func IsPermanent(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == KindPermanent
	}
	return false
}
