// Package apperr defines the error kinds shared by the ticketing services and
// how each kind surfaces over HTTP.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for callers that need to branch on it.
type Kind int

const (
	KindInternal Kind = iota
	KindForbiddenQueueAccess
	KindSeatAlreadyHeld
	KindSeatAlreadyConfirmed
	KindHoldNotFoundOrExpired
	KindInsufficientBalance
	KindInvalidAmount
	KindInvalidRequest
	KindTokenNotFound
	KindLockUnavailable
	KindConfirmInvariant
	KindIdempotencyConflict
)

var kindCodes = map[Kind]string{
	KindInternal:              "internal_error",
	KindForbiddenQueueAccess:  "forbidden_queue_access",
	KindSeatAlreadyHeld:       "seat_already_held",
	KindSeatAlreadyConfirmed:  "seat_already_confirmed",
	KindHoldNotFoundOrExpired: "hold_not_found_or_expired",
	KindInsufficientBalance:   "insufficient_balance",
	KindInvalidAmount:         "invalid_amount",
	KindInvalidRequest:        "invalid_request",
	KindTokenNotFound:         "token_not_found",
	KindLockUnavailable:       "lock_unavailable",
	KindConfirmInvariant:      "confirm_invariant_violated",
	KindIdempotencyConflict:   "idempotency_key_reused",
}

// String returns the stable machine code used in API error bodies.
func (k Kind) String() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindInternal]
}

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a sentinel error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Err: errors.New(message)}
}

// Wrap annotates err with op while keeping its kind. Errors without a kind are
// classified as internal.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// KindOf reports the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Message returns the message of the sentinel at the root of err's chain.
func Message(err error) string {
	for {
		var appErr *Error
		if !errors.As(err, &appErr) {
			return err.Error()
		}
		if appErr.Op == "" {
			return appErr.Err.Error()
		}
		err = appErr.Err
	}
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindForbiddenQueueAccess:
		return http.StatusForbidden
	case KindSeatAlreadyHeld, KindSeatAlreadyConfirmed, KindHoldNotFoundOrExpired, KindIdempotencyConflict:
		return http.StatusConflict
	case KindInsufficientBalance, KindInvalidAmount, KindInvalidRequest:
		return http.StatusBadRequest
	case KindTokenNotFound:
		return http.StatusNotFound
	case KindLockUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Response renders err as a status and a {"error", "message"} body. Internal
// errors keep their detail out of the body.
func Response(err error) (int, map[string]string) {
	kind := KindOf(err)
	msg := "internal error"
	if kind != KindInternal && kind != KindConfirmInvariant {
		msg = Message(err)
	}
	return HTTPStatus(kind), map[string]string{"error": kind.String(), "message": msg}
}

var (
	ErrForbiddenQueueAccess  = New(KindForbiddenQueueAccess, "queue token is not active for this user")
	ErrSeatAlreadyHeld       = New(KindSeatAlreadyHeld, "seat is already held")
	ErrSeatAlreadyConfirmed  = New(KindSeatAlreadyConfirmed, "seat is already confirmed")
	ErrHoldNotFoundOrExpired = New(KindHoldNotFoundOrExpired, "no active hold for this user")
	ErrInsufficientBalance   = New(KindInsufficientBalance, "insufficient balance")
	ErrInvalidAmount         = New(KindInvalidAmount, "amount must be positive")
	ErrInvalidIdempotencyKey = New(KindInvalidRequest, "idempotency key is required")
	ErrInvalidSeat           = New(KindInvalidRequest, "invalid concert date or seat number")
	ErrInvalidUser           = New(KindInvalidRequest, "user id is required")
	ErrTokenNotFound         = New(KindTokenNotFound, "queue token not found")
	ErrLockUnavailable       = New(KindLockUnavailable, "resource is busy, retry later")
	ErrConfirmInvariant      = New(KindConfirmInvariant, "seat confirmed twice")
	ErrIdempotencyKeyReused  = New(KindIdempotencyConflict, "idempotency key was already used for a different request")
)
