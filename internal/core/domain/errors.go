package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidQuantity
	KindInsufficientFunds
	KindUnavailable
	KindNoPaymentMethod
	KindInvalidTransition
	KindNotFound
	KindConcurrencyConflict
	KindEmptyCart
	KindDuplicateRequest
	KindForbidden
	KindCheckoutAborted
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidQuantity:
		return "INVALID_QUANTITY"
	case KindInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case KindUnavailable:
		return "UNAVAILABLE"
	case KindNoPaymentMethod:
		return "NO_PAYMENT_METHOD"
	case KindInvalidTransition:
		return "INVALID_TRANSITION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConcurrencyConflict:
		return "CONCURRENCY_CONFLICT"
	case KindEmptyCart:
		return "EMPTY_CART"
	case KindDuplicateRequest:
		return "DUPLICATE_REQUEST"
	case KindForbidden:
		return "FORBIDDEN"
	case KindCheckoutAborted:
		return "CHECKOUT_ABORTED"
	default:
		return "INTERNAL"
	}
}

// Error carries a machine-readable kind and a message safe to show callers.
// Err holds the underlying cause and is never rendered to callers.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match on kind, so errors.Is(err, ErrUnavailable) holds for
// any Unavailable error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrInvalidQuantity     = &Error{Kind: KindInvalidQuantity, Message: "quantity must be positive"}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrUnavailable         = &Error{Kind: KindUnavailable, Message: "products are not available"}
	ErrNoPaymentMethod     = &Error{Kind: KindNoPaymentMethod, Message: "no payment method, add a card first"}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Message: "invalid order transition"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict, Message: "concurrent update, retry"}
	ErrEmptyCart           = &Error{Kind: KindEmptyCart, Message: "cart is empty"}
	ErrDuplicateRequest    = &Error{Kind: KindDuplicateRequest, Message: "duplicate request"}
	ErrForbidden           = &Error{Kind: KindForbidden, Message: "access denied"}
	ErrCheckoutAborted     = &Error{Kind: KindCheckoutAborted, Message: "checkout aborted"}
)

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first domain error in err's chain, or
// KindInternal if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage is the text shown to callers. Internal errors are masked.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}
