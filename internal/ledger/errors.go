package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind tags a failure for callers.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindStateConflict Kind = "state_conflict"
	KindBusinessRule  Kind = "business_rule"
	KindNotFound      Kind = "not_found"
	KindPersistence   Kind = "persistence"
)

var (
	// ErrPeriodClosed indicates the movement date lands in a closed or locked period.
	ErrPeriodClosed = errors.New("ledger: period closed")
	// ErrDuplicatePeriod indicates a period already exists for the month.
	ErrDuplicatePeriod = errors.New("ledger: period already exists")
	// ErrInsufficientBalance indicates the loan ceiling would be exceeded.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInvalidTransition indicates an entity is not in a legal predecessor state.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
	// ErrNotOwner indicates an owner-only action attempted by a member.
	ErrNotOwner = errors.New("ledger: owner role required")
	// ErrNotFound indicates a missing row.
	ErrNotFound = errors.New("ledger: not found")
	// ErrConflict indicates a concurrent writer won; the request may be resubmitted.
	ErrConflict = errors.New("ledger: concurrent update")
	// ErrCreditConsumed indicates a contribution change would unbank surplus whose credit was
	// already applied or transferred.
	ErrCreditConsumed = errors.New("ledger: banked surplus already consumed")
)

// GenericFailureMessage is shown for persistence failures.
const GenericFailureMessage = "internal error, please retry"

// Error is the tagged failure returned by every operation.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == KindPersistence {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a validation failure with optional field messages.
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// Authorization builds an authorization failure.
func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message, Err: ErrNotOwner}
}

// StateConflict builds a state conflict failure.
func StateConflict(message string) *Error {
	return &Error{Kind: KindStateConflict, Message: message, Err: ErrInvalidTransition}
}

// NotFound builds a not found failure for the named entity.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found", Err: ErrNotFound}
}

// Wrap tags a cause with a kind and message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// AsFailure converts any error into a tagged failure. Sentinels raised by stores map to their
// kinds; anything else becomes a persistence failure.
func AsFailure(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return FromValidator(verrs)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return &Error{Kind: KindNotFound, Message: "resource not found", Err: err}
	case errors.Is(err, ErrDuplicatePeriod):
		return &Error{Kind: KindBusinessRule, Message: "a period already exists for that month", Err: err}
	case errors.Is(err, ErrPeriodClosed):
		return &Error{Kind: KindStateConflict, Message: "the period for that date is closed or locked", Err: err}
	case errors.Is(err, ErrInsufficientBalance):
		return &Error{Kind: KindBusinessRule, Message: "insufficient household balance", Err: err}
	case errors.Is(err, ErrInvalidTransition):
		return &Error{Kind: KindStateConflict, Message: "invalid status transition", Err: err}
	case errors.Is(err, ErrConflict):
		return &Error{Kind: KindStateConflict, Message: "the record was changed concurrently, please retry", Err: err}
	case errors.Is(err, ErrCreditConsumed):
		return &Error{Kind: KindBusinessRule, Message: "the overpayment behind this change was already used as a credit", Err: err}
	case errors.Is(err, ErrNotOwner):
		return &Error{Kind: KindAuthorization, Message: "only the household owner can perform this action", Err: err}
	}
	return &Error{Kind: KindPersistence, Message: GenericFailureMessage, Err: err}
}

// PublicMessage is the text safe to show to callers.
func (e *Error) PublicMessage() string {
	if e.Kind == KindPersistence {
		return GenericFailureMessage
	}
	return e.Message
}

var validate = validator.New()

// ValidateStruct runs struct tag validation and converts violations into a validation failure.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return FromValidator(verrs)
		}
		return Validation(err.Error(), nil)
	}
	return nil
}

// FromValidator maps validator output to per-field messages.
func FromValidator(verrs validator.ValidationErrors) *Error {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			fields[name] = "is required"
		case "oneof":
			fields[name] = "must be one of " + fe.Param()
		case "max":
			fields[name] = "must be at most " + fe.Param() + " characters"
		default:
			fields[name] = "is invalid"
		}
	}
	return Validation("invalid input", fields)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
