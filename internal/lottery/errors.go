package lottery

import (
	"errors"
	"fmt"
)

// Kind groups error codes so callers can decide whether to retry, wait or abort.
type Kind uint8

const (
	KindAuthorization Kind = iota + 1
	KindTiming
	KindStateConflict
	KindIntegrity
	KindFunds
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindTiming:
		return "timing"
	case KindStateConflict:
		return "state_conflict"
	case KindIntegrity:
		return "integrity"
	case KindFunds:
		return "funds"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Code is the stable identity of a lifecycle failure.
type Code string

const (
	CodeNotAuthorized              Code = "NotAuthorized"
	CodeSaleClosed                 Code = "SaleClosed"
	CodeSaleNotComplete            Code = "SaleNotComplete"
	CodeWinnerAlreadyChosen        Code = "WinnerAlreadyChosen"
	CodeNoTickets                  Code = "NoTickets"
	CodeWinnerNotChosen            Code = "WinnerNotChosen"
	CodeAlreadyConfigured          Code = "AlreadyConfigured"
	CodeNotConfigured              Code = "NotConfigured"
	CodeSaleAlreadyOpen            Code = "SaleAlreadyOpen"
	CodeRandomnessAlreadyCommitted Code = "RandomnessAlreadyCommitted"
	CodePrizeAlreadyClaimed        Code = "PrizeAlreadyClaimed"
	CodeRandomnessStale            Code = "RandomnessStale"
	CodeWrongRandomnessHandle      Code = "WrongRandomnessHandle"
	CodeUnverifiedTicket           Code = "UnverifiedTicket"
	CodeWrongCollection            Code = "WrongCollection"
	CodeWrongTicket                Code = "WrongTicket"
	CodeInvalidConfig              Code = "InvalidConfig"
	CodeInsufficientFunds          Code = "InsufficientFunds"
	CodeRandomnessPending          Code = "RandomnessPending"
)

// Error is a lifecycle failure. Two errors match under errors.Is when their
// codes are equal, so sentinels can be compared against detailed copies.
type Error struct {
	Code   Code
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Withf returns a copy of e carrying a formatted detail message.
func (e *Error) Withf(format string, args ...interface{}) *Error {
	return &Error{Code: e.Code, Kind: e.Kind, Detail: fmt.Sprintf(format, args...)}
}

var (
	ErrNotAuthorized = &Error{Code: CodeNotAuthorized, Kind: KindAuthorization}

	ErrSaleClosed      = &Error{Code: CodeSaleClosed, Kind: KindTiming}
	ErrSaleNotComplete = &Error{Code: CodeSaleNotComplete, Kind: KindTiming}

	ErrWinnerAlreadyChosen        = &Error{Code: CodeWinnerAlreadyChosen, Kind: KindStateConflict}
	ErrNoTickets                  = &Error{Code: CodeNoTickets, Kind: KindStateConflict}
	ErrWinnerNotChosen            = &Error{Code: CodeWinnerNotChosen, Kind: KindStateConflict}
	ErrAlreadyConfigured          = &Error{Code: CodeAlreadyConfigured, Kind: KindStateConflict}
	ErrNotConfigured              = &Error{Code: CodeNotConfigured, Kind: KindStateConflict}
	ErrSaleAlreadyOpen            = &Error{Code: CodeSaleAlreadyOpen, Kind: KindStateConflict}
	ErrRandomnessAlreadyCommitted = &Error{Code: CodeRandomnessAlreadyCommitted, Kind: KindStateConflict}
	ErrPrizeAlreadyClaimed        = &Error{Code: CodePrizeAlreadyClaimed, Kind: KindStateConflict}

	ErrRandomnessStale       = &Error{Code: CodeRandomnessStale, Kind: KindIntegrity}
	ErrWrongRandomnessHandle = &Error{Code: CodeWrongRandomnessHandle, Kind: KindIntegrity}
	ErrUnverifiedTicket      = &Error{Code: CodeUnverifiedTicket, Kind: KindIntegrity}
	ErrWrongCollection       = &Error{Code: CodeWrongCollection, Kind: KindIntegrity}
	ErrWrongTicket           = &Error{Code: CodeWrongTicket, Kind: KindIntegrity}
	ErrInvalidConfig         = &Error{Code: CodeInvalidConfig, Kind: KindIntegrity}

	ErrInsufficientFunds = &Error{Code: CodeInsufficientFunds, Kind: KindFunds}

	ErrRandomnessPending = &Error{Code: CodeRandomnessPending, Kind: KindTransient}
)

// AsError extracts the lifecycle error from an error chain.
func AsError(err error) (*Error, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// IsRetryable reports whether re-submitting the same operation later may succeed
// without any change to its inputs. Only a pending oracle resolution qualifies.
func IsRetryable(err error) bool {
	le, ok := AsError(err)
	return ok && le.Kind == KindTransient
}

// CodeOf returns the lifecycle code of err, or "" for infrastructure errors.
func CodeOf(err error) Code {
	if le, ok := AsError(err); ok {
		return le.Code
	}
	return ""
}
