package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every error the payment service returns.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindGatewayUnavailable
	KindGatewayResponseInvalid
	KindSignatureInvalid
	KindReferenceNotFound
	KindStaleSettlement
	KindPersistence
	KindConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindGatewayUnavailable:
		return "gateway_unavailable"
	case KindGatewayResponseInvalid:
		return "gateway_response_invalid"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindReferenceNotFound:
		return "reference_not_found"
	case KindStaleSettlement:
		return "stale_settlement"
	case KindPersistence:
		return "persistence"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
