package ledger

import (
	"errors"
	"fmt"
)

// Validation errors: the request or its arguments cannot be acted on.
var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrNonBitcoinWad         = errors.New("terminus is bitcoin only")
	ErrInvoiceMissingAmount  = errors.New("bolt11 does not specify amount")
	ErrInvalidInvoice        = errors.New("invalid bolt11 invoice")
	ErrInvalidAccountName    = errors.New("invalid account name")
	ErrInvalidSharedSeed     = errors.New("invalid shared seed")
	ErrInvalidBeacon         = errors.New("invalid beacon")
	ErrUnsupportedLocation   = errors.New("can't connect to beacon location")
	ErrUnknownAccount        = errors.New("unknown account")
	ErrUnknownBeacon         = errors.New("unknown beacon")
	ErrUnknownSharedSeed     = errors.New("shared seed not from known account")
	ErrMaxBeaconsExceeded    = errors.New("max beacons per account exceeded")
	ErrAccountExists         = errors.New("account already exists")
	ErrAccountHasConnections = errors.New("still has connections")
	ErrDuplicateSharedSeed   = errors.New("shared seed already attached")
	ErrSessionNotOpen        = errors.New("receipt session not open")
)

// Balance errors: the ledger would violate a financial invariant.
var (
	ErrInsufficientBalance = errors.New("insufficent account balance")
	ErrCapExceeded         = errors.New("account cap exceeded")
)

// Collision errors: the ledger cannot decide which account owns a payment.
var (
	ErrPaymentHashCollision = errors.New("payment hash claimed by more than one account")
	ErrUnknownPaymentHash   = errors.New("incoming payment not known")
)

// Collaborator errors: an external node or transport failed.
var (
	ErrCollaborator = errors.New("collaborator failure")
)

// Internal errors.
var (
	ErrAccountNotFound      = errors.New("account record not found")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrIndexInconsistent    = errors.New("index inconsistent")
)

// ErrorKind classifies errors for transport mapping and recovery policy.
type ErrorKind string

const (
	ErrorKindValidation   ErrorKind = "validation"
	ErrorKindBalance      ErrorKind = "balance"
	ErrorKindCollision    ErrorKind = "collision"
	ErrorKindCollaborator ErrorKind = "collaborator"
	ErrorKindInternal     ErrorKind = "internal"
)

var kindTable = []struct {
	kind    ErrorKind
	targets []error
}{
	{
		kind: ErrorKindValidation,
		targets: []error{
			ErrInvalidAmount, ErrNonBitcoinWad, ErrInvoiceMissingAmount, ErrInvalidInvoice,
			ErrInvalidAccountName, ErrInvalidSharedSeed, ErrInvalidBeacon, ErrUnsupportedLocation,
			ErrUnknownAccount, ErrUnknownBeacon, ErrUnknownSharedSeed, ErrMaxBeaconsExceeded,
			ErrAccountExists, ErrAccountHasConnections, ErrDuplicateSharedSeed, ErrSessionNotOpen,
		},
	},
	{kind: ErrorKindBalance, targets: []error{ErrInsufficientBalance, ErrCapExceeded}},
	{kind: ErrorKindCollision, targets: []error{ErrPaymentHashCollision, ErrUnknownPaymentHash}},
	{kind: ErrorKindCollaborator, targets: []error{ErrCollaborator}},
}

// KindOf returns the kind of err. Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, row := range kindTable {
		for _, target := range row.targets {
			if errors.Is(err, target) {
				return row.kind
			}
		}
	}
	return ErrorKindInternal
}

// CollaboratorError wraps a failure reported by an external node or transport
// so that it matches ErrCollaborator while keeping the underlying message.
func CollaboratorError(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrCollaborator, collaborator, err)
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
