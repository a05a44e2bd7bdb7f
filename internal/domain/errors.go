package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStateTransition is returned when an event is not valid for the order's current status.
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	// ErrOrderTerminal is returned when an event is addressed to an order in a terminal status.
	ErrOrderTerminal = errors.New("order is in a terminal state")
	// ErrDuplicateExecution is returned when a fill with an already applied execution id and identical payload is replayed.
	ErrDuplicateExecution = errors.New("execution already applied")
	// ErrDataIntegrity marks faults in venue data that must not be applied (see IntegrityError).
	ErrDataIntegrity = errors.New("data integrity fault")
	// ErrInvalidOrderSpec is returned when order terms are inconsistent.
	ErrInvalidOrderSpec = errors.New("invalid order specification")
	// ErrWrongOrder is returned when an event is applied to an order it does not address.
	ErrWrongOrder = errors.New("event addressed to a different order")
)

// IntegrityKind classifies a data-integrity fault.
type IntegrityKind string

const (
	IntegrityOverfill          IntegrityKind = "OVERFILL"
	IntegrityExecutionConflict IntegrityKind = "EXECUTION_ID_CONFLICT"
	IntegrityInvalidFill       IntegrityKind = "INVALID_FILL"
	IntegrityInvalidAmend      IntegrityKind = "INVALID_AMEND"
)

// IntegrityError describes venue data that would corrupt an order if applied.
// The order is left in its last valid state.
type IntegrityError struct {
	Kind          IntegrityKind
	ClientOrderID ClientOrderID
	ExecutionID   ExecutionID
	Detail        string
}

func (e *IntegrityError) Error() string {
	if e.ExecutionID != "" {
		return fmt.Sprintf("%s: %s on order %s (execution %s): %s", ErrDataIntegrity, e.Kind, e.ClientOrderID, e.ExecutionID, e.Detail)
	}
	return fmt.Sprintf("%s: %s on order %s: %s", ErrDataIntegrity, e.Kind, e.ClientOrderID, e.Detail)
}

// Is lets errors.Is(err, ErrDataIntegrity) match any IntegrityError.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}
