package models

import "fmt"

// OperationKind enumerates the supported balance mutations.
type OperationKind string

const (
	OperationIncrease          OperationKind = "INCREASE"
	OperationDecrease          OperationKind = "DECREASE"
	OperationReserve           OperationKind = "RESERVE"
	OperationRelease           OperationKind = "RELEASE"
	OperationCancelReservation OperationKind = "CANCEL_RESERVATION"
	OperationTransfer          OperationKind = "TRANSFER"
)

// ParseOperationKind converts a wire string into an OperationKind.
func ParseOperationKind(s string) (OperationKind, error) {
	switch OperationKind(s) {
	case OperationIncrease, OperationDecrease, OperationReserve,
		OperationRelease, OperationCancelReservation, OperationTransfer:
		return OperationKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown operation kind %q", ErrInvalidArgument, s)
}
