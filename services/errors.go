package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrDuplicateRegistration = errors.New("already registered for this event")
	ErrCapacityExceeded      = errors.New("event is full")
	ErrValidation            = errors.New("validation failed")
	ErrForbidden             = errors.New("forbidden")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrConflict              = errors.New("conflict")

	// ErrParticipantUnderflow means a release would drive current_participants
	// below zero. It signals broken bookkeeping and is never clamped away.
	ErrParticipantUnderflow = errors.New("participant count underflow")
)

// DeliveryError records a failed push of one notification over one channel.
// It is logged and counted, never returned to register/cancel callers.
type DeliveryError struct {
	Channel        string
	UserID         string
	NotificationID string
	Err            error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver notification %s to user %s via %s: %v", e.NotificationID, e.UserID, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
