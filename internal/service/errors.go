package service

import (
	"errors"
	"fmt"
)

var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrAccessDenied         = errors.New("access denied")
	ErrInvalidCommand       = errors.New("invalid command")
	ErrStateNotFound        = errors.New("device state not found")
	ErrInvalidInput         = errors.New("invalid input")

	// ErrDeliveryUnconfirmed means the client took the message but the broker
	// handshake did not complete; the device may still act on it.
	ErrDeliveryUnconfirmed = fmt.Errorf("%w: delivery unconfirmed", ErrTransportUnavailable)
)

// DenialError carries the named reason an access check failed.
type DenialError struct {
	Reason string
}

func (e *DenialError) Error() string { return e.Reason }

func (e *DenialError) Unwrap() error { return ErrAccessDenied }

func deny(reason string) error { return &DenialError{Reason: reason} }

// DenialReason extracts the reason from a denial, or "" when err is not one.
func DenialReason(err error) string {
	var d *DenialError
	if errors.As(err, &d) {
		return d.Reason
	}
	return ""
}
