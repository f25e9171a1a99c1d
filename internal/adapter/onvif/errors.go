package onvif

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks faults worth retrying in place: transport hiccups,
	// timeouts and malformed XML.
	ErrTransient = errors.New("onvif: transient protocol error")

	// ErrSubscriptionLost marks an explicit fault on a subscription call:
	// the pull point is gone or its lease is invalid.
	ErrSubscriptionLost = errors.New("onvif: subscription lost")

	// ErrNoEventService is returned when the device does not advertise an event service.
	ErrNoEventService = errors.New("onvif: device has no event service")
)

// Fault is a decoded SOAP 1.2 fault.
type Fault struct {
	Code    string
	Subcode string
	Reason  string
}

func (f *Fault) Error() string {
	if f.Subcode != "" {
		return fmt.Sprintf("soap fault %s/%s: %s", f.Code, f.Subcode, f.Reason)
	}
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.Reason)
}

// IsTransient reports whether err should be retried without leaving Polling.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsSubscriptionLost reports whether the subscription should be resumed.
func IsSubscriptionLost(err error) bool { return errors.Is(err, ErrSubscriptionLost) }
