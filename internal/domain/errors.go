package domain

import "errors"

// Sentinel errors for the relay. Callers wrap them with fmt.Errorf("%w: ...")
// and check with errors.Is.
var (
	// ErrConnection means a transport could not be established, or dropped.
	ErrConnection = errors.New("connection error")
	// ErrProtocol means a frame was malformed, carried an unknown type, or missed required fields.
	ErrProtocol = errors.New("protocol error")
	// ErrAuth means the auth frame did not carry a usable user id.
	ErrAuth = errors.New("auth error")
	// ErrDelivery means the receiver was not connected. It is never surfaced as a
	// failure to the sender, only as sent:false.
	ErrDelivery = errors.New("delivery error")
	// ErrNotification means the out-of-band notification call failed.
	ErrNotification = errors.New("notification error")

	ErrNotFound     = errors.New("requested resource not found")
	ErrInvalidInput = errors.New("invalid input")
)
