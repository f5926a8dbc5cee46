// Package permissions checks the OS privacy permissions recording needs.
package permissions

import "errors"

// ErrMicrophoneDenied is returned when the process may not capture audio.
var ErrMicrophoneDenied = errors.New("microphone permission not granted")

// Status mirrors AVAuthorizationStatus.
type Status int

const (
	NotDetermined Status = iota
	Restricted
	Denied
	Authorized
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not determined"
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}
