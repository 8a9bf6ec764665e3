package call

import "errors"

var (
	// ErrSelfCall is returned when calling one's own identity.
	ErrSelfCall = errors.New("cannot call yourself")
	// ErrBusy is returned when starting a call while a session exists.
	ErrBusy = errors.New("a call is already in progress")
	// ErrNoActiveCall is returned by commands that need a session.
	ErrNoActiveCall = errors.New("no active call")
	// ErrNoIncomingCall is returned when accepting or rejecting while not
	// Ringing.
	ErrNoIncomingCall = errors.New("no incoming call")
	// ErrShutdown is returned by commands sent to a stopped Machine.
	ErrShutdown = errors.New("call machine is shut down")
)
