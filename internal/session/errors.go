package session

import "fmt"

// SessionInitError is returned when a session cannot be created. Step names
// the part of the startup that failed.
type SessionInitError struct {
	Step string
	Err  error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("failed to create session (%s): %v", e.Step, e.Err)
}

func (e *SessionInitError) Unwrap() error {
	return e.Err
}
