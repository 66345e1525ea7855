package link

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when a frame is sent while no port is open.
	ErrClosed = errors.New("serial link is not open")

	// ErrAlreadyOpen is returned by Open when a port is already held.
	ErrAlreadyOpen = errors.New("serial link is already open")
)

// Error wraps any failure to open or write the control link.
type Error struct {
	Op   string
	Port string
	Err  error
}

func (e *Error) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("link %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("link %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
