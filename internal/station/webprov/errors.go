package webprov

import (
	"errors"
	"fmt"
)

// ErrMissingSerial means config.json parsed but carries no deviceInfo.serialNumber.
var ErrMissingSerial = errors.New("config.json has no deviceInfo.serialNumber")

// AutomationError reports a browser step that failed before the device was
// logged into. State is the state the driver was trying to reach.
type AutomationError struct {
	State string
	Err   error
}

func (e *AutomationError) Error() string {
	return fmt.Sprintf("web automation failed reaching %q: %v", e.State, e.Err)
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}
