package link

import "fmt"

const (
	frameHeader     byte = 0x41
	frameCommand    byte = 0x01
	frameTerminator byte = 0x0D

	// SelectorReset powers down / resets every socket of the fixture.
	SelectorReset byte = 0xFF

	// ServiceOffset is added to a cycle number to select service mode.
	ServiceOffset = 8

	// MaxCycle is the number of sockets in the fixture.
	MaxCycle = 8
)

// Frame is a 4-byte fixture control command: header, command, selector, terminator.
type Frame [4]byte

// NewFrame encodes selector into a control frame.
func NewFrame(selector byte) Frame {
	return Frame{frameHeader, frameCommand, selector, frameTerminator}
}

// Selector returns the third byte of the frame.
func (f Frame) Selector() byte {
	return f[2]
}

func (f Frame) String() string {
	return fmt.Sprintf("% X", f[:])
}

// ResetFrame is the broadcast reset frame.
func ResetFrame() Frame {
	return NewFrame(SelectorReset)
}

// BootloaderFrame selects bootloader mode for the socket addressed by cycle.
func BootloaderFrame(cycle int) (Frame, error) {
	if err := ValidateCycle(cycle); err != nil {
		return Frame{}, err
	}
	return NewFrame(byte(cycle)), nil
}

// ServiceFrame selects service (firmware) mode for the socket addressed by cycle.
func ServiceFrame(cycle int) (Frame, error) {
	if err := ValidateCycle(cycle); err != nil {
		return Frame{}, err
	}
	return NewFrame(byte(cycle + ServiceOffset)), nil
}

// ValidateCycle reports whether cycle addresses a socket of the fixture.
func ValidateCycle(cycle int) error {
	if cycle < 1 || cycle > MaxCycle {
		return fmt.Errorf("cycle number %d out of range [1, %d]", cycle, MaxCycle)
	}
	return nil
}
