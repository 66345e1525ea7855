package link

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/autopeer-io/multiprog/pkg/log"
)

// Port is the subset of a serial port the link needs.
type Port interface {
	io.Writer
	SetReadTimeout(t time.Duration) error
	Close() error
}

// allow tests to override the hardware
var (
	openPort = func(name string, mode *serial.Mode) (Port, error) {
		return serial.Open(name, mode)
	}
	getPortsList = serial.GetPortsList
)

// Config describes the line settings of the control link.
type Config struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// DefaultConfig returns the fixture settings: 19200 baud, 8N1, 1s read timeout.
func DefaultConfig(port string) Config {
	return Config{Port: port, BaudRate: 19200, ReadTimeout: time.Second}
}

// Manager is the single owner of the control link. Manual frame sends and the
// provisioning workflow share it; writes are serialized under one mutex.
type Manager struct {
	mu   sync.Mutex
	port Port
	name string
	log  log.Logger
}

// NewManager returns a Manager with no port open.
func NewManager() *Manager {
	return &Manager{log: log.WithName("link")}
}

// Open opens the configured port. Only one port can be held at a time.
func (m *Manager) Open(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port != nil {
		return &Error{Op: "open", Port: cfg.Port, Err: ErrAlreadyOpen}
	}
	if cfg.Port == "" {
		return &Error{Op: "open", Err: fmt.Errorf("no port name given")}
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	p, err := openPort(cfg.Port, mode)
	if err != nil {
		return &Error{Op: "open", Port: cfg.Port, Err: err}
	}

	if cfg.ReadTimeout > 0 {
		if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = p.Close()
			return &Error{Op: "open", Port: cfg.Port, Err: err}
		}
	}

	m.port = p
	m.name = cfg.Port
	m.log.Info("Serial link opened", "port", cfg.Port, "baud", cfg.BaudRate)
	return nil
}

// Send writes one frame. It fails when the link is closed or the write fails.
func (m *Manager) Send(f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return &Error{Op: "write", Err: ErrClosed}
	}

	n, err := m.port.Write(f[:])
	if err != nil {
		return &Error{Op: "write", Port: m.name, Err: err}
	}
	if n != len(f) {
		return &Error{Op: "write", Port: m.name, Err: io.ErrShortWrite}
	}

	m.log.Debug("Frame sent", "frame", f.String())
	return nil
}

// SendRaw writes a frame carrying an arbitrary selector. It backs the manual
// per-row triggers.
func (m *Manager) SendRaw(selector byte) error {
	return m.Send(NewFrame(selector))
}

// Close releases the port. It is safe to call on a closed link.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return nil
	}

	err := m.port.Close()
	m.log.Info("Serial link closed", "port", m.name)
	m.port = nil
	m.name = ""
	if err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}

// IsOpen reports whether a port is held.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port != nil
}

// PortName returns the name of the open port, or "" when closed.
func (m *Manager) PortName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	ports, err := getPortsList()
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	return ports, nil
}
