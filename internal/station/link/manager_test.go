package link

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"
)

type fakePort struct {
	buf         bytes.Buffer
	readTimeout time.Duration
	writeErr    error
	closed      int
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.buf.Write(b)
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.readTimeout = t
	return nil
}

func (p *fakePort) Close() error {
	p.closed++
	return nil
}

func withFakePort(t *testing.T, p *fakePort, openErr error) *serial.Mode {
	t.Helper()
	var got serial.Mode
	orig := openPort
	openPort = func(name string, mode *serial.Mode) (Port, error) {
		got = *mode
		if openErr != nil {
			return nil, openErr
		}
		return p, nil
	}
	t.Cleanup(func() { openPort = orig })
	return &got
}

func TestOpenSendClose(t *testing.T) {
	p := &fakePort{}
	mode := withFakePort(t, p, nil)

	m := NewManager()
	if err := m.Open(DefaultConfig("/dev/ttyUSB0")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if mode.BaudRate != 19200 || mode.DataBits != 8 || mode.Parity != serial.NoParity || mode.StopBits != serial.OneStopBit {
		t.Errorf("unexpected mode %+v", *mode)
	}
	if p.readTimeout != time.Second {
		t.Errorf("read timeout = %v", p.readTimeout)
	}

	if err := m.Send(ResetFrame()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := m.SendRaw(3); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}
	want := []byte{0x41, 0x01, 0xFF, 0x0D, 0x41, 0x01, 0x03, 0x0D}
	if !bytes.Equal(p.buf.Bytes(), want) {
		t.Errorf("wrote % X, want % X", p.buf.Bytes(), want)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if p.closed != 1 {
		t.Errorf("port closed %d times, want 1", p.closed)
	}
	if m.IsOpen() {
		t.Error("link should report closed")
	}
}

func TestSendWhileClosed(t *testing.T) {
	m := NewManager()
	err := m.Send(ResetFrame())

	var linkErr *Error
	if !errors.As(err, &linkErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestWriteFailure(t *testing.T) {
	boom := errors.New("device unplugged")
	withFakePort(t, &fakePort{writeErr: boom}, nil)

	m := NewManager()
	if err := m.Open(DefaultConfig("COM3")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	err := m.Send(ResetFrame())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
}

func TestOpenFailures(t *testing.T) {
	boom := errors.New("access denied")
	withFakePort(t, &fakePort{}, boom)

	m := NewManager()
	if err := m.Open(DefaultConfig("COM3")); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
	if m.IsOpen() {
		t.Fatal("link must stay closed after a failed open")
	}
	if err := m.Open(Config{}); err == nil {
		t.Fatal("expected an error for an empty port name")
	}
}

func TestOpenTwice(t *testing.T) {
	withFakePort(t, &fakePort{}, nil)

	m := NewManager()
	if err := m.Open(DefaultConfig("COM3")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	if err := m.Open(DefaultConfig("COM4")); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen, got %v", err)
	}
	if m.PortName() != "COM3" {
		t.Errorf("PortName = %q", m.PortName())
	}
}

func TestListPorts(t *testing.T) {
	orig := getPortsList
	getPortsList = func() ([]string, error) { return []string{"COM1", "COM3"}, nil }
	t.Cleanup(func() { getPortsList = orig })

	ports, err := ListPorts()
	if err != nil || len(ports) != 2 {
		t.Fatalf("ListPorts = %v, %v", ports, err)
	}
}
