package printer

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 200 * time.Millisecond
)

// SerialTransport talks to the printer over a serial port: an RFCOMM
// binding on Linux, a Bluetooth COM port on Windows, or USB.
type SerialTransport struct {
	PortName    string
	BaudRate    int
	ReadTimeout time.Duration

	mu   sync.RWMutex
	port serial.Port
}

// NewSerialTransport returns an unopened transport for portName
func NewSerialTransport(portName string) *SerialTransport {
	return &SerialTransport{
		PortName:    portName,
		BaudRate:    DefaultBaudRate,
		ReadTimeout: DefaultReadTimeout,
	}
}

// Open opens the serial port
func (t *SerialTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: t.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(t.PortName, mode)
	if err != nil {
		return fmt.Errorf("failed to open port %s: %w", t.PortName, err)
	}
	if err := port.SetReadTimeout(t.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", t.PortName, err)
	}
	t.port = port
	return nil
}

// Close closes the serial port
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

func (t *SerialTransport) current() (serial.Port, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.port == nil {
		return nil, ErrNotConnected
	}
	return t.port, nil
}

// Write sends raw bytes
func (t *SerialTransport) Write(p []byte) (int, error) {
	port, err := t.current()
	if err != nil {
		return 0, err
	}
	n, err := port.Write(p)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Read returns available bytes, or none once the read timeout elapses
func (t *SerialTransport) Read(p []byte) (int, error) {
	port, err := t.current()
	if err != nil {
		return 0, err
	}
	n, err := port.Read(p)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}
	return n, nil
}

// ListSerialPorts returns the serial ports known to the OS
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// FindRFCOMMDevices lists bound /dev/rfcomm* devices
func FindRFCOMMDevices() []string {
	devices, _ := filepath.Glob("/dev/rfcomm*")
	return devices
}
