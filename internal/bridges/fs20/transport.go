package fs20

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// Serial defaults for a CUL stick on a Raspberry Pi UART.
const (
	// DefaultSerialPort is the serial device the CUL is attached to.
	DefaultSerialPort = "/dev/ttyAMA0"

	// DefaultBaudRate is the culfw default speed.
	DefaultBaudRate = 38400

	// maxLineLength bounds a single line read from the CUL.
	maxLineLength = 4096
)

// lineDelimiter terminates every line the CUL sends.
var lineDelimiter = []byte("\r\n")

// Transport is the byte-duplex channel to the CUL adapter.
//
// Open is the lifecycle event, ReadLine yields one received line with the
// delimiter stripped, and Write sends raw bytes. Close must unblock a
// pending ReadLine.
type Transport interface {
	Open() error
	ReadLine() (string, error)
	Write(p []byte) (int, error)
	Close() error
}

// SerialConfig holds the serial port settings.
type SerialConfig struct {
	// Port is the device path, e.g. "/dev/ttyAMA0" or "/dev/ttyACM0".
	Port string

	// BaudRate defaults to 38400.
	BaudRate int
}

// SerialTransport is a Transport over a local serial port.
type SerialTransport struct {
	cfg  SerialConfig
	open func(name string, mode *serial.Mode) (serial.Port, error)

	mu      sync.Mutex
	port    serial.Port
	scanner *bufio.Scanner
}

// Ensure SerialTransport implements Transport.
var _ Transport = (*SerialTransport)(nil)

// NewSerialTransport creates a transport for cfg. The port is not opened
// until Open is called.
func NewSerialTransport(cfg SerialConfig) *SerialTransport {
	if cfg.Port == "" {
		cfg.Port = DefaultSerialPort
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	return &SerialTransport{cfg: cfg, open: serial.Open}
}

// Open opens the serial port in 8N1 mode.
func (t *SerialTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return ErrAlreadyOpen
	}

	port, err := t.open(t.cfg.Port, &serial.Mode{
		BaudRate: t.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", t.cfg.Port, err)
	}

	scanner := bufio.NewScanner(port)
	scanner.Buffer(make([]byte, 0, 256), maxLineLength)
	scanner.Split(scanCRLF)

	t.port = port
	t.scanner = scanner
	return nil
}

// ReadLine blocks until the CUL sends a complete line.
// It returns io.EOF once the port is closed.
func (t *SerialTransport) ReadLine() (string, error) {
	t.mu.Lock()
	scanner := t.scanner
	t.mu.Unlock()

	if scanner == nil {
		return "", io.ErrClosedPipe
	}
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Write sends p to the CUL.
func (t *SerialTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()

	if port == nil {
		return 0, io.ErrClosedPipe
	}
	return port.Write(p)
}

// Close closes the serial port. Safe to call more than once.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	port := t.port
	t.port = nil
	t.mu.Unlock()

	if port == nil {
		return nil
	}
	return port.Close()
}

// Name returns the configured device path.
func (t *SerialTransport) Name() string {
	return t.cfg.Port
}

// scanCRLF is a bufio.SplitFunc that splits on "\r\n".
// A trailing partial line is returned at EOF. A run longer than
// maxLineLength without a delimiter is returned in chunks of at most
// maxLineLength bytes, so the scanner never stops with bufio.ErrTooLong.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, lineDelimiter); i >= 0 {
		return i + len(lineDelimiter), data[:i], nil
	}
	if len(data) >= maxLineLength {
		n := maxLineLength
		// Keep a trailing '\r' for the next call, it may start a delimiter.
		if data[n-1] == '\r' {
			n--
		}
		return n, data[:n], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
