package fs20

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockTransport implements Transport for testing.
// Lines pushed with Feed are returned by ReadLine in order.
type mockTransport struct {
	mu       sync.Mutex
	openErr  error
	writeErr error
	failOn   string // only writes with this prefix fail; empty means all
	writes   []string
	opens    int

	lines     chan string
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		lines:   make(chan string, 64),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (m *mockTransport) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opens++
	return nil
}

func (m *mockTransport) ReadLine() (string, error) {
	select {
	case line := <-m.lines:
		return line, nil
	case err := <-m.readErr:
		return "", err
	case <-m.closed:
		return "", io.EOF
	}
}

func (m *mockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil && (m.failOn == "" || strings.HasPrefix(string(p), m.failOn)) {
		return 0, m.writeErr
	}
	m.writes = append(m.writes, string(p))
	return len(p), nil
}

func (m *mockTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockTransport) Feed(line string) {
	m.lines <- line
}

func (m *mockTransport) FailRead(err error) {
	m.readErr <- err
}

func (m *mockTransport) SetWriteError(err error, prefix string) {
	m.mu.Lock()
	m.writeErr = err
	m.failOn = prefix
	m.mu.Unlock()
}

func (m *mockTransport) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

// recordingLogger implements Logger and keeps every message.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) log(level, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s %s %v", level, msg, kv))
}

func (l *recordingLogger) Debug(msg string, kv ...any) { l.log("DEBUG", msg, kv...) }
func (l *recordingLogger) Info(msg string, kv ...any)  { l.log("INFO", msg, kv...) }
func (l *recordingLogger) Warn(msg string, kv ...any)  { l.log("WARN", msg, kv...) }
func (l *recordingLogger) Error(msg string, kv ...any) { l.log("ERROR", msg, kv...) }

func (l *recordingLogger) Contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

// newOpenGateway returns a connected gateway with lamp1 registered.
func newOpenGateway(t *testing.T) (*Gateway, *mockTransport, *recordingLogger) {
	t.Helper()

	tr := newMockTransport()
	logger := &recordingLogger{}
	gw, err := NewGateway(GatewayConfig{Transport: tr, Logger: logger})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	gw.RegisterDevices(map[string]string{"lamp1": "123401"})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := gw.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw, tr, logger
}

// waitFor polls cond until it is true or the timeout expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBrokenPipe = errors.New("broken pipe")
