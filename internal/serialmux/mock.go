package serialmux

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Responder answers one command line written to a TestableSerialPort. An
// empty reply writes nothing back.
type Responder func(command string) string

// TestableSerialPort implements SerialPorter for tests. Written bytes are
// captured, and every complete command line is handed to Responder whose
// reply becomes readable from the port. Reads block until data arrives or
// the port is closed.
type TestableSerialPort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	pending  string
	commands []string
	closed   bool

	// Responder is consulted for each complete line written.
	Responder Responder
	// WriteError, if set, is returned by the next Write.
	WriteError error
	// CloseError is returned by Close.
	CloseError error
}

// NewTestableSerialPort creates a port that answers through responder.
func NewTestableSerialPort(responder Responder) *TestableSerialPort {
	t := &TestableSerialPort{Responder: responder}
	t.readCond = sync.NewCond(&t.mu)
	return t
}

// NewMockSerialMux wraps a TestableSerialPort in a SerialMux.
func NewMockSerialMux(responder Responder) (*SerialMux[*TestableSerialPort], *TestableSerialPort) {
	port := NewTestableSerialPort(responder)
	return NewSerialMux(port), port
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.closed && t.readBuf.Len() == 0 {
		t.readCond.Wait()
	}
	if t.readBuf.Len() == 0 {
		return 0, io.EOF
	}
	return t.readBuf.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		t.mu.Unlock()
		return 0, err
	}
	t.writeBuf.Write(p)
	t.pending += string(p)
	var lines []string
	for {
		i := strings.IndexByte(t.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(t.pending[:i], "\r")
		t.pending = t.pending[i+1:]
		t.commands = append(t.commands, line)
		lines = append(lines, line)
	}
	respond := t.Responder
	t.mu.Unlock()

	if respond == nil {
		return len(p), nil
	}
	for _, line := range lines {
		if reply := respond(line); reply != "" {
			t.Feed(reply + "\n")
		}
	}
	return len(p), nil
}

// Close marks the port closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// Feed makes data readable as if the device had sent it unprompted.
func (t *TestableSerialPort) Feed(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuf.WriteString(data)
	t.readCond.Broadcast()
}

// Commands returns every complete line written so far.
func (t *TestableSerialPort) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

// Written returns the raw bytes written so far.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuf.String()
}

// Closed reports whether Close was called.
func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
