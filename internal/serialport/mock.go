package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestablePort implements Port with scripted input and captured output.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds bytes returned by Read calls.
	ReadBuffer *bytes.Buffer
	// WriteBuffer captures bytes written to the port.
	WriteBuffer *bytes.Buffer

	// ReadError and WriteError are returned once by the next call if set.
	ReadError  error
	WriteError error
	CloseError error

	// ShortWrite makes Write accept one byte fewer than offered.
	ShortWrite bool

	Closed      bool
	ReadCalls   int
	WriteCalls  int
	Flushes     int
	ReadTimeout time.Duration

	// OnWrite, if set, runs after each write with the written bytes and may
	// queue a reply; it lets tests answer a request only once it was sent.
	OnWrite func(p []byte) []byte
}

// NewTestablePort returns an empty TestablePort.
func NewTestablePort() *TestablePort {
	return &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// Read drains ReadBuffer. An empty buffer behaves like an expired serial
// read timeout and returns 0, nil.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

// Write appends to WriteBuffer.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.WriteCalls++
	if t.Closed {
		t.mu.Unlock()
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		t.mu.Unlock()
		return 0, err
	}
	n := len(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	t.WriteBuffer.Write(p[:n])
	hook := t.OnWrite
	t.mu.Unlock()

	if hook != nil {
		if reply := hook(append([]byte(nil), p[:n]...)); len(reply) > 0 {
			t.AddReadData(reply)
		}
	}
	return n, nil
}

// Close marks the port closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return t.CloseError
}

// SetReadTimeout records the requested timeout.
func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// ResetInputBuffer discards pending input.
func (t *TestablePort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Flushes++
	t.ReadBuffer.Reset()
	return nil
}

// AddReadData queues bytes for subsequent reads.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
}

// Written returns and clears everything written so far.
func (t *TestablePort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]byte(nil), t.WriteBuffer.Bytes()...)
	t.WriteBuffer.Reset()
	return out
}
