package cluster

import (
	"io"
	"sync"

	"github.com/testcontainers/testcontainers-go"
)

// LogStream captures a node's combined stdout/stderr. It is append-only and
// any number of readers can follow it from the first byte while it grows.
type LogStream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	closed bool
}

// NewLogStream creates an empty, open stream
func NewLogStream() *LogStream {
	s := &LogStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write appends p and wakes blocked readers. Writes after Close are dropped.
func (s *LogStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.data = append(s.data, p...)
	s.cond.Broadcast()
	return len(p), nil
}

// Accept implements testcontainers.LogConsumer
func (s *LogStream) Accept(l testcontainers.Log) {
	_, _ = s.Write(l.Content)
}

// String returns everything captured so far
func (s *LogStream) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.data)
}

// Close ends the stream. Readers drain what is buffered and then see io.EOF.
func (s *LogStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.cond.Broadcast()
	return nil
}

// NewReader returns a reader positioned at the start of the stream. Read
// blocks until more output arrives, the stream is closed, or the reader
// itself is closed.
func (s *LogStream) NewReader() io.ReadCloser {
	return &logCursor{stream: s}
}

type logCursor struct {
	stream *LogStream
	offset int
	closed bool
}

func (c *logCursor) Read(p []byte) (int, error) {
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	for c.offset >= len(s.data) && !s.closed && !c.closed {
		s.cond.Wait()
	}
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	if c.offset >= len(s.data) {
		return 0, io.EOF
	}

	n := copy(p, s.data[c.offset:])
	c.offset += n
	return n, nil
}

func (c *logCursor) Close() error {
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	c.closed = true
	s.cond.Broadcast()
	return nil
}
