package replay

import (
	"errors"
	"io"
	"strings"
)

// Sink receives replayed markup. Write is called with each fragment in
// order and End exactly once after the last one.
type Sink interface {
	Write(s string) error
	End() error
}

// WriterSink adapts an io.Writer. End closes the writer when it is an
// io.Closer.
type WriterSink struct {
	w io.Writer
}

// NewWriterSink returns a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Write(text string) error {
	_, err := io.WriteString(s.w, text)
	return err
}

func (s *WriterSink) End() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ErrSinkEnded is returned by BufferSink.Write after End.
var ErrSinkEnded = errors.New("replay: write after end")

// BufferSink collects markup in memory.
type BufferSink struct {
	b     strings.Builder
	ended bool
}

func (s *BufferSink) Write(text string) error {
	if s.ended {
		return ErrSinkEnded
	}
	s.b.WriteString(text)
	return nil
}

func (s *BufferSink) End() error {
	s.ended = true
	return nil
}

// Ended reports whether End was called.
func (s *BufferSink) Ended() bool { return s.ended }

// String returns everything written so far.
func (s *BufferSink) String() string { return s.b.String() }
