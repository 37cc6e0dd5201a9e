package amisource

import (
	"bufio"
	"io"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/vsgroup/ami-kafka/internal/model"
)

const (
	// DefaultMaxFrameSize is the default maximum size (in bytes) of one
	// manager message, including line terminators.
	DefaultMaxFrameSize = 1024 * 1024 // 1MB
)

// ErrFrameTooLarge is returned when a message exceeds the configured size.
var ErrFrameTooLarge = errors.New("manager message exceeds max frame size")

// Frame is one manager message: "Key: Value" lines up to a blank line.
type Frame struct {
	Lines []string
}

// Get returns the value of the first header named key.
func (f Frame) Get(key string) string {
	prefix := key + ":"
	for _, line := range f.Lines {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return ""
}

// Body renders the message the way the manager hands it to hooks: CRLF
// terminated lines followed by the blank line.
func (f Frame) Body() string {
	var b strings.Builder
	for _, line := range f.Lines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}

// Event converts an event message. Responses and other messages report
// false.
func (f Frame) Event(source string) (model.Event, bool) {
	name := f.Get("Event")
	if name == "" {
		return model.Event{}, false
	}
	return model.Event{Source: source, Name: name, Body: f.Body()}, true
}

// FrameScanner splits a manager stream into frames.
type FrameScanner struct {
	sc           *bufio.Scanner
	maxFrameSize int
}

func NewFrameScanner(r io.Reader, maxFrameSize int) *FrameScanner {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(4096, maxFrameSize)), maxFrameSize)
	return &FrameScanner{sc: sc, maxFrameSize: maxFrameSize}
}

// ReadLine reads a single line, used for the greeting banner.
func (s *FrameScanner) ReadLine() (string, error) {
	if !s.sc.Scan() {
		return "", s.err()
	}
	return s.sc.Text(), nil
}

// Next returns the next non-empty frame. At end of stream it returns
// io.EOF; a trailing frame without its blank line is still returned.
func (s *FrameScanner) Next() (Frame, error) {
	var f Frame
	size := 0
	for s.sc.Scan() {
		line := s.sc.Text()
		if line == "" {
			if len(f.Lines) == 0 {
				continue
			}
			return f, nil
		}
		size += len(line) + 2
		if size > s.maxFrameSize {
			return Frame{}, ErrFrameTooLarge
		}
		f.Lines = append(f.Lines, line)
	}
	if len(f.Lines) > 0 && s.sc.Err() == nil {
		return f, nil
	}
	return Frame{}, s.err()
}

func (s *FrameScanner) err() error {
	if err := s.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return ErrFrameTooLarge
		}
		return err
	}
	return io.EOF
}
