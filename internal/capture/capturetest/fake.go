// Package capturetest provides an in-memory microphone for tests. It
// counts open streams so tests can assert that every exit path releases
// the device.
package capturetest

import (
	"context"
	"sync"

	"github.com/stemsi/exstem-speaking/internal/capture"
)

// Backend is a fake capture.Backend.
type Backend struct {
	format     capture.Format
	finalChunk int

	mu      sync.Mutex
	failing []error
	active  int
	opened  int
	streams []*Stream
}

// Option configures a fake Backend.
type Option func(*Backend)

// WithFinalChunk makes every stream flush n bytes of audio when closed,
// as a real recorder flushes its buffered tail.
func WithFinalChunk(n int) Option {
	return func(b *Backend) { b.finalChunk = n }
}

// New creates a fake backend delivering DefaultFormat audio.
func New(opts ...Option) *Backend {
	b := &Backend{format: capture.DefaultFormat}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FailNext queues an error for the next Open call. Calls queue in order.
func (b *Backend) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = append(b.failing, err)
}

// Open implements capture.Backend.
func (b *Backend) Open(ctx context.Context) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.failing) > 0 {
		err := b.failing[0]
		b.failing = b.failing[1:]
		return nil, err
	}

	s := &Stream{
		backend: b,
		chunks:  make(chan []byte, 256),
	}
	b.active++
	b.opened++
	b.streams = append(b.streams, s)
	return s, nil
}

// Format implements capture.Backend.
func (b *Backend) Format() capture.Format {
	return b.format
}

// ActiveStreams returns the number of streams opened and not yet closed.
func (b *Backend) ActiveStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Opened returns the number of successful Open calls.
func (b *Backend) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// Last returns the most recently opened stream, or nil.
func (b *Backend) Last() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[len(b.streams)-1]
}

// Stream is a fake capture.Stream fed by Push.
type Stream struct {
	backend *Backend
	chunks  chan []byte

	mu     sync.Mutex
	closed bool
}

// Push delivers a PCM chunk. It reports false once the stream is closed.
func (s *Stream) Push(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.chunks <- append([]byte(nil), pcm...)
	return true
}

// Chunks implements capture.Stream.
func (s *Stream) Chunks() <-chan []byte {
	return s.chunks
}

// Close implements capture.Stream. It flushes the configured final chunk,
// closes the chunk channel and releases the device. Repeated calls are no-ops.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if n := s.backend.finalChunk; n > 0 {
		s.chunks <- Tone(n)
	}
	close(s.chunks)

	s.backend.mu.Lock()
	s.backend.active--
	s.backend.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Tone returns n bytes of non-silent PCM16.
func Tone(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

// Seconds returns d seconds of non-silent PCM in format f.
func Seconds(d float64, f capture.Format) []byte {
	return Tone(int(d * float64(f.BytesPerSecond())))
}
