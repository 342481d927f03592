// Package capture owns the microphone for the duration of one Speaking
// stage and turns the captured PCM into a finalized Recording.
package capture

import (
	"context"
	"errors"
)

// Resource-acquisition errors. Both are fatal for the session until the
// candidate explicitly retries.
var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("microphone device unavailable")
)

// ErrEncodingFailed marks a capture whose audio could not be finalized.
// The flagged empty Recording is still stored and the flow continues.
var ErrEncodingFailed = errors.New("recording encoding failed")

// Format describes the PCM16 little-endian audio a backend delivers.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is 16 kHz mono, what the browser host resamples to.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the PCM16 byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// Backend acquires the microphone. Open must fail with an error wrapping
// ErrPermissionDenied or ErrDeviceUnavailable when it cannot.
type Backend interface {
	Open(ctx context.Context) (Stream, error)
	Format() Format
}

// Stream is one acquired microphone stream.
//
// Chunks delivers raw PCM frames and is closed by the stream once the
// final chunk has been flushed after Close. Close releases the device even
// when ctx expires first.
type Stream interface {
	Chunks() <-chan []byte
	Close(ctx context.Context) error
}
