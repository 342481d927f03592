package websocket

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/capture"
)

var ErrDeviceClosed = errors.New("remote device closed")

const (
	defaultOpenTimeout = 10 * time.Second
	chunkBuffer        = 256
)

// RemoteDevice is the candidate's browser acting as microphone and
// speaker. Requests go out as events; the read loop feeds the replies and
// binary audio frames back through the Handle methods.
type RemoteDevice struct {
	out         Sender
	format      capture.Format
	openTimeout time.Duration
	log         zerolog.Logger

	mu      sync.Mutex
	seq     uint64
	closed  bool
	opening map[string]chan error
	playing map[string]chan error
	stream  *remoteStream
}

func NewRemoteDevice(out Sender, format capture.Format, log zerolog.Logger) *RemoteDevice {
	return &RemoteDevice{
		out:         out,
		format:      format,
		openTimeout: defaultOpenTimeout,
		log:         log.With().Str("component", "remote_device").Logger(),
		opening:     make(map[string]chan error),
		playing:     make(map[string]chan error),
	}
}

func (d *RemoteDevice) nextID(prefix string) string {
	d.seq++
	return prefix + "-" + strconv.FormatUint(d.seq, 10)
}

// Format implements capture.Backend.
func (d *RemoteDevice) Format() capture.Format {
	return d.format
}

// Open implements capture.Backend. It asks the client to start
// streaming and waits for capture_ready or capture_failed.
func (d *RemoteDevice) Open(ctx context.Context) (capture.Stream, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, ErrDeviceClosed)
	}
	if d.stream != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: microphone busy", capture.ErrDeviceUnavailable)
	}
	id := d.nextID("cap")
	reply := make(chan error, 1)
	d.opening[id] = reply
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.opening, id)
		d.mu.Unlock()
	}()

	err := d.out.Send(CaptureOpenRequest{
		Event:      EventCaptureOpen,
		ID:         id,
		SampleRate: d.format.SampleRate,
		Channels:   d.format.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}

	timer := time.NewTimer(d.openTimeout)
	defer timer.Stop()

	select {
	case err := <-reply:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: client did not open the microphone", capture.ErrDeviceUnavailable)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, ErrDeviceClosed)
	}
	// Another Open may have won while this one waited for the client.
	if d.stream != nil {
		d.mu.Unlock()
		if err := d.out.Send(CaptureCloseRequest{Event: EventCaptureClose, ID: id}); err != nil {
			d.log.Debug().Err(err).Str("capture_id", id).Msg("Closing losing capture failed")
		}
		return nil, fmt.Errorf("%w: microphone busy", capture.ErrDeviceUnavailable)
	}
	s := &remoteStream{
		id:      id,
		device:  d,
		chunks:  make(chan []byte, chunkBuffer),
		flushed: make(chan struct{}),
	}
	d.stream = s
	d.mu.Unlock()
	return s, nil
}

// Play implements playback.Player.
func (d *RemoteDevice) Play(ctx context.Context, url string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDeviceClosed
	}
	id := d.nextID("play")
	reply := make(chan error, 1)
	d.playing[id] = reply
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.playing, id)
		d.mu.Unlock()
	}()

	if err := d.out.Send(PlayPromptRequest{Event: EventPlayPrompt, ID: id, URL: url}); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleCaptureReady answers a pending Open.
func (d *RemoteDevice) HandleCaptureReady(id string) {
	d.resolve(d.opening, id, nil)
}

// HandleCaptureFailed fails a pending Open with the classified reason.
func (d *RemoteDevice) HandleCaptureFailed(id, reason string) {
	var err error
	switch reason {
	case ReasonPermissionDenied:
		err = capture.ErrPermissionDenied
	default:
		err = fmt.Errorf("%w: %s", capture.ErrDeviceUnavailable, reason)
	}
	d.resolve(d.opening, id, err)
}

// HandleCaptureFlushed marks the final chunk of stream id as delivered.
func (d *RemoteDevice) HandleCaptureFlushed(id string) {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s != nil && s.id == id {
		s.markFlushed()
	}
}

func (d *RemoteDevice) HandlePlaybackEnded(id string) {
	d.resolve(d.playing, id, nil)
}

func (d *RemoteDevice) HandlePlaybackFailed(id, reason string) {
	d.resolve(d.playing, id, fmt.Errorf("client playback failed: %s", reason))
}

// HandleAudio appends a binary PCM frame to the open stream. Frames
// arriving with no stream open are dropped.
func (d *RemoteDevice) HandleAudio(frame []byte) {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s == nil {
		return
	}
	if !s.push(frame) {
		d.log.Warn().Str("capture_id", s.id).Int("bytes", len(frame)).Msg("Audio frame dropped")
	}
}

// Close fails every pending request and ends the open stream. It is
// called when the connection goes away.
func (d *RemoteDevice) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for id, ch := range d.opening {
		ch <- fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, ErrDeviceClosed)
		delete(d.opening, id)
	}
	for id, ch := range d.playing {
		ch <- ErrDeviceClosed
		delete(d.playing, id)
	}
	s := d.stream
	d.mu.Unlock()

	if s != nil {
		s.markFlushed()
	}
}

func (d *RemoteDevice) resolve(pending map[string]chan error, id string, err error) {
	d.mu.Lock()
	ch, ok := pending[id]
	if ok {
		delete(pending, id)
	}
	d.mu.Unlock()

	if !ok {
		d.log.Debug().Str("id", id).Msg("Reply for unknown or expired request")
		return
	}
	ch <- err
}

// remoteStream is the capture.Stream of one capture_open request.
type remoteStream struct {
	id     string
	device *RemoteDevice
	chunks chan []byte

	flushOnce sync.Once
	flushed   chan struct{}

	mu      sync.Mutex
	closing bool
	closed  bool
}

func (s *remoteStream) Chunks() <-chan []byte {
	return s.chunks
}

func (s *remoteStream) push(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.chunks <- append([]byte(nil), frame...):
		return true
	default:
		return false
	}
}

func (s *remoteStream) markFlushed() {
	s.flushOnce.Do(func() { close(s.flushed) })
}

// Close asks the client to stop and waits for capture_flushed so the
// tail of the recording is not lost. The microphone is released even
// when ctx ends first.
func (s *remoteStream) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	var sendErr error
	if err := s.device.out.Send(CaptureCloseRequest{Event: EventCaptureClose, ID: s.id}); err != nil {
		sendErr = err
		s.markFlushed()
	}

	var waitErr error
	select {
	case <-s.flushed:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	s.mu.Lock()
	s.closed = true
	close(s.chunks)
	s.mu.Unlock()

	s.device.mu.Lock()
	if s.device.stream == s {
		s.device.stream = nil
	}
	s.device.mu.Unlock()

	if sendErr != nil {
		return sendErr
	}
	return waitErr
}
