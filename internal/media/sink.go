package media

import (
	"sync"

	"github.com/zaf/g711"

	"phone_island/native/internal/domain"
)

// Sink records a capture stream as an incremental WAV: the first chunk is a
// header with unknown sizes, every following chunk is decoded PCM16.
type Sink struct {
	stream     domain.CaptureStream
	sampleRate int

	mu     sync.Mutex
	unsub  func()
	onStop func()
}

func NewSink(stream domain.CaptureStream, sampleRate int) *Sink {
	return &Sink{stream: stream, sampleRate: sampleRate}
}

func (s *Sink) Start(onData func(chunk []byte), onStop func()) error {
	if s.stream == nil || !s.stream.Active() {
		return ErrStreamInactive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		return nil
	}
	onData(StreamHeader(s.sampleRate))
	s.onStop = onStop
	s.unsub = s.stream.Subscribe(func(frame []byte) {
		onData(g711.DecodeUlaw(frame))
	})
	return nil
}

// Stop detaches from the stream. The stop callback runs on its own goroutine.
func (s *Sink) Stop() {
	s.mu.Lock()
	unsub, onStop := s.unsub, s.onStop
	s.unsub, s.onStop = nil, nil
	s.mu.Unlock()

	if unsub == nil {
		return
	}
	unsub()
	if onStop != nil {
		go onStop()
	}
}
