package media

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockStream struct {
	mu      sync.Mutex
	active  bool
	handler func([]byte)
}

func (m *mockStream) Active() bool { return m.active }

func (m *mockStream) Subscribe(onFrame func([]byte)) func() {
	m.mu.Lock()
	m.handler = onFrame
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.handler = nil
		m.mu.Unlock()
	}
}

func (m *mockStream) push(frame []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(frame)
	}
}

func TestSink_InactiveStream(t *testing.T) {
	s := NewSink(&mockStream{}, 8000)
	if err := s.Start(func([]byte) {}, func() {}); !errors.Is(err, ErrStreamInactive) {
		t.Errorf("expected ErrStreamInactive, got %v", err)
	}
}

func TestSink_HeaderThenDecodedFrames(t *testing.T) {
	stream := &mockStream{active: true}
	s := NewSink(stream, 8000)

	var chunks [][]byte
	stopped := make(chan struct{})
	if err := s.Start(func(c []byte) { chunks = append(chunks, c) }, func() { close(stopped) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	stream.push(make([]byte, 160))
	s.Stop()
	stream.push(make([]byte, 160))

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop callback not called")
	}

	if len(chunks) != 2 {
		t.Fatalf("expected header and one frame, got %d chunks", len(chunks))
	}
	if !bytes.Equal(chunks[0], StreamHeader(8000)) {
		t.Error("expected streaming header as first chunk")
	}
	if len(chunks[1]) != 320 {
		t.Errorf("expected 320 bytes of PCM16, got %d", len(chunks[1]))
	}
}

func TestSink_StopWithoutStart(t *testing.T) {
	s := NewSink(&mockStream{active: true}, 8000)
	s.Stop()
}
