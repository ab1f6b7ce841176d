package media

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"phone_island/native/internal/domain"
)

type bufferOutput struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *bufferOutput) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *bufferOutput) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *bufferOutput) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func newTestElement(outputs map[string]*bufferOutput) *Element {
	e := NewElement(func(id string) (io.WriteCloser, error) {
		out, ok := outputs[id]
		if !ok {
			return nil, errors.New("no such device")
		}
		return out, nil
	}, 8000, nil)
	e.interval = time.Millisecond
	return e
}

func waitPaused(t *testing.T, e *Element) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !e.Paused() {
		if time.Now().After(deadline) {
			t.Fatal("playback did not finish")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestElement_PlaysWholeSource(t *testing.T) {
	out := &bufferOutput{}
	e := newTestElement(map[string]*bufferOutput{"default": out})

	if err := e.SetSource(domain.Source{Name: "tone", Data: EncodeWAV(make([]byte, 1000), 8000)}); err != nil {
		t.Fatalf("set source: %v", err)
	}
	if err := e.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitPaused(t, e)

	if out.Len() != 1000 {
		t.Errorf("expected 1000 bytes written, got %d", out.Len())
	}
}

func TestElement_EndedCallback(t *testing.T) {
	out := &bufferOutput{}
	e := newTestElement(map[string]*bufferOutput{"default": out})
	ended := make(chan struct{}, 2)
	e.SetOnEnded(func() { ended <- struct{}{} })

	e.SetSource(domain.Source{Name: "tone", Data: EncodeWAV(make([]byte, 480), 8000)})
	e.Play()
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("expected end of source to be reported")
	}
	if !e.Paused() {
		t.Error("expected element paused once the source ended")
	}

	// a paused source is not reported as ended
	e.SetSource(domain.Source{Name: "ring", Data: EncodeWAV(make([]byte, 3200), 8000)})
	e.SetLoop(true)
	e.Play()
	time.Sleep(10 * time.Millisecond)
	e.Pause()
	select {
	case <-ended:
		t.Error("pause must not report the source as ended")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestElement_PauseKeepsPositionRewindResets(t *testing.T) {
	out := &bufferOutput{}
	e := newTestElement(map[string]*bufferOutput{"default": out})
	e.SetSource(domain.Source{Name: "ring", Data: EncodeWAV(make([]byte, 3200), 8000)})
	e.SetLoop(true)

	e.Play()
	time.Sleep(20 * time.Millisecond)
	e.Pause()

	if !e.Paused() {
		t.Fatal("expected element paused")
	}
	if e.Position() == 0 {
		t.Error("expected position to advance before pause")
	}
	e.Rewind()
	if e.Position() != 0 {
		t.Errorf("expected position 0 after rewind, got %d", e.Position())
	}
}

func TestElement_SetSinkIDFailureKeepsPrevious(t *testing.T) {
	first := &bufferOutput{}
	e := newTestElement(map[string]*bufferOutput{"default": first, "hw:1,0": first})

	if err := e.SetSinkID("hw:9,9"); !errors.Is(err, ErrSinkUnsupported) {
		t.Fatalf("expected ErrSinkUnsupported, got %v", err)
	}
	if e.sinkID != "default" {
		t.Errorf("expected previous sink to stay bound, got %s", e.sinkID)
	}
	if err := e.SetSinkID("hw:1,0"); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if e.sinkID != "hw:1,0" {
		t.Errorf("expected hw:1,0, got %s", e.sinkID)
	}
}
