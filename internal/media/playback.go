package media

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
)

var ErrSinkUnsupported = errors.New("output sink unsupported")

// OutputOpener opens the PCM16 output for a sink id.
type OutputOpener func(sinkID string) (io.WriteCloser, error)

// Element is the playback element. It paces the PCM of the current source
// into the output of the bound sink.
type Element struct {
	open       OutputOpener
	sampleRate int
	interval   time.Duration
	log        *logrus.Entry

	mu      sync.Mutex
	sinkID  string
	out     io.WriteCloser
	pcm     []byte
	pos     int
	loop    bool
	stop    chan struct{}
	done    chan struct{}
	onEnded func()
}

func NewElement(open OutputOpener, sampleRate int, log *logrus.Entry) *Element {
	if log == nil {
		log = logging.Discard()
	}
	return &Element{
		open:       open,
		sampleRate: sampleRate,
		interval:   time.Second / FrameRate,
		sinkID:     "default",
		log:        log,
	}
}

// SetSource loads a WAV source and resets the position.
func (e *Element) SetSource(src domain.Source) error {
	info, err := ParseWAV(src.Data)
	if err != nil {
		return fmt.Errorf("source %s: %w", src.Name, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pcm = src.Data[info.DataOffset : info.DataOffset+info.DataSize]
	e.pos = 0
	return nil
}

func (e *Element) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		return nil
	}
	if e.out == nil {
		out, err := e.open(e.sinkID)
		if err != nil {
			return fmt.Errorf("open output %s: %w", e.sinkID, err)
		}
		e.out = out
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.pump(e.stop, e.done)
	return nil
}

func (e *Element) pump(stop, done chan struct{}) {
	defer close(done)
	frame := e.sampleRate / FrameRate * bytesPerSample
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		if e.pos >= len(e.pcm) {
			if !e.loop || len(e.pcm) == 0 {
				var ended func()
				if e.stop == stop {
					e.stop, e.done = nil, nil
					ended = e.onEnded
				}
				e.mu.Unlock()
				if ended != nil {
					ended()
				}
				return
			}
			e.pos = 0
		}
		end := min(e.pos+frame, len(e.pcm))
		chunk := e.pcm[e.pos:end]
		e.pos = end
		out := e.out
		e.mu.Unlock()

		if _, err := out.Write(chunk); err != nil {
			e.log.Warnf("playback write: %v", err)
		}
	}
}

// Pause halts playback and keeps the position.
func (e *Element) Pause() {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	e.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (e *Element) Rewind() {
	e.mu.Lock()
	e.pos = 0
	e.mu.Unlock()
}

func (e *Element) SetLoop(loop bool) {
	e.mu.Lock()
	e.loop = loop
	e.mu.Unlock()
}

// SetOnEnded registers f to run when a non-looping source plays to its end.
// It is not called after Pause.
func (e *Element) SetOnEnded(f func()) {
	e.mu.Lock()
	e.onEnded = f
	e.mu.Unlock()
}

func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stop == nil
}

// Position is the byte offset into the PCM of the current source.
func (e *Element) Position() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// SetSinkID rebinds the output. On failure the previous sink stays bound.
func (e *Element) SetSinkID(id string) error {
	out, err := e.open(id)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSinkUnsupported, id, err)
	}

	e.mu.Lock()
	prev := e.out
	e.out = out
	e.sinkID = id
	e.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			e.log.Debugf("close previous output: %v", err)
		}
	}
	e.log.Infof("output bound to %s", id)
	return nil
}

// Close stops playback and releases the output.
func (e *Element) Close() error {
	e.Pause()
	e.mu.Lock()
	out := e.out
	e.out = nil
	e.mu.Unlock()
	if out == nil {
		return nil
	}
	return out.Close()
}
