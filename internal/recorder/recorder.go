package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"phone_island/native/internal/bus"
	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
	"phone_island/native/internal/media"
	"phone_island/native/internal/store"
)

var (
	ErrNoStream   = errors.New("no active capture stream")
	ErrFinalizing = errors.New("previous recording is still finalizing")
)

// State is the pipeline lifecycle.
type State int

const (
	Idle State = iota
	Recording
	Finalizing
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	default:
		return "idle"
	}
}

// SinkFactory returns a capture sink recording stream.
type SinkFactory func(stream domain.CaptureStream) domain.CaptureSink

// Pipeline records the local capture stream of the current call. It follows
// the recorder slice of the store: recording requested starts the sink,
// recorded requested finalizes it.
type Pipeline struct {
	store   *store.Store
	bus     *bus.Bus
	streams domain.StreamProvider
	newSink SinkFactory
	log     *logrus.Entry

	mu      sync.Mutex
	state   State
	cycle   int
	sink    domain.CaptureSink
	chunks  [][]byte
	lastErr error

	unsubs []func()
}

func New(st *store.Store, b *bus.Bus, streams domain.StreamProvider, newSink SinkFactory, log *logrus.Entry) *Pipeline {
	if log == nil {
		log = logging.Discard()
	}
	return &Pipeline{store: st, bus: b, streams: streams, newSink: newSink, log: log}
}

// Bind subscribes the pipeline to the store and the recording events.
func (r *Pipeline) Bind() {
	r.unsubs = append(r.unsubs,
		r.store.Subscribe(func(slice store.Slice) {
			switch slice {
			case store.SliceRecorder:
				r.reconcile()
			case store.SliceCall:
				// the capture stream goes away with the call
				if !r.store.Call().Live() && r.State() == Recording {
					r.Teardown()
				}
			}
		}),
		r.bus.Subscribe(bus.RecordingOpen, func(any) {
			r.store.UpdateIsland(store.IslandPatch{View: store.ViewOf(store.ViewRecording)})
			r.bus.Emit(bus.RecordingOpened, nil)
		}),
		r.bus.Subscribe(bus.RecordingStart, func(any) {
			if err := r.Start(); err != nil {
				r.log.Warnf("recording start: %v", err)
			}
		}),
		r.bus.Subscribe(bus.RecordingStop, func(any) { r.Stop() }),
		r.bus.Subscribe(bus.RecordingClose, func(any) {
			r.Teardown()
			view := store.ViewNone
			if r.store.Call().Live() {
				view = store.ViewCall
			}
			r.store.UpdateIsland(store.IslandPatch{View: store.ViewOf(view)})
			r.bus.Emit(bus.RecordingClosed, nil)
		}),
	)
}

func (r *Pipeline) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start requests a recording. It fails when no capture stream is active.
func (r *Pipeline) Start() error {
	switch r.State() {
	case Recording:
		return nil
	case Finalizing:
		return ErrFinalizing
	}
	if _, ok := r.activeStream(); !ok {
		return ErrNoStream
	}
	r.store.UpdateRecorder(store.RecorderPatch{Recording: store.Bool(true), Recorded: store.Bool(false)})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Recording {
		if r.lastErr != nil {
			return r.lastErr
		}
		return ErrNoStream
	}
	return nil
}

// Stop requests finalization of the current recording. It is a no-op when
// nothing is being recorded.
func (r *Pipeline) Stop() {
	if r.State() != Recording {
		return
	}
	r.store.UpdateRecorder(store.RecorderPatch{Recording: store.Bool(false), Recorded: store.Bool(true)})
}

// Teardown force-stops the sink and resets the recorder. No artifact is
// produced for an unfinished recording. A recording already finalizing is
// left to complete and still hands its artifact to the player.
func (r *Pipeline) Teardown() {
	r.mu.Lock()
	if r.state == Finalizing {
		r.mu.Unlock()
		r.log.Info("teardown while finalizing, artifact kept")
		r.store.ResetRecorder()
		return
	}
	var sink domain.CaptureSink
	if r.state == Recording {
		sink = r.sink
	}
	r.state = Idle
	r.sink = nil
	r.chunks = nil
	r.cycle++
	r.mu.Unlock()

	if sink != nil {
		r.log.Info("recording discarded")
		sink.Stop()
	}
	r.store.ResetRecorder()
}

// Close tears down and removes all subscriptions.
func (r *Pipeline) Close() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	r.Teardown()
}

func (r *Pipeline) activeStream() (domain.CaptureStream, bool) {
	if r.streams == nil {
		return nil, false
	}
	stream, ok := r.streams.LocalStream()
	if !ok || stream == nil || !stream.Active() {
		return nil, false
	}
	return stream, true
}

func (r *Pipeline) reconcile() {
	rs := r.store.Recorder()

	r.mu.Lock()
	switch {
	case r.state == Idle && rs.Recording && !rs.Recorded:
		r.mu.Unlock()
		r.begin()
	case r.state == Recording && rs.Recorded:
		sink := r.sink
		r.state = Finalizing
		r.mu.Unlock()
		sink.Stop()
	default:
		r.mu.Unlock()
	}
}

func (r *Pipeline) begin() {
	stream, ok := r.activeStream()
	if !ok {
		r.fail(ErrNoStream)
		return
	}
	sink := r.newSink(stream)

	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		return
	}
	r.cycle++
	cycle := r.cycle
	r.state = Recording
	r.sink = sink
	r.chunks = nil
	r.lastErr = nil
	r.mu.Unlock()

	err := sink.Start(
		func(chunk []byte) { r.append(cycle, chunk) },
		func() { r.finalize(cycle) },
	)
	if err != nil {
		r.mu.Lock()
		if r.cycle == cycle {
			r.state = Idle
			r.sink = nil
			r.chunks = nil
		}
		r.mu.Unlock()
		r.fail(fmt.Errorf("start capture sink: %w", err))
		return
	}
	r.log.Infof("recording %d started", cycle)
	r.bus.Emit(bus.RecordingStarted, nil)
}

func (r *Pipeline) fail(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
	r.log.Warnf("recording not started: %v", err)
	r.store.UpdateRecorder(store.RecorderPatch{Recording: store.Bool(false)})
}

func (r *Pipeline) append(cycle int, chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cycle != cycle || r.state != Recording {
		return
	}
	r.chunks = append(r.chunks, chunk)
}

func (r *Pipeline) finalize(cycle int) {
	r.mu.Lock()
	if r.cycle != cycle || r.state != Finalizing {
		r.mu.Unlock()
		return
	}
	data := bytes.Join(r.chunks, nil)
	r.mu.Unlock()

	duration, err := media.RepairDuration(data)
	if err != nil {
		r.log.Errorf("finalize recording %d: %v", cycle, err)
		r.mu.Lock()
		if r.cycle == cycle {
			r.state = Idle
			r.chunks = nil
			r.sink = nil
		}
		r.mu.Unlock()
		r.store.ResetRecorder()
		return
	}

	src := domain.Source{Name: fmt.Sprintf("recording-%d", cycle), Data: data, Duration: duration}
	r.store.UpdatePlayer(store.PlayerPatch{Source: &src})

	r.mu.Lock()
	if r.cycle == cycle {
		r.state = Idle
		r.chunks = nil
		r.sink = nil
	}
	r.mu.Unlock()

	r.log.Infof("recording %d finalized (%v)", cycle, duration)
	r.bus.Emit(bus.RecordingStopped, nil)
}
