package player

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"phone_island/native/internal/bus"
	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
	"phone_island/native/internal/media"
	"phone_island/native/internal/store"
)

var ErrSinkUnsupported = media.ErrSinkUnsupported

// Bundled sounds, loaded as <name>.wav from the sound directory.
const (
	OutgoingRingtone = "outgoing_ringtone"
	IncomingRingtone = "incoming_ringtone"
	BusyTone         = "busy_tone"
)

// Engine owns the single playback element of the process. Only one source
// plays at a time.
type Engine struct {
	element  domain.PlaybackElement
	store    *store.Store
	bus      *bus.Bus
	soundDir string
	log      *logrus.Entry

	mu     sync.Mutex
	sounds map[string]domain.Source
	unsubs []func()
}

func New(element domain.PlaybackElement, st *store.Store, b *bus.Bus, soundDir string, log *logrus.Entry) *Engine {
	if log == nil {
		log = logging.Discard()
	}
	e := &Engine{
		element:  element,
		store:    st,
		bus:      b,
		soundDir: soundDir,
		log:      log,
		sounds:   make(map[string]domain.Source),
	}
	element.SetOnEnded(e.ended)
	return e
}

// Play switches to src. A playing source is stopped and rewound first so the
// new one always starts from position zero.
func (e *Engine) Play(src domain.Source, loop bool) error {
	e.mu.Lock()
	if !e.element.Paused() {
		e.element.Pause()
		e.element.Rewind()
	}
	if err := e.element.SetSource(src); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("set source: %w", err)
	}
	e.element.SetLoop(loop)
	err := e.element.Play()
	e.mu.Unlock()

	if err != nil {
		e.store.UpdatePlayer(store.PlayerPatch{Playing: store.Bool(false)})
		return fmt.Errorf("play %s: %w", src.Name, err)
	}
	e.log.Debugf("playing %s (loop=%v)", src.Name, loop)
	e.store.UpdatePlayer(store.PlayerPatch{Playing: store.Bool(true), Loop: store.Bool(loop)})
	return nil
}

// Stop pauses and rewinds. Calling it while nothing plays is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.element.Pause()
	e.element.Rewind()
	e.mu.Unlock()

	if e.store.Player().Playing {
		e.store.UpdatePlayer(store.PlayerPatch{Playing: store.Bool(false)})
	}
}

// ended runs when the element plays a source out on its own.
func (e *Engine) ended() {
	e.mu.Lock()
	paused := e.element.Paused()
	e.mu.Unlock()

	if paused && e.store.Player().Playing {
		e.log.Debug("source ended")
		e.store.UpdatePlayer(store.PlayerPatch{Playing: store.Bool(false)})
	}
}

// Playing reports whether the element is currently producing audio.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.element.Paused()
}

// SetOutputDevice rebinds the output sink. The previous sink stays in effect
// on failure.
func (e *Engine) SetOutputDevice(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.element.SetSinkID(id); err != nil {
		return fmt.Errorf("set output %s: %w", id, err)
	}
	return nil
}

// PlayNamed plays one of the bundled sounds.
func (e *Engine) PlayNamed(name string, loop bool) error {
	src, err := e.sound(name)
	if err != nil {
		return err
	}
	return e.Play(src, loop)
}

func (e *Engine) sound(name string) (domain.Source, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if src, ok := e.sounds[name]; ok {
		return src, nil
	}
	data, err := os.ReadFile(filepath.Join(e.soundDir, name+".wav"))
	if err != nil {
		return domain.Source{}, fmt.Errorf("load sound %s: %w", name, err)
	}
	info, err := media.ParseWAV(data)
	if err != nil {
		return domain.Source{}, fmt.Errorf("load sound %s: %w", name, err)
	}
	src := domain.Source{Name: name, Data: data, Duration: info.Duration()}
	e.sounds[name] = src
	return src, nil
}

// Bind subscribes the engine to the player control events.
func (e *Engine) Bind() {
	e.unsubs = append(e.unsubs,
		e.bus.Subscribe(bus.AudioPlayerStart, func(any) { e.onStart() }),
		e.bus.Subscribe(bus.AudioPlayerClose, func(any) { e.onClose() }),
	)
}

func (e *Engine) onStart() {
	src := e.store.Player().Source
	if src == nil {
		e.log.Warn("player start without a recorded source")
		return
	}
	if err := e.Play(*src, false); err != nil {
		e.log.Errorf("player start: %v", err)
		return
	}
	e.store.UpdateIsland(store.IslandPatch{View: store.ViewOf(store.ViewPlayer)})
	e.bus.Emit(bus.AudioPlayerStarted, nil)
}

func (e *Engine) onClose() {
	e.Stop()
	view := store.ViewNone
	if e.store.Call().Live() {
		view = store.ViewCall
	}
	e.store.UpdateIsland(store.IslandPatch{View: store.ViewOf(view)})
	e.bus.Emit(bus.AudioPlayerClosed, nil)
}

// Close stops playback and removes the bus subscriptions.
func (e *Engine) Close() {
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
	e.Stop()
}
