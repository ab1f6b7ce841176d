package player

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"phone_island/native/internal/bus"
	"phone_island/native/internal/domain"
	"phone_island/native/internal/media"
	"phone_island/native/internal/store"
)

type mockElement struct {
	calls   []string
	source  domain.Source
	pos     int
	paused  bool
	loop    bool
	sinkID  string
	sinkErr error
	onEnded func()
}

func newMockElement() *mockElement { return &mockElement{paused: true, sinkID: "default"} }

func (m *mockElement) SetSource(src domain.Source) error {
	m.calls = append(m.calls, "source:"+src.Name)
	m.source = src
	m.pos = 0
	return nil
}

func (m *mockElement) Play() error {
	m.calls = append(m.calls, "play")
	m.paused = false
	m.pos = 100 // simulated progress
	return nil
}

func (m *mockElement) Pause() {
	m.calls = append(m.calls, "pause")
	m.paused = true
}

func (m *mockElement) Rewind() {
	m.calls = append(m.calls, "rewind")
	m.pos = 0
}

func (m *mockElement) SetLoop(loop bool) { m.loop = loop }
func (m *mockElement) Paused() bool      { return m.paused }

func (m *mockElement) SetOnEnded(f func()) { m.onEnded = f }

// finish plays the source out.
func (m *mockElement) finish() {
	m.paused = true
	m.onEnded()
}

func (m *mockElement) SetSinkID(id string) error {
	if m.sinkErr != nil {
		return m.sinkErr
	}
	m.sinkID = id
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *mockElement, *store.Store, *bus.Bus) {
	t.Helper()
	el := newMockElement()
	st := store.New()
	b := bus.New(nil)
	return New(el, st, b, t.TempDir(), nil), el, st, b
}

func TestPlay_WhilePlayingRewindsBeforeSwitch(t *testing.T) {
	e, el, st, _ := newTestEngine(t)

	if err := e.Play(domain.Source{Name: "a"}, true); err != nil {
		t.Fatalf("play a: %v", err)
	}
	el.calls = nil
	if err := e.Play(domain.Source{Name: "b"}, false); err != nil {
		t.Fatalf("play b: %v", err)
	}

	got := strings.Join(el.calls, ",")
	if got != "pause,rewind,source:b,play" {
		t.Errorf("unexpected call order %s", got)
	}
	if el.loop {
		t.Error("expected loop disabled for b")
	}
	if p := st.Player(); !p.Playing || p.Loop {
		t.Errorf("expected store to mirror playing without loop, got %+v", p)
	}
}

func TestPlay_IdleDoesNotPause(t *testing.T) {
	e, el, _, _ := newTestEngine(t)

	e.Play(domain.Source{Name: "a"}, false)

	if got := strings.Join(el.calls, ","); got != "source:a,play" {
		t.Errorf("unexpected call order %s", got)
	}
}

func TestStop_Idempotent(t *testing.T) {
	e, el, st, _ := newTestEngine(t)
	e.Play(domain.Source{Name: "a"}, true)

	e.Stop()
	e.Stop()

	if !el.paused || el.pos != 0 {
		t.Errorf("expected paused at zero, got paused=%v pos=%d", el.paused, el.pos)
	}
	if st.Player().Playing {
		t.Error("expected store playing=false")
	}
}

func TestPlay_SourceEndClearsPlaying(t *testing.T) {
	e, el, st, _ := newTestEngine(t)
	e.Play(domain.Source{Name: "a"}, false)

	el.finish()

	if st.Player().Playing {
		t.Error("expected store playing=false after the source ended")
	}
	if e.Playing() {
		t.Error("expected engine idle")
	}
}

func TestSetOutputDevice_FailureReported(t *testing.T) {
	e, el, _, _ := newTestEngine(t)
	el.sinkErr = media.ErrSinkUnsupported

	err := e.SetOutputDevice("hw:2,0")
	if !errors.Is(err, ErrSinkUnsupported) {
		t.Fatalf("expected ErrSinkUnsupported, got %v", err)
	}
	if el.sinkID != "default" {
		t.Errorf("expected previous sink, got %s", el.sinkID)
	}
}

func TestPlayNamed_LoadsFromSoundDir(t *testing.T) {
	e, el, _, _ := newTestEngine(t)
	data := media.EncodeWAV(make([]byte, 16000), 8000)
	if err := os.WriteFile(filepath.Join(e.soundDir, OutgoingRingtone+".wav"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := e.PlayNamed(OutgoingRingtone, true); err != nil {
		t.Fatalf("play named: %v", err)
	}
	if el.source.Name != OutgoingRingtone || el.source.Duration.Seconds() != 1 {
		t.Errorf("unexpected source %+v", el.source)
	}
	if !el.loop {
		t.Error("expected loop")
	}
}

func TestPlayNamed_MissingSound(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	if err := e.PlayNamed(BusyTone, false); err == nil {
		t.Error("expected error for missing sound")
	}
}

func TestPlayerEvents(t *testing.T) {
	e, el, st, b := newTestEngine(t)
	e.Bind()
	defer e.Close()

	var events []bus.Name
	b.Subscribe(bus.AudioPlayerStarted, func(any) { events = append(events, bus.AudioPlayerStarted) })
	b.Subscribe(bus.AudioPlayerClosed, func(any) { events = append(events, bus.AudioPlayerClosed) })

	// no recorded source: nothing happens
	b.Publish(bus.AudioPlayerStart, nil)
	if len(events) != 0 {
		t.Fatalf("expected no event without a source, got %v", events)
	}

	st.UpdatePlayer(store.PlayerPatch{Source: &domain.Source{Name: "recording"}})
	b.Publish(bus.AudioPlayerStart, nil)
	if el.source.Name != "recording" || el.paused {
		t.Errorf("expected recording playing, got %+v paused=%v", el.source, el.paused)
	}
	if st.Island().View != store.ViewPlayer {
		t.Errorf("expected player view, got %q", st.Island().View)
	}

	b.Publish(bus.AudioPlayerClose, nil)
	if !el.paused {
		t.Error("expected element paused after close")
	}
	if len(events) != 2 || events[0] != bus.AudioPlayerStarted || events[1] != bus.AudioPlayerClosed {
		t.Errorf("unexpected events %v", events)
	}
}
