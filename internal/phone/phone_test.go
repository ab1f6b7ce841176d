package phone

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"phone_island/native/internal/actions"
	"phone_island/native/internal/bus"
	"phone_island/native/internal/clock"
	"phone_island/native/internal/domain"
	"phone_island/native/internal/player"
	"phone_island/native/internal/store"
)

type mockTransport struct {
	calls   []string
	callErr error
}

func (m *mockTransport) Call(ctx context.Context, target string) error {
	m.calls = append(m.calls, "call:"+target)
	return m.callErr
}
func (m *mockTransport) Answer() error  { m.calls = append(m.calls, "answer"); return nil }
func (m *mockTransport) Hangup() error  { m.calls = append(m.calls, "hangup"); return nil }
func (m *mockTransport) Decline() error { m.calls = append(m.calls, "decline"); return nil }

func (m *mockTransport) last() string {
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

type mockFeedback struct {
	playing string
	loop    bool
}

func (m *mockFeedback) PlayNamed(name string, loop bool) error {
	m.playing, m.loop = name, loop
	return nil
}
func (m *mockFeedback) Playing() bool { return m.playing != "" }
func (m *mockFeedback) Stop()         { m.playing = "" }

type mockTrack struct{ muted bool }

func (m *mockTrack) SetMuted(muted bool) error { m.muted = muted; return nil }
func (m *mockTrack) Hold() error               { return nil }
func (m *mockTrack) Unhold() error             { return nil }
func (m *mockTrack) SendTone(digit rune) error { return nil }

type fixture struct {
	phone     *Phone
	store     *store.Store
	bus       *bus.Bus
	transport *mockTransport
	feedback  *mockFeedback
	events    []bus.Name
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     store.New(),
		bus:       bus.New(nil),
		transport: &mockTransport{},
		feedback:  &mockFeedback{},
	}
	f.phone = New(f.store, f.bus, f.transport, f.feedback, clock.NewFake(time.Unix(0, 0)), "201", nil)
	f.phone.Bind()
	t.Cleanup(f.phone.Close)

	for _, name := range []bus.Name{bus.CallStarted, bus.CallIncoming, bus.CallAnswered, bus.CallEnded, bus.Detached} {
		name := name
		f.bus.Subscribe(name, func(any) { f.events = append(f.events, name) })
	}
	return f
}

func (f *fixture) notify(t *testing.T, c conversation) {
	t.Helper()
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	f.phone.onNotification(domain.Notification{Event: ConversationEvent, Data: data})
}

func TestIncomingAnswerMuteHangup(t *testing.T) {
	f := newFixture(t)
	track := &mockTrack{}
	ctrl := actions.New(f.store, f.bus, track, nil, f.feedback, clock.NewFake(time.Unix(0, 0)), "201", nil)
	ctrl.Bind()
	defer ctrl.Close()

	f.phone.OnIncoming("300")
	s := f.store.Call()
	if !s.Live() || s.Outgoing() || s.Number != "300" || !s.Capability.IsManaged() {
		t.Fatalf("unexpected session %+v", s)
	}
	if f.feedback.playing != player.IncomingRingtone || !f.feedback.loop {
		t.Errorf("expected looping incoming ringtone, got %q", f.feedback.playing)
	}

	if err := f.phone.Answer(); err != nil {
		t.Fatalf("answer: %v", err)
	}
	f.phone.OnConnected()
	if !f.store.Call().Accepted {
		t.Fatal("expected accepted")
	}

	if err := ctrl.Mute(); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if !f.store.Call().Muted || !track.muted {
		t.Fatal("expected muted")
	}

	if err := f.phone.Hangup(); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if f.transport.last() != "hangup" {
		t.Errorf("expected hangup path, got %v", f.transport.calls)
	}
	if f.store.Call().Live() {
		t.Error("expected session reset")
	}

	want := []bus.Name{bus.CallIncoming, bus.CallAnswered, bus.CallEnded}
	if len(f.events) != len(want) {
		t.Fatalf("expected %v, got %v", want, f.events)
	}
	for i := range want {
		if f.events[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], f.events[i])
		}
	}
}

func TestOutgoingHangupBeforeAcceptDeclines(t *testing.T) {
	f := newFixture(t)

	if err := f.bus.Publish(bus.CallStart, bus.CallStartPayload{Number: "300"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	s := f.store.Call()
	if !s.Live() || !s.Outgoing() {
		t.Fatalf("expected outgoing session, got %+v", s)
	}
	if f.feedback.playing != player.OutgoingRingtone || !f.feedback.loop {
		t.Errorf("expected looping ringback, got %q", f.feedback.playing)
	}

	f.bus.Publish(bus.CallEnd, nil)

	if f.transport.last() != "decline" {
		t.Errorf("expected decline path, got %v", f.transport.calls)
	}
	if f.store.Call().Live() || f.feedback.Playing() {
		t.Error("expected session reset and ringback stopped")
	}
}

func TestStart_RefusedWhileActive(t *testing.T) {
	f := newFixture(t)
	f.phone.OnIncoming("300")

	if err := f.phone.Start(context.Background(), "400"); !errors.Is(err, ErrCallActive) {
		t.Errorf("expected ErrCallActive, got %v", err)
	}
	if len(f.transport.calls) != 0 {
		t.Errorf("expected no transport call, got %v", f.transport.calls)
	}
}

func TestStart_TransportFailureCreatesNoSession(t *testing.T) {
	f := newFixture(t)
	f.transport.callErr = errors.New("not registered")

	if err := f.phone.Start(context.Background(), "300"); err == nil {
		t.Fatal("expected error")
	}
	if f.store.Call().Live() {
		t.Error("expected no session")
	}
}

func TestRemoteHangup(t *testing.T) {
	f := newFixture(t)
	f.phone.Start(context.Background(), "300")
	f.phone.OnConnected()

	f.phone.OnHangup("BYE")

	if f.store.Call().Live() {
		t.Error("expected session reset")
	}
	if f.events[len(f.events)-1] != bus.CallEnded {
		t.Errorf("expected call-ended, got %v", f.events)
	}
}

func TestDetach(t *testing.T) {
	f := newFixture(t)
	f.phone.OnIncoming("300")
	f.phone.OnConnected()

	var got bus.DetachPayload
	bus.On(f.bus, bus.Detached, func(p bus.DetachPayload) { got = p })
	f.bus.Publish(bus.Detach, bus.DetachPayload{Device: "202"})

	s := f.store.Call()
	if !s.Capability.IsPhysical() || s.Capability.DeviceID != "202" {
		t.Errorf("expected physical capability, got %s", s.Capability)
	}
	if got.Device != "202" {
		t.Errorf("expected detached event for 202, got %+v", got)
	}

	// the remote side of a detached call is never driven by the transport
	f.phone.OnHangup("BYE")
	if !f.store.Call().Live() {
		t.Error("expected detached session to survive a transport hangup")
	}

	f.notify(t, conversation{Number: "300", Exten: "202", Connected: false})
	if f.store.Call().Live() {
		t.Error("expected session to end with the physical conversation")
	}
}

func TestConversationFlags(t *testing.T) {
	f := newFixture(t)
	f.phone.OnIncoming("300")
	f.phone.OnConnected()

	f.notify(t, conversation{Number: "300", Exten: "201", Connected: true, Transferring: true})
	if !f.store.Call().Transferring {
		t.Error("expected transferring")
	}
	f.notify(t, conversation{Number: "300", Exten: "201", Connected: true, Parked: true})
	s := f.store.Call()
	if s.Transferring || !s.Parked {
		t.Errorf("unexpected flags %+v", s)
	}

	f.notify(t, conversation{Number: "999", Exten: "201", Connected: true})
	if !f.store.Call().Parked {
		t.Error("updates for another conversation must be ignored")
	}
}

func TestConversationHandedOff(t *testing.T) {
	f := newFixture(t)
	f.phone.OnIncoming("300")
	f.phone.OnConnected()

	f.notify(t, conversation{Number: "300", Exten: "202", Connected: true})

	if f.store.Call().Live() {
		t.Error("expected session to end after hand-off")
	}
}

func TestAnswer_RequiresIncoming(t *testing.T) {
	f := newFixture(t)

	if err := f.phone.Answer(); !errors.Is(err, ErrNoCall) {
		t.Errorf("expected ErrNoCall, got %v", err)
	}
	f.phone.Start(context.Background(), "300")
	if err := f.phone.Answer(); err == nil {
		t.Error("expected outgoing call to refuse answer")
	}
}
