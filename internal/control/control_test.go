package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"phone_island/native/internal/bus"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newSurface(t *testing.T) (*Surface, *bus.Bus, *syncBuffer) {
	t.Helper()
	b := bus.New(nil)
	out := &syncBuffer{}
	s, err := New(b, out, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Bind()
	t.Cleanup(s.Close)
	return s, b, out
}

func TestHandle_Publishes(t *testing.T) {
	s, b, _ := newSurface(t)

	var got bus.CallStartPayload
	bus.On(b, bus.CallStart, func(p bus.CallStartPayload) { got = p })

	if err := s.Handle([]byte(`{"event":"phone-island-call-start","data":{"number":"300"}}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got.Number != "300" {
		t.Errorf("expected number 300, got %q", got.Number)
	}
}

func TestHandle_EmptyPayload(t *testing.T) {
	s, b, _ := newSurface(t)

	n := 0
	b.Subscribe(bus.CallMute, func(any) { n++ })

	for _, line := range []string{
		`{"event":"phone-island-call-mute"}`,
		`{"event":"phone-island-call-mute","data":null}`,
		`{"event":"phone-island-call-mute","data":{}}`,
	} {
		if err := s.Handle([]byte(line)); err != nil {
			t.Errorf("%s: %v", line, err)
		}
	}
	if n != 3 {
		t.Errorf("expected 3 deliveries, got %d", n)
	}
}

func TestHandle_Rejects(t *testing.T) {
	s, b, _ := newSurface(t)
	b.Subscribe(bus.CallStart, func(any) { t.Error("invalid request must not be published") })

	cases := map[string]string{
		"missing field": `{"event":"phone-island-call-start","data":{}}`,
		"wrong type":    `{"event":"phone-island-call-start","data":{"number":300}}`,
		"extra field":   `{"event":"phone-island-call-start","data":{"number":"300","x":1}}`,
		"not json":      `call-start 300`,
	}
	for name, line := range cases {
		if err := s.Handle([]byte(line)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestHandle_UnknownAndOutbound(t *testing.T) {
	s, _, _ := newSurface(t)

	err := s.Handle([]byte(`{"event":"phone-island-nope"}`))
	if !errors.Is(err, bus.ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent, got %v", err)
	}
	err = s.Handle([]byte(`{"event":"phone-island-call-ended"}`))
	if !errors.Is(err, ErrNotInbound) {
		t.Errorf("expected ErrNotInbound, got %v", err)
	}
}

func TestOutboundEventsWritten(t *testing.T) {
	_, b, out := newSurface(t)

	b.Emit(bus.CallStarted, bus.CallStartPayload{Number: "300"})
	b.Emit(bus.CallEnded, nil)
	b.Emit(bus.WebRTCOpened, nil)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out.String())
	}
	var msg Message
	if err := json.Unmarshal([]byte(lines[0]), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Event != bus.CallStarted || string(msg.Data) != `{"number":"300"}` {
		t.Errorf("unexpected first line %s", lines[0])
	}
	if lines[1] != `{"event":"phone-island-call-ended","data":{}}` {
		t.Errorf("unexpected second line %s", lines[1])
	}
}

func TestRun(t *testing.T) {
	s, b, _ := newSurface(t)

	got := make(chan string, 2)
	bus.On(b, bus.TransferCall, func(p bus.TransferPayload) { got <- p.To })

	in := strings.NewReader("\n" +
		`{"event":"phone-island-transfer-call","data":{"to":"204"}}` + "\n" +
		"garbage\n" +
		`{"event":"phone-island-transfer-call","data":{"to":"205"}}` + "\n")

	if err := s.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"204", "205"} {
		select {
		case to := <-got:
			if to != want {
				t.Errorf("expected %s, got %s", want, to)
			}
		default:
			t.Fatalf("missing transfer to %s", want)
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, _, _ := newSurface(t)
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, r) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
