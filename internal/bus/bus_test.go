package bus

import (
	"errors"
	"testing"
)

func TestPublish_DeliversInRegistrationOrder(t *testing.T) {
	b := New(nil)
	var got []int
	b.Subscribe(CallKeypadOpen, func(any) { got = append(got, 1) })
	b.Subscribe(CallKeypadOpen, func(any) { got = append(got, 2) })
	b.Subscribe(CallKeypadClose, func(any) { got = append(got, 99) })

	if err := b.Publish(CallKeypadOpen, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("expected [1 2], got %v", got)
	}
}

func TestPublish_SubscriptionDuringDispatchMissesCurrentEvent(t *testing.T) {
	b := New(nil)
	late := 0
	b.Subscribe(CallMute, func(any) {
		b.Subscribe(CallMute, func(any) { late++ })
	})

	b.Publish(CallMute, nil)
	if late != 0 {
		t.Fatalf("late subscriber received the event being dispatched")
	}

	b.Publish(CallMute, nil)
	if late != 1 {
		t.Errorf("expected late subscriber to receive the next event, got %d", late)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)
	calls := 0
	unsub := b.Subscribe(CallHold, func(any) { calls++ })

	b.Publish(CallHold, nil)
	unsub()
	unsub()
	b.Publish(CallHold, nil)

	if calls != 1 {
		t.Errorf("expected 1 delivery, got %d", calls)
	}
}

func TestUnsubscribeDuringDispatchKeepsSnapshot(t *testing.T) {
	b := New(nil)
	second := 0
	var unsubSecond func()
	b.Subscribe(CallPark, func(any) { unsubSecond() })
	unsubSecond = b.Subscribe(CallPark, func(any) { second++ })

	b.Publish(CallPark, nil)
	b.Publish(CallPark, nil)

	if second != 1 {
		t.Errorf("expected the snapshot to deliver once, got %d", second)
	}
}

func TestPublish_UnknownName(t *testing.T) {
	b := New(nil)
	err := b.Publish(Name("phone-island-nope"), nil)
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestPublish_PayloadTypeChecked(t *testing.T) {
	b := New(nil)
	err := b.Publish(AudioInputChange, ThemePayload{SelectedTheme: "dark"})
	if !errors.Is(err, ErrPayloadType) {
		t.Errorf("expected ErrPayloadType, got %v", err)
	}
}

func TestOn_TypedHandler(t *testing.T) {
	b := New(nil)
	var got string
	On(b, AudioInputChange, func(p DevicePayload) { got = p.DeviceID })

	if err := b.Publish(AudioInputChange, DevicePayload{DeviceID: "hw:1,0"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got != "hw:1,0" {
		t.Errorf("expected hw:1,0, got %q", got)
	}
}

func TestNames_AreClassified(t *testing.T) {
	for _, n := range Names(Inbound) {
		if s, _ := Lookup(n); s.Kind != Inbound {
			t.Errorf("%s listed as inbound with kind %d", n, s.Kind)
		}
	}
	if len(Names(Outbound)) == 0 {
		t.Error("expected outbound names")
	}
}
