package store

import (
	"testing"

	"phone_island/native/internal/domain"
)

func TestUpdateCall_MergesPatches(t *testing.T) {
	s := New()
	s.UpdateCall(CallPatch{ID: String("c1"), Muted: Bool(true)})
	s.UpdateCall(CallPatch{Transferring: Bool(true)})

	got := s.Call()
	if got.ID != "c1" || !got.Muted || !got.Transferring {
		t.Errorf("expected merged session, got %+v", got)
	}
}

func TestUpdateCall_ComposesConcurrentWriters(t *testing.T) {
	s := New()
	s.UpdateCall(CallPatch{ID: String("c1")})

	// Two components reacting to the same event each write their own field.
	s.Subscribe(func(slice Slice) {
		if slice == SliceCall && !s.Call().Parked {
			s.UpdateCall(CallPatch{Parked: Bool(true)})
		}
	})
	s.UpdateCall(CallPatch{Paused: Bool(true)})

	got := s.Call()
	if !got.Paused || !got.Parked {
		t.Errorf("expected both writes to survive, got %+v", got)
	}
}

func TestResetCall(t *testing.T) {
	s := New()
	s.UpdateCall(CallPatch{ID: String("c1"), Accepted: Bool(true)})
	s.ResetCall()

	if s.Call().Live() {
		t.Errorf("expected empty session, got %+v", s.Call())
	}
}

func TestSubscribe_NotifiesSliceSynchronously(t *testing.T) {
	s := New()
	var got []Slice
	unsub := s.Subscribe(func(slice Slice) { got = append(got, slice) })

	s.UpdateRecorder(RecorderPatch{Recording: Bool(true)})
	s.UpdateIsland(IslandPatch{View: ViewOf(ViewKeypad)})
	unsub()
	s.UpdatePlayer(PlayerPatch{Playing: Bool(true)})

	if len(got) != 2 || got[0] != SliceRecorder || got[1] != SliceIsland {
		t.Errorf("expected [recorder island], got %v", got)
	}
}

func TestPlayerPatch_ClearSource(t *testing.T) {
	s := New()
	s.UpdatePlayer(PlayerPatch{Source: &domain.Source{Name: "rec"}})
	s.UpdatePlayer(PlayerPatch{ClearSource: true})

	if s.Player().Source != nil {
		t.Error("expected source to be cleared")
	}
}
