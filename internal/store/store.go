package store

import (
	"sync"
	"time"

	"phone_island/native/internal/domain"
)

// Slice identifies a top-level part of the store.
type Slice string

const (
	SliceCall     Slice = "call"
	SliceWebRTC   Slice = "webrtc"
	SliceSocket   Slice = "socket"
	SliceRecorder Slice = "recorder"
	SlicePlayer   Slice = "player"
	SliceIsland   Slice = "island"
)

// View is the active overlay of the call UI.
type View string

const (
	ViewNone      View = ""
	ViewCall      View = "call"
	ViewKeypad    View = "keypad"
	ViewTransfer  View = "transfer"
	ViewRecording View = "recording"
	ViewPlayer    View = "player"
	ViewSettings  View = "settings"
)

// TransportState is the readiness of one transport.
type TransportState struct {
	Connected        bool
	Registered       bool
	LastActivity     time.Time
	ReloadInProgress bool
	LocalStream      bool
}

// RecorderState tracks the recording request flags.
type RecorderState struct {
	Recording bool
	Recorded  bool
}

// PlayerState mirrors the shared playback element.
type PlayerState struct {
	Source  *domain.Source
	Playing bool
	Loop    bool
}

// IslandState is the presentation state shared with the embedding UI.
type IslandState struct {
	View            View
	ActionsExpanded bool
	Theme           string
}

// Listener is notified synchronously after a slice changed.
type Listener func(slice Slice)

// Store is the shared state container. Mutation always merges a patch into
// the current slice.
type Store struct {
	mu       sync.RWMutex
	call     domain.Session
	webrtc   TransportState
	socket   TransportState
	recorder RecorderState
	player   PlayerState
	island   IslandState

	lmu       sync.RWMutex
	nextID    int
	listeners map[int]Listener
	order     []int
}

// New returns an empty store.
func New() *Store {
	return &Store{listeners: make(map[int]Listener)}
}

// Subscribe registers a listener and returns the function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.lmu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.order = append(s.order, id)
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		if _, ok := s.listeners[id]; !ok {
			return
		}
		delete(s.listeners, id)
		order := make([]int, 0, len(s.order))
		for _, o := range s.order {
			if o != id {
				order = append(order, o)
			}
		}
		s.order = order
	}
}

func (s *Store) notify(slice Slice) {
	s.lmu.RLock()
	ls := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		ls = append(ls, s.listeners[id])
	}
	s.lmu.RUnlock()

	for _, l := range ls {
		l(slice)
	}
}

func (s *Store) Call() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.call
}

func (s *Store) WebRTC() TransportState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webrtc
}

func (s *Store) Socket() TransportState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.socket
}

func (s *Store) Recorder() RecorderState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recorder
}

func (s *Store) Player() PlayerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.player
}

func (s *Store) Island() IslandState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.island
}

// UpdateCall merges p into the call slice.
func (s *Store) UpdateCall(p CallPatch) {
	s.mu.Lock()
	p.apply(&s.call)
	s.mu.Unlock()
	s.notify(SliceCall)
}

// ResetCall returns the call slice to the empty session.
func (s *Store) ResetCall() {
	s.mu.Lock()
	s.call = domain.Session{}
	s.mu.Unlock()
	s.notify(SliceCall)
}

func (s *Store) UpdateWebRTC(p TransportPatch) {
	s.mu.Lock()
	p.apply(&s.webrtc)
	s.mu.Unlock()
	s.notify(SliceWebRTC)
}

func (s *Store) UpdateSocket(p TransportPatch) {
	s.mu.Lock()
	p.apply(&s.socket)
	s.mu.Unlock()
	s.notify(SliceSocket)
}

func (s *Store) UpdateRecorder(p RecorderPatch) {
	s.mu.Lock()
	p.apply(&s.recorder)
	s.mu.Unlock()
	s.notify(SliceRecorder)
}

func (s *Store) ResetRecorder() {
	s.mu.Lock()
	s.recorder = RecorderState{}
	s.mu.Unlock()
	s.notify(SliceRecorder)
}

func (s *Store) UpdatePlayer(p PlayerPatch) {
	s.mu.Lock()
	p.apply(&s.player)
	s.mu.Unlock()
	s.notify(SlicePlayer)
}

func (s *Store) UpdateIsland(p IslandPatch) {
	s.mu.Lock()
	p.apply(&s.island)
	s.mu.Unlock()
	s.notify(SliceIsland)
}
