package store

import (
	"time"

	"phone_island/native/internal/domain"
)

// Patches carry only the fields a writer owns; nil fields leave the current
// value untouched.

// Bool returns a pointer to v, for building patches.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v, for building patches.
func String(v string) *string { return &v }

// CallPatch updates the current session.
type CallPatch struct {
	ID           *string
	Number       *string
	Direction    *domain.Direction
	Accepted     *bool
	Muted        *bool
	Paused       *bool
	Parked       *bool
	Transferring *bool
	Capability   *domain.Capability
	StartedAt    *time.Time
}

func (p CallPatch) apply(s *domain.Session) {
	if p.ID != nil {
		s.ID = *p.ID
	}
	if p.Number != nil {
		s.Number = *p.Number
	}
	if p.Direction != nil {
		s.Direction = *p.Direction
	}
	if p.Accepted != nil {
		s.Accepted = *p.Accepted
	}
	if p.Muted != nil {
		s.Muted = *p.Muted
	}
	if p.Paused != nil {
		s.Paused = *p.Paused
	}
	if p.Parked != nil {
		s.Parked = *p.Parked
	}
	if p.Transferring != nil {
		s.Transferring = *p.Transferring
	}
	if p.Capability != nil {
		s.Capability = *p.Capability
	}
	if p.StartedAt != nil {
		s.StartedAt = *p.StartedAt
	}
}

// TransportPatch updates the state of one transport.
type TransportPatch struct {
	Connected        *bool
	Registered       *bool
	LastActivity     *time.Time
	ReloadInProgress *bool
	LocalStream      *bool
}

func (p TransportPatch) apply(s *TransportState) {
	if p.Connected != nil {
		s.Connected = *p.Connected
	}
	if p.Registered != nil {
		s.Registered = *p.Registered
	}
	if p.LastActivity != nil {
		s.LastActivity = *p.LastActivity
	}
	if p.ReloadInProgress != nil {
		s.ReloadInProgress = *p.ReloadInProgress
	}
	if p.LocalStream != nil {
		s.LocalStream = *p.LocalStream
	}
}

type RecorderPatch struct {
	Recording *bool
	Recorded  *bool
}

func (p RecorderPatch) apply(s *RecorderState) {
	if p.Recording != nil {
		s.Recording = *p.Recording
	}
	if p.Recorded != nil {
		s.Recorded = *p.Recorded
	}
}

// PlayerPatch updates the player mirror. ClearSource drops the current source.
type PlayerPatch struct {
	Source      *domain.Source
	ClearSource bool
	Playing     *bool
	Loop        *bool
}

func (p PlayerPatch) apply(s *PlayerState) {
	if p.ClearSource {
		s.Source = nil
	}
	if p.Source != nil {
		s.Source = p.Source
	}
	if p.Playing != nil {
		s.Playing = *p.Playing
	}
	if p.Loop != nil {
		s.Loop = *p.Loop
	}
}

type IslandPatch struct {
	View            *View
	ActionsExpanded *bool
	Theme           *string
}

func (p IslandPatch) apply(s *IslandState) {
	if p.View != nil {
		s.View = *p.View
	}
	if p.ActionsExpanded != nil {
		s.ActionsExpanded = *p.ActionsExpanded
	}
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
}

// ViewOf returns a pointer to v, for building island patches.
func ViewOf(v View) *View { return &v }

// Time returns a pointer to v, for building patches.
func Time(v time.Time) *time.Time { return &v }
