package domain

import (
	"encoding/json"
	"time"
)

// Direction of a call relative to the local extension.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// CapabilityKind tells which path carries control actions for a call.
type CapabilityKind int

const (
	CapabilityNone CapabilityKind = iota
	// CapabilityManaged: the call runs over the WebRTC transport of this process.
	CapabilityManaged
	// CapabilityPhysical: the call is anchored on another device of the user
	// and is driven through the PBX API.
	CapabilityPhysical
)

// Capability describes where the live call is hosted.
type Capability struct {
	Kind     CapabilityKind
	DeviceID string
}

// Managed returns the capability of a call hosted on the WebRTC transport.
func Managed() Capability { return Capability{Kind: CapabilityManaged} }

// Physical returns the capability of a call hosted on the given device.
func Physical(deviceID string) Capability {
	return Capability{Kind: CapabilityPhysical, DeviceID: deviceID}
}

func (c Capability) IsManaged() bool  { return c.Kind == CapabilityManaged }
func (c Capability) IsPhysical() bool { return c.Kind == CapabilityPhysical }

func (c Capability) String() string {
	switch c.Kind {
	case CapabilityManaged:
		return "webrtc"
	case CapabilityPhysical:
		return "physical:" + c.DeviceID
	default:
		return "none"
	}
}

// Session is one logical phone call. The zero value is the empty session.
type Session struct {
	ID           string
	Number       string
	Direction    Direction
	Accepted     bool
	Muted        bool
	Paused       bool
	Parked       bool
	Transferring bool
	Capability   Capability
	StartedAt    time.Time
}

// Live reports whether the session represents an active call.
func (s Session) Live() bool { return s.ID != "" }

func (s Session) Outgoing() bool { return s.Direction == DirectionOutgoing }

// Source is a playable audio source: a WAV container held in memory.
type Source struct {
	Name     string
	Data     []byte
	Duration time.Duration
}

// DeviceKind is the direction of an audio device.
type DeviceKind string

const (
	AudioInput  DeviceKind = "audioinput"
	AudioOutput DeviceKind = "audiooutput"
)

// Device is an audio device reported by the media layer.
type Device struct {
	ID    string     `json:"deviceId"`
	Label string     `json:"label"`
	Kind  DeviceKind `json:"kind"`
}

// Notification is a message on the notification channel.
type Notification struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
