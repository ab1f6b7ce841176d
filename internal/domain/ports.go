package domain

import (
	"context"
	"io"
)

// SignalingTransport is the real-time call control channel (WebRTC gateway
// plus the local media leg).
type SignalingTransport interface {
	Call(ctx context.Context, target string) error
	Answer() error
	Hangup() error
	Decline() error
	SendTone(digit rune) error
	SetMuted(muted bool) error
	Hold() error
	Unhold() error
	// HasLocalTrack reports whether an outgoing audio track is live.
	HasLocalTrack() bool
	// ReplaceAudioSource swaps the capture device under the live track and
	// calls done exactly once with the outcome.
	ReplaceAudioSource(deviceID string, done func(error))
	// Busy reports whether a call or a negotiation is in progress.
	Busy() bool
	// Reload re-establishes the transport and calls done once it is ready.
	Reload(done func())
}

// CallHandler receives call-level events from the signaling transport.
type CallHandler interface {
	OnRegistered()
	OnIncoming(number string)
	OnConnected()
	OnHangup(reason string)
	OnError(err error)
}

// NotificationTransport is the duplex notification channel.
type NotificationTransport interface {
	Send(msg Notification) error
	OnMessage(handler func(Notification))
	Reconnect(done func())
}

// PBX drives calls through the PBX API. It is the control path for calls
// anchored on a physical device.
type PBX interface {
	SendDTMF(ctx context.Context, deviceID string, tone rune) error
	Park(ctx context.Context, deviceID string) error
	Transfer(ctx context.Context, deviceID, to string) error
}

// Storage is durable JSON key/value storage.
type Storage interface {
	// GetJSON decodes the value stored at key into v and reports whether it existed.
	GetJSON(key string, v any) (bool, error)
	SetJSON(key string, v any) error
}

// MediaLayer enumerates platform audio devices.
type MediaLayer interface {
	EnumerateDevices() ([]Device, error)
	// WatchDevices calls onChange on every device topology change until ctx ends.
	WatchDevices(ctx context.Context, onChange func()) error
}

// CaptureStream is a live local audio capture producing µ-law frames.
type CaptureStream interface {
	Active() bool
	Subscribe(onFrame func(frame []byte)) (unsubscribe func())
}

// StreamProvider exposes the capture stream of the current call, if any.
type StreamProvider interface {
	LocalStream() (CaptureStream, bool)
}

// CaptureSink records a capture stream into chunked binary output.
type CaptureSink interface {
	Start(onData func(chunk []byte), onStop func()) error
	Stop()
}

// PlaybackElement is the single audio output element of the process.
type PlaybackElement interface {
	SetSource(src Source) error
	Play() error
	Pause()
	Rewind()
	SetLoop(loop bool)
	Paused() bool
	SetSinkID(id string) error
	// SetOnEnded registers f to run when a non-looping source plays out.
	SetOnEnded(f func())
}

// Peer manages the WebRTC peer connection of one call.
type Peer interface {
	AddAudio(source CaptureStream) error
	SetOnTrack(audioOut io.Writer)
	SetOnICECandidate(send func(candidate ICECandidatePayload))
	CreateOffer() (string, error)
	CreateAnswer(offer SDPPayload) (string, error)
	SetRemoteDescription(sdp SDPPayload) error
	// AddRemoteICECandidate applies a remote candidate once the remote
	// description is set.
	AddRemoteICECandidate(candidate ICECandidatePayload) error
	SetMuted(muted bool)
	ReplaceSource(source CaptureStream)
	SendDTMF(digit rune) error
	Close()
}

// Signaler manages the gateway signaling connection.
type Signaler interface {
	Connect(ctx context.Context) error
	Register() error
	Call(target, offer string) error
	Trickle(candidate ICECandidatePayload) error
	Accept(answer string) error
	Decline() error
	Hangup() error
	Hold() error
	Unhold() error
	Close()
}

// GatewayHandler receives gateway signaling events.
type GatewayHandler interface {
	OnRegistered()
	OnIncoming(caller string, offer SDPPayload)
	OnAccepted(answer *SDPPayload)
	OnHangup(reason string)
	OnGatewayError(err error)
	// OnRemoteCandidate delivers an ICE candidate trickled by the gateway.
	OnRemoteCandidate(candidate ICECandidatePayload)
	OnActivity()
}
