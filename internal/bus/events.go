package bus

import "phone_island/native/internal/domain"

// Name identifies an event on the bus.
type Name string

// Kind classifies an event name.
type Kind int

const (
	// Inbound events are control requests from the embedding application.
	Inbound Kind = iota
	// Outbound events confirm a completed state transition.
	Outbound
	// Internal events coordinate components and are not part of the
	// documented surface.
	Internal
)

// Inbound control events.
const (
	CallStart          Name = "phone-island-call-start"
	CallAnswer         Name = "phone-island-call-answer"
	CallEnd            Name = "phone-island-call-end"
	CallMute           Name = "phone-island-call-mute"
	CallUnmute         Name = "phone-island-call-unmute"
	CallHold           Name = "phone-island-call-hold"
	CallUnhold         Name = "phone-island-call-unhold"
	CallPark           Name = "phone-island-call-park"
	CallKeypadOpen     Name = "phone-island-call-keypad-open"
	CallKeypadClose    Name = "phone-island-call-keypad-close"
	CallKeypadSend     Name = "phone-island-call-keypad-send"
	CallTransferOpen   Name = "phone-island-call-transfer-open"
	CallTransferClose  Name = "phone-island-call-transfer-close"
	CallTransferCancel Name = "phone-island-call-transfer-cancel"
	TransferCall       Name = "phone-island-transfer-call"
	CallActionsOpen    Name = "phone-island-call-actions-open"
	CallActionsClose   Name = "phone-island-call-actions-close"
	RecordingOpen      Name = "phone-island-recording-open"
	RecordingStart     Name = "phone-island-recording-start"
	RecordingStop      Name = "phone-island-recording-stop"
	RecordingClose     Name = "phone-island-recording-close"
	AudioPlayerStart   Name = "phone-island-audio-player-start"
	AudioPlayerClose   Name = "phone-island-audio-player-close"
	Detach             Name = "phone-island-detach"
	AudioInputChange   Name = "phone-island-audio-input-change"
	AudioOutputChange  Name = "phone-island-audio-output-change"
	ThemeChange        Name = "phone-island-theme-change"
)

// Outbound confirmation events.
const (
	CallStarted          Name = "phone-island-call-started"
	CallIncoming         Name = "phone-island-call-incoming"
	CallAnswered         Name = "phone-island-call-answered"
	CallEnded            Name = "phone-island-call-ended"
	CallMuted            Name = "phone-island-call-muted"
	CallUnmuted          Name = "phone-island-call-unmuted"
	CallHeld             Name = "phone-island-call-held"
	CallUnheld           Name = "phone-island-call-unheld"
	CallParked           Name = "phone-island-call-parked"
	CallKeypadOpened     Name = "phone-island-call-keypad-opened"
	CallKeypadClosed     Name = "phone-island-call-keypad-closed"
	CallKeypadSent       Name = "phone-island-call-keypad-sent"
	CallTransferOpened   Name = "phone-island-call-transfer-opened"
	CallTransferClosed   Name = "phone-island-call-transfer-closed"
	CallTransferCanceled Name = "phone-island-call-transfer-canceled"
	CallTransferred      Name = "phone-island-call-transferred"
	CallActionsOpened    Name = "phone-island-call-actions-opened"
	CallActionsClosed    Name = "phone-island-call-actions-closed"
	RecordingOpened      Name = "phone-island-recording-opened"
	RecordingStarted     Name = "phone-island-recording-started"
	RecordingStopped     Name = "phone-island-recording-stopped"
	RecordingClosed      Name = "phone-island-recording-closed"
	AudioPlayerStarted   Name = "phone-island-audio-player-started"
	AudioPlayerClosed    Name = "phone-island-audio-player-closed"
	Detached             Name = "phone-island-detached"
	AudioInputSwitched   Name = "phone-island-call-audio-input-switched"
	AudioOutputSwitched  Name = "phone-island-call-audio-output-switched"
	ThemeChanged         Name = "phone-island-theme-changed"
	DevicesUpdated       Name = "phone-island-devices-updated"
)

// Internal coordination events.
const (
	WebRTCOpened    Name = "phone-island-webrtc-opened"
	WebRTCConnected Name = "phone-island-webrtc-connected"
	WebRTCError     Name = "phone-island-webrtc-error"
	SocketConnected Name = "phone-island-socket-connected"
	SocketError     Name = "phone-island-socket-error"
	Wakeup          Name = "phone-island-wakeup"
	Reloaded        Name = "phone-island-reloaded"
)

// Empty is the payload of events that carry no data.
type Empty struct{}

type CallStartPayload struct {
	Number string `json:"number"`
}

type TransferPayload struct {
	To string `json:"to"`
}

type DevicePayload struct {
	DeviceID string `json:"deviceId"`
}

type ThemePayload struct {
	SelectedTheme string `json:"selectedTheme"`
}

type DetachPayload struct {
	Device string `json:"device"`
}

type KeypadPayload struct {
	Key string `json:"key"`
}

type DevicesPayload struct {
	Inputs  []domain.Device `json:"inputs"`
	Outputs []domain.Device `json:"outputs"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Spec describes a registered event name.
type Spec struct {
	Kind Kind
	// Payload is the zero value of the payload type the event carries.
	Payload any
}

var registry = map[Name]Spec{
	CallStart:          {Inbound, CallStartPayload{}},
	CallAnswer:         {Inbound, Empty{}},
	CallEnd:            {Inbound, Empty{}},
	CallMute:           {Inbound, Empty{}},
	CallUnmute:         {Inbound, Empty{}},
	CallHold:           {Inbound, Empty{}},
	CallUnhold:         {Inbound, Empty{}},
	CallPark:           {Inbound, Empty{}},
	CallKeypadOpen:     {Inbound, Empty{}},
	CallKeypadClose:    {Inbound, Empty{}},
	CallKeypadSend:     {Inbound, KeypadPayload{}},
	CallTransferOpen:   {Inbound, Empty{}},
	CallTransferClose:  {Inbound, Empty{}},
	CallTransferCancel: {Inbound, Empty{}},
	TransferCall:       {Inbound, TransferPayload{}},
	CallActionsOpen:    {Inbound, Empty{}},
	CallActionsClose:   {Inbound, Empty{}},
	RecordingOpen:      {Inbound, Empty{}},
	RecordingStart:     {Inbound, Empty{}},
	RecordingStop:      {Inbound, Empty{}},
	RecordingClose:     {Inbound, Empty{}},
	AudioPlayerStart:   {Inbound, Empty{}},
	AudioPlayerClose:   {Inbound, Empty{}},
	Detach:             {Inbound, DetachPayload{}},
	AudioInputChange:   {Inbound, DevicePayload{}},
	AudioOutputChange:  {Inbound, DevicePayload{}},
	ThemeChange:        {Inbound, ThemePayload{}},

	CallStarted:          {Outbound, CallStartPayload{}},
	CallIncoming:         {Outbound, CallStartPayload{}},
	CallAnswered:         {Outbound, Empty{}},
	CallEnded:            {Outbound, Empty{}},
	CallMuted:            {Outbound, Empty{}},
	CallUnmuted:          {Outbound, Empty{}},
	CallHeld:             {Outbound, Empty{}},
	CallUnheld:           {Outbound, Empty{}},
	CallParked:           {Outbound, Empty{}},
	CallKeypadOpened:     {Outbound, Empty{}},
	CallKeypadClosed:     {Outbound, Empty{}},
	CallKeypadSent:       {Outbound, KeypadPayload{}},
	CallTransferOpened:   {Outbound, Empty{}},
	CallTransferClosed:   {Outbound, Empty{}},
	CallTransferCanceled: {Outbound, Empty{}},
	CallTransferred:      {Outbound, TransferPayload{}},
	CallActionsOpened:    {Outbound, Empty{}},
	CallActionsClosed:    {Outbound, Empty{}},
	RecordingOpened:      {Outbound, Empty{}},
	RecordingStarted:     {Outbound, Empty{}},
	RecordingStopped:     {Outbound, Empty{}},
	RecordingClosed:      {Outbound, Empty{}},
	AudioPlayerStarted:   {Outbound, Empty{}},
	AudioPlayerClosed:    {Outbound, Empty{}},
	Detached:             {Outbound, DetachPayload{}},
	AudioInputSwitched:   {Outbound, DevicePayload{}},
	AudioOutputSwitched:  {Outbound, DevicePayload{}},
	ThemeChanged:         {Outbound, ThemePayload{}},
	DevicesUpdated:       {Outbound, DevicesPayload{}},

	WebRTCOpened:    {Internal, Empty{}},
	WebRTCConnected: {Internal, Empty{}},
	WebRTCError:     {Internal, ErrorPayload{}},
	SocketConnected: {Internal, Empty{}},
	SocketError:     {Internal, ErrorPayload{}},
	Wakeup:          {Internal, Empty{}},
	Reloaded:        {Internal, Empty{}},
}

// Lookup returns the registration of name.
func Lookup(name Name) (Spec, bool) {
	s, ok := registry[name]
	return s, ok
}

// Names returns every registered name of the given kind.
func Names(kind Kind) []Name {
	var out []Name
	for n, s := range registry {
		if s.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}
