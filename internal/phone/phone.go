package phone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"phone_island/native/internal/bus"
	"phone_island/native/internal/clock"
	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
	"phone_island/native/internal/player"
	"phone_island/native/internal/store"
)

var (
	ErrCallActive = errors.New("a call is already active")
	ErrNoCall     = errors.New("no active call")
)

// ConversationEvent is the notification carrying the PBX view of a
// conversation of the user.
const ConversationEvent = "conversation"

type conversation struct {
	Number       string `json:"counterpartNum"`
	Exten        string `json:"exten"`
	Connected    bool   `json:"connected"`
	Transferring bool   `json:"transferring"`
	Parked       bool   `json:"parked"`
}

// Transport is the call-control part of the signaling transport.
type Transport interface {
	Call(ctx context.Context, target string) error
	Answer() error
	Hangup() error
	Decline() error
}

// Feedback plays the ringtones.
type Feedback interface {
	PlayNamed(name string, loop bool) error
	Stop()
}

// Phone runs the call lifecycle. It implements domain.CallHandler.
type Phone struct {
	store     *store.Store
	bus       *bus.Bus
	transport Transport
	feedback  Feedback
	clock     clock.Clock
	exten     string
	log       *logrus.Entry

	mu     sync.Mutex
	unsubs []func()
}

// New creates a Phone for the local extension exten.
func New(st *store.Store, b *bus.Bus, transport Transport, feedback Feedback, clk clock.Clock, exten string, log *logrus.Entry) *Phone {
	if log == nil {
		log = logging.Discard()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Phone{
		store:     st,
		bus:       b,
		transport: transport,
		feedback:  feedback,
		clock:     clk,
		exten:     exten,
		log:       log,
	}
}

// Bind subscribes to the inbound call events.
func (p *Phone) Bind() {
	unsubs := []func(){
		bus.On(p.bus, bus.CallStart, func(pl bus.CallStartPayload) {
			if err := p.Start(context.Background(), pl.Number); err != nil {
				p.log.Warnf("call %s: %v", pl.Number, err)
			}
		}),
		p.bus.Subscribe(bus.CallAnswer, func(any) {
			if err := p.Answer(); err != nil {
				p.log.Warnf("answer: %v", err)
			}
		}),
		p.bus.Subscribe(bus.CallEnd, func(any) {
			if err := p.Hangup(); err != nil {
				p.log.Warnf("hangup: %v", err)
			}
		}),
		bus.On(p.bus, bus.Detach, func(pl bus.DetachPayload) {
			if err := p.Detach(pl.Device); err != nil {
				p.log.Warnf("detach: %v", err)
			}
		}),
	}
	p.mu.Lock()
	p.unsubs = append(p.unsubs, unsubs...)
	p.mu.Unlock()
}

// BindNotifications follows the conversation updates of n.
func (p *Phone) BindNotifications(n domain.NotificationTransport) {
	n.OnMessage(p.onNotification)
}

func (p *Phone) Close() {
	p.mu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// Start places an outgoing call to number.
func (p *Phone) Start(ctx context.Context, number string) error {
	if p.store.Call().Live() {
		return ErrCallActive
	}
	if err := p.transport.Call(ctx, number); err != nil {
		return fmt.Errorf("call %s: %w", number, err)
	}

	p.open(number, domain.DirectionOutgoing)
	if err := p.feedback.PlayNamed(player.OutgoingRingtone, true); err != nil {
		p.log.Warnf("ringback: %v", err)
	}
	p.bus.Emit(bus.CallStarted, bus.CallStartPayload{Number: number})
	return nil
}

func (p *Phone) open(number string, dir domain.Direction) {
	id := uuid.NewString()
	managed := domain.Managed()
	now := p.clock.Now()
	p.store.ResetCall()
	p.store.UpdateCall(store.CallPatch{
		ID:         &id,
		Number:     &number,
		Direction:  &dir,
		Capability: &managed,
		StartedAt:  &now,
	})
	p.log.Infof("%s call %s with %s", dir, id, number)
}

// Answer accepts the incoming call. The session is marked accepted once the
// transport reports the call connected.
func (p *Phone) Answer() error {
	s := p.store.Call()
	if !s.Live() {
		return ErrNoCall
	}
	if s.Outgoing() || s.Accepted {
		return fmt.Errorf("call %s is not waiting for an answer", s.ID)
	}
	p.feedback.Stop()
	return p.transport.Answer()
}

// Hangup ends the current call: hangup once accepted, decline otherwise.
func (p *Phone) Hangup() error {
	s := p.store.Call()
	if !s.Live() {
		return ErrNoCall
	}

	var err error
	if s.Capability.IsManaged() {
		if s.Accepted {
			err = p.transport.Hangup()
		} else {
			err = p.transport.Decline()
		}
	}
	if err != nil {
		p.log.Warnf("end call %s: %v", s.ID, err)
	}
	p.end()
	return nil
}

func (p *Phone) end() {
	p.store.ResetCall()
	p.feedback.Stop()
	p.bus.Emit(bus.CallEnded, nil)
}

// Detach hands the call off to device. Later actions go through the PBX.
func (p *Phone) Detach(device string) error {
	s := p.store.Call()
	if !s.Live() {
		return ErrNoCall
	}
	capability := domain.Physical(device)
	p.store.UpdateCall(store.CallPatch{Capability: &capability})
	p.log.Infof("call %s detached to %s", s.ID, device)
	p.bus.Emit(bus.Detached, bus.DetachPayload{Device: device})
	return nil
}

// CallHandler

func (p *Phone) OnRegistered() {
	p.log.Infof("extension %s ready", p.exten)
}

func (p *Phone) OnIncoming(number string) {
	if p.store.Call().Live() {
		p.log.Warnf("incoming call from %s while a call is active", number)
		return
	}
	p.open(number, domain.DirectionIncoming)
	if err := p.feedback.PlayNamed(player.IncomingRingtone, true); err != nil {
		p.log.Warnf("ringtone: %v", err)
	}
	p.bus.Emit(bus.CallIncoming, bus.CallStartPayload{Number: number})
}

func (p *Phone) OnConnected() {
	s := p.store.Call()
	if !s.Live() || s.Accepted {
		return
	}
	p.store.UpdateCall(store.CallPatch{Accepted: store.Bool(true)})
	p.feedback.Stop()
	p.bus.Emit(bus.CallAnswered, nil)
}

func (p *Phone) OnHangup(reason string) {
	s := p.store.Call()
	if !s.Live() || !s.Capability.IsManaged() {
		return
	}
	p.log.Infof("call %s ended by remote: %s", s.ID, reason)
	p.end()
}

func (p *Phone) OnError(err error) {
	p.log.Warnf("transport: %v", err)
}

func (p *Phone) onNotification(n domain.Notification) {
	if n.Event != ConversationEvent {
		return
	}
	var c conversation
	if err := json.Unmarshal(n.Data, &c); err != nil {
		p.log.Warnf("conversation update: %v", err)
		return
	}

	s := p.store.Call()
	if !s.Live() || c.Number != s.Number {
		return
	}

	switch {
	case s.Capability.IsPhysical() && !c.Connected:
		p.log.Infof("call %s ended on %s", s.ID, s.Capability.DeviceID)
		p.end()
		return
	case s.Capability.IsManaged() && c.Connected && c.Exten != "" && c.Exten != p.exten:
		p.log.Infof("call %s handed off to %s", s.ID, c.Exten)
		p.end()
		return
	}

	var patch store.CallPatch
	changed := false
	if c.Transferring != s.Transferring {
		patch.Transferring = store.Bool(c.Transferring)
		changed = true
	}
	if c.Parked != s.Parked {
		patch.Parked = store.Bool(c.Parked)
		changed = true
	}
	if changed {
		p.store.UpdateCall(patch)
	}
}
