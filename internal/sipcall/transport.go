package sipcall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"phone_island/native/internal/bus"
	"phone_island/native/internal/clock"
	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
	"phone_island/native/internal/store"
)

var (
	ErrBusy       = errors.New("a call is already in progress")
	ErrNoCall     = errors.New("no call in progress")
	ErrNoIncoming = errors.New("no incoming call to answer")
	ErrNotReady   = errors.New("signaling not connected")
)

// Capture is a live local capture the transport owns.
type Capture interface {
	domain.CaptureStream
	Stop()
}

// AudioIO opens the local audio legs of a call.
type AudioIO interface {
	OpenCapture(deviceID string) (Capture, error)
	OpenPlayback(deviceID string) (io.WriteCloser, error)
}

// DeviceSelection reports the selected audio devices.
type DeviceSelection interface {
	Input() string
	Output() string
}

// Options wires the collaborators of a Transport.
type Options struct {
	NewSignaler func(h domain.GatewayHandler) domain.Signaler
	NewPeer     func() (domain.Peer, error)
	Audio       AudioIO
	Store       *store.Store
	Bus         *bus.Bus
	Clock       clock.Clock
	// RetryDelay is the pause between reconnection attempts.
	RetryDelay time.Duration
}

// Transport carries one call at a time over the WebRTC gateway. It
// implements domain.SignalingTransport and domain.GatewayHandler.
type Transport struct {
	opts Options
	log  *logrus.Entry

	handler domain.CallHandler
	devices DeviceSelection

	ctx context.Context

	mu                sync.Mutex
	sig               domain.Signaler
	peer              domain.Peer
	capture           Capture
	playback          io.WriteCloser
	pendingOffer      *domain.SDPPayload
	pendingCandidates []domain.ICECandidatePayload
	outgoing          bool
	onRegistered      func()
	swapping          bool
}

// New creates a Transport. Call SetHandler and SetDevices before Start to
// complete the circular dependencies.
func New(opts Options, log *logrus.Entry) *Transport {
	if log == nil {
		log = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 3 * time.Second
	}
	return &Transport{opts: opts, log: log, ctx: context.Background()}
}

func (t *Transport) SetHandler(h domain.CallHandler) { t.handler = h }

func (t *Transport) SetDevices(d DeviceSelection) { t.devices = d }

// Start connects to the gateway and registers the extension.
func (t *Transport) Start(ctx context.Context) error {
	t.ctx = ctx
	sig := t.opts.NewSignaler(t)
	if err := sig.Connect(ctx); err != nil {
		return fmt.Errorf("connect gateway: %w", err)
	}
	t.mu.Lock()
	t.sig = sig
	t.mu.Unlock()

	t.opts.Store.UpdateWebRTC(store.TransportPatch{Connected: store.Bool(true)})
	t.opts.Bus.Emit(bus.WebRTCOpened, nil)

	if err := sig.Register(); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// Close hangs up any call and drops the gateway connection.
func (t *Transport) Close() {
	t.teardown()
	t.mu.Lock()
	sig := t.sig
	t.sig = nil
	t.mu.Unlock()
	if sig != nil {
		sig.Close()
	}
}

func (t *Transport) signaler() (domain.Signaler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sig == nil {
		return nil, ErrNotReady
	}
	return t.sig, nil
}

func (t *Transport) inputDevice() string {
	if t.devices == nil {
		return "default"
	}
	return t.devices.Input()
}

func (t *Transport) outputDevice() string {
	if t.devices == nil {
		return "default"
	}
	return t.devices.Output()
}

// openLeg opens the capture and playback legs and a peer carrying them.
func (t *Transport) openLeg() error {
	capture, err := t.opts.Audio.OpenCapture(t.inputDevice())
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}

	peer, err := t.opts.NewPeer()
	if err != nil {
		capture.Stop()
		return fmt.Errorf("create peer: %w", err)
	}

	playback, err := t.opts.Audio.OpenPlayback(t.outputDevice())
	if err != nil {
		t.log.Warnf("open playback: %v, remote audio dropped", err)
		playback = nil
	}
	peer.SetOnTrack(playback)

	if err := peer.AddAudio(capture); err != nil {
		peer.Close()
		capture.Stop()
		if playback != nil {
			playback.Close()
		}
		return fmt.Errorf("add audio: %w", err)
	}

	peer.SetOnICECandidate(func(c domain.ICECandidatePayload) {
		sig, err := t.signaler()
		if err != nil {
			return
		}
		if err := sig.Trickle(c); err != nil {
			t.log.Warnf("trickle: %v", err)
		}
	})

	t.mu.Lock()
	t.peer = peer
	t.capture = capture
	t.playback = playback
	t.mu.Unlock()

	t.opts.Store.UpdateWebRTC(store.TransportPatch{LocalStream: store.Bool(true)})
	return nil
}

// teardown closes the media legs of the current call, if any.
func (t *Transport) teardown() {
	t.mu.Lock()
	peer, capture, playback := t.peer, t.capture, t.playback
	had := peer != nil || capture != nil
	t.peer, t.capture, t.playback = nil, nil, nil
	t.pendingOffer = nil
	t.pendingCandidates = nil
	t.outgoing = false
	t.mu.Unlock()

	if peer != nil {
		peer.Close()
	}
	if capture != nil {
		capture.Stop()
	}
	if playback != nil {
		playback.Close()
	}
	if had {
		t.opts.Store.UpdateWebRTC(store.TransportPatch{LocalStream: store.Bool(false)})
	}
}

// Call dials target. Remote acceptance arrives through the CallHandler.
func (t *Transport) Call(ctx context.Context, target string) error {
	if t.Busy() {
		return ErrBusy
	}
	sig, err := t.signaler()
	if err != nil {
		return err
	}
	if err := t.openLeg(); err != nil {
		return err
	}

	t.mu.Lock()
	peer := t.peer
	t.outgoing = true
	t.mu.Unlock()

	offer, err := peer.CreateOffer()
	if err != nil {
		t.teardown()
		return err
	}
	if err := ctx.Err(); err != nil {
		t.teardown()
		return err
	}
	if err := sig.Call(target, offer); err != nil {
		t.teardown()
		return fmt.Errorf("call %s: %w", target, err)
	}
	t.log.Infof("calling %s", target)
	return nil
}

// Answer accepts the pending incoming call.
func (t *Transport) Answer() error {
	t.mu.Lock()
	offer := t.pendingOffer
	t.mu.Unlock()
	if offer == nil {
		return ErrNoIncoming
	}
	sig, err := t.signaler()
	if err != nil {
		return err
	}
	if err := t.openLeg(); err != nil {
		return err
	}

	t.mu.Lock()
	peer := t.peer
	candidates := t.pendingCandidates
	t.pendingOffer = nil
	t.pendingCandidates = nil
	t.mu.Unlock()

	for _, c := range candidates {
		t.addCandidate(peer, c)
	}
	answer, err := peer.CreateAnswer(*offer)
	if err != nil {
		t.teardown()
		return err
	}
	if err := sig.Accept(answer); err != nil {
		t.teardown()
		return fmt.Errorf("accept: %w", err)
	}
	return nil
}

func (t *Transport) Hangup() error {
	sig, err := t.signaler()
	t.teardown()
	if err != nil {
		return err
	}
	return sig.Hangup()
}

// Decline rejects the pending incoming call. On an outgoing call that is
// still ringing it cancels the call instead.
func (t *Transport) Decline() error {
	t.mu.Lock()
	outgoing := t.outgoing
	t.mu.Unlock()

	sig, err := t.signaler()
	t.teardown()
	if err != nil {
		return err
	}
	if outgoing {
		return sig.Hangup()
	}
	return sig.Decline()
}

func (t *Transport) Hold() error {
	sig, err := t.signaler()
	if err != nil {
		return err
	}
	return sig.Hold()
}

func (t *Transport) Unhold() error {
	sig, err := t.signaler()
	if err != nil {
		return err
	}
	return sig.Unhold()
}

func (t *Transport) currentPeer() (domain.Peer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peer == nil {
		return nil, ErrNoCall
	}
	return t.peer, nil
}

func (t *Transport) SetMuted(muted bool) error {
	peer, err := t.currentPeer()
	if err != nil {
		return err
	}
	peer.SetMuted(muted)
	return nil
}

func (t *Transport) SendTone(digit rune) error {
	peer, err := t.currentPeer()
	if err != nil {
		return err
	}
	return peer.SendDTMF(digit)
}

// HasLocalTrack reports whether an outgoing audio track is live.
func (t *Transport) HasLocalTrack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peer != nil && t.capture != nil && t.capture.Active()
}

// ReplaceAudioSource opens deviceID and moves the outgoing track onto it. The
// previous capture is stopped only after the swap.
func (t *Transport) ReplaceAudioSource(deviceID string, done func(error)) {
	t.mu.Lock()
	if t.peer == nil {
		t.mu.Unlock()
		done(ErrNoCall)
		return
	}
	if t.swapping {
		t.mu.Unlock()
		done(errors.New("audio source swap already in progress"))
		return
	}
	t.swapping = true
	t.mu.Unlock()

	go func() {
		err := t.swap(deviceID)
		t.mu.Lock()
		t.swapping = false
		t.mu.Unlock()
		done(err)
	}()
}

func (t *Transport) swap(deviceID string) error {
	capture, err := t.opts.Audio.OpenCapture(deviceID)
	if err != nil {
		return fmt.Errorf("open capture %s: %w", deviceID, err)
	}

	t.mu.Lock()
	peer, old := t.peer, t.capture
	if peer == nil {
		t.mu.Unlock()
		capture.Stop()
		return ErrNoCall
	}
	t.capture = capture
	t.mu.Unlock()

	peer.ReplaceSource(capture)
	if old != nil {
		old.Stop()
	}
	t.log.Infof("audio input switched to %s", deviceID)
	return nil
}

// LocalStream returns the capture of the current call while it is active.
func (t *Transport) LocalStream() (domain.CaptureStream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.capture == nil || !t.capture.Active() {
		return nil, false
	}
	return t.capture, true
}

// Busy reports whether a call or a negotiation is in progress.
func (t *Transport) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peer != nil || t.pendingOffer != nil
}

// Reload drops the gateway connection, reconnects and re-registers. done is
// called once the extension is registered again.
func (t *Transport) Reload(done func()) {
	t.mu.Lock()
	old := t.sig
	t.sig = nil
	t.onRegistered = done
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	t.opts.Store.UpdateWebRTC(store.TransportPatch{Connected: store.Bool(false), Registered: store.Bool(false)})

	go t.reconnect()
}

func (t *Transport) reconnect() {
	for attempt := 1; ; attempt++ {
		sig := t.opts.NewSignaler(t)
		err := sig.Connect(t.ctx)
		if err == nil {
			t.mu.Lock()
			t.sig = sig
			t.mu.Unlock()
			t.opts.Store.UpdateWebRTC(store.TransportPatch{Connected: store.Bool(true)})

			if err = sig.Register(); err == nil {
				t.log.Infof("gateway reconnected after %d attempt(s)", attempt)
				return
			}
		}
		t.log.Warnf("reconnect attempt %d: %v", attempt, err)

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(t.opts.RetryDelay):
		}
	}
}

// GatewayHandler

func (t *Transport) OnRegistered() {
	t.log.Infof("extension registered")
	t.opts.Store.UpdateWebRTC(store.TransportPatch{Connected: store.Bool(true), Registered: store.Bool(true)})
	t.opts.Bus.Emit(bus.WebRTCConnected, nil)

	t.mu.Lock()
	done := t.onRegistered
	t.onRegistered = nil
	t.mu.Unlock()
	if done != nil {
		done()
	}
	if t.handler != nil {
		t.handler.OnRegistered()
	}
}

func (t *Transport) OnIncoming(caller string, offer domain.SDPPayload) {
	t.mu.Lock()
	if t.peer != nil || t.pendingOffer != nil {
		t.mu.Unlock()
		t.log.Warnf("incoming call from %s while busy, ignored", caller)
		return
	}
	t.pendingOffer = &offer
	t.mu.Unlock()

	number := sipUser(caller)
	t.log.Infof("incoming call from %s", number)
	if t.handler != nil {
		t.handler.OnIncoming(number)
	}
}

func (t *Transport) OnAccepted(answer *domain.SDPPayload) {
	t.mu.Lock()
	peer, outgoing := t.peer, t.outgoing
	t.mu.Unlock()

	if outgoing && answer != nil && peer != nil {
		if err := peer.SetRemoteDescription(*answer); err != nil {
			t.log.Errorf("apply answer: %v", err)
			t.OnGatewayError(err)
			return
		}
	}
	t.log.Infof("call connected")
	if t.handler != nil {
		t.handler.OnConnected()
	}
}

func (t *Transport) OnHangup(reason string) {
	t.log.Infof("call ended: %s", reason)
	t.teardown()
	if t.handler != nil {
		t.handler.OnHangup(reason)
	}
}

func (t *Transport) OnGatewayError(err error) {
	t.log.Errorf("gateway: %v", err)
	t.opts.Bus.Emit(bus.WebRTCError, bus.ErrorPayload{Error: err.Error()})
	if t.handler != nil {
		t.handler.OnError(err)
	}
}

// OnRemoteCandidate hands a gateway candidate to the peer of the current
// call. Candidates for an incoming call not yet answered are held until the
// peer exists.
func (t *Transport) OnRemoteCandidate(c domain.ICECandidatePayload) {
	t.mu.Lock()
	peer := t.peer
	if peer == nil && t.pendingOffer != nil {
		t.pendingCandidates = append(t.pendingCandidates, c)
	}
	t.mu.Unlock()

	if peer == nil {
		return
	}
	t.addCandidate(peer, c)
}

// addCandidate applies c in the background; the peer holds it until the
// remote description is set.
func (t *Transport) addCandidate(peer domain.Peer, c domain.ICECandidatePayload) {
	go func() {
		if err := peer.AddRemoteICECandidate(c); err != nil {
			t.log.Warnf("remote candidate: %v", err)
		}
	}()
}

func (t *Transport) OnActivity() {
	t.opts.Store.UpdateWebRTC(store.TransportPatch{LastActivity: store.Time(t.opts.Clock.Now())})
}

// sipUser extracts the user part of a SIP URI such as
// "Alice" <sip:300@pbx.example.com>.
func sipUser(uri string) string {
	if i := strings.Index(uri, "sip:"); i >= 0 {
		uri = uri[i+len("sip:"):]
	}
	if i := strings.IndexAny(uri, "@>;"); i >= 0 {
		uri = uri[:i]
	}
	return strings.TrimSpace(uri)
}
