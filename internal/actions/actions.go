package actions

import (
	"context"
	"errors"
	"fmt"
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
	ErrNoSession = errors.New("no active call")
	// ErrNotManaged is returned for track actions on a call hosted on another device.
	ErrNotManaged = errors.New("call is not hosted on this transport")
	ErrInvalidKey = errors.New("invalid keypad key")
)

const (
	// CancelStepDelay separates the tones of a transfer cancel, and the second
	// tone from clearing the transferring flag.
	CancelStepDelay = 500 * time.Millisecond

	requestTimeout = 10 * time.Second

	outgoingRingtone = "outgoing_ringtone"
)

// Track is the part of the signaling transport that drives the local media leg.
type Track interface {
	SetMuted(muted bool) error
	Hold() error
	Unhold() error
	SendTone(digit rune) error
}

// Feedback plays local audio feedback.
type Feedback interface {
	Playing() bool
	PlayNamed(name string, loop bool) error
	Stop()
}

// Controller runs the in-call actions. Every action reads the capability of
// the current session to decide which path carries it.
type Controller struct {
	store    *store.Store
	bus      *bus.Bus
	track    Track
	pbx      domain.PBX
	feedback Feedback
	clock    clock.Clock
	// localDevice is the PBX device id of the WebRTC extension.
	localDevice string
	log         *logrus.Entry

	mu     sync.Mutex
	nextID int
	timers map[string]map[int]clock.Timer
	unsubs []func()
}

func New(st *store.Store, b *bus.Bus, track Track, pbx domain.PBX, feedback Feedback, clk clock.Clock, localDevice string, log *logrus.Entry) *Controller {
	if log == nil {
		log = logging.Discard()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Controller{
		store:       st,
		bus:         b,
		track:       track,
		pbx:         pbx,
		feedback:    feedback,
		clock:       clk,
		localDevice: localDevice,
		log:         log,
		timers:      make(map[string]map[int]clock.Timer),
	}
}

// Bind subscribes the controller to the inbound action events.
func (c *Controller) Bind() {
	handle := func(name bus.Name, action func() error) {
		c.unsubs = append(c.unsubs, c.bus.Subscribe(name, func(any) {
			if err := action(); err != nil {
				c.log.Warnf("%s: %v", name, err)
			}
		}))
	}
	handle(bus.CallMute, c.Mute)
	handle(bus.CallUnmute, c.Unmute)
	handle(bus.CallHold, c.Hold)
	handle(bus.CallUnhold, c.Unhold)
	handle(bus.CallPark, c.Park)
	handle(bus.CallKeypadOpen, c.OpenKeypad)
	handle(bus.CallKeypadClose, c.CloseKeypad)
	handle(bus.CallTransferOpen, c.OpenTransfer)
	handle(bus.CallTransferClose, c.CloseTransfer)
	handle(bus.CallTransferCancel, c.CancelTransfer)
	handle(bus.CallActionsOpen, func() error { c.SetActionsExpanded(true); return nil })
	handle(bus.CallActionsClose, func() error { c.SetActionsExpanded(false); return nil })

	c.unsubs = append(c.unsubs,
		bus.On(c.bus, bus.TransferCall, func(p bus.TransferPayload) {
			if err := c.Transfer(p.To); err != nil {
				c.log.Warnf("transfer to %s: %v", p.To, err)
			}
		}),
		bus.On(c.bus, bus.CallKeypadSend, func(p bus.KeypadPayload) {
			if err := c.SendKeypad(p.Key); err != nil {
				c.log.Warnf("keypad %q: %v", p.Key, err)
			}
		}),
		bus.On(c.bus, bus.ThemeChange, func(p bus.ThemePayload) {
			c.store.UpdateIsland(store.IslandPatch{Theme: store.String(p.SelectedTheme)})
			c.bus.Emit(bus.ThemeChanged, p)
		}),
		c.store.Subscribe(func(slice store.Slice) {
			if slice == store.SliceCall {
				c.dropStaleTimers(c.store.Call().ID)
			}
		}),
	)
}

// Close cancels every pending timed step and removes the subscriptions.
func (c *Controller) Close() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	c.dropStaleTimers("")
}

func (c *Controller) session() (domain.Session, error) {
	s := c.store.Call()
	if !s.Live() {
		return s, ErrNoSession
	}
	return s, nil
}

func (c *Controller) managedSession() (domain.Session, error) {
	s, err := c.session()
	if err != nil {
		return s, err
	}
	if !s.Capability.IsManaged() {
		return s, fmt.Errorf("%w (%s)", ErrNotManaged, s.Capability)
	}
	return s, nil
}

func (c *Controller) Mute() error   { return c.setMuted(true) }
func (c *Controller) Unmute() error { return c.setMuted(false) }

func (c *Controller) setMuted(muted bool) error {
	s, err := c.managedSession()
	if err != nil {
		return err
	}
	if s.Muted != muted {
		if err := c.track.SetMuted(muted); err != nil {
			return fmt.Errorf("set muted: %w", err)
		}
		c.store.UpdateCall(store.CallPatch{Muted: store.Bool(muted)})
	}
	if muted {
		c.bus.Emit(bus.CallMuted, nil)
	} else {
		c.bus.Emit(bus.CallUnmuted, nil)
	}
	return nil
}

func (c *Controller) Hold() error   { return c.setPaused(true) }
func (c *Controller) Unhold() error { return c.setPaused(false) }

func (c *Controller) setPaused(paused bool) error {
	s, err := c.managedSession()
	if err != nil {
		return err
	}
	if s.Paused != paused {
		signal := c.track.Unhold
		if paused {
			signal = c.track.Hold
		}
		if err := signal(); err != nil {
			return fmt.Errorf("hold: %w", err)
		}
		c.store.UpdateCall(store.CallPatch{Paused: store.Bool(paused)})
	}
	if paused {
		c.bus.Emit(bus.CallHeld, nil)
	} else {
		c.bus.Emit(bus.CallUnheld, nil)
	}
	return nil
}

// Park asks the PBX to park the call. The parked flag is set when the PBX
// confirms.
func (c *Controller) Park() error {
	s, err := c.session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := c.pbx.Park(ctx, c.device(s)); err != nil {
		return fmt.Errorf("park: %w", err)
	}
	c.bus.Emit(bus.CallParked, nil)
	return nil
}

// Transfer asks the PBX to transfer the call to target. The session ends
// when the PBX confirms.
func (c *Controller) Transfer(target string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	if target == "" {
		return errors.New("empty transfer target")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := c.pbx.Transfer(ctx, c.device(s), target); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	c.bus.Emit(bus.CallTransferred, bus.TransferPayload{To: target})
	return nil
}

// CancelTransfer emulates a transfer cancel with DTMF: "*" now, "1" after
// CancelStepDelay, and the transferring flag is cleared one more
// CancelStepDelay later. Ringback plays in between.
func (c *Controller) CancelTransfer() error {
	s, err := c.session()
	if err != nil {
		return err
	}
	wasTransferring := s.Transferring

	if !c.feedback.Playing() {
		if err := c.feedback.PlayNamed(outgoingRingtone, true); err != nil {
			c.log.Warnf("cancel transfer: ringback: %v", err)
		}
	}
	if err := c.sendTone(s, '*'); err != nil {
		c.log.Warnf("cancel transfer: tone *: %v", err)
	}

	c.schedule(s.ID, CancelStepDelay, func() {
		if err := c.sendTone(c.store.Call(), '1'); err != nil {
			c.log.Warnf("cancel transfer: tone 1: %v", err)
		}
		c.feedback.Stop()
		c.bus.Emit(bus.CallTransferCanceled, nil)

		if wasTransferring {
			c.schedule(s.ID, CancelStepDelay, func() {
				c.store.UpdateCall(store.CallPatch{Transferring: store.Bool(false)})
			})
		}
	})
	return nil
}

// SendKeypad sends one DTMF key on the path of the current call.
func (c *Controller) SendKeypad(key string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	if len(key) != 1 || !strings.ContainsRune("0123456789*#ABCD", rune(key[0])) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if err := c.sendTone(s, rune(key[0])); err != nil {
		return err
	}
	c.bus.Emit(bus.CallKeypadSent, bus.KeypadPayload{Key: key})
	return nil
}

func (c *Controller) sendTone(s domain.Session, digit rune) error {
	switch s.Capability.Kind {
	case domain.CapabilityManaged:
		return c.track.SendTone(digit)
	case domain.CapabilityPhysical:
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return c.pbx.SendDTMF(ctx, s.Capability.DeviceID, digit)
	default:
		return ErrNoSession
	}
}

func (c *Controller) device(s domain.Session) string {
	if s.Capability.IsPhysical() {
		return s.Capability.DeviceID
	}
	return c.localDevice
}

// SetActionsExpanded shows or hides the extra call actions.
func (c *Controller) SetActionsExpanded(expanded bool) {
	c.store.UpdateIsland(store.IslandPatch{ActionsExpanded: store.Bool(expanded)})
	if expanded {
		c.bus.Emit(bus.CallActionsOpened, nil)
	} else {
		c.bus.Emit(bus.CallActionsClosed, nil)
	}
}

func (c *Controller) ToggleActionsExpanded() {
	c.SetActionsExpanded(!c.store.Island().ActionsExpanded)
}

// SetView switches the active view.
func (c *Controller) SetView(v store.View) {
	c.store.UpdateIsland(store.IslandPatch{View: store.ViewOf(v)})
}

func (c *Controller) OpenKeypad() error    { return c.openOverlay(store.ViewKeypad) }
func (c *Controller) OpenTransfer() error  { return c.openOverlay(store.ViewTransfer) }
func (c *Controller) CloseKeypad() error   { return c.closeOverlay(store.ViewKeypad) }
func (c *Controller) CloseTransfer() error { return c.closeOverlay(store.ViewTransfer) }

var overlayEvents = map[store.View][2]bus.Name{
	store.ViewKeypad:   {bus.CallKeypadOpened, bus.CallKeypadClosed},
	store.ViewTransfer: {bus.CallTransferOpened, bus.CallTransferClosed},
}

// openOverlay makes v the only open overlay. Opening the overlay already
// shown closes it.
func (c *Controller) openOverlay(v store.View) error {
	if _, err := c.session(); err != nil {
		return err
	}
	current := c.store.Island().View
	if current == v {
		return c.closeOverlay(v)
	}
	c.SetView(v)
	if events, ok := overlayEvents[current]; ok {
		c.bus.Emit(events[1], nil)
	}
	c.bus.Emit(overlayEvents[v][0], nil)
	return nil
}

func (c *Controller) closeOverlay(v store.View) error {
	if c.store.Island().View != v {
		return nil
	}
	c.SetView(store.ViewCall)
	c.bus.Emit(overlayEvents[v][1], nil)
	return nil
}

// schedule runs f after d unless the session ends first.
func (c *Controller) schedule(sessionID string, d time.Duration, f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.timers[sessionID] == nil {
		c.timers[sessionID] = make(map[int]clock.Timer)
	}
	c.timers[sessionID][id] = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		delete(c.timers[sessionID], id)
		if len(c.timers[sessionID]) == 0 {
			delete(c.timers, sessionID)
		}
		c.mu.Unlock()
		f()
	})
}

// Pending reports the number of scheduled steps of a session.
func (c *Controller) Pending(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers[sessionID])
}

// dropStaleTimers cancels the steps of every session other than keep.
func (c *Controller) dropStaleTimers(keep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, timers := range c.timers {
		if id == keep {
			continue
		}
		for _, t := range timers {
			t.Stop()
		}
		delete(c.timers, id)
	}
}
