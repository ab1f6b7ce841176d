package watchdog

import (
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"phone_island/native/internal/bus"
	"phone_island/native/internal/clock"
	"phone_island/native/internal/logging"
	"phone_island/native/internal/store"
)

// Signaling is the transport whose inactivity is watched.
type Signaling interface {
	Busy() bool
	Reload(done func())
}

// Notification is the second transport reloaded by a wake cycle.
type Notification interface {
	Reconnect(done func())
}

// State of the watchdog.
type State int

const (
	Idle State = iota
	WakeRequested
	Reloading
)

func (s State) String() string {
	switch s {
	case WakeRequested:
		return "wake-requested"
	case Reloading:
		return "reloading"
	default:
		return "idle"
	}
}

// Decision is the outcome of the inactivity policy.
type Decision int

const (
	// NoActionRecent: activity within the deadline.
	NoActionRecent Decision = iota
	// NoActionBusy: inactive, but a call or negotiation is in progress.
	NoActionBusy
	Reload
)

// Gate is the readiness join of a reload cycle. It closes only once both
// transports reported ready for the same cycle.
type Gate struct {
	Requested         bool
	SignalingReady    bool
	NotificationReady bool
	Cycle             uint64
}

// Closed reports whether no reload is pending.
func (g Gate) Closed() bool { return !g.Requested }

type Options struct {
	Deadline time.Duration
	Schedule string
}

// Watchdog forces a reload of both transports after signaling inactivity.
type Watchdog struct {
	signaling    Signaling
	notification Notification
	store        *store.Store
	bus          *bus.Bus
	clock        clock.Clock
	opts         Options
	log          *logrus.Entry

	mu    sync.Mutex
	state State
	gate  Gate

	cron   *cronlib.Cron
	unsubs []func()
}

func New(sig Signaling, notif Notification, st *store.Store, b *bus.Bus, clk clock.Clock, opts Options, log *logrus.Entry) *Watchdog {
	if log == nil {
		log = logging.Discard()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 60 * time.Second
	}
	if opts.Schedule == "" {
		opts.Schedule = "@every 30s"
	}
	return &Watchdog{
		signaling:    sig,
		notification: notif,
		store:        st,
		bus:          b,
		clock:        clk,
		opts:         opts,
		log:          log,
	}
}

// Start schedules the wakeup job and subscribes to the wakeup event. The job
// runs on the scheduler's own goroutine.
func (w *Watchdog) Start() error {
	w.cron = cronlib.New()
	if _, err := w.cron.AddFunc(w.opts.Schedule, w.Wakeup); err != nil {
		return fmt.Errorf("schedule wakeup %q: %w", w.opts.Schedule, err)
	}
	w.cron.Start()
	w.unsubs = append(w.unsubs, w.bus.Subscribe(bus.Wakeup, func(any) { w.Wakeup() }))
	w.log.Infof("wakeup scheduled %s, deadline %v", w.opts.Schedule, w.opts.Deadline)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (w *Watchdog) Stop() {
	for _, unsub := range w.unsubs {
		unsub()
	}
	w.unsubs = nil
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watchdog) Gate() Gate {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gate
}

// Check applies the inactivity policy at now.
func (w *Watchdog) Check(now time.Time) Decision {
	last := w.store.WebRTC().LastActivity
	elapsed := now.Sub(last)
	if last.IsZero() {
		elapsed = now.Sub(time.Unix(0, 0))
	}
	deadline := w.opts.Deadline

	switch {
	case elapsed > deadline && !w.signaling.Busy():
		w.log.Debugf("signaling inactive for %d sec (> deadline: %d): force reactivation",
			int(elapsed.Seconds()), int(deadline.Seconds()))
		return Reload
	case elapsed > deadline:
		w.log.Debug("signaling is in conversation: no reactivation")
		return NoActionBusy
	default:
		w.log.Debugf("signaling last activity detected %d sec ago (< deadline: %d): no reactivation",
			int(elapsed.Seconds()), int(deadline.Seconds()))
		return NoActionRecent
	}
}

// Wakeup requests a wake cycle. The cycle reloads both transports when the
// inactivity policy allows it and is abandoned otherwise.
func (w *Watchdog) Wakeup() {
	w.mu.Lock()
	if w.state != Idle {
		w.mu.Unlock()
		w.log.Debugf("wakeup ignored while %s", w.state)
		return
	}
	w.state = WakeRequested
	w.gate.Requested = true
	w.mu.Unlock()

	if w.Check(w.clock.Now()) != Reload {
		w.mu.Lock()
		w.state = Idle
		w.gate.Requested = false
		w.mu.Unlock()
		return
	}
	w.reload()
}

func (w *Watchdog) reload() {
	w.mu.Lock()
	w.gate.Cycle++
	cycle := w.gate.Cycle
	w.gate.SignalingReady = false
	w.gate.NotificationReady = false
	w.state = Reloading
	w.mu.Unlock()

	w.log.Infof("reload cycle %d started", cycle)
	w.store.UpdateWebRTC(store.TransportPatch{ReloadInProgress: store.Bool(true)})
	w.store.UpdateSocket(store.TransportPatch{ReloadInProgress: store.Bool(true)})

	w.signaling.Reload(func() { w.ready(cycle, true) })
	w.notification.Reconnect(func() { w.ready(cycle, false) })
}

func (w *Watchdog) ready(cycle uint64, signaling bool) {
	name := "notification"
	if signaling {
		name = "signaling"
	}

	w.mu.Lock()
	if w.state != Reloading || cycle != w.gate.Cycle {
		w.mu.Unlock()
		w.log.Debugf("stale %s readiness for cycle %d ignored", name, cycle)
		return
	}
	if signaling {
		if w.gate.SignalingReady {
			w.mu.Unlock()
			return
		}
		w.gate.SignalingReady = true
	} else {
		if w.gate.NotificationReady {
			w.mu.Unlock()
			return
		}
		w.gate.NotificationReady = true
	}
	if !w.gate.SignalingReady || !w.gate.NotificationReady {
		w.mu.Unlock()
		w.log.Debugf("%s ready, waiting for the other transport", name)
		return
	}
	w.gate.Requested = false
	w.state = Idle
	w.mu.Unlock()

	w.store.UpdateWebRTC(store.TransportPatch{
		ReloadInProgress: store.Bool(false),
		LastActivity:     store.Time(w.clock.Now()),
	})
	w.store.UpdateSocket(store.TransportPatch{ReloadInProgress: store.Bool(false)})
	w.log.Infof("reload cycle %d completed", cycle)
	w.bus.Emit(bus.Reloaded, nil)
}
