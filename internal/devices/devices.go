package devices

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"phone_island/native/internal/bus"
	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
)

// Persisted selection keys. Values are {"deviceId": "..."}.
const (
	InputKey  = "phone-island-audio-input-device"
	OutputKey = "phone-island-audio-output-device"

	DefaultDevice = "default"
)

var ErrUnknownDevice = errors.New("unknown device")

type selection struct {
	DeviceID string `json:"deviceId"`
}

// TrackSwapper replaces the capture device under a live outgoing track.
type TrackSwapper interface {
	HasLocalTrack() bool
	ReplaceAudioSource(deviceID string, done func(error))
}

// OutputBinder rebinds the playback output.
type OutputBinder interface {
	SetOutputDevice(id string) error
}

// Manager enumerates audio devices and switches the selected input and output.
type Manager struct {
	media   domain.MediaLayer
	storage domain.Storage
	tracks  TrackSwapper
	output  OutputBinder
	bus     *bus.Bus
	log     *logrus.Entry

	mu       sync.Mutex
	input    string
	outputID string
	inputs   []domain.Device
	outputs  []domain.Device

	unsubs []func()
}

func New(media domain.MediaLayer, storage domain.Storage, tracks TrackSwapper, output OutputBinder, b *bus.Bus, log *logrus.Entry) *Manager {
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{
		media:    media,
		storage:  storage,
		tracks:   tracks,
		output:   output,
		bus:      b,
		log:      log,
		input:    DefaultDevice,
		outputID: DefaultDevice,
	}
}

// Start restores the persisted selection, binds the saved output, publishes
// the current device list and subscribes to the change events.
func (m *Manager) Start() {
	if id, ok := m.load(InputKey); ok {
		m.mu.Lock()
		m.input = id
		m.mu.Unlock()
	}
	if id, ok := m.load(OutputKey); ok {
		if err := m.output.SetOutputDevice(id); err != nil {
			m.log.Warnf("restore output %s: %v", id, err)
		} else {
			m.mu.Lock()
			m.outputID = id
			m.mu.Unlock()
		}
	}
	m.log.Infof("input %s, output %s", m.Input(), m.Output())

	if err := m.Refresh(); err != nil {
		m.log.Warnf("enumerate devices: %v", err)
	}

	m.unsubs = append(m.unsubs,
		bus.On(m.bus, bus.AudioInputChange, func(p bus.DevicePayload) {
			m.SwitchInput(p.DeviceID, nil)
		}),
		bus.On(m.bus, bus.AudioOutputChange, func(p bus.DevicePayload) {
			if err := m.SwitchOutput(p.DeviceID); err != nil {
				m.log.Warnf("switch output: %v", err)
			}
		}),
	)
}

// Watch republishes the device list on every topology change until ctx ends.
func (m *Manager) Watch(ctx context.Context) error {
	return m.media.WatchDevices(ctx, func() {
		if err := m.Refresh(); err != nil {
			m.log.Warnf("enumerate devices: %v", err)
		}
	})
}

func (m *Manager) Close() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}

func (m *Manager) load(key string) (string, bool) {
	var sel selection
	ok, err := m.storage.GetJSON(key, &sel)
	if err != nil {
		m.log.Warnf("read %s: %v", key, err)
		return "", false
	}
	if !ok || sel.DeviceID == "" {
		return "", false
	}
	return sel.DeviceID, true
}

// Refresh enumerates the devices and publishes the list.
func (m *Manager) Refresh() error {
	devices, err := m.media.EnumerateDevices()
	if err != nil {
		return err
	}
	var inputs, outputs []domain.Device
	for _, d := range devices {
		switch d.Kind {
		case domain.AudioInput:
			inputs = append(inputs, d)
		case domain.AudioOutput:
			outputs = append(outputs, d)
		}
	}

	m.mu.Lock()
	m.inputs, m.outputs = inputs, outputs
	m.mu.Unlock()

	m.log.Debugf("%d input(s), %d output(s)", len(inputs), len(outputs))
	m.bus.Emit(bus.DevicesUpdated, bus.DevicesPayload{Inputs: inputs, Outputs: outputs})
	return nil
}

// Devices returns the last enumerated inputs and outputs.
func (m *Manager) Devices() (inputs, outputs []domain.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Device(nil), m.inputs...), append([]domain.Device(nil), m.outputs...)
}

// Input is the selected capture device.
func (m *Manager) Input() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input
}

// Output is the selected playback device.
func (m *Manager) Output() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputID
}

// SwitchInput selects a new capture device. With a live outgoing track the
// selection only changes once the transport confirms the swap. done, if not
// nil, receives the outcome.
func (m *Manager) SwitchInput(id string, done func(error)) {
	finish := func(err error) {
		if done != nil {
			done(err)
		}
	}

	if !m.known(domain.AudioInput, id) {
		m.log.Warnf("switch input: unknown device %q", id)
		finish(fmt.Errorf("%w: input %q", ErrUnknownDevice, id))
		return
	}
	if m.tracks != nil && m.tracks.HasLocalTrack() {
		m.tracks.ReplaceAudioSource(id, func(err error) {
			if err != nil {
				m.log.Warnf("replace audio source with %s: %v, keeping %s", id, err, m.Input())
				finish(err)
				return
			}
			finish(m.commitInput(id))
		})
		return
	}
	finish(m.commitInput(id))
}

// known reports whether id is the default device or one of the enumerated
// devices of kind. An unseen id triggers one re-enumeration.
func (m *Manager) known(kind domain.DeviceKind, id string) bool {
	if id == DefaultDevice {
		return true
	}
	if m.listed(kind, id) {
		return true
	}
	if err := m.Refresh(); err != nil {
		m.log.Warnf("enumerate devices: %v", err)
		return false
	}
	return m.listed(kind, id)
}

func (m *Manager) listed(kind domain.DeviceKind, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.inputs
	if kind == domain.AudioOutput {
		list = m.outputs
	}
	for _, d := range list {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (m *Manager) commitInput(id string) error {
	if err := m.storage.SetJSON(InputKey, selection{DeviceID: id}); err != nil {
		return fmt.Errorf("persist input: %w", err)
	}
	m.mu.Lock()
	m.input = id
	m.mu.Unlock()

	m.log.Infof("input switched to %s", id)
	m.bus.Emit(bus.AudioInputSwitched, bus.DevicePayload{DeviceID: id})
	return nil
}

// SwitchOutput rebinds the playback output and persists the selection on
// success.
func (m *Manager) SwitchOutput(id string) error {
	if !m.known(domain.AudioOutput, id) {
		return fmt.Errorf("%w: output %q", ErrUnknownDevice, id)
	}
	if err := m.output.SetOutputDevice(id); err != nil {
		return err
	}
	if err := m.storage.SetJSON(OutputKey, selection{DeviceID: id}); err != nil {
		return fmt.Errorf("persist output: %w", err)
	}
	m.mu.Lock()
	m.outputID = id
	m.mu.Unlock()

	m.log.Infof("output switched to %s", id)
	m.bus.Emit(bus.AudioOutputSwitched, bus.DevicePayload{DeviceID: id})
	return nil
}
