package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
)

const (
	DefaultPCMList = "/proc/asound/pcm"
	DefaultDevDir  = "/dev/snd"

	// Card insertion produces a burst of node events; they are folded into one
	// change notification.
	settleDelay = 250 * time.Millisecond
)

// ALSA enumerates sound devices from the kernel PCM list and watches the
// device directory for hot-plug.
type ALSA struct {
	PCMList string
	DevDir  string
	log     *logrus.Entry
}

func NewALSA(log *logrus.Entry) *ALSA {
	if log == nil {
		log = logging.Discard()
	}
	return &ALSA{PCMList: DefaultPCMList, DevDir: DefaultDevDir, log: log}
}

// EnumerateDevices lists the "default" pair followed by one entry per PCM
// direction of every card.
func (a *ALSA) EnumerateDevices() ([]domain.Device, error) {
	f, err := os.Open(a.PCMList)
	if err != nil {
		return nil, fmt.Errorf("open pcm list: %w", err)
	}
	defer f.Close()

	devices, err := ParsePCMList(f)
	if err != nil {
		return nil, err
	}
	return append([]domain.Device{
		{ID: "default", Label: "Default", Kind: domain.AudioInput},
		{ID: "default", Label: "Default", Kind: domain.AudioOutput},
	}, devices...), nil
}

// ParsePCMList parses lines of the form
//
//	00-00: ALC892 Analog : ALC892 Analog : playback 1 : capture 1
func ParsePCMList(r io.Reader) ([]domain.Device, error) {
	var devices []domain.Device
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 {
			continue
		}
		card, dev, ok := strings.Cut(strings.TrimSpace(fields[0]), "-")
		if !ok {
			continue
		}
		c, err1 := strconv.Atoi(card)
		d, err2 := strconv.Atoi(dev)
		if err1 != nil || err2 != nil {
			continue
		}
		id := fmt.Sprintf("hw:%d,%d", c, d)
		label := strings.TrimSpace(fields[1])

		for _, f := range fields[3:] {
			words := strings.Fields(f)
			if len(words) == 0 {
				continue
			}
			switch words[0] {
			case "playback":
				devices = append(devices, domain.Device{ID: id, Label: label, Kind: domain.AudioOutput})
			case "capture":
				devices = append(devices, domain.Device{ID: id, Label: label, Kind: domain.AudioInput})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read pcm list: %w", err)
	}
	return devices, nil
}

// WatchDevices blocks until ctx ends, calling onChange after device nodes
// appear or disappear.
func (a *ALSA) WatchDevices(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(a.DevDir); err != nil {
		return fmt.Errorf("watch %s: %w", a.DevDir, err)
	}
	a.log.Infof("watching %s for device changes", a.DevDir)

	var (
		mu      sync.Mutex
		pending *time.Timer
	)
	defer func() {
		mu.Lock()
		if pending != nil {
			pending.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			a.log.Debugf("device node %s: %s", event.Op, event.Name)
			mu.Lock()
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(settleDelay, onChange)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log.Warnf("watcher error: %v", err)
		}
	}
}
