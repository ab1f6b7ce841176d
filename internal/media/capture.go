package media

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/zaf/g711"
	"golang.org/x/sync/errgroup"

	"phone_island/native/internal/logging"
)

// FrameRate is the number of capture frames per second (20ms frames).
const FrameRate = 50

var (
	ErrStreamInactive = errors.New("capture stream inactive")
	ErrBadDeviceID    = errors.New("invalid device id")
)

// Commands runs the platform capture and playback tools. Templates take the
// device id as their only verb, e.g. "arecord -q -D %s -f S16_LE -c 1 -r 8000 -t raw".
type Commands struct {
	Capture    string
	Playback   string
	SampleRate int
	Log        *logrus.Entry
}

func (c *Commands) log() *logrus.Entry {
	if c.Log == nil {
		return logging.Discard()
	}
	return c.Log
}

// command splits template into arguments and substitutes the device id into
// each of them, so the id always stays a single argument.
func command(template, deviceID string) (*exec.Cmd, error) {
	if deviceID == "" || strings.ContainsFunc(deviceID, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) {
		return nil, fmt.Errorf("%w: %q", ErrBadDeviceID, deviceID)
	}
	args := strings.Fields(template)
	if len(args) == 0 {
		return nil, errors.New("empty command template")
	}
	for i, a := range args {
		args[i] = strings.ReplaceAll(a, "%s", deviceID)
	}
	return exec.Command(args[0], args[1:]...), nil
}

// Capture is a running capture process. It reads raw PCM16 from the tool and
// fans out µ-law frames to its subscribers.
type Capture struct {
	DeviceID string

	cmd    *exec.Cmd
	log    *logrus.Entry
	active atomic.Bool
	done   chan struct{}

	mu     sync.Mutex
	nextID int
	subs   map[int]func([]byte)
	order  []int
}

// OpenCapture starts capturing from deviceID.
func (c *Commands) OpenCapture(deviceID string) (*Capture, error) {
	cmd, err := command(c.Capture, deviceID)
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture on %s: %w", deviceID, err)
	}

	capture := &Capture{
		DeviceID: deviceID,
		cmd:      cmd,
		log:      c.log().WithField("device", deviceID),
		done:     make(chan struct{}),
		subs:     make(map[int]func([]byte)),
	}
	capture.active.Store(true)

	frameSize := c.SampleRate / FrameRate * bytesPerSample
	var g errgroup.Group
	g.Go(func() error { return capture.pump(stdout, frameSize) })
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			capture.log.Debugf("capture: %s", scanner.Text())
		}
		return nil
	})
	go func() {
		err := g.Wait()
		if werr := cmd.Wait(); err == nil {
			err = werr
		}
		capture.active.Store(false)
		if err != nil {
			capture.log.Warnf("capture ended: %v", err)
		} else {
			capture.log.Info("capture ended")
		}
		close(capture.done)
	}()

	capture.log.Info("capture started")
	return capture, nil
}

func (c *Capture) pump(r io.Reader, frameSize int) error {
	buf := make([]byte, frameSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read capture: %w", err)
		}
		frame := g711.EncodeUlaw(buf)

		c.mu.Lock()
		handlers := make([]func([]byte), 0, len(c.order))
		for _, id := range c.order {
			handlers = append(handlers, c.subs[id])
		}
		c.mu.Unlock()

		for _, h := range handlers {
			h(frame)
		}
	}
}

func (c *Capture) Active() bool { return c.active.Load() }

// Subscribe registers onFrame for every captured µ-law frame.
func (c *Capture) Subscribe(onFrame func(frame []byte)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = onFrame
	c.order = append(c.order, id)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; !ok {
			return
		}
		delete(c.subs, id)
		order := c.order[:0:0]
		for _, o := range c.order {
			if o != id {
				order = append(order, o)
			}
		}
		c.order = order
	}
}

// Stop terminates the capture process and waits for it to exit.
func (c *Capture) Stop() {
	if c.cmd.Process != nil && c.active.Load() {
		c.cmd.Process.Kill()
	}
	<-c.done
}

// playbackWriter feeds PCM16 to the stdin of a playback process.
type playbackWriter struct {
	io.WriteCloser
	cmd *exec.Cmd
}

func (w *playbackWriter) Close() error {
	err := w.WriteCloser.Close()
	if werr := w.cmd.Wait(); err == nil {
		err = werr
	}
	return err
}

// OpenPlayback starts a playback process on deviceID.
func (c *Commands) OpenPlayback(deviceID string) (io.WriteCloser, error) {
	cmd, err := command(c.Playback, deviceID)
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("playback stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start playback on %s: %w", deviceID, err)
	}
	c.log().Infof("playback opened on %s", deviceID)
	return &playbackWriter{WriteCloser: stdin, cmd: cmd}, nil
}
