package main

import (
	"context"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"phone_island/native/internal/actions"
	"phone_island/native/internal/api"
	"phone_island/native/internal/bus"
	"phone_island/native/internal/config"
	"phone_island/native/internal/control"
	"phone_island/native/internal/devices"
	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
	"phone_island/native/internal/media"
	"phone_island/native/internal/phone"
	"phone_island/native/internal/player"
	"phone_island/native/internal/recorder"
	sigclient "phone_island/native/internal/signal"
	"phone_island/native/internal/sipcall"
	"phone_island/native/internal/socket"
	"phone_island/native/internal/storage"
	"phone_island/native/internal/store"
	"phone_island/native/internal/watchdog"
	"phone_island/native/internal/webrtc"
)

const longHelp = `phoneisland - headless call control for a PBX extension over WebRTC

Control requests are read from stdin and confirmations are written to stdout,
one JSON object per line:

  {"event":"phone-island-call-start","data":{"number":"300"}}
  {"event":"phone-island-call-ended","data":{}}

Environment Variables:
  PHONE_ISLAND_CONFIG    base64 of host:username:token:sipExten:sipSecret (required)
  PHONE_ISLAND_SETTINGS  ini settings file (default phone-island.ini)

Examples:
  # Run with a FIFO driving the control stream
  mkfifo ctl && phoneisland < ctl

  # Dial an extension
  echo '{"event":"phone-island-call-start","data":{"number":"300"}}' | phoneisland`

func main() {
	root := &cobra.Command{
		Use:           "phoneisland",
		Short:         "Headless call control for a PBX extension",
		Long:          longHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Connect and serve the control stream (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	})
	root.AddCommand(devicesCmd())

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "phoneisland: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logs := logging.New(cfg.Logging)
	defer logs.Close()
	log := logs.For("core")
	acc := cfg.Account

	db, err := storage.Open(cfg.StoragePath)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New()
	b := bus.New(logs.For("bus"))

	cmds := &media.Commands{
		Capture:    cfg.CaptureCommand,
		Playback:   cfg.PlaybackCommand,
		SampleRate: cfg.SampleRate,
		Log:        logs.For("media"),
	}
	element := media.NewElement(cmds.OpenPlayback, cfg.SampleRate, logs.For("media"))
	defer element.Close()

	audio := player.New(element, st, b, cfg.SoundDir, logs.For("player"))
	audio.Bind()
	defer audio.Close()

	gatewayURL := "wss://" + acc.HostName + cfg.GatewayPath
	transport := sipcall.New(sipcall.Options{
		NewSignaler: func(h domain.GatewayHandler) domain.Signaler {
			return sigclient.NewClient(gatewayURL, acc, cfg.Keepalive, h, logs.For("signal"))
		},
		NewPeer: func() (domain.Peer, error) {
			p, err := webrtc.NewPeer(cfg.ICEServers, logs.For("webrtc"))
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		Audio:      audioIO{cmds},
		Store:      st,
		Bus:        b,
		RetryDelay: cfg.SocketBackoff,
	}, logs.For("sipcall"))
	defer transport.Close()

	dm := devices.New(media.NewALSA(logs.For("media")), db, transport, audio, b, logs.For("devices"))
	transport.SetDevices(dm)
	defer dm.Close()

	rec := recorder.New(st, b, transport, func(stream domain.CaptureStream) domain.CaptureSink {
		return media.NewSink(stream, cfg.SampleRate)
	}, logs.For("recorder"))
	rec.Bind()
	defer rec.Close()

	ctrl := actions.New(st, b, transport, api.NewClient(acc, logs.For("api")), audio, nil, acc.SIPExten, logs.For("actions"))
	ctrl.Bind()
	defer ctrl.Close()

	ph := phone.New(st, b, transport, audio, nil, acc.SIPExten, logs.For("phone"))
	ph.Bind()
	defer ph.Close()
	transport.SetHandler(ph)

	sock := socket.NewClient("wss://"+acc.HostName+cfg.SocketPath, acc, socket.Options{
		Ping:    cfg.SocketPing,
		Backoff: cfg.SocketBackoff,
	}, st, b, nil, logs.For("socket"))
	ph.BindNotifications(sock)

	wd := watchdog.New(transport, sock, st, b, nil, watchdog.Options{
		Deadline: cfg.InactiveDeadline,
		Schedule: cfg.WakeupSchedule,
	}, logs.For("watchdog"))

	surface, err := control.New(b, os.Stdout, logs.For("control"))
	if err != nil {
		return err
	}
	surface.Bind()
	defer surface.Close()

	dm.Start()

	log.Infof("connecting %s as %s", gatewayURL, acc.SIPExten)
	if err := transport.Start(ctx); err != nil {
		return err
	}
	if err := wd.Start(); err != nil {
		return err
	}
	defer wd.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sock.Run(ctx) })
	g.Go(func() error { return dm.Watch(ctx) })
	g.Go(func() error { return surface.Run(ctx, os.Stdin) })

	err = g.Wait()
	log.Infof("shutting down")
	return err
}

// audioIO adapts the media commands to the transport.
type audioIO struct {
	cmds *media.Commands
}

func (a audioIO) OpenCapture(deviceID string) (sipcall.Capture, error) {
	c, err := a.cmds.OpenCapture(deviceID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a audioIO) OpenPlayback(deviceID string) (io.WriteCloser, error) {
	return a.cmds.OpenPlayback(deviceID)
}
