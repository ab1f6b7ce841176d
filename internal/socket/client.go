package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"phone_island/native/internal/bus"
	"phone_island/native/internal/clock"
	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
	"phone_island/native/internal/store"
)

// Reserved notification events.
const (
	EventLogin        = "login"
	EventAuthOK       = "authe_ok"
	EventUnauthorized = "401"
)

var ErrNotConnected = errors.New("notification socket not connected")

type loginData struct {
	AccessKeyID string `json:"accessKeyId"`
	Token       string `json:"token"`
	UAType      string `json:"uaType"`
}

// Options tunes the connection.
type Options struct {
	// Ping is the websocket ping interval. Zero disables pings.
	Ping time.Duration
	// Backoff is the pause before redialing after a failure.
	Backoff time.Duration
}

// Client is the duplex notification channel. It keeps one authenticated
// websocket open, redialing after failures.
type Client struct {
	url     string
	account domain.Account
	opts    Options
	st      *store.Store
	bus     *bus.Bus
	clk     clock.Clock
	log     *logrus.Entry

	wmu  sync.Mutex
	conn *websocket.Conn

	mu         sync.Mutex
	handlers   []func(domain.Notification)
	reconnects []func()
	kick       chan struct{}
}

// NewClient creates a notification client for account at url
// (e.g. wss://pbx.example.com/socket).
func NewClient(url string, account domain.Account, opts Options, st *store.Store, b *bus.Bus, clk clock.Clock, log *logrus.Entry) *Client {
	if log == nil {
		log = logging.Discard()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 3 * time.Second
	}
	return &Client{
		url:     url,
		account: account,
		opts:    opts,
		st:      st,
		bus:     b,
		clk:     clk,
		log:     log,
		kick:    make(chan struct{}, 1),
	}
}

// OnMessage registers handler for every notification other than the
// login handshake.
func (c *Client) OnMessage(handler func(domain.Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Send writes msg on the current connection.
func (c *Client) Send(msg domain.Notification) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Event, err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.log.Tracef(">>> %s", string(data))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Event, err)
	}
	return nil
}

// Reconnect drops the current connection and dials again. done is called
// once the new connection is authenticated.
func (c *Client) Reconnect(done func()) {
	c.mu.Lock()
	if done != nil {
		c.reconnects = append(c.reconnects, done)
	}
	c.mu.Unlock()

	c.st.UpdateSocket(store.TransportPatch{Connected: store.Bool(false)})
	select {
	case c.kick <- struct{}{}:
	default:
	}

	c.wmu.Lock()
	conn := c.conn
	c.wmu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Run keeps the socket connected until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		kicked := false
		select {
		case <-c.kick:
			kicked = true
		default:
		}
		if kicked {
			c.log.Infof("reconnecting")
			continue
		}

		c.log.Warnf("connection lost: %v", err)
		c.st.UpdateSocket(store.TransportPatch{Connected: store.Bool(false)})
		c.bus.Emit(bus.SocketError, bus.ErrorPayload{Error: err.Error()})

		select {
		case <-ctx.Done():
			return nil
		case <-c.kick:
		case <-time.After(c.opts.Backoff):
		}
	}
}

// session dials, logs in and reads until the connection fails.
func (c *Client) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.wmu.Lock()
	c.conn = conn
	c.wmu.Unlock()
	defer func() {
		c.wmu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.wmu.Unlock()
		conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	go c.pingLoop(conn, stop)

	login, _ := json.Marshal(loginData{AccessKeyID: c.account.Username, Token: c.account.Token, UAType: "desktop"})
	if err := c.Send(domain.Notification{Event: EventLogin, Data: login}); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.log.Tracef("<<< %s", string(data))
		c.touch()

		var msg domain.Notification
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warnf("unmarshal error: %v", err)
			continue
		}
		if err := c.dispatch(msg); err != nil {
			return err
		}
	}
}

func (c *Client) dispatch(msg domain.Notification) error {
	switch msg.Event {
	case EventAuthOK:
		c.log.Infof("authenticated as %s", c.account.Username)
		c.st.UpdateSocket(store.TransportPatch{Connected: store.Bool(true)})
		c.bus.Emit(bus.SocketConnected, nil)

		c.mu.Lock()
		dones := c.reconnects
		c.reconnects = nil
		c.mu.Unlock()
		for _, done := range dones {
			done()
		}
		return nil

	case EventUnauthorized:
		return errors.New("login rejected")
	}

	c.mu.Lock()
	handlers := append([]func(domain.Notification){}, c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (c *Client) touch() {
	c.st.UpdateSocket(store.TransportPatch{LastActivity: store.Time(c.clk.Now())})
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	if c.opts.Ping <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.Ping)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.wmu.Lock()
			err := conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(5*time.Second),
			)
			c.wmu.Unlock()
			if err != nil {
				select {
				case <-stop:
				default:
					c.log.Warnf("ping error: %v", err)
				}
				return
			}
		}
	}
}
