package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
)

const (
	plugin      = "janus.plugin.sip"
	subprotocol = "janus-protocol"

	requestTimeout = 10 * time.Second
)

var ErrClosed = errors.New("signaling connection closed")

// message is the gateway message envelope.
type message struct {
	Janus       string             `json:"janus"`
	Transaction string             `json:"transaction,omitempty"`
	SessionID   int64              `json:"session_id,omitempty"`
	HandleID    int64              `json:"handle_id,omitempty"`
	Sender      int64              `json:"sender,omitempty"`
	Plugin      string             `json:"plugin,omitempty"`
	Body        *body              `json:"body,omitempty"`
	JSEP        *domain.SDPPayload `json:"jsep,omitempty"`
	Candidate   any                `json:"candidate,omitempty"`
	Data        *idData            `json:"data,omitempty"`
	Error       *gatewayError      `json:"error,omitempty"`
	PluginData  *pluginData        `json:"plugindata,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// body is the SIP plugin request.
type body struct {
	Request  string `json:"request"`
	Username string `json:"username,omitempty"`
	Secret   string `json:"secret,omitempty"`
	Proxy    string `json:"proxy,omitempty"`
	URI      string `json:"uri,omitempty"`
}

type idData struct {
	ID int64 `json:"id"`
}

type gatewayError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type pluginData struct {
	Plugin string `json:"plugin"`
	Data   struct {
		SIP       string `json:"sip"`
		Error     string `json:"error,omitempty"`
		ErrorCode int    `json:"error_code,omitempty"`
		Result    *struct {
			Event    string `json:"event"`
			Username string `json:"username,omitempty"`
			Code     int    `json:"code,omitempty"`
			Reason   string `json:"reason,omitempty"`
		} `json:"result,omitempty"`
	} `json:"data"`
}

// Client manages the websocket connection to the WebRTC gateway and the SIP
// plugin handle of the extension.
type Client struct {
	url       string
	account   domain.Account
	keepalive time.Duration
	handler   domain.GatewayHandler
	log       *logrus.Entry

	conn      *websocket.Conn
	sessionID int64
	handleID  int64

	mu      sync.Mutex
	pmu     sync.Mutex
	pending map[string]chan message

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient creates a gateway client for account. gatewayURL is the
// websocket endpoint, e.g. wss://pbx.example.com/janus.
func NewClient(gatewayURL string, account domain.Account, keepalive time.Duration, handler domain.GatewayHandler, log *logrus.Entry) *Client {
	if log == nil {
		log = logging.Discard()
	}
	return &Client{
		url:       gatewayURL,
		account:   account,
		keepalive: keepalive,
		handler:   handler,
		log:       log,
		pending:   make(map[string]chan message),
		closed:    make(chan struct{}),
	}
}

// Connect dials the gateway, creates a session, attaches the SIP plugin and
// starts the read and keepalive loops.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("parse gateway url: %w", err)
	}
	c.log.Infof("connecting to %s", u.String())

	dialer := websocket.Dialer{
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: requestTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	go c.readLoop()

	created, err := c.request(ctx, message{Janus: "create"})
	if err != nil {
		c.Close()
		return fmt.Errorf("create session: %w", err)
	}
	c.sessionID = created.Data.ID

	attached, err := c.request(ctx, message{Janus: "attach", SessionID: c.sessionID, Plugin: plugin})
	if err != nil {
		c.Close()
		return fmt.Errorf("attach %s: %w", plugin, err)
	}
	c.handleID = attached.Data.ID
	c.log.Infof("session %d, handle %d", c.sessionID, c.handleID)

	go c.keepaliveLoop()
	return nil
}

// Close shuts down the websocket connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) sipURI(user string) string {
	return "sip:" + user + "@" + c.account.HostName
}

// Register registers the extension on the PBX.
func (c *Client) Register() error {
	return c.message(&body{
		Request:  "register",
		Username: c.sipURI(c.account.SIPExten),
		Secret:   c.account.SIPSecret,
		Proxy:    "sip:" + c.account.HostName,
	}, nil)
}

// Call places a call to target with the local SDP offer.
func (c *Client) Call(target, offer string) error {
	return c.message(&body{Request: "call", URI: c.sipURI(target)}, &domain.SDPPayload{Type: "offer", SDP: offer})
}

// Accept answers the incoming call with the local SDP answer.
func (c *Client) Accept(answer string) error {
	return c.message(&body{Request: "accept"}, &domain.SDPPayload{Type: "answer", SDP: answer})
}

func (c *Client) Decline() error { return c.message(&body{Request: "decline"}, nil) }
func (c *Client) Hangup() error  { return c.message(&body{Request: "hangup"}, nil) }
func (c *Client) Hold() error    { return c.message(&body{Request: "hold"}, nil) }
func (c *Client) Unhold() error  { return c.message(&body{Request: "unhold"}, nil) }

// Trickle sends a local ICE candidate, or the end of gathering.
func (c *Client) Trickle(candidate domain.ICECandidatePayload) error {
	msg := message{Janus: "trickle", SessionID: c.sessionID, HandleID: c.handleID}
	if candidate.Completed {
		msg.Candidate = map[string]bool{"completed": true}
	} else {
		msg.Candidate = candidate
	}
	return c.send(msg)
}

func (c *Client) message(b *body, jsep *domain.SDPPayload) error {
	c.log.Debugf("request %s", b.Request)
	return c.send(message{
		Janus:     "message",
		SessionID: c.sessionID,
		HandleID:  c.handleID,
		Body:      b,
		JSEP:      jsep,
	})
}

// request sends msg and waits for the matching success or error reply.
func (c *Client) request(ctx context.Context, msg message) (message, error) {
	msg.Transaction = uuid.NewString()
	reply := make(chan message, 1)

	c.pmu.Lock()
	c.pending[msg.Transaction] = reply
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, msg.Transaction)
		c.pmu.Unlock()
	}()

	if err := c.sendJSON(msg); err != nil {
		return message{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	select {
	case r := <-reply:
		if r.Janus == "error" {
			if r.Error != nil {
				return r, fmt.Errorf("gateway error %d: %s", r.Error.Code, r.Error.Reason)
			}
			return r, errors.New("gateway error")
		}
		if r.Data == nil {
			return r, fmt.Errorf("%s: reply without data", msg.Janus)
		}
		return r, nil
	case <-c.closed:
		return message{}, ErrClosed
	case <-ctx.Done():
		return message{}, fmt.Errorf("%s: %w", msg.Janus, ctx.Err())
	}
}

// send writes msg with a fresh transaction without waiting for a reply.
func (c *Client) send(msg message) error {
	msg.Transaction = uuid.NewString()
	return c.sendJSON(msg)
}

func (c *Client) sendJSON(msg message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Janus, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Tracef(">>> %s", string(data))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Janus, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warnf("read error: %v", err)
				c.handler.OnGatewayError(fmt.Errorf("gateway connection lost: %w", err))
			}
			return
		}
		c.log.Tracef("<<< %s", string(data))

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warnf("unmarshal error: %v", err)
			continue
		}

		c.handler.OnActivity()
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg message) {
	switch msg.Janus {
	case "success", "error":
		c.pmu.Lock()
		reply, ok := c.pending[msg.Transaction]
		c.pmu.Unlock()
		if ok {
			reply <- msg
			return
		}
		if msg.Error != nil {
			c.handler.OnGatewayError(fmt.Errorf("gateway error %d: %s", msg.Error.Code, msg.Error.Reason))
		}

	case "event":
		c.dispatchEvent(msg)

	case "hangup":
		c.log.Infof("peer connection hung up: %s", msg.Reason)

	case "trickle":
		c.dispatchTrickle(msg)

	case "ack", "keepalive", "webrtcup", "media", "slowlink":
		// no-op

	default:
		c.log.Debugf("unhandled message: %s", msg.Janus)
	}
}

// dispatchTrickle forwards a candidate trickled by the gateway. The end of
// remote gathering carries nothing to apply.
func (c *Client) dispatchTrickle(msg message) {
	raw, err := json.Marshal(msg.Candidate)
	if err != nil {
		return
	}
	var candidate domain.ICECandidatePayload
	if err := json.Unmarshal(raw, &candidate); err != nil {
		c.log.Warnf("remote candidate: %v", err)
		return
	}
	if candidate.Completed || candidate.Candidate == "" {
		return
	}
	c.handler.OnRemoteCandidate(candidate)
}

func (c *Client) dispatchEvent(msg message) {
	if msg.PluginData == nil {
		return
	}
	data := msg.PluginData.Data
	if data.Error != "" {
		c.handler.OnGatewayError(fmt.Errorf("sip error %d: %s", data.ErrorCode, data.Error))
		return
	}
	if data.Result == nil {
		return
	}

	result := data.Result
	c.log.Debugf("sip event %s", result.Event)
	switch result.Event {
	case "registered":
		c.handler.OnRegistered()
	case "registration_failed":
		c.handler.OnGatewayError(fmt.Errorf("registration failed: %d %s", result.Code, result.Reason))
	case "incomingcall":
		if msg.JSEP == nil {
			c.handler.OnGatewayError(errors.New("incoming call without offer"))
			return
		}
		c.handler.OnIncoming(result.Username, *msg.JSEP)
	case "accepted":
		c.handler.OnAccepted(msg.JSEP)
	case "hangup":
		c.handler.OnHangup(result.Reason)
	case "calling", "progress", "ringing", "proceeding", "registering", "holding", "resuming", "updatingcall":
		// informational
	default:
		c.log.Debugf("unhandled sip event: %s", result.Event)
	}
}

func (c *Client) keepaliveLoop() {
	if c.keepalive <= 0 {
		return
	}
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.send(message{Janus: "keepalive", SessionID: c.sessionID}); err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warnf("keepalive error: %v", err)
				}
				return
			}
		}
	}
}
