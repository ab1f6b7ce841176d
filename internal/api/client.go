package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
)

type dtmfRequest struct {
	Tone       string `json:"tone"`
	EndpointID string `json:"endpointId"`
}

type parkRequest struct {
	EndpointID string `json:"endpointId"`
}

type transferRequest struct {
	EndpointID string `json:"endpointId"`
	To         string `json:"to"`
}

type defaultDeviceResponse struct {
	ID string `json:"id"`
}

// Client drives calls through the PBX REST API.
type Client struct {
	baseURL string
	auth    string
	http    *http.Client
	log     *logrus.Entry
}

// NewClient creates a client for the PBX of account.
func NewClient(account domain.Account, log *logrus.Entry) *Client {
	if log == nil {
		log = logging.Discard()
	}
	return &Client{
		baseURL: "https://" + account.HostName + "/api",
		auth:    account.Username + ":" + account.Token,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

// WithBaseURL points the client at another API root.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// SendDTMF plays a tone on a physical device.
func (c *Client) SendDTMF(ctx context.Context, deviceID string, tone rune) error {
	return c.do(ctx, http.MethodPost, "/astproxy/dtmf", dtmfRequest{Tone: string(tone), EndpointID: deviceID}, nil)
}

// Park parks the conversation of deviceID.
func (c *Client) Park(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodPost, "/astproxy/park", parkRequest{EndpointID: deviceID}, nil)
}

// Transfer blind-transfers the conversation of deviceID to to.
func (c *Client) Transfer(ctx context.Context, deviceID, to string) error {
	return c.do(ctx, http.MethodPost, "/astproxy/blindtransfer", transferRequest{EndpointID: deviceID, To: to}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", c.auth)

	c.log.Debugf("%s %s", method, path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
