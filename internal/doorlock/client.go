package doorlock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

const maxBodySnippet = 200

// Outcome reports one trigger attempt. Success is true only for an HTTP 200
// with no transport error. The client never returns a Go error for delivery
// problems; a committed attendance record must not fail because a relay on
// a Raspberry Pi was slow.
type Outcome struct {
	AttemptedAt time.Time `json:"attempted_at"`
	Success     bool      `json:"success"`
	HTTPStatus  int       `json:"http_status,omitempty"`
	Body        string    `json:"body,omitempty"`
	Err         string    `json:"error,omitempty"`
}

// Config holds the actuator endpoint settings.
type Config struct {
	BaseURL        string
	Token          string
	Delay          int // auto-relock delay in seconds, clamped to 1-30
	Enabled        bool
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// Client talks to the doorlock controller on the Pi.
type Client struct {
	baseURL string
	token   string
	delay   int
	enabled bool
	http    *http.Client
}

// New builds a client with bounded connect and overall timeouts so a stuck
// device cannot stall the kiosk.
func New(cfg Config) *Client {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 4 * time.Second
	}
	overall := cfg.Timeout
	if overall <= 0 {
		overall = 8 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		delay:   clampDelay(cfg.Delay),
		enabled: cfg.Enabled,
		http: &http.Client{
			Timeout: overall,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connect}).DialContext,
			},
		},
	}
}

// TriggerOpen unlocks the door for an attendance event. Best effort: callers
// read Outcome.Success and move on.
func (c *Client) TriggerOpen(ctx context.Context, kode, status string) Outcome {
	if !c.enabled {
		return Outcome{AttemptedAt: time.Now(), Err: "doorlock disabled"}
	}
	return c.post(ctx, "/door/open", map[string]interface{}{
		"token":  c.token,
		"kode":   kode,
		"status": status,
		"delay":  c.delay,
	})
}

// OpenManual unlocks the door without employee context (admin panel).
func (c *Client) OpenManual(ctx context.Context, delay int) Outcome {
	if !c.enabled {
		return Outcome{AttemptedAt: time.Now(), Err: "doorlock disabled"}
	}
	if delay <= 0 {
		delay = c.delay
	}
	return c.post(ctx, "/door/open", map[string]interface{}{
		"token": c.token,
		"delay": clampDelay(delay),
	})
}

// Status fetches the controller's self-reported state.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	if !c.enabled {
		return nil, errors.New("doorlock disabled")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/door/status", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health reports whether the controller is reachable at all.
func (c *Client) Health(ctx context.Context) bool {
	if !c.enabled {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

func (c *Client) post(ctx context.Context, path string, payload map[string]interface{}) Outcome {
	out := Outcome{AttemptedAt: time.Now()}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		out.Err = err.Error()
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		out.Err = err.Error()
		return out
	}
	defer resp.Body.Close()

	out.HTTPStatus = resp.StatusCode
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
	out.Body = string(snippet)
	out.Success = resp.StatusCode == http.StatusOK
	return out
}

func clampDelay(delay int) int {
	if delay < 1 {
		return 1
	}
	if delay > 30 {
		return 30
	}
	return delay
}
