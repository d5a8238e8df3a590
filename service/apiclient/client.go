// Package apiclient talks to the collaborator HTTP API (/api/presence,
// /api/status, /api/events).
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"PPresence/tools/errs"
)

type TokenSource func(ctx context.Context) (string, error)

type Client struct {
	base  string
	hc    *http.Client
	token TokenSource
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithToken sends a fixed bearer token.
func WithToken(tok string) Option {
	return func(c *Client) {
		c.token = func(context.Context) (string, error) { return tok, nil }
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.token = ts }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// PresenceEntry is one row of the legacy presence map.
type PresenceEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Image  string `json:"image,omitempty"`
	Status string `json:"status,omitempty"`
}

type PresenceList struct {
	Users []PresenceEntry `json:"users"`
}

type PresenceUpdate struct {
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

type StatusBody struct {
	State string `json:"state"`
}

type StatusResponse struct {
	Status StatusBody `json:"status"`
}

type EventRequest struct {
	Topic string `json:"topic"`
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func (c *Client) GetPresence(ctx context.Context) ([]PresenceEntry, error) {
	var out PresenceList
	if err := c.do(ctx, http.MethodGet, "/api/presence", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) PostPresence(ctx context.Context, name, image string) ([]PresenceEntry, error) {
	var out PresenceList
	if err := c.do(ctx, http.MethodPost, "/api/presence", PresenceUpdate{Name: name, Image: image}, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// DeletePresence drops the caller from the legacy presence map on sign-out.
func (c *Client) DeletePresence(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/presence", nil, nil)
}

// GetStatus returns the persisted state; "" when the server has none.
func (c *Client) GetStatus(ctx context.Context) (string, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return "", err
	}
	return out.Status.State, nil
}

func (c *Client) PostStatus(ctx context.Context, state string) error {
	return c.do(ctx, http.MethodPost, "/api/status", StatusBody{State: state}, nil)
}

func (c *Client) PostEvent(ctx context.Context, topic, event string, data any) error {
	return c.do(ctx, http.MethodPost, "/api/events", EventRequest{Topic: topic, Event: event, Data: data}, nil)
}

// do sends body as JSON and decodes a 2xx answer into out. Any other status
// becomes a CodeError carrying the HTTP status as its code.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errs.WrapMsg(err, "marshal request", "path", path)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return errs.WrapMsg(err, "new request", "path", path)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return errs.WrapMsg(err, "token")
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errs.WrapMsg(err, "http request", "method", method, "path", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.NewCodeError(resp.StatusCode, http.StatusText(resp.StatusCode)).
			WrapMsg(strings.TrimSpace(string(msg)), "method", method, "path", path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.WrapMsg(err, "decode response", "path", path)
	}
	return nil
}
