// Package rest implements the pull side of the tracking engine against the
// share server's HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/example/sharetrack/internal/tracking"
)

const defaultTimeout = 10 * time.Second

// Client talks to the share server over HTTP and satisfies
// tracking.Backend.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// NewClient builds a Client for the given base URL, e.g.
// "https://track.example.com".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SharedConfig fetches the full share configuration.
func (c *Client) SharedConfig(ctx context.Context, shareUUID string) (*tracking.SharedConfig, error) {
	var cfg tracking.SharedConfig
	endpoint := fmt.Sprintf("%s/shared/%s?full=true", c.baseURL, url.PathEscape(shareUUID))
	if err := c.getJSON(ctx, endpoint, &cfg); err != nil {
		return nil, fmt.Errorf("get shared config: %w", err)
	}
	return &cfg, nil
}

// SharedLocation fetches the driver's last reported position for a share.
func (c *Client) SharedLocation(ctx context.Context, shareUUID string) (*tracking.LocationMessage, error) {
	var msg tracking.LocationMessage
	endpoint := fmt.Sprintf("%s/shared/%s/location", c.baseURL, url.PathEscape(shareUUID))
	if err := c.getJSON(ctx, endpoint, &msg); err != nil {
		return nil, fmt.Errorf("get shared location: %w", err)
	}
	if !msg.Success {
		return nil, fmt.Errorf("get shared location: backend reported failure")
	}
	return &msg, nil
}

type orderEnvelope struct {
	Success     bool            `json:"success"`
	OrderUpdate *tracking.Order `json:"order_update"`
}

// OrderByShare fetches the order state behind an existing share.
func (c *Client) OrderByShare(ctx context.Context, shareUUID, orderUUID, accessToken string) (*tracking.Order, error) {
	query := url.Values{}
	if orderUUID != "" {
		query.Set("order_uuid", orderUUID)
	}
	if accessToken != "" {
		query.Set("access_token", accessToken)
	}
	endpoint := fmt.Sprintf("%s/watch/shared/%s", c.baseURL, url.PathEscape(shareUUID))
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var envelope orderEnvelope
	if err := c.getJSON(ctx, endpoint, &envelope); err != nil {
		return nil, fmt.Errorf("get order by share: %w", err)
	}
	if !envelope.Success || envelope.OrderUpdate == nil {
		return nil, fmt.Errorf("get order by share: no order in response")
	}
	return envelope.OrderUpdate, nil
}

// CreateShare asks the server to mint a share for an order the caller can
// prove access to, returning the resulting order state.
func (c *Client) CreateShare(ctx context.Context, orderUUID, accessToken string) (*tracking.Order, error) {
	query := url.Values{}
	query.Set("order_uuid", orderUUID)
	query.Set("access_token", accessToken)
	endpoint := fmt.Sprintf("%s/shared/orders?%s", c.baseURL, query.Encode())
	var envelope orderEnvelope
	if err := c.getJSON(ctx, endpoint, &envelope); err != nil {
		return nil, fmt.Errorf("create share: %w", err)
	}
	if !envelope.Success || envelope.OrderUpdate == nil {
		return nil, fmt.Errorf("create share: no order in response")
	}
	return envelope.OrderUpdate, nil
}

// Post sends a JSON body to an absolute or server-relative URL and decodes
// the standard result envelope. A token in the body is also sent as a
// bearer header for endpoints that authenticate there.
func (c *Client) Post(ctx context.Context, target string, body map[string]any) (*tracking.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(target), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token, ok := body["token"].(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("post %s: status %d", target, resp.StatusCode)
	}
	var result tracking.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// Upload PUTs raw bytes to a presigned URL.
func (c *Client) Upload(ctx context.Context, target string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resolve(target), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("upload %s: status %d", target, resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// resolve turns a server-relative path into an absolute URL; absolute URLs
// (presigned uploads, per-share endpoints minted by the server) pass
// through untouched.
func (c *Client) resolve(target string) string {
	if parsed, err := url.Parse(target); err == nil && parsed.IsAbs() {
		return target
	}
	if len(target) > 0 && target[0] != '/' {
		return c.baseURL + "/" + target
	}
	return c.baseURL + target
}
