package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

var (
	// ErrBackendStatus is returned when the backend answers with a non-2xx code
	// and no decodable command body.
	ErrBackendStatus = errors.New("backend returned error status")

	// ErrMissingField is returned when a required response field is absent.
	ErrMissingField = errors.New("backend response missing field")
)

// Client talks to the camera capture/recording backend over HTTP.
// Commands are throttled by a token bucket so a burst of manual restarts
// cannot hammer the backend.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit sets the command rate (per second) and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewClient returns a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(2), 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// RestartStream asks the backend to restart the capture process of one camera.
func (c *Client) RestartStream(ctx context.Context, cameraID string) (*CommandResult, error) {
	return c.command(ctx, "/restart_stream/"+cameraID)
}

// RestartAllStreams asks the backend to restart every capture process.
func (c *Client) RestartAllStreams(ctx context.Context) (*CommandResult, error) {
	return c.command(ctx, "/restart_all_streams")
}

// StartAllRecordings starts recording on every camera.
func (c *Client) StartAllRecordings(ctx context.Context) (*CommandResult, error) {
	return c.command(ctx, "/start_all_recordings")
}

// StopAllRecordings stops recording on every camera.
func (c *Client) StopAllRecordings(ctx context.Context) (*CommandResult, error) {
	return c.command(ctx, "/stop_all_recordings")
}

// StartRecording starts recording one camera from rtspURL.
func (c *Client) StartRecording(ctx context.Context, cameraID, rtspURL string) (*CommandResult, error) {
	return c.commandWithBody(ctx, "/start_recording", recordingRequest{CameraID: cameraID, RTSPURL: rtspURL})
}

// StopRecording stops recording one camera.
func (c *Client) StopRecording(ctx context.Context, cameraID string) (*CommandResult, error) {
	return c.commandWithBody(ctx, "/stop_recording", recordingRequest{CameraID: cameraID})
}

// CleanupOldRecordings triggers the backend's retention cleanup.
func (c *Client) CleanupOldRecordings(ctx context.Context) (*CleanupResult, error) {
	var out CleanupResult
	raw, err := c.do(ctx, http.MethodPost, "/cleanup_old_recordings", nil, &out)
	if err != nil {
		return nil, err
	}
	if _, ok := raw["status"]; !ok {
		return nil, fmt.Errorf("cleanup_old_recordings: %w: status", ErrMissingField)
	}
	return &out, nil
}

// Status fetches the backend's per-camera and disk status.
func (c *Client) Status(ctx context.Context) (*SystemStatus, error) {
	var out SystemStatus
	raw, err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	if err != nil {
		return nil, err
	}
	if _, ok := raw["cameras"]; !ok {
		return nil, fmt.Errorf("status: %w: cameras", ErrMissingField)
	}
	return &out, nil
}

func (c *Client) command(ctx context.Context, path string) (*CommandResult, error) {
	return c.commandWithBody(ctx, path, nil)
}

func (c *Client) commandWithBody(ctx context.Context, path string, in interface{}) (*CommandResult, error) {
	var out CommandResult
	raw, err := c.do(ctx, http.MethodPost, path, in, &out)
	if err != nil {
		return nil, err
	}
	if _, ok := raw["status"]; !ok {
		return nil, fmt.Errorf("%s: %w: status", path, ErrMissingField)
	}
	return &out, nil
}

// do performs the request, sending in as a JSON body when non-nil, and
// decodes the JSON reply into out. It also
// returns the body as a generic map so callers can check field presence.
// A non-2xx reply whose body still decodes is returned without error; the
// caller sees the backend's own status/message.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (map[string]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %w", path, err)
	}

	u := *c.baseURL
	u.Path = u.Path + path

	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding body: %w", path, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: reading body: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s: %w: %d", path, ErrBackendStatus, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s: decoding body: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("%s: decoding body: %w", path, err)
	}
	return raw, nil
}
