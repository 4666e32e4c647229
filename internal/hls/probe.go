package hls

import (
	"context"
	"fmt"
	"net/http"
)

// Prober checks manifest existence with a cache-disabled HEAD request.
// It implements supervisor.ManifestProber.
type Prober struct {
	client *http.Client
}

// NewProber returns a Prober using client, or http.DefaultClient if nil.
func NewProber(client *http.Client) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	return &Prober{client: client}
}

// Probe reports whether url currently exists. 404 and 410 are a definite
// miss; any other non-2xx answer is an error.
func (p *Prober) Probe(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probing manifest: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return false, nil
	default:
		return false, fmt.Errorf("probing manifest: unexpected status %d", resp.StatusCode)
	}
}
