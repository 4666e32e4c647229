package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"hls-supervisor/internal/supervisor"

	"github.com/grafov/m3u8"
)

const (
	// liveEdgeSegments is how far behind the live edge a fresh load starts.
	liveEdgeSegments = 3
	minRefresh       = 500 * time.Millisecond
	retryBackoff     = 500 * time.Millisecond
	maxBodyBytes     = 64 << 20
)

// ErrDestroyed is returned by calls on an engine after Destroy.
var ErrDestroyed = errors.New("engine destroyed")

// loadError carries the supervisor error class of a failed load.
type loadError struct {
	kind supervisor.ErrorKind
	err  error
}

func (e *loadError) Error() string { return string(e.kind) + ": " + e.err.Error() }
func (e *loadError) Unwrap() error { return e.err }

type fragment struct {
	seq      int64
	uri      string
	duration time.Duration
}

// Engine is a headless HLS client: it polls a live media playlist, downloads
// new fragments and feeds their durations into an attached Sink. Retries are
// bounded by PlayerConfig; on exhaustion it reports a fatal error and stops,
// leaving recovery to the supervisor. It implements supervisor.Player.
type Engine struct {
	cfg    supervisor.PlayerConfig
	events supervisor.Events
	client *http.Client
	log    *slog.Logger

	mu        sync.Mutex
	url       string
	sink      *Sink
	cancel    context.CancelFunc
	loadID    uint64
	destroyed bool
	nextSeq   int64
	parsed    bool
}

// NewFactory returns a supervisor.PlayerFactory building Engines on client.
func NewFactory(client *http.Client, log *slog.Logger) supervisor.PlayerFactory {
	return func(cfg supervisor.PlayerConfig, events supervisor.Events) supervisor.Player {
		return NewEngine(cfg, events, client, log)
	}
}

// NewEngine returns an idle engine. Call Load to start it.
func NewEngine(cfg supervisor.PlayerConfig, events supervisor.Events, client *http.Client, log *slog.Logger) *Engine {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, events: events, client: client, log: log, nextSeq: -1}
}

var _ supervisor.Player = (*Engine)(nil)

// Load points the engine at a manifest and starts loading.
func (e *Engine) Load(manifestURL string) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if _, err := url.Parse(manifestURL); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("manifest url: %w", err)
	}
	e.stopLocked()
	e.url = manifestURL
	e.parsed = false
	e.nextSeq = -1
	e.mu.Unlock()

	e.StartLoad()
	return nil
}

// Attach connects the sink fragments are appended to. Displays other than
// *Sink are ignored.
func (e *Engine) Attach(d supervisor.Display) {
	s, ok := d.(*Sink)
	if !ok {
		return
	}
	e.mu.Lock()
	e.sink = s
	e.mu.Unlock()
}

// StartLoad (re)starts the loading goroutine if it is not running.
func (e *Engine) StartLoad() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed || e.url == "" || e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.loadID++
	go e.run(ctx, e.loadID, e.url)
}

// StopLoad stops loading without forgetting the position.
func (e *Engine) StopLoad() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// RecoverMediaError drops the current position and reloads from the live edge.
func (e *Engine) RecoverMediaError() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	e.stopLocked()
	e.nextSeq = -1
	e.mu.Unlock()

	e.StartLoad()
	return nil
}

// Destroy stops loading for good and clears the attached sink.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	e.destroyed = true
	e.stopLocked()
	sink := e.sink
	e.sink = nil
	e.mu.Unlock()

	if sink != nil {
		sink.Reset()
	}
	return nil
}

func (e *Engine) run(ctx context.Context, id uint64, manifestURL string) {
	playlistURL := manifestURL
	for {
		mp, resolved, err := e.loadPlaylist(ctx, playlistURL)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.fail(ctx, id, err)
			return
		}
		playlistURL = resolved

		if e.markParsed() {
			e.events.ManifestParsed()
		}

		for _, frag := range e.pendingFragments(mediaFragments(mp)) {
			if ctx.Err() != nil {
				return
			}
			if e.bufferFull() {
				break
			}
			if err := e.loadFragment(ctx, id, playlistURL, frag); err != nil {
				if ctx.Err() != nil {
					return
				}
				e.fail(ctx, id, err)
				return
			}
		}

		if mp.Closed {
			e.log.Debug("playlist ended", slog.String("url", playlistURL))
			e.release(id)
			return
		}

		refresh := time.Duration(float64(mp.TargetDuration) * float64(time.Second) / 2)
		if refresh < minRefresh {
			refresh = minRefresh
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(refresh):
		}
	}
}

// fail reports a fatal error and marks the loader stopped so StartLoad can
// run it again.
func (e *Engine) fail(ctx context.Context, id uint64, err error) {
	kind := supervisor.ErrorOther
	var le *loadError
	if errors.As(err, &le) {
		kind = le.kind
	}

	if ctx.Err() != nil {
		return
	}
	e.release(id)
	e.events.Error(kind, true, err)
}

// release marks loader id as finished if it is still the current one.
func (e *Engine) release(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loadID == id && e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) markParsed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.parsed {
		return false
	}
	e.parsed = true
	return true
}

// bufferFull reports whether the sink holds more than the buffer target.
// MaxMaxBufferLength caps the target.
func (e *Engine) bufferFull() bool {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()

	limit := e.cfg.MaxBufferLength
	if max := e.cfg.MaxMaxBufferLength; max > 0 && limit > max {
		limit = max
	}
	return sink != nil && sink.Ahead() > limit
}

// pendingFragments returns the fragments not yet loaded. A fresh load starts
// liveEdgeSegments behind the end of the playlist.
func (e *Engine) pendingFragments(frags []fragment) []fragment {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.nextSeq < 0 {
		start := len(frags) - liveEdgeSegments
		if start < 0 {
			start = 0
		}
		return frags[start:]
	}
	out := frags[:0:0]
	for _, f := range frags {
		if f.seq >= e.nextSeq {
			out = append(out, f)
		}
	}
	return out
}

// loadPlaylist fetches and decodes the playlist at u. A master playlist is
// resolved to its highest-bandwidth variant.
func (e *Engine) loadPlaylist(ctx context.Context, u string) (*m3u8.MediaPlaylist, string, error) {
	for depth := 0; depth < 2; depth++ {
		body, err := e.fetchWithRetry(ctx, u, e.cfg.ManifestLoadRetries)
		if err != nil {
			return nil, "", err
		}

		p, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
		if err != nil {
			return nil, "", &loadError{kind: supervisor.ErrorOther, err: fmt.Errorf("parsing playlist: %w", err)}
		}

		switch listType {
		case m3u8.MEDIA:
			return p.(*m3u8.MediaPlaylist), u, nil
		case m3u8.MASTER:
			variant, err := pickVariant(p.(*m3u8.MasterPlaylist))
			if err != nil {
				return nil, "", &loadError{kind: supervisor.ErrorOther, err: err}
			}
			if u, err = resolve(u, variant); err != nil {
				return nil, "", &loadError{kind: supervisor.ErrorOther, err: err}
			}
		}
	}
	return nil, "", &loadError{kind: supervisor.ErrorOther, err: errors.New("nested master playlists")}
}

// loadFragment downloads frag and appends it to the sink. Nothing is
// appended once loader id has been stopped, replaced or destroyed.
func (e *Engine) loadFragment(ctx context.Context, id uint64, playlistURL string, frag fragment) error {
	u, err := resolve(playlistURL, frag.uri)
	if err != nil {
		return &loadError{kind: supervisor.ErrorOther, err: err}
	}
	body, err := e.fetchWithRetry(ctx, u, e.cfg.FragmentLoadRetries)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return &loadError{kind: supervisor.ErrorMedia, err: fmt.Errorf("fragment %d is empty", frag.seq)}
	}

	e.mu.Lock()
	if e.destroyed || e.loadID != id || ctx.Err() != nil {
		e.mu.Unlock()
		return nil
	}
	e.nextSeq = frag.seq + 1
	if e.sink != nil {
		e.sink.Append(frag.duration)
	}
	e.mu.Unlock()

	e.events.FragmentLoaded()
	e.events.BufferAppended()
	return nil
}

func (e *Engine) fetchWithRetry(ctx context.Context, u string, retries int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
		body, err := e.fetch(ctx, u)
		if err == nil {
			return body, nil
		}
		lastErr = err
		e.log.Debug("load failed", slog.String("url", u), slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
	}
	return nil, &loadError{kind: supervisor.ErrorNetwork, err: lastErr}
}

func (e *Engine) fetch(ctx context.Context, u string) ([]byte, error) {
	if e.cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.LoadTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

func mediaFragments(mp *m3u8.MediaPlaylist) []fragment {
	out := make([]fragment, 0, mp.Count())
	for _, seg := range mp.Segments {
		if seg == nil {
			continue
		}
		out = append(out, fragment{
			seq:      int64(mp.SeqNo) + int64(len(out)),
			uri:      seg.URI,
			duration: time.Duration(seg.Duration * float64(time.Second)),
		})
	}
	return out
}

func pickVariant(master *m3u8.MasterPlaylist) (string, error) {
	variants := make([]*m3u8.Variant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v != nil && v.URI != "" {
			variants = append(variants, v)
		}
	}
	if len(variants) == 0 {
		return "", errors.New("master playlist has no variants")
	}
	sort.SliceStable(variants, func(i, j int) bool { return variants[i].Bandwidth > variants[j].Bandwidth })
	return variants[0].URI, nil
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("reference url: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}
