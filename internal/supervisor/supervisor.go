package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"hls-supervisor/internal/backend"

	"github.com/google/uuid"
)

var (
	// ErrNoBackend is returned by Restart when no backend is configured.
	ErrNoBackend = errors.New("no backend configured")

	errMissingPlayer  = errors.New("player factory is required")
	errMissingDisplay = errors.New("display is required")
	errMissingProber  = errors.New("manifest probe enabled without a prober")
)

// Restarter is the backend call a manual restart issues before reinitializing.
type Restarter interface {
	RestartStream(ctx context.Context, cameraID string) (*backend.CommandResult, error)
}

// Config wires a Supervisor to its collaborators.
type Config struct {
	ID      CameraID
	Name    string
	Options Options

	NewPlayer PlayerFactory
	Display   Display
	Prober    ManifestProber
	Restarter Restarter
	Metrics   Recorder
	Logger    *slog.Logger

	// OnChange is called from the loop whenever status or detail changes.
	OnChange func(Snapshot)

	// Loop overrides the supervisor's own event loop. Tests inject a
	// virtual-clock loop here.
	Loop Loop
	// Token overrides the cache-busting token generator.
	Token func() string
}

// Supervisor owns the playback session of one camera: it creates and tears
// down Player handles, classifies health on a fixed tick and escalates
// recovery. All session state is confined to the supervisor's loop.
type Supervisor struct {
	id        CameraID
	name      string
	opts      Options
	loop      Loop
	ownLoop   *eventLoop
	newPlayer PlayerFactory
	display   Display
	prober    ManifestProber
	restarter Restarter
	metrics   Recorder
	log       *slog.Logger
	onChange  func(Snapshot)
	token     func() string

	ctx    context.Context
	cancel context.CancelFunc

	// Loop-owned session state.
	player             Player
	gen                uint64
	retryCount         int
	recoveryAttempts   int
	probeWaits         int
	startedAt          time.Time
	lastFragmentAt     time.Time
	lastPosition       time.Duration
	lastProgressAt     time.Time
	healthCheckEnabled bool
	visible            bool
	status             Status
	detail             string
	endpoint           string
	reinits            int
	started            bool
	closed             bool
	ticker             Timer
	pending            Timer
	settle             Timer

	closeOnce sync.Once

	mu   sync.RWMutex
	snap Snapshot
}

// New validates cfg and returns an idle Supervisor. Call Start to begin playback.
func New(cfg Config) (*Supervisor, error) {
	if cfg.NewPlayer == nil {
		return nil, errMissingPlayer
	}
	if cfg.Display == nil {
		return nil, errMissingDisplay
	}
	opts := cfg.Options.withDefaults()
	if opts.ManifestProbe && cfg.Prober == nil {
		return nil, errMissingProber
	}
	if opts.EndpointTemplate == "" {
		return nil, fmt.Errorf("camera %s: endpoint template is required", cfg.ID)
	}
	if _, err := url.Parse(expandTemplate(opts.EndpointTemplate, cfg.ID)); err != nil {
		return nil, fmt.Errorf("camera %s: invalid endpoint template %q", cfg.ID, opts.EndpointTemplate)
	}

	s := &Supervisor{
		id:        cfg.ID,
		name:      cfg.Name,
		opts:      opts,
		loop:      cfg.Loop,
		newPlayer: cfg.NewPlayer,
		display:   cfg.Display,
		prober:    cfg.Prober,
		restarter: cfg.Restarter,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		onChange:  cfg.OnChange,
		token:     cfg.Token,
		status:    StatusConnecting,
		visible:   true,
	}
	if s.loop == nil {
		s.ownLoop = newEventLoop()
		s.loop = s.ownLoop
		go s.ownLoop.Run()
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.token == nil {
		s.token = uuid.NewString
	}
	if s.name == "" {
		s.name = string(cfg.ID)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.snap = Snapshot{CameraID: s.id, Name: s.name, Status: s.status}
	return s, nil
}

// ID returns the camera id.
func (s *Supervisor) ID() CameraID { return s.id }

// Name returns the display name.
func (s *Supervisor) Name() string { return s.name }

// Start mounts the session: health checks begin and the first handle is created.
// Calling Start again is a no-op.
func (s *Supervisor) Start() {
	s.loop.Post(func() {
		if s.started || s.closed {
			return
		}
		s.started = true
		s.healthCheckEnabled = true
		s.scheduleTick()
		s.restartNow("start")
	})
}

// Reload fully reinitializes the session.
func (s *Supervisor) Reload() {
	s.loop.Post(func() {
		if s.closed {
			return
		}
		s.restartNow("reload")
	})
}

// SetVisible suspends (false) or resumes (true) the session, the way a
// browser tab moving to the background would.
func (s *Supervisor) SetVisible(visible bool) {
	s.loop.Post(func() {
		if s.closed {
			return
		}
		s.setVisible(visible)
	})
}

// Restart asks the backend to restart this camera's capture process, waits
// for its answer or RestartTimeout, then reinitializes the session whatever
// the backend said.
func (s *Supervisor) Restart(ctx context.Context) (*backend.CommandResult, error) {
	s.loop.Post(func() {
		if s.closed {
			return
		}
		s.teardown()
		s.cancelPending()
		s.setStatus(StatusRestarting, "restarting backend stream")
	})

	var (
		res *backend.CommandResult
		err error
	)
	if s.restarter == nil {
		err = ErrNoBackend
	} else {
		rctx, cancel := context.WithTimeout(ctx, s.opts.RestartTimeout)
		res, err = s.restarter.RestartStream(rctx, string(s.id))
		cancel()
	}
	switch {
	case err != nil:
		s.log.Warn("backend restart failed", slog.String("error", err.Error()))
	case res == nil || !res.OK():
		var status, msg string
		if res != nil {
			status, msg = res.Status, res.Message
		}
		s.log.Warn("backend restart rejected", slog.String("status", status), slog.String("message", msg))
	default:
		s.log.Info("backend restart acknowledged", slog.String("message", res.Message))
	}

	s.loop.Post(func() {
		if s.closed {
			return
		}
		s.restartNow("manual_restart")
	})
	return res, err
}

// Close destroys the current handle and stops the supervisor. Failures while
// destroying are logged and swallowed.
func (s *Supervisor) Close() {
	s.closeOnce.Do(s.close)
}

func (s *Supervisor) close() {
	done := make(chan struct{})
	s.loop.Post(func() {
		defer close(done)
		if s.closed {
			return
		}
		s.closed = true
		s.cancel()
		stopTimer(s.ticker)
		stopTimer(s.settle)
		s.cancelPending()
		s.teardown()
		s.healthCheckEnabled = false
		s.publish(false)
	})
	if s.ownLoop != nil {
		<-done
		s.ownLoop.Stop()
	}
}

// Snapshot returns the most recently published session state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Supervisor) setStatus(st Status, detail string) {
	changed := st != s.status || detail != s.detail
	s.status = st
	s.detail = detail
	s.publish(changed)
}

// publish copies loop state into the snapshot. notify is set when
// subscribers should hear about it.
func (s *Supervisor) publish(notify bool) {
	snap := Snapshot{
		CameraID:           s.id,
		Name:               s.name,
		Status:             s.status,
		Detail:             s.detail,
		MediaEndpoint:      s.endpoint,
		RetryCount:         s.retryCount,
		LastFragmentAt:     s.lastFragmentAt,
		HealthCheckEnabled: s.healthCheckEnabled,
		Generation:         s.gen,
		Reinitializations:  s.reinits,
		UpdatedAt:          s.loop.Now(),
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	if notify && s.onChange != nil {
		s.onChange(snap)
	}
}

// buildEndpoint expands the template and appends a fresh cache-busting token.
func (s *Supervisor) buildEndpoint() string {
	raw := expandTemplate(s.opts.EndpointTemplate, s.id)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("_", s.token())
	u.RawQuery = q.Encode()
	return u.String()
}

func expandTemplate(tmpl string, id CameraID) string {
	return strings.ReplaceAll(tmpl, "{camera}", url.PathEscape(string(id)))
}

// after schedules fn on the loop, dropping it if the session moved to a new
// handle generation or closed in the meantime.
func (s *Supervisor) after(d time.Duration, fn func()) Timer {
	gen := s.gen
	return s.loop.After(d, func() {
		if s.closed || s.gen != gen {
			return
		}
		fn()
	})
}

// schedulePending arms the single pending-recovery slot. Only one reconnect,
// probe retry or recovery check is outstanding at a time.
func (s *Supervisor) schedulePending(d time.Duration, fn func()) {
	s.cancelPending()
	var t Timer
	t = s.after(d, func() {
		if s.pending == t {
			s.pending = nil
		}
		fn()
	})
	s.pending = t
}

func (s *Supervisor) cancelPending() {
	stopTimer(s.pending)
	s.pending = nil
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
