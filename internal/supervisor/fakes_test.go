package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"hls-supervisor/internal/backend"
)

var errAutoplay = errors.New("play() failed: user gesture required")

// fakeLoop is a single-threaded Loop with a virtual clock. Nothing runs
// until the test calls Flush or Advance.
type fakeLoop struct {
	now    time.Time
	queue  []func()
	timers []*fakeTimer
	seq    int
}

type fakeTimer struct {
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (l *fakeLoop) Now() time.Time { return l.now }

func (l *fakeLoop) Post(fn func()) { l.queue = append(l.queue, fn) }

func (l *fakeLoop) After(d time.Duration, fn func()) Timer {
	l.seq++
	t := &fakeTimer{at: l.now.Add(d), seq: l.seq, fn: fn}
	l.timers = append(l.timers, t)
	return t
}

func (l *fakeLoop) Spawn(work func() func()) {
	if done := work(); done != nil {
		l.Post(done)
	}
}

// Flush runs queued callbacks until the queue is empty.
func (l *fakeLoop) Flush() {
	for len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue = l.queue[1:]
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in order.
func (l *fakeLoop) Advance(d time.Duration) {
	target := l.now.Add(d)
	for {
		l.Flush()
		next := l.nextDue(target)
		if next == nil {
			break
		}
		l.now = next.at
		next.fired = true
		next.fn()
	}
	l.now = target
	l.Flush()
}

func (l *fakeLoop) nextDue(target time.Time) *fakeTimer {
	live := l.timers[:0]
	for _, t := range l.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	l.timers = live
	sort.SliceStable(l.timers, func(i, j int) bool {
		if l.timers[i].at.Equal(l.timers[j].at) {
			return l.timers[i].seq < l.timers[j].seq
		}
		return l.timers[i].at.Before(l.timers[j].at)
	})
	if len(l.timers) == 0 || l.timers[0].at.After(target) {
		return nil
	}
	return l.timers[0]
}

// fakeDisplay plays back in virtual time, like a media element would.
type fakeDisplay struct {
	now       func() time.Time
	ready     ReadyState
	paused    bool
	muted     bool
	frozen    bool
	mutedOnly bool
	blocked   bool
	pos       time.Duration
	anchor    time.Time
	buffered  time.Duration
	plays     int
	pauses    int
	seeks     []time.Duration
}

func newFakeDisplay(now func() time.Time) *fakeDisplay {
	return &fakeDisplay{
		now:      now,
		ready:    HaveEnoughData,
		paused:   true,
		buffered: time.Hour,
	}
}

func (d *fakeDisplay) ReadyState() ReadyState { return d.ready }
func (d *fakeDisplay) Paused() bool           { return d.paused }
func (d *fakeDisplay) Muted() bool            { return d.muted }
func (d *fakeDisplay) SetMuted(m bool)        { d.muted = m }
func (d *fakeDisplay) BufferedEnd() time.Duration {
	return d.buffered
}

func (d *fakeDisplay) Play() error {
	if d.blocked || (d.mutedOnly && !d.muted) {
		return errAutoplay
	}
	d.plays++
	if d.paused {
		d.anchor = d.now()
		d.paused = false
	}
	return nil
}

func (d *fakeDisplay) Pause() {
	d.pauses++
	d.pos = d.CurrentTime()
	d.paused = true
}

func (d *fakeDisplay) Seek(pos time.Duration) {
	d.seeks = append(d.seeks, pos)
	d.pos = pos
	d.anchor = d.now()
}

func (d *fakeDisplay) CurrentTime() time.Duration {
	if d.paused || d.frozen {
		return d.pos
	}
	p := d.pos + d.now().Sub(d.anchor)
	if p > d.buffered {
		p = d.buffered
	}
	return p
}

// freeze stops the playhead where it is.
func (d *fakeDisplay) freeze() {
	d.pos = d.CurrentTime()
	d.frozen = true
}

func (d *fakeDisplay) unfreeze() {
	d.frozen = false
	d.anchor = d.now()
}

// fakeEngine builds fakePlayers and records lifecycle calls in order.
type fakeEngine struct {
	players    []*fakePlayer
	calls      []string
	loadErr    error
	recoverErr error
	configs    []PlayerConfig
}

func (e *fakeEngine) factory(cfg PlayerConfig, events Events) Player {
	p := &fakePlayer{engine: e, id: len(e.players) + 1, events: events}
	e.players = append(e.players, p)
	e.configs = append(e.configs, cfg)
	e.calls = append(e.calls, fmt.Sprintf("create %d", p.id))
	return p
}

func (e *fakeEngine) last() *fakePlayer {
	if len(e.players) == 0 {
		return nil
	}
	return e.players[len(e.players)-1]
}

type fakePlayer struct {
	engine     *fakeEngine
	id         int
	events     Events
	url        string
	attached   Display
	destroyed  bool
	startLoads int
	stopLoads  int
	recovers   int
}

func (p *fakePlayer) Load(url string) error {
	p.url = url
	return p.engine.loadErr
}

func (p *fakePlayer) Attach(d Display) { p.attached = d }

func (p *fakePlayer) Destroy() error {
	p.destroyed = true
	p.engine.calls = append(p.engine.calls, fmt.Sprintf("destroy %d", p.id))
	return nil
}

func (p *fakePlayer) StartLoad() { p.startLoads++ }
func (p *fakePlayer) StopLoad()  { p.stopLoads++ }

func (p *fakePlayer) RecoverMediaError() error {
	p.recovers++
	return p.engine.recoverErr
}

// fakeProber answers from a script; once exhausted it repeats fallback.
type fakeProber struct {
	now      func() time.Time
	script   []bool
	fallback bool
	err      error
	calls    []time.Time
}

func (p *fakeProber) Probe(ctx context.Context, url string) (bool, error) {
	p.calls = append(p.calls, p.now())
	if p.err != nil {
		return false, p.err
	}
	if len(p.script) > 0 {
		found := p.script[0]
		p.script = p.script[1:]
		return found, nil
	}
	return p.fallback, nil
}

// fakeBackend implements Backend.
type fakeBackend struct {
	restarted   []string
	restartRes  *backend.CommandResult
	restartErr  error
	allRes      *backend.CommandResult
	allErr      error
	recordRes   *backend.CommandResult
	cleanupRes  *backend.CleanupResult
	status      *backend.SystemStatus
	restartAlls int
	starts      int
	stops       int
	recording   []string
}

func (b *fakeBackend) RestartStream(ctx context.Context, id string) (*backend.CommandResult, error) {
	b.restarted = append(b.restarted, id)
	return b.restartRes, b.restartErr
}

func (b *fakeBackend) RestartAllStreams(ctx context.Context) (*backend.CommandResult, error) {
	b.restartAlls++
	return b.allRes, b.allErr
}

func (b *fakeBackend) StartAllRecordings(ctx context.Context) (*backend.CommandResult, error) {
	b.starts++
	return b.recordRes, nil
}

func (b *fakeBackend) StopAllRecordings(ctx context.Context) (*backend.CommandResult, error) {
	b.stops++
	return b.recordRes, nil
}

func (b *fakeBackend) StartRecording(ctx context.Context, id, rtspURL string) (*backend.CommandResult, error) {
	b.recording = append(b.recording, "start "+id+" "+rtspURL)
	return b.recordRes, nil
}

func (b *fakeBackend) StopRecording(ctx context.Context, id string) (*backend.CommandResult, error) {
	b.recording = append(b.recording, "stop "+id)
	return b.recordRes, nil
}

func (b *fakeBackend) CleanupOldRecordings(ctx context.Context) (*backend.CleanupResult, error) {
	return b.cleanupRes, nil
}

func (b *fakeBackend) Status(ctx context.Context) (*backend.SystemStatus, error) {
	return b.status, nil
}

type fakeRecorder struct {
	reinits   map[string]int
	fatals    map[string]int
	fragments int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{reinits: map[string]int{}, fatals: map[string]int{}}
}

func (r *fakeRecorder) IncReinit(camera, reason string)   { r.reinits[reason]++ }
func (r *fakeRecorder) IncFatalError(camera, kind string) { r.fatals[kind]++ }
func (r *fakeRecorder) IncFragments(camera string)        { r.fragments++ }

// harness is one supervisor wired to fakes on a virtual clock.
type harness struct {
	t        *testing.T
	loop     *fakeLoop
	engine   *fakeEngine
	display  *fakeDisplay
	prober   *fakeProber
	backend  *fakeBackend
	recorder *fakeRecorder
	sup      *Supervisor
	changes  []Snapshot
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.EndpointTemplate = "http://nvr.local/system/cam/tmp/{camera}/{camera}.m3u8"
	return opts
}

func newHarness(t *testing.T, configure func(*Options)) *harness {
	t.Helper()
	loop := newFakeLoop()
	h := &harness{
		t:        t,
		loop:     loop,
		engine:   &fakeEngine{},
		display:  newFakeDisplay(loop.Now),
		prober:   &fakeProber{now: loop.Now},
		backend:  &fakeBackend{restartRes: &backend.CommandResult{Status: "success"}},
		recorder: newFakeRecorder(),
	}
	opts := testOptions()
	if configure != nil {
		configure(&opts)
	}

	tokens := 0
	sup, err := New(Config{
		ID:        "cam1",
		Name:      "Entrance",
		Options:   opts,
		NewPlayer: h.engine.factory,
		Display:   h.display,
		Prober:    h.prober,
		Restarter: h.backend,
		Metrics:   h.recorder,
		Logger:    testLogger(),
		OnChange:  func(s Snapshot) { h.changes = append(h.changes, s) },
		Loop:      loop,
		Token: func() string {
			tokens++
			return fmt.Sprintf("tok-%d", tokens)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sup = sup
	return h
}

// start mounts the supervisor and returns the first player.
func (h *harness) start() *fakePlayer {
	h.t.Helper()
	h.sup.Start()
	h.loop.Flush()
	p := h.engine.last()
	if p == nil {
		h.t.Fatal("no player created on start")
	}
	return p
}

// startPlaying mounts the supervisor and lets the manifest parse.
func (h *harness) startPlaying() *fakePlayer {
	h.t.Helper()
	p := h.start()
	p.events.ManifestParsed()
	h.loop.Flush()
	return p
}

func (h *harness) snap() Snapshot { return h.sup.Snapshot() }

func (h *harness) statuses() []Status {
	out := make([]Status, 0, len(h.changes))
	for _, c := range h.changes {
		out = append(out, c.Status)
	}
	return out
}

func fragment(h *harness, p *fakePlayer) {
	p.events.FragmentLoaded()
	p.events.BufferAppended()
	h.loop.Flush()
}

func fatal(h *harness, p *fakePlayer, kind ErrorKind) {
	p.events.Error(kind, true, fmt.Errorf("%s failure", kind))
	h.loop.Flush()
}
