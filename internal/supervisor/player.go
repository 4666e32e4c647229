package supervisor

import (
	"context"
	"time"
)

// Display is the media sink a Player renders into. It exposes the
// observable signals the health check polls and the playback controls the
// supervisor drives.
type Display interface {
	ReadyState() ReadyState
	Paused() bool
	Muted() bool
	SetMuted(muted bool)
	Play() error
	Pause()
	Seek(pos time.Duration)
	CurrentTime() time.Duration
	BufferedEnd() time.Duration
}

// Player is the adaptive-streaming engine capability the supervisor needs.
// A Player is owned by exactly one session and never reused after Destroy.
type Player interface {
	// Load sets the manifest URL and begins loading.
	Load(url string) error
	Attach(d Display)
	Destroy() error
	StartLoad()
	StopLoad()
	RecoverMediaError() error
}

// Events is how a Player reports progress. Implementations may call it from
// any goroutine.
type Events interface {
	ManifestParsed()
	FragmentLoaded()
	BufferAppended()
	Error(kind ErrorKind, fatal bool, err error)
}

// PlayerConfig bounds the engine's own buffering and retrying so the
// supervisor stays in charge of retry policy.
type PlayerConfig struct {
	MaxBufferLength     time.Duration
	MaxMaxBufferLength  time.Duration
	ManifestLoadRetries int
	FragmentLoadRetries int
	LoadTimeout         time.Duration
}

// PlayerFactory creates a fresh Player reporting to events.
type PlayerFactory func(cfg PlayerConfig, events Events) Player

// ManifestProber checks whether a manifest currently exists.
// A missing manifest is (false, nil); transport failures return an error.
type ManifestProber interface {
	Probe(ctx context.Context, url string) (bool, error)
}

// Recorder receives supervisor counters. *metrics.Metrics implements it.
type Recorder interface {
	IncReinit(camera, reason string)
	IncFatalError(camera, kind string)
	IncFragments(camera string)
}

type nopRecorder struct{}

func (nopRecorder) IncReinit(string, string) {}
func (nopRecorder) IncFatalError(string, string) {}
func (nopRecorder) IncFragments(string) {}
