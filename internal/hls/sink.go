package hls

import (
	"errors"
	"sync"
	"time"

	"hls-supervisor/internal/supervisor"
)

// ErrAutoplayBlocked is returned by Play when the sink only allows muted autoplay.
var ErrAutoplayBlocked = errors.New("autoplay blocked: unmuted playback not allowed")

// enoughDataMargin is the buffered lead at which the sink reports HaveEnoughData.
const enoughDataMargin = 2 * time.Second

// Sink is a headless display: it keeps a buffered timeline fed by the Engine
// and advances a playback position in wall-clock time while playing.
// It implements supervisor.Display.
type Sink struct {
	mu sync.Mutex

	now         func() time.Time
	mutedOnly   bool
	muted       bool
	paused      bool
	buffered    time.Duration
	position    time.Duration
	anchor      time.Time
	appendCount int
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SinkOption {
	return func(s *Sink) { s.now = now }
}

// WithMutedAutoplayOnly makes Play fail unless the sink is muted.
func WithMutedAutoplayOnly() SinkOption {
	return func(s *Sink) { s.mutedOnly = true }
}

// NewSink returns an empty, paused sink.
func NewSink(opts ...SinkOption) *Sink {
	s := &Sink{now: time.Now, paused: true}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ supervisor.Display = (*Sink)(nil)

// Append extends the buffered timeline by one fragment's duration.
func (s *Sink) Append(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered += d
	s.appendCount++
}

// Reset drops all buffered media, as detaching an engine does.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered = 0
	s.position = 0
	s.paused = true
	s.appendCount = 0
}

// Ahead returns how much media is buffered past the playback position.
func (s *Sink) Ahead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered - s.currentLocked()
}

func (s *Sink) currentLocked() time.Duration {
	if s.paused {
		return s.position
	}
	p := s.position + s.now().Sub(s.anchor)
	if p > s.buffered {
		p = s.buffered
	}
	return p
}

func (s *Sink) ReadyState() supervisor.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendCount == 0 {
		return supervisor.HaveNothing
	}
	ahead := s.buffered - s.currentLocked()
	switch {
	case ahead >= enoughDataMargin:
		return supervisor.HaveEnoughData
	case ahead > 0:
		return supervisor.HaveFutureData
	default:
		return supervisor.HaveCurrentData
	}
}

func (s *Sink) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Sink) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Sink) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *Sink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutedOnly && !s.muted {
		return ErrAutoplayBlocked
	}
	if s.paused {
		s.anchor = s.now()
		s.paused = false
	}
	return nil
}

func (s *Sink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.position = s.currentLocked()
		s.paused = true
	}
}

func (s *Sink) Seek(pos time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	if pos > s.buffered {
		pos = s.buffered
	}
	s.position = pos
	s.anchor = s.now()
}

func (s *Sink) CurrentTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Sink) BufferedEnd() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}
