package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// handleEvents binds engine callbacks to the generation of the handle that
// produced them. Anything arriving after that handle was torn down is dropped.
type handleEvents struct {
	s   *Supervisor
	gen uint64
}

func (h *handleEvents) deliver(fn func()) {
	h.s.loop.Post(func() {
		if h.s.closed || h.s.gen != h.gen || h.s.player == nil {
			return
		}
		fn()
	})
}

func (h *handleEvents) ManifestParsed() { h.deliver(h.s.onManifestParsed) }
func (h *handleEvents) FragmentLoaded() { h.deliver(h.s.onFragmentLoaded) }
func (h *handleEvents) BufferAppended() { h.deliver(h.s.onBufferAppended) }

func (h *handleEvents) Error(kind ErrorKind, fatal bool, err error) {
	h.deliver(func() { h.s.onError(kind, fatal, err) })
}

// teardown destroys the current handle, if any, and advances the generation
// so pending timers and in-flight events of the old handle become inert.
func (s *Supervisor) teardown() {
	s.gen++
	if s.player == nil {
		return
	}
	p := s.player
	s.player = nil
	if err := p.Destroy(); err != nil {
		s.log.Debug("destroy player failed", slog.String("error", err.Error()))
	}
}

func (s *Supervisor) resetCounters() {
	now := s.loop.Now()
	s.retryCount = 0
	s.recoveryAttempts = 0
	s.probeWaits = 0
	s.startedAt = now
	s.lastFragmentAt = now
	s.lastProgressAt = now
	s.lastPosition = s.display.CurrentTime()
}

// restartNow is the immediate full initialization used by start, reload and
// manual restart.
func (s *Supervisor) restartNow(reason string) {
	s.log.Info("initializing session", slog.String("reason", reason))
	s.teardown()
	s.cancelPending()
	s.resetCounters()
	s.setStatus(StatusConnecting, "")
	s.connect()
}

// reinitialize is the escalation path: destroy, reset, and re-create after
// ReinitDelay.
func (s *Supervisor) reinitialize(reason string) {
	s.reinits++
	s.metrics.IncReinit(string(s.id), reason)
	s.log.Warn("reinitializing session",
		slog.String("reason", reason),
		slog.Int("reinitializations", s.reinits))

	s.teardown()
	s.cancelPending()
	s.resetCounters()
	s.setStatus(StatusRestarting, reason)
	s.schedulePending(s.opts.ReinitDelay, s.connect)
}

// connect builds a fresh endpoint and either probes for the manifest or
// creates the handle straight away. While suspended nothing is created;
// resuming performs a full initialization.
func (s *Supervisor) connect() {
	if !s.visible {
		s.setStatus(StatusPaused, "suspended")
		return
	}
	s.endpoint = s.buildEndpoint()
	if s.opts.ManifestProbe {
		s.probeManifest()
		return
	}
	s.createPlayer()
}

func (s *Supervisor) probeManifest() {
	gen := s.gen
	endpoint := s.endpoint
	s.loop.Spawn(func() func() {
		found, err := s.probe(endpoint)
		return func() {
			if s.closed || s.gen != gen || s.player != nil {
				return
			}
			if !s.visible {
				s.setStatus(StatusPaused, "suspended")
				return
			}
			if err != nil {
				s.log.Debug("manifest probe failed", slog.String("error", err.Error()))
			}
			s.onProbeResult(found)
		}
	})
}

func (s *Supervisor) probe(endpoint string) (bool, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.Player.LoadTimeout)
	defer cancel()
	return s.prober.Probe(ctx, endpoint)
}

func (s *Supervisor) onProbeResult(found bool) {
	if found {
		s.probeWaits = 0
		s.createPlayer()
		return
	}

	s.probeWaits++
	if s.probeWaits > s.opts.MaxProbeAttempts {
		s.log.Warn("manifest not found, backing off",
			slog.Int("attempts", s.opts.MaxProbeAttempts),
			slog.Duration("retry_in", s.opts.ProbeSlowRetry))
		s.probeWaits = 0
		s.setStatus(StatusError, "manifest not found")
		s.schedulePending(s.opts.ProbeSlowRetry, s.connect)
		return
	}
	s.setStatus(StatusConnecting, fmt.Sprintf("waiting for manifest (%d/%d)", s.probeWaits, s.opts.MaxProbeAttempts))
	s.schedulePending(s.opts.ProbeInterval, s.connect)
}

// createPlayer attaches and loads a new handle. Any previous handle has
// already been destroyed by teardown.
func (s *Supervisor) createPlayer() {
	if s.player != nil {
		s.teardown()
	}
	now := s.loop.Now()
	s.startedAt = now
	s.lastFragmentAt = now
	s.lastProgressAt = now

	p := s.newPlayer(s.opts.Player, &handleEvents{s: s, gen: s.gen})
	s.player = p
	p.Attach(s.display)
	s.log.Debug("player created", slog.Uint64("generation", s.gen))
	if err := p.Load(s.endpoint); err != nil {
		s.onError(ErrorOther, true, fmt.Errorf("load: %w", err))
		return
	}
	s.setStatus(StatusConnecting, "")
}

func (s *Supervisor) onManifestParsed() {
	s.tryPlay()
}

// tryPlay starts playback, falling back to muted playback when autoplay is
// refused. A second refusal leaves the session intact in the error state so
// a later Play can still resume it.
func (s *Supervisor) tryPlay() {
	err := s.display.Play()
	if err == nil {
		s.setStatus(s.playingStatus(), "")
		return
	}
	if !s.display.Muted() {
		s.display.SetMuted(true)
		if err = s.display.Play(); err == nil {
			s.setStatus(StatusConnectedMuted, "autoplay muted")
			return
		}
	}
	s.log.Warn("playback blocked", slog.String("error", err.Error()))
	s.setStatus(StatusError, "playback blocked")
}

func (s *Supervisor) playingStatus() Status {
	if s.display.Muted() {
		return StatusConnectedMuted
	}
	return StatusConnected
}

func (s *Supervisor) onFragmentLoaded() {
	s.lastFragmentAt = s.loop.Now()
	s.retryCount = 0
	s.recoveryAttempts = 0
	s.metrics.IncFragments(string(s.id))

	switch s.status {
	case StatusReconnecting, StatusStalled:
		if !s.display.Paused() {
			s.setStatus(s.playingStatus(), "")
			return
		}
	}
	s.publish(false)
}

func (s *Supervisor) onBufferAppended() {
	s.lastFragmentAt = s.loop.Now()
	if s.display.Paused() && s.visible {
		if err := s.display.Play(); err == nil && s.status != StatusConnected && s.status != StatusConnectedMuted {
			s.setStatus(s.playingStatus(), "")
		}
	}
}

func (s *Supervisor) onError(kind ErrorKind, fatal bool, err error) {
	if !fatal {
		s.log.Debug("non-fatal player error", slog.String("kind", string(kind)), slog.Any("error", err))
		return
	}
	s.metrics.IncFatalError(string(s.id), string(kind))
	if !s.visible {
		// Loading is stopped while suspended; resume restarts it.
		s.log.Debug("fatal player error while suspended",
			slog.String("kind", string(kind)),
			slog.Any("error", err))
		return
	}
	s.log.Warn("fatal player error",
		slog.String("kind", string(kind)),
		slog.Any("error", err),
		slog.Int("retry_count", s.retryCount))

	switch kind {
	case ErrorMedia:
		s.recoverMedia()
	case ErrorNetwork:
		s.retryCount++
		if s.retryCount >= s.opts.MaxRetryAttempts {
			s.reinitialize("max_retries")
			return
		}
		s.setStatus(StatusReconnecting, fmt.Sprintf("network error, retry %d/%d", s.retryCount, s.opts.MaxRetryAttempts))
		since := s.loop.Now()
		s.schedulePending(s.opts.NetworkRetryDelay, func() { s.softRecover(since) })
	default:
		s.retryCount++
		if s.retryCount >= s.opts.MaxRetryAttempts {
			s.reinitialize("max_retries")
			return
		}
		s.setStatus(StatusReconnecting, fmt.Sprintf("player error, retry %d/%d", s.retryCount, s.opts.MaxRetryAttempts))
		// Plain reinitialization keeps retryCount so the bound still applies.
		s.teardown()
		s.cancelPending()
		s.schedulePending(s.opts.ReinitDelay, s.connect)
	}
}

func (s *Supervisor) recoverMedia() {
	s.setStatus(StatusReconnecting, "recovering media error")
	if err := s.player.RecoverMediaError(); err != nil {
		s.log.Warn("media error recovery failed", slog.String("error", err.Error()))
		s.reinitialize("media_recovery_failed")
		return
	}
	s.tryPlay()
}

// softRecover resumes loading on the existing handle and checks back after
// RecoveryGrace whether fragments flowed again.
func (s *Supervisor) softRecover(since time.Time) {
	if s.player == nil || !s.visible {
		return
	}
	s.player.StartLoad()
	s.schedulePending(s.opts.RecoveryGrace, func() { s.verifyRecovery(since) })
}

func (s *Supervisor) verifyRecovery(since time.Time) {
	if !s.visible {
		return
	}
	if s.lastFragmentAt.After(since) {
		s.recoveryAttempts = 0
		if s.status == StatusReconnecting {
			s.setStatus(s.playingStatus(), "")
		}
		return
	}

	s.recoveryAttempts++
	if s.recoveryAttempts >= s.opts.MaxRecoveryAttempts {
		s.reinitialize("recovery_exhausted")
		return
	}
	s.log.Info("stream not resumed, retrying load",
		slog.Int("attempt", s.recoveryAttempts),
		slog.Int("max", s.opts.MaxRecoveryAttempts))
	s.softRecover(since)
}
