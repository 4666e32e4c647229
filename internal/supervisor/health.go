package supervisor

import (
	"log/slog"
	"time"
)

func (s *Supervisor) scheduleTick() {
	s.ticker = s.loop.After(s.opts.HealthCheckInterval, func() {
		if s.closed {
			return
		}
		s.tick()
		s.scheduleTick()
	})
}

// tick runs one health check. Checks run in order and stop at the first
// one that acts.
func (s *Supervisor) tick() {
	if !s.healthCheckEnabled || s.player == nil {
		return
	}
	now := s.loop.Now()

	if s.opts.ManifestProbe && s.retryCount == 0 {
		s.recheckManifest()
	}

	ready := s.display.ReadyState()
	if ready == HaveNothing && now.Sub(s.startedAt) > s.opts.EmptyGrace {
		s.reinitialize("no_data")
		return
	}

	// Primary stall detector: a session can look connected while no new
	// fragments arrive.
	if since := now.Sub(s.lastFragmentAt); since > s.opts.StallTimeout {
		s.log.Warn("stream stalled", slog.Duration("since_last_fragment", since))
		s.setStatus(StatusStalled, "no new fragments")
		s.reinitialize("stall")
		return
	}

	pos := s.display.CurrentTime()
	playing := !s.display.Paused()

	if playing && ready >= HaveCurrentData {
		margin := s.display.BufferedEnd() - pos
		if margin < s.opts.LowBufferMargin {
			s.setStatus(StatusBuffering, "")
			if margin < s.opts.CriticalBufferMargin {
				s.nudge()
			}
			s.recordPosition(pos, now)
			return
		}
	}

	if playing && pos == s.lastPosition && now.Sub(s.lastProgressAt) >= s.opts.FrozenAfter {
		s.log.Warn("playback frozen", slog.Duration("position", pos))
		back := pos - s.opts.FrozenSeekBack
		if back < 0 {
			back = 0
		}
		s.display.Seek(back)
		if err := s.display.Play(); err != nil {
			s.reinitialize("frozen")
			return
		}
		s.lastPosition = back
		s.lastProgressAt = now
		return
	}

	// Healthy: drop statuses the previous tick or a finished recovery left behind.
	if playing {
		switch s.status {
		case StatusBuffering, StatusStalled:
			s.setStatus(s.playingStatus(), "")
		case StatusReconnecting:
			if s.retryCount == 0 && s.pending == nil {
				s.setStatus(s.playingStatus(), "")
			}
		}
	}
	s.recordPosition(pos, now)
}

func (s *Supervisor) recordPosition(pos time.Duration, now time.Time) {
	if pos != s.lastPosition {
		s.lastPosition = pos
		s.lastProgressAt = now
	}
}

// nudge pauses and shortly resumes playback to kick a starving decoder.
func (s *Supervisor) nudge() {
	s.display.Pause()
	s.after(s.opts.NudgeDelay, func() {
		if !s.visible {
			return
		}
		if err := s.display.Play(); err != nil {
			s.log.Debug("resume after nudge failed", slog.String("error", err.Error()))
		}
	})
}

// recheckManifest verifies the manifest still exists. Transport errors are
// ignored; only a definite miss reinitializes.
func (s *Supervisor) recheckManifest() {
	gen := s.gen
	endpoint := s.endpoint
	s.loop.Spawn(func() func() {
		found, err := s.probe(endpoint)
		return func() {
			if s.closed || s.gen != gen || s.player == nil || !s.visible || err != nil || found {
				return
			}
			s.reinitialize("manifest_missing")
		}
	})
}

// setVisible suspends loading in the background and resumes it in the
// foreground. Health checks come back only after ResumeSettleDelay.
func (s *Supervisor) setVisible(visible bool) {
	if !s.started || visible == s.visible {
		s.visible = visible
		return
	}
	s.visible = visible
	stopTimer(s.settle)
	s.settle = nil

	if !visible {
		s.healthCheckEnabled = false
		s.cancelPending()
		if s.player != nil {
			s.player.StopLoad()
		}
		s.setStatus(StatusPaused, "suspended")
		return
	}

	if s.player == nil {
		s.restartNow("resume")
	} else {
		s.player.StartLoad()
		now := s.loop.Now()
		s.lastFragmentAt = now
		s.lastProgressAt = now
		s.tryPlay()
	}

	s.settle = s.loop.After(s.opts.ResumeSettleDelay, func() {
		if s.closed || !s.visible {
			return
		}
		s.healthCheckEnabled = true
		s.publish(false)
	})
}
