package supervisor

import "time"

// Options tune one supervisor. Zero fields take the DefaultOptions value.
type Options struct {
	// EndpointTemplate is the manifest URL with {camera} placeholders,
	// e.g. http://nvr/system/cam/tmp/{camera}/{camera}.m3u8.
	EndpointTemplate string

	HealthCheckInterval time.Duration
	StallTimeout        time.Duration
	// EmptyGrace is how long a handle may sit with nothing loaded.
	// Must be shorter than StallTimeout.
	EmptyGrace time.Duration

	MaxRetryAttempts    int
	NetworkRetryDelay   time.Duration
	RecoveryGrace       time.Duration
	MaxRecoveryAttempts int
	ReinitDelay         time.Duration

	LowBufferMargin      time.Duration
	CriticalBufferMargin time.Duration
	NudgeDelay           time.Duration
	FrozenAfter          time.Duration
	FrozenSeekBack       time.Duration

	ResumeSettleDelay time.Duration

	ManifestProbe    bool
	ProbeInterval    time.Duration
	MaxProbeAttempts int
	ProbeSlowRetry   time.Duration

	RestartTimeout time.Duration

	Player PlayerConfig
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		HealthCheckInterval:  3 * time.Second,
		StallTimeout:         15 * time.Second,
		EmptyGrace:           10 * time.Second,
		MaxRetryAttempts:     5,
		NetworkRetryDelay:    time.Second,
		RecoveryGrace:        3 * time.Second,
		MaxRecoveryAttempts:  3,
		ReinitDelay:          time.Second,
		LowBufferMargin:      500 * time.Millisecond,
		CriticalBufferMargin: 100 * time.Millisecond,
		NudgeDelay:           100 * time.Millisecond,
		FrozenAfter:          6 * time.Second,
		FrozenSeekBack:       2 * time.Second,
		ResumeSettleDelay:    time.Second,
		ProbeInterval:        2 * time.Second,
		MaxProbeAttempts:     15,
		ProbeSlowRetry:       10 * time.Second,
		RestartTimeout:       10 * time.Second,
		Player: PlayerConfig{
			MaxBufferLength:     30 * time.Second,
			MaxMaxBufferLength:  60 * time.Second,
			ManifestLoadRetries: 2,
			FragmentLoadRetries: 3,
			LoadTimeout:         10 * time.Second,
		},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	setDur := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}

	setDur(&o.HealthCheckInterval, d.HealthCheckInterval)
	setDur(&o.StallTimeout, d.StallTimeout)
	setDur(&o.EmptyGrace, d.EmptyGrace)
	if o.EmptyGrace >= o.StallTimeout {
		o.EmptyGrace = o.StallTimeout * 2 / 3
	}
	setInt(&o.MaxRetryAttempts, d.MaxRetryAttempts)
	setDur(&o.NetworkRetryDelay, d.NetworkRetryDelay)
	setDur(&o.RecoveryGrace, d.RecoveryGrace)
	setInt(&o.MaxRecoveryAttempts, d.MaxRecoveryAttempts)
	setDur(&o.ReinitDelay, d.ReinitDelay)
	setDur(&o.LowBufferMargin, d.LowBufferMargin)
	setDur(&o.CriticalBufferMargin, d.CriticalBufferMargin)
	setDur(&o.NudgeDelay, d.NudgeDelay)
	setDur(&o.FrozenAfter, d.FrozenAfter)
	setDur(&o.FrozenSeekBack, d.FrozenSeekBack)
	setDur(&o.ResumeSettleDelay, d.ResumeSettleDelay)
	setDur(&o.ProbeInterval, d.ProbeInterval)
	setInt(&o.MaxProbeAttempts, d.MaxProbeAttempts)
	setDur(&o.ProbeSlowRetry, d.ProbeSlowRetry)
	setDur(&o.RestartTimeout, d.RestartTimeout)

	setDur(&o.Player.MaxBufferLength, d.Player.MaxBufferLength)
	setDur(&o.Player.MaxMaxBufferLength, d.Player.MaxMaxBufferLength)
	setInt(&o.Player.ManifestLoadRetries, d.Player.ManifestLoadRetries)
	setInt(&o.Player.FragmentLoadRetries, d.Player.FragmentLoadRetries)
	setDur(&o.Player.LoadTimeout, d.Player.LoadTimeout)
	return o
}
