package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	// At least one event source must be configured, otherwise the daemon
	// would start and never do anything
	if cfg.Events.StatusFile == "" && cfg.Events.IPCSocket == "" {
		return fmt.Errorf("at least one of events.status_file or events.ipc_socket is required")
	}
	if cfg.Events.PollIntervalMS < 10 {
		return fmt.Errorf("events.poll_interval_ms must be >= 10, got %d", cfg.Events.PollIntervalMS)
	}

	// At least one output surface must be enabled
	if !cfg.Marquee.Enabled && !cfg.DMD.Enabled {
		return fmt.Errorf("at least one of marquee or dmd must be enabled")
	}
	if cfg.Marquee.Enabled && cfg.Marquee.MPVSocket == "" {
		return fmt.Errorf("marquee.mpv_socket is required when marquee is enabled")
	}
	if cfg.DMD.Enabled {
		if cfg.DMD.Address == "" {
			return fmt.Errorf("dmd.address is required when dmd is enabled")
		}
		if cfg.DMD.Width <= 0 || cfg.DMD.Height <= 0 {
			return fmt.Errorf("dmd resolution must be positive, got %dx%d", cfg.DMD.Width, cfg.DMD.Height)
		}
	}

	if cfg.Timing.DebounceMS < 0 {
		return fmt.Errorf("timing.debounce_ms must be >= 0, got %d", cfg.Timing.DebounceMS)
	}
	if cfg.Timing.GameStartGraceMS < 0 {
		return fmt.Errorf("timing.game_start_grace_ms must be >= 0, got %d", cfg.Timing.GameStartGraceMS)
	}
	if cfg.Timing.CycleDwellS <= 0 {
		return fmt.Errorf("timing.cycle_dwell_s must be > 0, got %d", cfg.Timing.CycleDwellS)
	}
	if cfg.Timing.LockedFileRetries <= 0 {
		return fmt.Errorf("timing.locked_file_retries must be > 0, got %d", cfg.Timing.LockedFileRetries)
	}

	if cfg.MQTT.Broker != "" && cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}

	return nil
}
