package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete lumend configuration
type Config struct {
	InstanceID       string `yaml:"instance_id"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)

	Events  EventsConfig  `yaml:"events"`
	Marquee MarqueeConfig `yaml:"marquee"`
	DMD     DMDConfig     `yaml:"dmd"`
	Media   MediaConfig   `yaml:"media"`
	Timing  TimingConfig  `yaml:"timing"`
	Offsets OffsetsConfig `yaml:"offsets"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// EventsConfig contains settings for the two frontend event sources
type EventsConfig struct {
	StatusFile     string `yaml:"status_file"`      // watched status file written by the frontend
	PollIntervalMS int    `yaml:"poll_interval_ms"` // status file poll interval (default: 50)
	IPCSocket      string `yaml:"ipc_socket"`       // unix socket for frontend commands
}

// MarqueeConfig contains settings for the mpv-driven marquee surface
type MarqueeConfig struct {
	Enabled      bool     `yaml:"enabled"`
	MPVSocket    string   `yaml:"mpv_socket"`    // mpv JSON IPC socket path
	MPVBinary    string   `yaml:"mpv_binary"`    // used for the one-shot automatic restart
	MPVArgs      []string `yaml:"mpv_args"`      // extra args appended on restart
	DefaultImage string   `yaml:"default_image"` // end of the fallback chain
	LoadingImage string   `yaml:"loading_image"` // shown on game start before the game asset resolves

	// PinballSystems lists systems whose tables drive the physical screen
	// themselves; starting one suspends the marquee until game end.
	PinballSystems []string `yaml:"pinball_systems"`
}

// DMDConfig contains settings for the matrix display surface
type DMDConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Address      string `yaml:"address"` // unix socket path or host:port of the matrix daemon
	Width        int    `yaml:"width"`   // matrix resolution (default: 128x32)
	Height       int    `yaml:"height"`
	DefaultImage string `yaml:"default_image"`
	LoadingImage string `yaml:"loading_image"`
	FrameMode    bool   `yaml:"frame_mode"` // decode media locally and stream raw frames
}

// MediaConfig contains media lookup roots
type MediaConfig struct {
	MarqueeDir  string `yaml:"marquee_dir"`
	DMDDir      string `yaml:"dmd_dir"`
	UnlockCup   string `yaml:"unlock_cup"`   // cup image for the unlock notification sequence
	ComposerBin string `yaml:"composer_bin"` // external compositing helper; empty disables composition
	ComposerDir string `yaml:"composer_dir"` // where composed files land (default: data/composed)
}

// TimingConfig groups the tunable delays of the orchestrator
type TimingConfig struct {
	DebounceMS            int `yaml:"debounce_ms"`             // navigation quiet window (default: 30)
	GameStartGraceMS      int `yaml:"game_start_grace_ms"`     // selection events ignored after game start (default: 500)
	CycleDwellS           int `yaml:"cycle_dwell_s"`           // badge/stat/challenge dwell (default: 5)
	NotificationTimeoutS  int `yaml:"notification_timeout_s"`  // suppression safety timeout (default: 10)
	NarrativeClearS       int `yaml:"narrative_clear_s"`       // rich presence narrative auto-clear (default: 15)
	LockedFileRetries     int `yaml:"locked_file_retries"`     // status file read retries (default: 5)
	LockedFileRetryDelayM int `yaml:"locked_file_retry_delay"` // per-retry delay in ms (default: 20)
}

// OffsetsConfig contains the video offset store location
type OffsetsConfig struct {
	DBPath string `yaml:"db_path"` // sqlite database (default: data/offsets.db)
}

// MQTTConfig contains optional MQTT emitter settings; empty broker disables it
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"` // default: lumen
	QoS         byte   `yaml:"qos"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}

	cfg.applyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = "lumend"
	}
	if c.ShutdownTimeoutS == 0 {
		c.ShutdownTimeoutS = 5
	}
	if c.Events.PollIntervalMS == 0 {
		c.Events.PollIntervalMS = 50
	}
	if c.DMD.Width == 0 {
		c.DMD.Width = 128
	}
	if c.DMD.Height == 0 {
		c.DMD.Height = 32
	}
	if c.Timing.DebounceMS == 0 {
		c.Timing.DebounceMS = 30
	}
	if c.Timing.GameStartGraceMS == 0 {
		c.Timing.GameStartGraceMS = 500
	}
	if c.Timing.CycleDwellS == 0 {
		c.Timing.CycleDwellS = 5
	}
	if c.Timing.NotificationTimeoutS == 0 {
		c.Timing.NotificationTimeoutS = 10
	}
	if c.Timing.NarrativeClearS == 0 {
		c.Timing.NarrativeClearS = 15
	}
	if c.Timing.LockedFileRetries == 0 {
		c.Timing.LockedFileRetries = 5
	}
	if c.Timing.LockedFileRetryDelayM == 0 {
		c.Timing.LockedFileRetryDelayM = 20
	}
	if c.Offsets.DBPath == "" {
		c.Offsets.DBPath = "data/offsets.db"
	}
	if c.Media.ComposerDir == "" {
		c.Media.ComposerDir = "data/composed"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "lumen"
	}
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// DebounceWindow returns the navigation quiet window
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Timing.DebounceMS) * time.Millisecond
}

// CycleDwell returns the rotation dwell time
func (c *Config) CycleDwell() time.Duration {
	return time.Duration(c.Timing.CycleDwellS) * time.Second
}

// GameStartGrace returns the window after a game start during which
// selection events are ignored
func (c *Config) GameStartGrace() time.Duration {
	return time.Duration(c.Timing.GameStartGraceMS) * time.Millisecond
}
