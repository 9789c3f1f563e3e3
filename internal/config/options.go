package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Options are deployment settings read once at startup.
type Options struct {
	AppName          string        `yaml:"app_name"`
	DataDir          string        `yaml:"data_dir"`
	PrivateDir       string        `yaml:"private_dir"`
	SettingsPath     string        `yaml:"settings_path"`
	HistoryPath      string        `yaml:"history_path"`
	FFmpegPath       string        `yaml:"ffmpeg_path"`
	KeepAwakeCeiling time.Duration `yaml:"keep_awake_ceiling"`
	AccessTier       string        `yaml:"access_tier"`
	EventBuffer      int           `yaml:"event_buffer"`
	Sweep            SweepOptions  `yaml:"sweep"`
	Server           ServerOptions `yaml:"server"`
	Logging          LogOptions    `yaml:"logging"`
}

// SweepOptions control cleanup of the private working area.
type SweepOptions struct {
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// ServerOptions configure the headless HTTP bridge.
type ServerOptions struct {
	Addr string `yaml:"addr"`
}

// LogOptions override LOG_* settings.
type LogOptions struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultOptions returns options with every field populated.
func DefaultOptions() Options {
	dataDir := DefaultDataDir(DefaultAppName)
	return Options{
		AppName:          DefaultAppName,
		DataDir:          dataDir,
		PrivateDir:       filepath.Join(dataDir, "cache"),
		SettingsPath:     filepath.Join(dataDir, "settings.json"),
		HistoryPath:      filepath.Join(dataDir, "history.db"),
		FFmpegPath:       "ffmpeg",
		KeepAwakeCeiling: time.Hour,
		EventBuffer:      500,
		Sweep: SweepOptions{
			Interval: 30 * time.Minute,
			MaxAge:   24 * time.Hour,
		},
		Server: ServerOptions{
			Addr: "127.0.0.1:8787",
		},
	}
}

// LoadOptions reads .env, then the YAML file at path (optional), then BRIDGE_* overrides.
func LoadOptions(path string) (Options, error) {
	_ = godotenv.Load()

	opts := DefaultOptions()
	// Paths under the data dir are derived after overrides are applied.
	opts.DataDir, opts.PrivateDir, opts.SettingsPath, opts.HistoryPath = "", "", "", ""
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &opts); err != nil {
				return Options{}, fmt.Errorf("failed to parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Options{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := applyEnv(&opts); err != nil {
		return Options{}, err
	}
	opts.fillDerived()
	return opts, nil
}

// fillDerived fills fields left empty by the file and environment.
func (o *Options) fillDerived() {
	if o.AppName == "" {
		o.AppName = DefaultAppName
	}
	if o.DataDir == "" {
		o.DataDir = DefaultDataDir(o.AppName)
	}
	if o.PrivateDir == "" {
		o.PrivateDir = filepath.Join(o.DataDir, "cache")
	}
	if o.SettingsPath == "" {
		o.SettingsPath = filepath.Join(o.DataDir, "settings.json")
	}
	if o.HistoryPath == "" {
		o.HistoryPath = filepath.Join(o.DataDir, "history.db")
	}
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.KeepAwakeCeiling <= 0 {
		o.KeepAwakeCeiling = time.Hour
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 500
	}
}

func applyEnv(o *Options) error {
	strs := map[string]*string{
		"BRIDGE_APP_NAME":    &o.AppName,
		"BRIDGE_DATA_DIR":    &o.DataDir,
		"BRIDGE_PRIVATE_DIR": &o.PrivateDir,
		"BRIDGE_SETTINGS":    &o.SettingsPath,
		"BRIDGE_HISTORY":     &o.HistoryPath,
		"BRIDGE_FFMPEG":      &o.FFmpegPath,
		"BRIDGE_ACCESS_TIER": &o.AccessTier,
		"BRIDGE_ADDR":        &o.Server.Addr,
		"BRIDGE_LOG_LEVEL":   &o.Logging.Level,
		"BRIDGE_LOG_FORMAT":  &o.Logging.Format,
		"BRIDGE_LOG_FILE":    &o.Logging.File,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"BRIDGE_KEEP_AWAKE_CEILING": &o.KeepAwakeCeiling,
		"BRIDGE_SWEEP_INTERVAL":     &o.Sweep.Interval,
		"BRIDGE_SWEEP_MAX_AGE":      &o.Sweep.MaxAge,
	}
	for key, dst := range durations {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}
