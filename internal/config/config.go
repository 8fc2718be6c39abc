// Package config provides configuration management for speechsync
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	TTS     TTSConfig     `mapstructure:"tts" yaml:"tts"`
	LipSync LipSyncConfig `mapstructure:"lipsync" yaml:"lipsync"`
	Rig     RigConfig     `mapstructure:"rig" yaml:"rig"`
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// TTSConfig configures the MaryTTS connection and the default voice
type TTSConfig struct {
	Server      string        `mapstructure:"server" yaml:"server"` // host:port or URL
	Voice       string        `mapstructure:"voice" yaml:"voice"`
	Locale      string        `mapstructure:"locale" yaml:"locale"` // empty: taken from the voice catalog
	ExtraParams string        `mapstructure:"extra_params" yaml:"extra_params"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"` // 0 disables
	Cache       CacheConfig   `mapstructure:"cache" yaml:"cache"`
}

// CacheConfig configures the fetch cache
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend   string        `mapstructure:"backend" yaml:"backend"` // memory or redis
	Size      int           `mapstructure:"size" yaml:"size"`
	RedisAddr string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// LipSyncConfig configures the sampler
type LipSyncConfig struct {
	Gain        float32 `mapstructure:"gain" yaml:"gain"`
	WeightScale float32 `mapstructure:"weight_scale" yaml:"weight_scale"` // 1 for glTF, 100 for Unity-style
	Profile     string  `mapstructure:"profile" yaml:"profile"`           // YAML profile path; empty uses the built-in
	FPS         int     `mapstructure:"fps" yaml:"fps"`
}

// RigConfig points at the mesh whose morph targets are animated
type RigConfig struct {
	Mesh string `mapstructure:"mesh" yaml:"mesh"` // .gltf/.glb; empty uses a bare viseme rig
}

// AudioConfig configures playback
type AudioConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	SampleRate int     `mapstructure:"sample_rate" yaml:"sample_rate"`
	Volume     float64 `mapstructure:"volume" yaml:"volume"` // 0 to 1
}

// ServerConfig configures the control API
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Level   string `mapstructure:"level" yaml:"level"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		TTS: TTSConfig{
			Server:  "localhost:59125",
			Voice:   "cmu-slt-hsmm",
			Timeout: 30 * time.Second,
			Cache: CacheConfig{
				Enabled:   true,
				Backend:   "memory",
				Size:      64,
				RedisAddr: "localhost:6379",
				TTL:       24 * time.Hour,
			},
		},
		LipSync: LipSyncConfig{
			Gain:        1.0,
			WeightScale: 1.0,
			FPS:         60,
		},
		Audio: AudioConfig{
			Enabled:    true,
			SampleRate: 44100,
			Volume:     1.0,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8089",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Validate rejects values the driver cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.TTS.Server == "" {
		errs = append(errs, errors.New("tts.server is required"))
	}
	if c.TTS.Voice == "" {
		errs = append(errs, errors.New("tts.voice is required"))
	}
	if c.TTS.Timeout < 0 {
		errs = append(errs, errors.New("tts.timeout must not be negative"))
	}
	switch c.TTS.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("tts.cache.backend %q: want memory or redis", c.TTS.Cache.Backend))
	}
	if c.LipSync.WeightScale <= 0 {
		errs = append(errs, errors.New("lipsync.weight_scale must be positive"))
	}
	if c.LipSync.FPS <= 0 {
		errs = append(errs, errors.New("lipsync.fps must be positive"))
	}
	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		errs = append(errs, fmt.Errorf("audio.volume %g: want 0 to 1", c.Audio.Volume))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	return errors.Join(errs...)
}

// Manager owns a viper instance and the decoded configuration.
type Manager struct {
	v   *viper.Viper
	dir string

	mu  sync.RWMutex
	cfg *Config
}

// New creates a manager reading config.yaml from path, or from
// ~/.speechsync and the working directory when path is empty.
func New(path string) (*Manager, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("SPEECHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{v: v}
	if path != "" {
		v.SetConfigFile(path)
		m.dir = filepath.Dir(path)
		return m, nil
	}

	dir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}
	m.dir = dir
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AddConfigPath(".")
	return m, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("tts.server", d.TTS.Server)
	v.SetDefault("tts.voice", d.TTS.Voice)
	v.SetDefault("tts.locale", d.TTS.Locale)
	v.SetDefault("tts.extra_params", d.TTS.ExtraParams)
	v.SetDefault("tts.timeout", d.TTS.Timeout)
	v.SetDefault("tts.cache.enabled", d.TTS.Cache.Enabled)
	v.SetDefault("tts.cache.backend", d.TTS.Cache.Backend)
	v.SetDefault("tts.cache.size", d.TTS.Cache.Size)
	v.SetDefault("tts.cache.redis_addr", d.TTS.Cache.RedisAddr)
	v.SetDefault("tts.cache.ttl", d.TTS.Cache.TTL)

	v.SetDefault("lipsync.gain", d.LipSync.Gain)
	v.SetDefault("lipsync.weight_scale", d.LipSync.WeightScale)
	v.SetDefault("lipsync.profile", d.LipSync.Profile)
	v.SetDefault("lipsync.fps", d.LipSync.FPS)

	v.SetDefault("rig.mesh", d.Rig.Mesh)

	v.SetDefault("audio.enabled", d.Audio.Enabled)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.volume", d.Audio.Volume)

	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.console", d.Logging.Console)
}

// Load reads the config file if present, then applies environment overrides.
// A missing file is not an error.
func (m *Manager) Load() (*Config, error) {
	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return m.decode()
}

func (m *Manager) decode() (*Config, error) {
	cfg := &Config{}
	if err := m.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Save writes cfg to the file in use, or config.yaml in the config directory.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return err
	}

	m.v.Set("tts", cfg.TTS)
	m.v.Set("lipsync", cfg.LipSync)
	m.v.Set("rig", cfg.Rig)
	m.v.Set("audio", cfg.Audio)
	m.v.Set("server", cfg.Server)
	m.v.Set("logging", cfg.Logging)

	path := m.v.ConfigFileUsed()
	if path == "" {
		path = filepath.Join(m.dir, "config.yaml")
	}
	return m.v.WriteConfigAs(path)
}

// Watch calls fn with the reloaded configuration whenever the file changes.
// Reloads that fail to decode or validate go to onErr and keep the old values.
func (m *Manager) Watch(fn func(*Config), onErr func(error)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := m.decode()
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		fn(cfg)
	})
	m.v.WatchConfig()
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".speechsync"), nil
}
