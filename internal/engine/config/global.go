package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/irahardianto/dockhand/internal/platform/logger"
	"gopkg.in/yaml.v3"
)

// Keys understood in the user configuration file. The same keys, upper-cased
// with dots replaced by underscores and prefixed with DOCKHAND_, override the
// file from the environment.
const (
	KeyStrategy         = "docker.client.strategy"
	KeyDockerHost       = "docker.host"
	KeyTLSVerify        = "docker.tls.verify"
	KeyCertPath         = "docker.cert.path"
	KeyRemoteHost       = "dockhand.host"
	KeyReaperDisabled   = "reaper.disabled"
	KeyReaperPrivileged = "reaper.privileged"
	KeyReaperImage      = "reaper.image"
	KeyReaperTimeout    = "reaper.timeout"
	KeyReaperRate       = "reaper.rate"
	KeyReuseEnable      = "reuse.enable"
	KeyPingTimeout      = "ping.timeout"
)

const envPrefix = "DOCKHAND_"

// GlobalConfig holds user-level settings that persist across runs.
type GlobalConfig struct {
	Strategy         string        `yaml:"docker.client.strategy,omitempty"`
	DockerHost       string        `yaml:"docker.host,omitempty"`
	TLSVerify        bool          `yaml:"docker.tls.verify,omitempty"`
	CertPath         string        `yaml:"docker.cert.path,omitempty"`
	RemoteHost       string        `yaml:"dockhand.host,omitempty"`
	ReaperDisabled   bool          `yaml:"reaper.disabled,omitempty"`
	ReaperPrivileged bool          `yaml:"reaper.privileged,omitempty"`
	ReaperImage      string        `yaml:"reaper.image,omitempty"`
	ReaperTimeout    time.Duration `yaml:"reaper.timeout,omitempty"`
	ReaperRate       float64       `yaml:"reaper.rate,omitempty"`
	ReuseEnable      bool          `yaml:"reuse.enable,omitempty"`
	PingTimeout      time.Duration `yaml:"ping.timeout,omitempty"`
}

const (
	DefaultReaperImage   = "testcontainers/ryuk:0.11.0"
	DefaultReaperTimeout = 30 * time.Second
	DefaultReaperRate    = 4.0
	DefaultPingTimeout   = 30 * time.Second
)

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// GlobalConfigPath returns ~/.config/dockhand/config.yaml.
func (l *Loader) GlobalConfigPath() (string, error) {
	home, err := l.fs.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".config", "dockhand", "config.yaml"), nil
}

// LoadGlobalConfig reads user-level configuration from ~/.config/dockhand/config.yaml.
// If the file does not exist, default values are returned (not an error).
// Environment variables override file values.
func (l *Loader) LoadGlobalConfig(ctx context.Context) (*GlobalConfig, error) {
	path, err := l.GlobalConfigPath()
	if err != nil {
		// Cannot determine home directory, use defaults.
		cfg := defaultGlobalConfig()
		applyEnvOverrides(cfg, l.getenv, logger.FromContext(ctx))
		return cfg, nil
	}
	return l.LoadGlobalConfigFrom(ctx, path)
}

// LoadGlobalConfigFrom reads user-level configuration from a specific path.
// If the file does not exist, default values are returned (not an error).
// Environment variables override file values.
func (l *Loader) LoadGlobalConfigFrom(ctx context.Context, path string) (*GlobalConfig, error) {
	log := logger.FromContext(ctx)
	log.Debug("loading global config", "path", path)
	cfg := defaultGlobalConfig()

	path = filepath.Clean(path)

	data, err := l.fs.ReadFile(path)
	if err != nil {
		if l.fs.IsNotExist(err) {
			applyEnvOverrides(cfg, l.getenv, log)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading global config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing global config: %w", err)
	}
	fillDefaults(cfg)

	applyEnvOverrides(cfg, l.getenv, log)

	return cfg, nil
}

// PersistStrategy records name under docker.client.strategy in the file at
// path, keeping every other key of the file as written. Environment
// overrides never reach the file.
func (l *Loader) PersistStrategy(ctx context.Context, path, name string) error {
	path = filepath.Clean(path)
	raw := map[string]interface{}{}

	data, err := l.fs.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing global config: %w", err)
		}
		if raw == nil {
			raw = map[string]interface{}{}
		}
	case l.fs.IsNotExist(err):
	default:
		return fmt.Errorf("reading global config: %w", err)
	}

	if current, ok := raw[KeyStrategy].(string); ok && current == name {
		return nil
	}
	raw[KeyStrategy] = name

	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding global config: %w", err)
	}
	if err := l.fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := l.fs.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing global config: %w", err)
	}
	logger.FromContext(ctx).Debug("persisted discovery strategy", "path", path, "strategy", name)
	return nil
}

// LoadGlobalConfig reads user-level configuration using the real file system.
func LoadGlobalConfig(ctx context.Context) (*GlobalConfig, error) {
	return NewLoader(&RealFileSystem{}).LoadGlobalConfig(ctx)
}

func defaultGlobalConfig() *GlobalConfig {
	cfg := &GlobalConfig{}
	fillDefaults(cfg)
	return cfg
}

func fillDefaults(cfg *GlobalConfig) {
	if cfg.ReaperImage == "" {
		cfg.ReaperImage = DefaultReaperImage
	}
	if cfg.ReaperTimeout <= 0 {
		cfg.ReaperTimeout = DefaultReaperTimeout
	}
	if cfg.ReaperRate <= 0 {
		cfg.ReaperRate = DefaultReaperRate
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
}

type setting struct {
	key   string
	apply func(cfg *GlobalConfig, value string) error
}

var settings = []setting{
	{KeyStrategy, func(c *GlobalConfig, v string) error { c.Strategy = v; return nil }},
	{KeyDockerHost, func(c *GlobalConfig, v string) error { c.DockerHost = v; return nil }},
	{KeyTLSVerify, boolSetting(func(c *GlobalConfig) *bool { return &c.TLSVerify })},
	{KeyCertPath, func(c *GlobalConfig, v string) error { c.CertPath = v; return nil }},
	{KeyRemoteHost, func(c *GlobalConfig, v string) error { c.RemoteHost = v; return nil }},
	{KeyReaperDisabled, boolSetting(func(c *GlobalConfig) *bool { return &c.ReaperDisabled })},
	{KeyReaperPrivileged, boolSetting(func(c *GlobalConfig) *bool { return &c.ReaperPrivileged })},
	{KeyReaperImage, func(c *GlobalConfig, v string) error { c.ReaperImage = v; return nil }},
	{KeyReaperTimeout, durationSetting(func(c *GlobalConfig) *time.Duration { return &c.ReaperTimeout })},
	{KeyReaperRate, func(c *GlobalConfig, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		if f <= 0 {
			return fmt.Errorf("rate must be positive, got %v", f)
		}
		c.ReaperRate = f
		return nil
	}},
	{KeyReuseEnable, boolSetting(func(c *GlobalConfig) *bool { return &c.ReuseEnable })},
	{KeyPingTimeout, durationSetting(func(c *GlobalConfig) *time.Duration { return &c.PingTimeout })},
}

// Keys returns every key understood in the user configuration, in file order.
func Keys() []string {
	keys := make([]string, len(settings))
	for i, s := range settings {
		keys[i] = s.key
	}
	return keys
}

func boolSetting(field func(*GlobalConfig) *bool) func(*GlobalConfig, string) error {
	return func(c *GlobalConfig, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationSetting(field func(*GlobalConfig) *time.Duration) func(*GlobalConfig, string) error {
	return func(c *GlobalConfig, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("duration must be positive, got %v", d)
		}
		*field(c) = d
		return nil
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// The getenv parameter abstracts os.Getenv for testability.
func applyEnvOverrides(cfg *GlobalConfig, getenv func(string) string, log *slog.Logger) {
	for _, s := range settings {
		name := EnvName(s.key)
		value := getenv(name)
		if value == "" {
			continue
		}
		if err := s.apply(cfg, value); err != nil {
			log.Warn("invalid environment override, keeping current value", "variable", name, "value", value, "error", err)
		}
	}
}
