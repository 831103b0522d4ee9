// Package config loads dockhand's user configuration and project files.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/irahardianto/dockhand/internal/platform/logger"
	"gopkg.in/yaml.v3"
)

// ErrProjectNotFound is returned when the project file does not exist.
var ErrProjectNotFound = errors.New("no dockhand.yaml found")

// ProjectConfig is the top-level project file listing the containers to provision.
type ProjectConfig struct {
	Version  int      `yaml:"version"`
	Defaults Defaults `yaml:"defaults"`
	// Networks and Volumes are created per session. Containers refer to
	// them by these names in network_mode and volume mount sources.
	Networks   []string    `yaml:"networks,omitempty"`
	Volumes    []string    `yaml:"volumes,omitempty"`
	Containers []Container `yaml:"containers"`
}

// Defaults holds values applied to containers missing optional fields.
type Defaults struct {
	Image       string            `yaml:"image"`
	Reuse       *bool             `yaml:"reuse"`
	NetworkMode string            `yaml:"network_mode"`
	Env         map[string]string `yaml:"env"`
}

// Container describes one container to provision.
type Container struct {
	Name        string            `yaml:"name"`
	Image       string            `yaml:"image"`
	Cmd         []string          `yaml:"cmd,omitempty"`
	Entrypoint  []string          `yaml:"entrypoint,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
	Ports       []string          `yaml:"ports,omitempty"`
	NetworkMode string            `yaml:"network_mode,omitempty"`
	Mounts      []Mount           `yaml:"mounts,omitempty"`
	Files       []File            `yaml:"files,omitempty"`
	Reuse       *bool             `yaml:"reuse,omitempty"`
	// User is "uid:gid", a user name, or "host".
	User string `yaml:"user,omitempty"`
	// WaitFor runs inside the container until it exits 0.
	WaitFor     string        `yaml:"wait_for,omitempty"`
	WaitTimeout time.Duration `yaml:"wait_timeout,omitempty"`
}

// DefaultWaitTimeout bounds WaitFor when the container sets no timeout.
const DefaultWaitTimeout = 60 * time.Second

// Mount is a bind, volume or tmpfs mount.
type Mount struct {
	Type     string `yaml:"type"`
	Source   string `yaml:"source,omitempty"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only,omitempty"`
}

// File is copied into the container before it starts. Exactly one of Source
// (a host file or directory) or Content is set.
type File struct {
	Source  string `yaml:"source,omitempty"`
	Content string `yaml:"content,omitempty"`
	Target  string `yaml:"target"`
	Mode    string `yaml:"mode,omitempty"`
}

// IsReusable reports whether the container asked for reuse.
func (c *Container) IsReusable() bool {
	return c.Reuse != nil && *c.Reuse
}

// FileMode parses the octal mode, defaulting to 0644.
func (f *File) FileMode() (os.FileMode, error) {
	if f.Mode == "" {
		return 0o644, nil
	}
	m, err := strconv.ParseUint(f.Mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", f.Mode, err)
	}
	return os.FileMode(m).Perm(), nil
}

// Loader handles loading configuration from the file system.
type Loader struct {
	fs     FileSystem
	getenv func(string) string
}

// NewLoader creates a new Loader with the given file system.
// Uses os.Getenv for environment variable lookups by default.
func NewLoader(fs FileSystem) *Loader {
	return &Loader{fs: fs, getenv: os.Getenv}
}

// NewLoaderWithEnv creates a Loader with a custom getenv function for testability.
func NewLoaderWithEnv(fs FileSystem, getenv func(string) string) *Loader {
	return &Loader{fs: fs, getenv: getenv}
}

// LoadProject reads and parses a project file from the given path.
// Relative file sources are resolved against the project file's directory.
// Returns ErrProjectNotFound if the file does not exist.
func (l *Loader) LoadProject(ctx context.Context, p string) (*ProjectConfig, error) {
	logger.FromContext(ctx).Debug("loading project file", "path", p)
	p = filepath.Clean(p)

	data, err := l.fs.ReadFile(p)
	if err != nil {
		if l.fs.IsNotExist(err) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("reading project file: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing project file: %w", err)
	}

	applyDefaults(&cfg, filepath.Dir(p))

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadProject reads a project file using the real file system.
func LoadProject(ctx context.Context, p string) (*ProjectConfig, error) {
	return NewLoader(&RealFileSystem{}).LoadProject(ctx, p)
}

func applyDefaults(cfg *ProjectConfig, baseDir string) {
	for i := range cfg.Containers {
		c := &cfg.Containers[i]

		if c.Image == "" {
			c.Image = cfg.Defaults.Image
		}
		if c.Reuse == nil && cfg.Defaults.Reuse != nil {
			val := *cfg.Defaults.Reuse
			c.Reuse = &val
		}
		if c.NetworkMode == "" {
			c.NetworkMode = cfg.Defaults.NetworkMode
		}
		if c.WaitFor != "" && c.WaitTimeout == 0 {
			c.WaitTimeout = DefaultWaitTimeout
		}
		if len(cfg.Defaults.Env) > 0 {
			env := make(map[string]string, len(cfg.Defaults.Env)+len(c.Env))
			for k, v := range cfg.Defaults.Env {
				env[k] = v
			}
			for k, v := range c.Env {
				env[k] = v
			}
			c.Env = env
		}
		for j := range c.Files {
			f := &c.Files[j]
			if f.Source != "" && !filepath.IsAbs(f.Source) {
				f.Source = filepath.Join(baseDir, f.Source)
			}
		}
		for j := range c.Mounts {
			m := &c.Mounts[j]
			if m.Type == "bind" && m.Source != "" && !filepath.IsAbs(m.Source) {
				m.Source = filepath.Join(baseDir, m.Source)
			}
		}
	}
}

// validate checks every container and returns all problems joined, so users
// can fix them at once.
func validate(cfg *ProjectConfig) error {
	var errs []error
	errs = append(errs, uniqueNames("network", cfg.Networks)...)
	errs = append(errs, uniqueNames("volume", cfg.Volumes)...)
	seen := make(map[string]bool)
	for i, c := range cfg.Containers {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("container at position %d has missing required field 'name'", i))
			continue
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("container %q: duplicate name", c.Name))
		}
		seen[c.Name] = true

		if c.Image == "" {
			errs = append(errs, fmt.Errorf("container %q: missing required field 'image'", c.Name))
		}
		if c.WaitTimeout < 0 {
			errs = append(errs, fmt.Errorf("container %q: wait_timeout must not be negative", c.Name))
		}
		for _, f := range c.Files {
			switch {
			case f.Target == "" || !path.IsAbs(f.Target):
				errs = append(errs, fmt.Errorf("container %q: file target %q must be an absolute path", c.Name, f.Target))
			case (f.Source == "") == (f.Content == ""):
				errs = append(errs, fmt.Errorf("container %q: file %q needs exactly one of 'source' or 'content'", c.Name, f.Target))
			}
			if _, err := f.FileMode(); err != nil {
				errs = append(errs, fmt.Errorf("container %q: file %q: %w", c.Name, f.Target, err))
			}
		}
		for _, m := range c.Mounts {
			switch m.Type {
			case "bind", "volume":
				if m.Source == "" {
					errs = append(errs, fmt.Errorf("container %q: %s mount %q needs a source", c.Name, m.Type, m.Target))
				}
			case "tmpfs":
			default:
				errs = append(errs, fmt.Errorf("container %q: unknown mount type %q (valid: bind, volume, tmpfs)", c.Name, m.Type))
			}
			if m.Target == "" {
				errs = append(errs, fmt.Errorf("container %q: mount has missing required field 'target'", c.Name))
			}
		}
	}

	return errors.Join(errs...)
}

func uniqueNames(kind string, names []string) []error {
	var errs []error
	declared := make(map[string]bool)
	for _, n := range names {
		if n == "" || declared[n] {
			errs = append(errs, fmt.Errorf("%s %q: names must be unique and non-empty", kind, n))
		}
		declared[n] = true
	}
	return errs
}
