// Package config handles the kitchen configuration file.
//
// The file lives at <kitchen>/galley.yaml. Every key is optional; a missing
// file or key keeps the default shown by Default.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"

	"galley/internal/remote"
)

const FileName = "galley.yaml"

// SSH describes how to reach targets.
type SSH struct {
	User           string        `yaml:"user"`
	Port           int           `yaml:"port,omitempty"`
	Key            string        `yaml:"key,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
}

// Remote holds the fixed paths used on every target.
type Remote struct {
	Root      string `yaml:"root"`
	ConfigDir string `yaml:"config_dir"`
	TempDir   string `yaml:"temp_dir"`
	Sudo      bool   `yaml:"sudo"`
}

// Converge configures the engine run on targets.
type Converge struct {
	Command       string `yaml:"command"`
	LogLevel      string `yaml:"log_level"`
	ErrorSentinel string `yaml:"error_sentinel"`
}

type History struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

type Config struct {
	SSH      SSH      `yaml:"ssh"`
	Remote   Remote   `yaml:"remote"`
	Converge Converge `yaml:"converge"`
	History  History  `yaml:"history"`
	// Parallel is how many targets sync at once.
	Parallel int `yaml:"parallel"`
}

var engineLevels = []string{"debug", "info", "warn", "error", "fatal"}

func Default() *Config {
	l := remote.DefaultLayout()
	return &Config{
		SSH: SSH{Port: 22, ConnectTimeout: 10 * time.Second},
		Remote: Remote{
			Root:      l.Root,
			ConfigDir: l.ConfigDir,
			TempDir:   l.TempDir,
			Sudo:      l.Sudo,
		},
		Converge: Converge{
			Command:       "chef-solo",
			LogLevel:      "info",
			ErrorSentinel: "ERROR:",
		},
		History:  History{Path: filepath.Join(".galley", "history.db")},
		Parallel: 1,
	}
}

// Path returns the config file location inside kitchen.
func Path(kitchen string) string {
	return filepath.Join(kitchen, FileName)
}

// Load reads the kitchen config over the defaults. A missing file yields
// the defaults.
func Load(kitchen string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(Path(kitchen))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", Path(kitchen), err)
	}
	return cfg, nil
}

// Save writes the config into kitchen.
func (c *Config) Save(kitchen string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := atomicwriter.WriteFile(Path(kitchen), data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.SSH.User) == "" {
		errs = append(errs, fmt.Errorf("ssh.user is required"))
	}
	if c.SSH.Port < 0 || c.SSH.Port > 65535 {
		errs = append(errs, fmt.Errorf("ssh.port %d out of range", c.SSH.Port))
	}
	if err := ValidateEngineLevel(c.Converge.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Converge.Command) == "" {
		errs = append(errs, fmt.Errorf("converge.command is required"))
	}
	if err := c.Layout().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Parallel < 1 {
		errs = append(errs, fmt.Errorf("parallel must be at least 1, got %d", c.Parallel))
	}
	return errors.Join(errs...)
}

// ValidateEngineLevel rejects verbosity levels the engine does not know.
func ValidateEngineLevel(level string) error {
	for _, l := range engineLevels {
		if level == l {
			return nil
		}
	}
	return fmt.Errorf("invalid converge log level %q (want one of %s)", level, strings.Join(engineLevels, ", "))
}

func (c *Config) Layout() remote.Layout {
	return remote.Layout{
		Root:      c.Remote.Root,
		ConfigDir: c.Remote.ConfigDir,
		TempDir:   c.Remote.TempDir,
		Sudo:      c.Remote.Sudo,
	}
}

func (c *Config) SSHOptions() remote.SSHOptions {
	return remote.SSHOptions{
		User:           c.SSH.User,
		Port:           c.SSH.Port,
		KeyPath:        expandHome(c.SSH.Key),
		ConnectTimeout: c.SSH.ConnectTimeout,
	}
}

// HistoryPath resolves the ledger path against kitchen. It is empty when
// the ledger is disabled.
func (c *Config) HistoryPath(kitchen string) string {
	if c.History.Disabled || strings.TrimSpace(c.History.Path) == "" {
		return ""
	}
	if filepath.IsAbs(c.History.Path) {
		return c.History.Path
	}
	return filepath.Join(kitchen, c.History.Path)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
