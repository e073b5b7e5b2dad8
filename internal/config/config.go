// Package config provides configuration management for debugctl.
//
// Configuration controls:
//   - Session limits and the grace period granted to sessions at shutdown
//   - Backend settings: paths, extra arguments and addresses for each debugger
//   - Timeouts applied to debug adapter requests
//   - Logging level and destination
//
// Configuration is read through viper, so it can come from a YAML or JSON
// file, from DEBUGCTL_* environment variables, or fall back to defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/internal/logging"
	"github.com/ctagard/debugctl/pkg/types"
)

// EnvPrefix is the prefix of environment variables that override the config file
const EnvPrefix = "DEBUGCTL"

// Config holds the controller configuration
type Config struct {
	// Limits for safety
	MaxSessions int `json:"maxSessions" mapstructure:"max_sessions"`

	// ShutdownGrace is how long sessions are given to wind down at exit
	// before the process is force-closed.
	ShutdownGrace time.Duration `json:"shutdownGrace" mapstructure:"shutdown_grace"`

	// DefaultBackend is used when a request names no backend
	DefaultBackend string `json:"defaultBackend" mapstructure:"default_backend"`

	// LaunchJSON points at a launch.json whose configurations become presets
	LaunchJSON string `json:"launchJson" mapstructure:"launch_json"`

	Logging  logging.Config `json:"logging" mapstructure:"logging"`
	Timeouts TimeoutConfig  `json:"timeouts" mapstructure:"timeouts"`
	Backends BackendConfigs `json:"backends" mapstructure:"backends"`
}

// TimeoutConfig holds debug adapter timeouts
type TimeoutConfig struct {
	Init    time.Duration `json:"init" mapstructure:"init"`
	Launch  time.Duration `json:"launch" mapstructure:"launch"`
	Request time.Duration `json:"request" mapstructure:"request"`
}

// BackendConfigs holds configuration for each debugger backend
type BackendConfigs struct {
	GDB  BackendConfig `json:"gdb" mapstructure:"gdb"`
	CDB  BackendConfig `json:"cdb" mapstructure:"cdb"`
	LLDB BackendConfig `json:"lldb" mapstructure:"lldb"`
	PDB  BackendConfig `json:"pdb" mapstructure:"pdb"`
	UVSC BackendConfig `json:"uvsc" mapstructure:"uvsc"`
	QML  BackendConfig `json:"qml" mapstructure:"qml"`
}

// BackendConfig describes how to reach one debugger.
// Path spawns a stdio adapter; Address connects to an already running one.
type BackendConfig struct {
	Path    string   `json:"path" mapstructure:"path"`
	Args    []string `json:"args" mapstructure:"args"`
	Address string   `json:"address" mapstructure:"address"`
}

// Configured returns true if the backend can be reached at all
func (b BackendConfig) Configured() bool {
	return b.Path != "" || b.Address != ""
}

// For returns the settings of one backend kind
func (b BackendConfigs) For(kind types.BackendKind) (BackendConfig, bool) {
	switch kind {
	case types.BackendGDB:
		return b.GDB, true
	case types.BackendCDB:
		return b.CDB, true
	case types.BackendLLDB:
		return b.LLDB, true
	case types.BackendPDB:
		return b.PDB, true
	case types.BackendUVSC:
		return b.UVSC, true
	case types.BackendQML:
		return b.QML, true
	}
	return BackendConfig{}, false
}

// findLLDBDap searches for lldb-dap in common locations across platforms
func findLLDBDap() string {
	if path, err := exec.LookPath("lldb-dap"); err == nil {
		return path
	}

	locations := []string{
		// macOS - Xcode Command Line Tools and Xcode.app
		"/Library/Developer/CommandLineTools/usr/bin/lldb-dap",
		"/Applications/Xcode.app/Contents/Developer/usr/bin/lldb-dap",
		"/opt/homebrew/bin/lldb-dap",
		"/usr/local/bin/lldb-dap",

		// Linux - LLVM packages
		"/usr/bin/lldb-dap",
		"/usr/bin/lldb-dap-18",
		"/usr/bin/lldb-dap-17",
		"/usr/lib/llvm-18/bin/lldb-dap",
		"/usr/lib/llvm-17/bin/lldb-dap",
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	// Pre-LLVM 16 name
	if path, err := exec.LookPath("lldb-vscode"); err == nil {
		return path
	}

	return "lldb-dap"
}

// DefaultConfig returns a configuration with sensible defaults.
// CDB and UVSC have no default and stay unresolvable until configured.
func DefaultConfig() *Config {
	return &Config{
		MaxSessions:    10,
		ShutdownGrace:  3 * time.Second,
		DefaultBackend: string(types.BackendAuto),
		Logging: logging.Config{
			Level: "info",
		},
		Timeouts: TimeoutConfig{
			Init:    10 * time.Second,
			Launch:  30 * time.Second,
			Request: 30 * time.Second,
		},
		Backends: BackendConfigs{
			GDB: BackendConfig{
				Path: "gdb",
			},
			LLDB: BackendConfig{
				Path: findLLDBDap(),
			},
			PDB: BackendConfig{
				Path: "python3",
			},
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("max_sessions", d.MaxSessions)
	v.SetDefault("shutdown_grace", d.ShutdownGrace)
	v.SetDefault("default_backend", d.DefaultBackend)
	v.SetDefault("launch_json", d.LaunchJSON)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("timeouts.init", d.Timeouts.Init)
	v.SetDefault("timeouts.launch", d.Timeouts.Launch)
	v.SetDefault("timeouts.request", d.Timeouts.Request)

	for name, b := range map[string]BackendConfig{
		"gdb":  d.Backends.GDB,
		"cdb":  d.Backends.CDB,
		"lldb": d.Backends.LLDB,
		"pdb":  d.Backends.PDB,
		"uvsc": d.Backends.UVSC,
		"qml":  d.Backends.QML,
	} {
		v.SetDefault("backends."+name+".path", b.Path)
		v.SetDefault("backends."+name+".args", b.Args)
		v.SetDefault("backends."+name+".address", b.Address)
	}
}

// NewViper returns a viper instance with defaults and environment overrides
// registered. DEBUGCTL_MAX_SESSIONS overrides max_sessions,
// DEBUGCTL_BACKENDS_GDB_PATH overrides backends.gdb.path and so on.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from path through a fresh viper instance.
// An empty path yields the defaults plus environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, dbgerrors.ConfigInvalid("config", err.Error()).WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every bad value, joined
func (c *Config) Validate() error {
	var errs []error
	if c.MaxSessions < 1 {
		errs = append(errs, dbgerrors.ConfigInvalid("max_sessions", fmt.Sprintf("must be at least 1, got %d", c.MaxSessions)))
	}
	if c.ShutdownGrace < 0 {
		errs = append(errs, dbgerrors.ConfigInvalid("shutdown_grace", "must not be negative"))
	}
	if kind := types.ParseBackendKind(c.DefaultBackend); kind != types.BackendAuto && !kind.IsNative() {
		errs = append(errs, dbgerrors.ConfigInvalid("default_backend", fmt.Sprintf("unknown native backend %q", c.DefaultBackend)))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, dbgerrors.ConfigInvalid("logging.level", err.Error()))
	}
	for name, d := range map[string]time.Duration{
		"timeouts.init":    c.Timeouts.Init,
		"timeouts.launch":  c.Timeouts.Launch,
		"timeouts.request": c.Timeouts.Request,
	} {
		if d <= 0 {
			errs = append(errs, dbgerrors.ConfigInvalid(name, "must be positive"))
		}
	}
	return errors.Join(errs...)
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "debugctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".debugctl"
	}
	return filepath.Join(home, ".config", "debugctl")
}

// ConfigFile returns the default path of the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
