// Package config loads agent and server configuration.
//
// The agent reads keysync.toml from the user config directory or the
// working directory, overridden by KEYSYNC_* environment variables and
// command-line flags. The standalone server is configured from the
// environment only.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Mode selects what the agent runs.
type Mode string

const (
	// ModeClient watches files and sends to a remote backend.
	ModeClient Mode = "client"
	// ModeHost also runs the backend in-process.
	ModeHost Mode = "host"
)

const (
	// AppName names the config directory, file and environment prefix.
	AppName = "keysync"

	// DefaultAddon is the addon whose SavedVariables are watched.
	DefaultAddon = "KeystoneSync"
)

// Config keys.
const (
	KeyBackendURLs = "backend_urls"
	KeyBackendURL  = "backend_url"
	KeyMode        = "mode"
	KeyWowPath     = "wow_path"
	KeyAddonName   = "addon_name"
	KeyAPIToken    = "api_token"
	KeySyncLog     = "sync_log"
	KeyListenAddr  = "listen_addr"
	KeyDBPath      = "db_path"
	KeyVerbose     = "verbose"
)

// Agent is the agent's configuration.
type Agent struct {
	BackendURLs []string `mapstructure:"backend_urls" toml:"backend_urls"`
	BackendURL  string   `mapstructure:"backend_url" toml:"backend_url,omitempty"`
	Mode        Mode     `mapstructure:"mode" toml:"mode"`
	WowPath     string   `mapstructure:"wow_path" toml:"wow_path"`
	AddonName   string   `mapstructure:"addon_name" toml:"addon_name"`
	APIToken    string   `mapstructure:"api_token" toml:"api_token"`
	SyncLog     string   `mapstructure:"sync_log" toml:"sync_log"`
	ListenAddr  string   `mapstructure:"listen_addr" toml:"listen_addr"`
	DBPath      string   `mapstructure:"db_path" toml:"db_path"`
	Verbose     bool     `mapstructure:"verbose" toml:"verbose"`
}

// Server is the standalone server's configuration.
type Server struct {
	ListenAddr string `env:"KEYSYNC_LISTEN_ADDR" envDefault:":8080"`
	DBPath     string `env:"KEYSYNC_DB_PATH" envDefault:"keysync.db"`
	APIToken   string `env:"KEYSYNC_API_TOKEN"`
	Verbose    bool   `env:"KEYSYNC_VERBOSE"`
}

// Dir returns the per-user configuration directory for keysync.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// DefaultPath returns where `config init` writes keysync.toml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName+".toml"), nil
}

// Defaults returns the agent configuration used when nothing is set.
func Defaults() Agent {
	syncLog := "sync.log"
	if dir, err := Dir(); err == nil {
		syncLog = filepath.Join(dir, "sync.log")
	}
	return Agent{
		BackendURLs: []string{},
		Mode:        ModeClient,
		AddonName:   DefaultAddon,
		SyncLog:     syncLog,
		ListenAddr:  ":8080",
		DBPath:      "keysync.db",
	}
}

// NewViper returns a viper instance with defaults, search paths and the
// KEYSYNC_ environment prefix set up. Callers may bind flags before LoadAgent.
func NewViper() *viper.Viper {
	v := viper.New()

	d := Defaults()
	v.SetDefault(KeyBackendURLs, d.BackendURLs)
	v.SetDefault(KeyBackendURL, "")
	v.SetDefault(KeyMode, string(d.Mode))
	v.SetDefault(KeyWowPath, d.WowPath)
	v.SetDefault(KeyAddonName, d.AddonName)
	v.SetDefault(KeyAPIToken, "")
	v.SetDefault(KeySyncLog, d.SyncLog)
	v.SetDefault(KeyListenAddr, d.ListenAddr)
	v.SetDefault(KeyDBPath, d.DBPath)
	v.SetDefault(KeyVerbose, false)

	v.SetConfigName(AppName)
	v.SetConfigType("toml")
	if dir, err := Dir(); err == nil {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

// LoadAgent reads the config file (if any), applies environment and bound
// flags, and validates the result. A missing config file is not an error.
func LoadAgent(v *viper.Viper) (*Agent, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Agent
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (a *Agent) normalize() {
	var urls []string
	for _, u := range a.BackendURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	// The single-value form is accepted for older config files.
	if len(urls) == 0 && strings.TrimSpace(a.BackendURL) != "" {
		urls = []string{strings.TrimSpace(a.BackendURL)}
	}
	a.BackendURLs = urls
	a.BackendURL = ""
	a.Mode = Mode(strings.ToLower(strings.TrimSpace(string(a.Mode))))
	a.AddonName = strings.TrimSpace(a.AddonName)
}

// Validate checks the configuration for the selected mode.
func (a *Agent) Validate() error {
	switch a.Mode {
	case ModeClient:
		if len(a.BackendURLs) == 0 {
			return fmt.Errorf("%s is required in %s mode", KeyBackendURLs, ModeClient)
		}
	case ModeHost:
		if a.ListenAddr == "" {
			return fmt.Errorf("%s is required in %s mode", KeyListenAddr, ModeHost)
		}
		if a.DBPath == "" {
			return fmt.Errorf("%s is required in %s mode", KeyDBPath, ModeHost)
		}
	default:
		return fmt.Errorf("invalid %s %q (want %s or %s)", KeyMode, a.Mode, ModeClient, ModeHost)
	}

	for _, raw := range a.BackendURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid backend URL %q", raw)
		}
	}
	if a.AddonName == "" {
		return fmt.Errorf("%s is required", KeyAddonName)
	}
	return nil
}

// Backends returns the URLs the agent sends to. In host mode with none
// configured it targets the in-process server over loopback.
func (a *Agent) Backends() []string {
	if len(a.BackendURLs) > 0 || a.Mode != ModeHost {
		return a.BackendURLs
	}
	host, port, err := net.SplitHostPort(a.ListenAddr)
	if err != nil {
		return nil
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return []string{"http://" + net.JoinHostPort(host, port)}
}

// LoadServer reads the server configuration from the environment.
func LoadServer() (*Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes the default agent configuration to path. An
// existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(Defaults()); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
