package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// FileName is the literal name of the configuration file searched on PATH.
const FileName = "git-auto-sync.toml"

// DefaultHTTPSUsername is sent together with a token read from https_token_file.
const DefaultHTTPSUsername = "x-access-token"

// ErrConfig marks every failure to locate, read, decode or validate the configuration.
var ErrConfig = errors.New("config error")

// Config represents the complete git-auto-sync configuration
type Config struct {
	IntervalMinutes int    `toml:"interval_minutes" yaml:"interval_minutes"`
	RepoPath        string `toml:"repo_path" yaml:"repo_path"`
	BranchName      string `toml:"branch_name" yaml:"branch_name"`

	Auth   AuthConfig   `toml:"auth" yaml:"auth"`
	Notify NotifyConfig `toml:"notify" yaml:"notify"`
	Serve  ServeConfig  `toml:"serve" yaml:"serve"`
	Log    LogConfig    `toml:"log" yaml:"log"`
}

// AuthConfig configures the credentials offered to the remote in addition
// to ssh-agent, default key files and the git credential helper.
type AuthConfig struct {
	SSHKeyFile           string `toml:"ssh_key_file" yaml:"ssh_key_file"`
	SSHKeyPassphraseFile string `toml:"ssh_key_passphrase_file" yaml:"ssh_key_passphrase_file"`
	HTTPSTokenFile       string `toml:"https_token_file" yaml:"https_token_file"`
	HTTPSUsername        string `toml:"https_username" yaml:"https_username"`
}

// NotifyConfig configures the audible failure alert
type NotifyConfig struct {
	// Sound is a pointer so an absent key can default to true.
	Sound     *bool  `toml:"sound" yaml:"sound"`
	SoundFile string `toml:"sound_file" yaml:"sound_file"`
	Player    string `toml:"player" yaml:"player"`
}

// ServeConfig configures the optional webhook trigger
type ServeConfig struct {
	Enabled                 bool     `toml:"enabled" yaml:"enabled"`
	ListenAddr              string   `toml:"listen_addr" yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `toml:"github_webhook_secret_file" yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `toml:"allowed_event_types" yaml:"allowed_event_types"`
}

// LogConfig configures the optional rotating log file
type LogConfig struct {
	File string `toml:"file" yaml:"file"`
}

// Locate finds the configuration file. Every directory of PATH is searched
// in order for FileName; the XDG config directories are the fallback.
func Locate() (string, error) {
	if path, ok := locateIn(filepath.SplitList(os.Getenv("PATH"))); ok {
		return path, nil
	}

	path, err := xdg.SearchConfigFile(filepath.Join("git-auto-sync", FileName))
	if err != nil {
		return "", fmt.Errorf("%w: %s not found on PATH or in XDG config dirs", ErrConfig, FileName)
	}
	return path, nil
}

// locateIn returns the first regular file named FileName in dirs.
func locateIn(dirs []string) (string, bool) {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, FileName)
		info, err := os.Stat(candidate)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return candidate, true
	}
	return "", false
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %w", ErrConfig, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config file: %w", ErrConfig, err)
		}
	default:
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse config file: %w", ErrConfig, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown keys in config file: %v", ErrConfig, undecoded)
		}
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid configuration: %w", ErrConfig, err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables and a leading ~/ in path fields
func (c *Config) expandEnv() {
	c.RepoPath = expandPath(c.RepoPath)
	c.Auth.SSHKeyFile = expandPath(c.Auth.SSHKeyFile)
	c.Auth.SSHKeyPassphraseFile = expandPath(c.Auth.SSHKeyPassphraseFile)
	c.Auth.HTTPSTokenFile = expandPath(c.Auth.HTTPSTokenFile)
	c.Notify.SoundFile = expandPath(c.Notify.SoundFile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = expandPath(c.Serve.GitHubWebhookSecretFile)
	c.Log.File = expandPath(c.Log.File)
}

func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	return p
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Auth.HTTPSUsername == "" {
		c.Auth.HTTPSUsername = DefaultHTTPSUsername
	}
	if c.Notify.Sound == nil {
		enabled := true
		c.Notify.Sound = &enabled
	}
	if len(c.Serve.AllowedEventTypes) == 0 {
		c.Serve.AllowedEventTypes = []string{"push"}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.IntervalMinutes <= 0 {
		return fmt.Errorf("interval_minutes must be a positive integer (got %d)", c.IntervalMinutes)
	}
	if c.RepoPath == "" {
		return fmt.Errorf("repo_path is required")
	}
	if err := validateBranchName(c.BranchName); err != nil {
		return err
	}

	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

func validateBranchName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("branch_name is required")
	case strings.ContainsAny(name, " \t\r\n"):
		return fmt.Errorf("branch_name must not contain whitespace: %q", name)
	case strings.HasPrefix(name, "-"):
		return fmt.Errorf("branch_name must not start with '-': %q", name)
	case strings.HasPrefix(name, "refs/"):
		return fmt.Errorf("branch_name must be a short branch name, not a full ref: %q", name)
	}
	return nil
}

// Interval returns the sync period
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// SoundEnabled reports whether the audible failure alert is on
func (c *Config) SoundEnabled() bool {
	return c.Notify.Sound == nil || *c.Notify.Sound
}
