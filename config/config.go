// Package config loads client settings from defaults, an optional YAML file,
// FTPSHELL_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ftpshell/transfer"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "FTPSHELL"

// ClientConfig is the full client configuration.
type ClientConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Mode         string        `mapstructure:"mode"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DataTimeout  time.Duration `mapstructure:"data_timeout"`
	DataTOS      int           `mapstructure:"data_tos"`
	MaxJobs      int           `mapstructure:"max_jobs"`
	ProgressStep int64         `mapstructure:"progress_step"`
	ShutdownPoll time.Duration `mapstructure:"shutdown_poll"`
	Theme        string        `mapstructure:"theme"`
	Transcript   bool          `mapstructure:"transcript"`

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig controls the rotated JSON event log.
type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls the per-transfer CSV log and the Prometheus endpoint.
type MetricsConfig struct {
	CSVFile string `mapstructure:"csv_file"`
	Addr    string `mapstructure:"addr"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"user":         "user",
	"mode":         "mode",
	"timeout":      "timeout",
	"max-jobs":     "max_jobs",
	"data-tos":     "data_tos",
	"theme":        "theme",
	"log-file":     "log.file",
	"log-level":    "log.level",
	"metrics-file": "metrics.csv_file",
	"metrics-addr": "metrics.addr",
}

// RegisterFlags adds the client flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "config file (default $HOME/.ftpshell.yaml)")
	fs.StringP("user", "u", "", "login name (prompted when empty)")
	fs.StringP("mode", "m", "pasv", "data connection mode: pasv or port")
	fs.Duration("timeout", 0, "per-command control channel timeout, 0 for none")
	fs.Int("max-jobs", 10, "maximum concurrent background transfers")
	fs.Int("data-tos", 0, "IPv4 TOS byte for data connections")
	fs.String("theme", "dark", "color theme: dark or light")
	fs.String("log-file", "", "event log file")
	fs.String("log-level", "info", "event log level")
	fs.String("metrics-file", "", "append per-transfer statistics to this CSV file")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "")
	v.SetDefault("port", 21)
	v.SetDefault("user", "")
	v.SetDefault("mode", "pasv")
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("data_timeout", transfer.DefaultDataTimeout)
	v.SetDefault("data_tos", 0)
	v.SetDefault("max_jobs", 10)
	v.SetDefault("progress_step", transfer.DefaultProgressStep)
	v.SetDefault("shutdown_poll", time.Second)
	v.SetDefault("theme", "dark")
	v.SetDefault("transcript", true)

	v.SetDefault("log.file", defaultLogFile())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("metrics.csv_file", "")
	v.SetDefault("metrics.addr", "")
}

func defaultLogFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "ftpshell", "ftpshell.log")
}

// Load builds the configuration. An explicit file must exist; the default
// $HOME/.ftpshell.yaml is optional. fs may be nil.
func Load(file string, fs *pflag.FlagSet) (*ClientConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(".ftpshell")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &ClientConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks every setting is in range.
func (c *ClientConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if _, err := transfer.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %v", c.Timeout)
	}
	if c.DataTimeout < 0 {
		return fmt.Errorf("invalid data timeout: %v", c.DataTimeout)
	}
	if c.DataTOS < 0 || c.DataTOS > 255 {
		return fmt.Errorf("invalid data TOS: %d (must be 0-255)", c.DataTOS)
	}
	if c.MaxJobs <= 0 {
		return fmt.Errorf("invalid max jobs: %d (must be at least 1)", c.MaxJobs)
	}
	if c.ProgressStep <= 0 {
		return fmt.Errorf("invalid progress step: %d", c.ProgressStep)
	}
	if c.ShutdownPoll <= 0 {
		return fmt.Errorf("invalid shutdown poll interval: %v", c.ShutdownPoll)
	}
	switch c.Theme {
	case "dark", "light":
	default:
		return fmt.Errorf("unknown theme %q (use dark or light)", c.Theme)
	}
	return nil
}

// TransferMode returns the configured initial data connection mode.
func (c *ClientConfig) TransferMode() transfer.Mode {
	m, _ := transfer.ParseMode(c.Mode)
	return m
}

// Address returns host:port of the server.
func (c *ClientConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Login returns the settings a control connection needs to authenticate.
func (c *ClientConfig) Login(password string) LoginConfig {
	return LoginConfig{
		Address:  c.Address(),
		Username: c.User,
		Password: password,
		Timeout:  c.Timeout,
	}
}
