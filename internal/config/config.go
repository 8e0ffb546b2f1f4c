// Package config loads fleetd's configuration the way the teacher's am
// package loads QNTX's: viper for layered load (defaults, file, env vars)
// and go-toml/v2 as the canonical on-disk format, with an fsnotify watcher
// for live reload of the settings that tolerate it.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/skylinesignage/fleetd/internal/errors"
)

// Config is the fully resolved configuration for one fleetd process.
type Config struct {
	Port                   int      `mapstructure:"port"`
	AlternativePorts       []int    `mapstructure:"alternative_ports"`
	AutoSelectPort         bool     `mapstructure:"auto_select_port"`
	EnableSSL              bool     `mapstructure:"enable_ssl"`
	CertificatePath        string   `mapstructure:"certificate_path"`
	CertificatePassword    string   `mapstructure:"certificate_password"`
	EndpointPath           string   `mapstructure:"endpoint_path"`
	MaxMessageSize         int64    `mapstructure:"max_message_size"`
	ClientHeartbeatTimeout Duration `mapstructure:"client_heartbeat_timeout"`
	SchedulerTickInterval  Duration `mapstructure:"scheduler_tick_interval"`
	LivenessCheckInterval  Duration `mapstructure:"liveness_check_interval"`
	DiscoveryPort          int      `mapstructure:"discovery_port"`
	ConnectionString       string   `mapstructure:"connection_string"`
	PreferredInterface     string   `mapstructure:"preferred_network_interface"`

	LogJSON      bool `mapstructure:"log_json"`
	LogVerbosity int  `mapstructure:"log_verbosity"`
}

// Duration is a time.Duration that viper/toml can parse from "90s"-style
// strings instead of raw nanosecond integers.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

const envPrefix = "FLEETD"

// SetDefaults mirrors the teacher's am.SetDefaults: every default lives in
// one place, read by Load.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8443)
	v.SetDefault("alternative_ports", []int{8444, 8445, 8446})
	v.SetDefault("auto_select_port", true)
	v.SetDefault("enable_ssl", true)
	v.SetDefault("certificate_path", "")
	v.SetDefault("certificate_password", "")
	v.SetDefault("endpoint_path", "/ws/")
	v.SetDefault("max_message_size", 1<<20) // 1 MiB
	v.SetDefault("client_heartbeat_timeout", "90s")
	v.SetDefault("scheduler_tick_interval", "60s")
	v.SetDefault("liveness_check_interval", "30s")
	v.SetDefault("discovery_port", 5556)
	v.SetDefault("connection_string", "fleetd.db")
	v.SetDefault("preferred_network_interface", "")
	v.SetDefault("log_json", false)
	v.SetDefault("log_verbosity", 0)
}

// Load resolves configuration from, in ascending precedence: built-in
// defaults, the TOML file at configPath (if it exists), then FLEETD_*
// environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrapf(err, "reading config file %s", configPath)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook)); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate enforces the startup-time invariants: SSL is mandatory, and a
// few fields must be sane.
func (c *Config) Validate() error {
	if !c.EnableSSL {
		return errors.New("enable_ssl=false is rejected at startup: fleetd is WSS-only")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Newf("invalid port %d", c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("max_message_size must be positive")
	}
	if c.ClientHeartbeatTimeout.Duration <= 0 {
		return errors.New("client_heartbeat_timeout must be positive")
	}
	return nil
}
