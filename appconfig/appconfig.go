// Package appconfig loads this module's top-level runtime configuration —
// server listen network/port, client dial and reconnect knobs, logging level,
// and metrics settings — from
// YAML/JSON/env sources via github.com/spf13/viper, the library the
// teacher's own viper package wraps. Unlike that package, this one talks to
// viper directly: the teacher's wrapper is coupled to a generic
// component-lifecycle framework this module does not carry (see DESIGN.md).
package appconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	liberr "github.com/kekchpek/live-capture-net/errors"
	libptc "github.com/kekchpek/live-capture-net/network/protocol"
)

const (
	ErrCodeDecode = liberr.MinPkgAppConfig + iota
	ErrCodeRead
)

var (
	// ErrRead is returned by Load when viper cannot read the configured
	// source (missing file, malformed syntax).
	ErrRead = liberr.New(ErrCodeRead, "failed to read configuration source")
	// ErrDecode is returned by Load when the source reads fine but cannot be
	// decoded into Config (wrong types, unknown NetworkProtocol name).
	ErrDecode = liberr.New(ErrCodeDecode, "failed to decode configuration")
)

// Server holds the listen-side knobs for netserver.Server.
type Server struct {
	Network libptc.NetworkProtocol `mapstructure:"network"`
	Port    int                    `mapstructure:"port"`
}

// Client holds the dial-side knobs for netclient.Client.
type Client struct {
	ServerHost string        `mapstructure:"server_host"`
	ServerPort int           `mapstructure:"server_port"`
	LocalPort  int           `mapstructure:"local_port"`
	Reconnect  time.Duration `mapstructure:"reconnect_backoff"`
}

// Logging holds the logrus level this module's endpoints log at.
type Logging struct {
	Level string `mapstructure:"level"`
}

// Metrics holds the Prometheus namespace and whether metrics are enabled at
// all.
type Metrics struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Config is the top-level, decoded configuration document.
type Config struct {
	Server  Server  `mapstructure:"server"`
	Client  Client  `mapstructure:"client"`
	Logging Logging `mapstructure:"logging"`
	Metrics Metrics `mapstructure:"metrics"`
}

// Default returns a Config populated with this module's documented default
// knobs (spec.md §6): no server/client addresses configured, info-level
// logging, metrics disabled.
func Default() Config {
	return Config{
		Server:  Server{Network: libptc.NetworkTCP},
		Logging: Logging{Level: "info"},
		Metrics: Metrics{Enabled: false, Namespace: "livecapture_net"},
		Client:  Client{Reconnect: 500 * time.Millisecond},
	}
}

// Load reads configuration from path (if non-empty) plus LIVECAPTURE_-
// prefixed environment variables, overlaid onto Default(), and decodes the
// result into a Config using libptc.NetworkProtocol's viper decode hook so
// "tcp"/"udp"-style strings bind straight into Server.Network.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LIVECAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("server.network", def.Server.Network.String())
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.namespace", def.Metrics.Namespace)
	v.SetDefault("client.reconnect_backoff", def.Client.Reconnect)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrRead, err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		libptc.ViperDecoderHook(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return cfg, nil
}
