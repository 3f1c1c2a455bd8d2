package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string          `mapstructure:"mode"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Store     StoreConfig     `mapstructure:"store"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Peer      PeerConfig      `mapstructure:"peer"`
}

type DirectoryConfig struct {
	Port int `mapstructure:"port"`
	// SendHeader names the request header carrying the caller's callback URL.
	SendHeader  string        `mapstructure:"send_header"`
	PushTimeout time.Duration `mapstructure:"push_timeout"`
	FanOut      int           `mapstructure:"fan_out"`
	ReadLimit   int64         `mapstructure:"read_limit"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type BridgeConfig struct {
	Port              int           `mapstructure:"port"`
	ExternalURL       string        `mapstructure:"external_url"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	FrameRateLimit    int           `mapstructure:"frame_rate_limit"`
	FrameRateInterval time.Duration `mapstructure:"frame_rate_interval"`
	ForwardTimeout    time.Duration `mapstructure:"forward_timeout"`
}

type PeerConfig struct {
	BridgeURL    string        `mapstructure:"bridge_url"`
	DirectoryURL string        `mapstructure:"directory_url"`
	KeepAlive    time.Duration `mapstructure:"keep_alive"`
	ICEServers   []string      `mapstructure:"ice_servers"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("mode", "release")

	v.SetDefault("directory.port", 8080)
	v.SetDefault("directory.send_header", "x-ws-proxy-send")
	v.SetDefault("directory.push_timeout", "5s")
	v.SetDefault("directory.fan_out", 16)
	v.SetDefault("directory.read_limit", 65536)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("bridge.port", 8081)
	v.SetDefault("bridge.external_url", "http://localhost:8081")
	v.SetDefault("bridge.read_limit", 65536)
	v.SetDefault("bridge.ping_period", "54s")
	v.SetDefault("bridge.send_buffer", 32)
	v.SetDefault("bridge.frame_rate_limit", 50)
	v.SetDefault("bridge.frame_rate_interval", "1s")
	v.SetDefault("bridge.forward_timeout", "10s")

	v.SetDefault("peer.bridge_url", "ws://localhost:8081/connect")
	v.SetDefault("peer.directory_url", "http://localhost:8080")
	v.SetDefault("peer.keep_alive", "30s")
	v.SetDefault("peer.ice_servers", []string{
		"stun:stun.services.mozilla.com",
		"stun:stun.l.google.com:19302",
	})
}

// Load reads config/config.<CONFIG_ENV>.yaml (default "dev") on top of the
// defaults. HUDDLE_* environment variables override both, e.g.
// HUDDLE_DIRECTORY_PORT or HUDDLE_STORE_DRIVER.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}
