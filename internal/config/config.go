package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "MESHVOICE"

type ChatRate struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type Reconnect struct {
	Interval time.Duration `mapstructure:"interval"`
	// MaxAttempts of 0 retries forever.
	MaxAttempts int `mapstructure:"max_attempts"`
}

type ICE struct {
	STUN     []string `mapstructure:"stun"`
	TURN     []string `mapstructure:"turn"`
	TURNUser string   `mapstructure:"turn_user"`
	TURNPass string   `mapstructure:"turn_pass"`
}

type Capture struct {
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
}

type Playback struct {
	Dir string `mapstructure:"dir"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	ChatRate   ChatRate      `mapstructure:"chat_rate"`

	ServerURL          string        `mapstructure:"server_url"`
	Reconnect          Reconnect     `mapstructure:"reconnect"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	ICE                ICE           `mapstructure:"ice"`
	Capture            Capture       `mapstructure:"capture"`
	Playback           Playback      `mapstructure:"playback"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not loaded, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("chat_rate.limit", 5)
	v.SetDefault("chat_rate.interval", "3s")

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("reconnect.interval", "3s")
	v.SetDefault("reconnect.max_attempts", 0)
	v.SetDefault("negotiation_timeout", "0s")
	v.SetDefault("ice.stun", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.turn", []string{})
	v.SetDefault("ice.turn_user", "")
	v.SetDefault("ice.turn_pass", "")
	v.SetDefault("capture.source", "silence")
	v.SetDefault("capture.file", "")
	v.SetDefault("playback.dir", "")
}

func (c *Config) validate() error {
	if c.Reconnect.Interval <= 0 {
		return fmt.Errorf("reconnect.interval must be positive, got %s", c.Reconnect.Interval)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative, got %d", c.Reconnect.MaxAttempts)
	}
	if c.NegotiationTimeout < 0 {
		return fmt.Errorf("negotiation_timeout must not be negative, got %s", c.NegotiationTimeout)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Level returns the configured zerolog level; validate has already rejected bad values.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
