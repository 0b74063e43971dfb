package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/peerhub/internal/adapters/media"
	"github.com/dkeye/peerhub/internal/app/twcc"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "PEERHUB"

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	Region   string `mapstructure:"region"`
	Channel  string `mapstructure:"channel"`
	ClientID string `mapstructure:"client_id"`
	Role     string `mapstructure:"role"`

	Signaling SignalingConfig `mapstructure:"signaling"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Stun      StunConfig      `mapstructure:"stun"`
	TWCC      twcc.Config     `mapstructure:"twcc"`
	Media     media.Config    `mapstructure:"media"`

	FeedbackPeriod  time.Duration `mapstructure:"feedback_period"`
	DataChannelEcho bool          `mapstructure:"data_channel_echo"`
}

type SignalingConfig struct {
	URL            string        `mapstructure:"url"`
	ICEURL         string        `mapstructure:"ice_url"`
	OfferLimit     int           `mapstructure:"offer_limit"`
	OfferInterval  time.Duration `mapstructure:"offer_interval"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type PoolConfig struct {
	MaxSessions int `mapstructure:"max_sessions"`
	MaxServers  int `mapstructure:"max_servers"`
}

type StunConfig struct {
	Template string `mapstructure:"template"`
	Suffix   string `mapstructure:"suffix"`
	SuffixCN string `mapstructure:"suffix_cn"`
	Port     uint16 `mapstructure:"port"`
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName over the defaults; a missing file is not an error.
// PEERHUB_* environment variables override both.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("channel", cfg.Channel).Str("client_id", cfg.ClientID).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := twcc.DefaultConfig()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("region", "us-west-2")
	v.SetDefault("channel", "peerhub")
	v.SetDefault("client_id", "")
	v.SetDefault("role", "master")

	v.SetDefault("signaling.url", "ws://localhost:8443/signal")
	v.SetDefault("signaling.ice_url", "http://localhost:8443/ice")
	v.SetDefault("signaling.offer_limit", 5)
	v.SetDefault("signaling.offer_interval", "10s")
	v.SetDefault("signaling.reconnect_delay", "2s")

	v.SetDefault("pool.max_sessions", 2)
	v.SetDefault("pool.max_servers", 16)

	v.SetDefault("stun.template", "stun.kinesisvideo.%s.%s")
	v.SetDefault("stun.suffix", "amazonaws.com")
	v.SetDefault("stun.suffix_cn", "amazonaws.com.cn")
	v.SetDefault("stun.port", 443)

	v.SetDefault("twcc.alpha", def.Alpha)
	v.SetDefault("twcc.interval", def.Interval)
	v.SetDefault("twcc.loss_threshold", def.LossThreshold)
	v.SetDefault("twcc.increase_ratio", def.IncreaseRatio)
	v.SetDefault("twcc.video.min", def.Video.Min)
	v.SetDefault("twcc.video.max", def.Video.Max)
	v.SetDefault("twcc.video.start", def.Video.Start)
	v.SetDefault("twcc.audio.min", def.Audio.Min)
	v.SetDefault("twcc.audio.max", def.Audio.Max)
	v.SetDefault("twcc.audio.start", def.Audio.Start)

	v.SetDefault("media.video_file", "")
	v.SetDefault("media.audio_file", "")
	v.SetDefault("media.fps", 30)

	v.SetDefault("feedback_period", "1s")
	v.SetDefault("data_channel_echo", false)
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0:
		return fmt.Errorf("%w: port %d", domain.ErrInvalidArgument, c.Port)
	case c.Pool.MaxSessions <= 0:
		return fmt.Errorf("%w: pool.max_sessions %d", domain.ErrInvalidArgument, c.Pool.MaxSessions)
	case c.Pool.MaxServers <= 0:
		return fmt.Errorf("%w: pool.max_servers %d", domain.ErrInvalidArgument, c.Pool.MaxServers)
	case len(c.ClientID) > domain.IDMax:
		return fmt.Errorf("%w: client_id too long", domain.ErrInvalidArgument)
	case c.Role != "master" && c.Role != "viewer":
		return fmt.Errorf("%w: role %q", domain.ErrInvalidArgument, c.Role)
	case c.FeedbackPeriod <= 0:
		return fmt.Errorf("%w: feedback_period %v", domain.ErrInvalidArgument, c.FeedbackPeriod)
	}
	return c.TWCC.Validate()
}
