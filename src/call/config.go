package call

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/walkie/src/background"
	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/sirupsen/logrus"
)

// Config contains the timings of the call controller.
type Config struct {
	CallTimeout          time.Duration `mapstructure:"call-timeout"`
	GraceTimeout         time.Duration `mapstructure:"grace-timeout"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat"`
	StaleThreshold       time.Duration `mapstructure:"stale-threshold"`
	HealthInterval       time.Duration `mapstructure:"health-interval"`
	MaxReconnectAttempts int           `mapstructure:"max-reconnect"`
	RelayRetryDelay      time.Duration `mapstructure:"relay-retry"`
	RelayTimeout         time.Duration `mapstructure:"relay-timeout"`
	Background           background.Config
	EventBuffer          int
	Logger               *logrus.Logger
}

func NewConfig(callTimeout time.Duration,
	graceTimeout time.Duration,
	heartbeat time.Duration,
	staleThreshold time.Duration,
	healthInterval time.Duration,
	maxReconnect int,
	relayRetry time.Duration,
	relayTimeout time.Duration,
	bg background.Config,
	logger *logrus.Logger) *Config {

	return &Config{
		CallTimeout:          callTimeout,
		GraceTimeout:         graceTimeout,
		HeartbeatInterval:    heartbeat,
		StaleThreshold:       staleThreshold,
		HealthInterval:       healthInterval,
		MaxReconnectAttempts: maxReconnect,
		RelayRetryDelay:      relayRetry,
		RelayTimeout:         relayTimeout,
		Background:           bg,
		EventBuffer:          64,
		Logger:               logger,
	}
}

func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		CallTimeout:          45 * time.Second,
		GraceTimeout:         3 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		StaleThreshold:       30 * time.Second,
		HealthInterval:       15 * time.Second,
		MaxReconnectAttempts: 5,
		RelayRetryDelay:      2 * time.Second,
		RelayTimeout:         10 * time.Second,
		Background:           background.DefaultConfig(),
		EventBuffer:          64,
		Logger:               logger,
	}
}

func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.CallTimeout = 2 * time.Second
	config.GraceTimeout = 150 * time.Millisecond
	config.HeartbeatInterval = 50 * time.Millisecond
	config.StaleThreshold = 200 * time.Millisecond
	config.HealthInterval = 100 * time.Millisecond
	config.RelayRetryDelay = 20 * time.Millisecond
	config.RelayTimeout = time.Second
	config.Background = background.Config{
		Interval: 30 * time.Millisecond,
		Ceiling:  time.Hour,
	}
	config.EventBuffer = 256
	config.Logger = common.NewTestLogger(t, logrus.DebugLevel)
	return config
}
