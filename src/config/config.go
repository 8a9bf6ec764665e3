package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/walkie/src/common"
	webrtc "github.com/pion/webrtc/v4"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultConfigName is the name, without extension, of the configuration
	// file looked up in the data directory.
	DefaultConfigName = "walkie"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database of the relay.
	DefaultBadgerFile = "relay_db"

	// DefaultCertFile is the default name of the file containing the TLS
	// certificate for connecting to the relay server.
	DefaultCertFile = "cert.pem"
)

// Relay store backends.
const (
	StoreInmem  = "inmem"
	StoreBadger = "badger"
	StoreRedis  = "redis"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultRelayAddr       = "127.0.0.1:2443"
	DefaultRelayRealm      = "walkie"
	DefaultRelaySecure     = false
	DefaultRelaySkipVerify = false
	DefaultRelayTimeout    = 10 * time.Second
	DefaultStore           = StoreInmem
	DefaultRedisAddr       = "127.0.0.1:6379"
	DefaultRedisDB         = 0
	DefaultServiceAddr     = "127.0.0.1:8000"
	DefaultNoService       = false
	DefaultICEUsername     = ""
	DefaultICEPassword     = ""
	DefaultSilentMic       = false

	DefaultCallTimeout          = 45 * time.Second
	DefaultGraceTimeout         = 3 * time.Second
	DefaultHeartbeatInterval    = 10 * time.Second
	DefaultStaleThreshold       = 30 * time.Second
	DefaultHealthInterval       = 15 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultRelayRetryDelay      = 2 * time.Second
	DefaultBackgroundInterval   = 5 * time.Second
	DefaultBackgroundCeiling    = 10 * time.Minute
)

// DefaultICEAddresses are public Google STUN servers.
var DefaultICEAddresses = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// Config contains all the configuration properties of a walkie peer and of the
// relay server.
type Config struct {
	// DataDir is the top-level directory containing configuration and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, receives a copy of debug and info logs.
	LogFile string `mapstructure:"log-file"`

	// UID is the identifier assigned by the authentication provider. The
	// CallIdentity is derived from it unless ID is set.
	UID string `mapstructure:"uid"`

	// ID is the CallIdentity of this peer.
	ID string `mapstructure:"id"`

	// DisplayName and Email are published in the relay directory so that
	// callees can see who is calling.
	DisplayName string `mapstructure:"name"`
	Email       string `mapstructure:"email"`

	// RelayAddr is the IP:PORT of the relay server. The relay command listens
	// on it, the peer command connects to it.
	RelayAddr string `mapstructure:"relay-addr"`

	// RelayRealm is an administrative domain within the relay server. Records
	// are only shared within a realm.
	RelayRealm string `mapstructure:"relay-realm"`

	// RelaySecure makes peers connect with wss. It is possible to include a
	// self-signed certificate in a file called cert.pem in the datadir.
	RelaySecure bool `mapstructure:"relay-secure"`

	// RelaySkipVerify controls whether peers verify the relay's certificate
	// chain and host name. This should be used only for testing.
	RelaySkipVerify bool `mapstructure:"relay-skip-verify"`

	// RelayCertFile and RelayKeyFile enable TLS on the relay server.
	RelayCertFile string `mapstructure:"relay-cert"`
	RelayKeyFile  string `mapstructure:"relay-key"`

	// RelayTimeout bounds every request to the relay.
	RelayTimeout time.Duration `mapstructure:"relay-timeout"`

	// Store selects the backend of the relay server: inmem, badger or redis.
	Store string `mapstructure:"store"`

	// DatabaseDir is the directory containing the Badger database files.
	DatabaseDir string `mapstructure:"db"`

	// RedisAddr, RedisPassword and RedisDB locate the Redis backend.
	RedisAddr     string `mapstructure:"redis-addr"`
	RedisPassword string `mapstructure:"redis-password"`
	RedisDB       int    `mapstructure:"redis-db"`

	// NoService disables the HTTP service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// ICEAddresses are the URIs of STUN and TURN servers. ICEUsername and
	// ICEPassword are used for all of them, and can be empty.
	ICEAddresses []string `mapstructure:"ice-addr"`
	ICEUsername  string   `mapstructure:"ice-username"`
	ICEPassword  string   `mapstructure:"ice-password"`

	// SilentMic replaces the capture device with a silent track.
	SilentMic bool `mapstructure:"silent-mic"`

	// CallTimeout is how long a call may ring, or take to connect.
	CallTimeout time.Duration `mapstructure:"call-timeout"`

	// GraceTimeout is the window after a disconnection before recovery
	// actions start, and the spacing of reconnection attempts.
	GraceTimeout time.Duration `mapstructure:"grace-timeout"`

	// HeartbeatInterval is the period of keep-alive messages.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat"`

	// StaleThreshold is the silence after which a liveness ping is sent
	// without waiting for the heartbeat.
	StaleThreshold time.Duration `mapstructure:"stale-threshold"`

	// HealthInterval is the period of the connection-health monitor.
	HealthInterval time.Duration `mapstructure:"health-interval"`

	// MaxReconnectAttempts caps reconnection and relay publish retries.
	MaxReconnectAttempts int `mapstructure:"max-reconnect"`

	// RelayRetryDelay is the delay between two attempts to publish a record.
	RelayRetryDelay time.Duration `mapstructure:"relay-retry"`

	// BackgroundInterval is the period of the health loop run while in the
	// background.
	BackgroundInterval time.Duration `mapstructure:"background-interval"`

	// BackgroundCeiling is how long a call can stay in the background before
	// a liveness ping is sent.
	BackgroundCeiling time.Duration `mapstructure:"background-ceiling"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:              DefaultDataDir(),
		LogLevel:             DefaultLogLevel,
		RelayAddr:            DefaultRelayAddr,
		RelayRealm:           DefaultRelayRealm,
		RelaySecure:          DefaultRelaySecure,
		RelaySkipVerify:      DefaultRelaySkipVerify,
		RelayTimeout:         DefaultRelayTimeout,
		Store:                DefaultStore,
		DatabaseDir:          DefaultDatabaseDir(),
		RedisAddr:            DefaultRedisAddr,
		RedisDB:              DefaultRedisDB,
		NoService:            DefaultNoService,
		ServiceAddr:          DefaultServiceAddr,
		ICEAddresses:         append([]string{}, DefaultICEAddresses...),
		ICEUsername:          DefaultICEUsername,
		ICEPassword:          DefaultICEPassword,
		SilentMic:            DefaultSilentMic,
		CallTimeout:          DefaultCallTimeout,
		GraceTimeout:         DefaultGraceTimeout,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		StaleThreshold:       DefaultStaleThreshold,
		HealthInterval:       DefaultHealthInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		RelayRetryDelay:      DefaultRelayRetryDelay,
		BackgroundInterval:   DefaultBackgroundInterval,
		BackgroundCeiling:    DefaultBackgroundCeiling,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// CertFile returns the full path of the file containing the relay-server TLS
// certificate.
func (c *Config) CertFile() string {
	return filepath.Join(c.DataDir, DefaultCertFile)
}

// ICEServers returns the list of ICE servers used by the negotiator, with
// password-based authentication when a username is configured.
func (c *Config) ICEServers() []webrtc.ICEServer {
	if len(c.ICEAddresses) == 0 {
		return nil
	}

	server := webrtc.ICEServer{
		URLs: c.ICEAddresses,
	}

	if c.ICEUsername != "" {
		server.Username = c.ICEUsername
		server.Credential = c.ICEPassword
		server.CredentialType = webrtc.ICECredentialTypePassword
	}

	return []webrtc.ICEServer{server}
}

// Logger returns a formatted logrus Entry, with prefix set to "walkie".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				lfshook.PathMap{
					logrus.DebugLevel: c.LogFile,
					logrus.InfoLevel:  c.LogFile,
				},
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "walkie")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level walkie config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Walkie")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Walkie")
		} else {
			return filepath.Join(home, ".walkie")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
