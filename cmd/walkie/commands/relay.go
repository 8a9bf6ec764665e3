package commands

import (
	"github.com/mosaicnetworks/walkie/src/config"
	"github.com/mosaicnetworks/walkie/src/walkie"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//NewRelayCmd returns the command that starts a relay server
func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "relay",
		Short:   "Run the relay server",
		PreRunE: loadRelayConfig,
		RunE:    runRelay,
	}
	AddRelayFlags(cmd)
	return cmd
}

func runRelay(cmd *cobra.Command, args []string) error {
	r := walkie.NewRelay(_config)

	if err := r.Init(); err != nil {
		_config.Logger().Error("Cannot initialize relay:", err)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run()
	}()

	sigCh := make(chan struct{})
	go func() {
		waitForSignal(_config.Logger())
		close(sigCh)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-sigCh:
	}

	r.Shutdown()

	return err
}

//AddRelayFlags adds flags to the relay command
func AddRelayFlags(cmd *cobra.Command) {
	addCommonFlags(cmd)

	// TLS
	cmd.Flags().String("relay-cert", _config.RelayCertFile, "TLS certificate file")
	cmd.Flags().String("relay-key", _config.RelayKeyFile, "TLS key file")

	// Store
	cmd.Flags().String("store", _config.Store, "Relay store: inmem, badger or redis")
	cmd.Flags().String("db", _config.DatabaseDir, "Badger database directory")
	cmd.Flags().String("redis-addr", _config.RedisAddr, "IP:Port of the redis server")
	cmd.Flags().String("redis-password", _config.RedisPassword, "Redis password")
	cmd.Flags().Int("redis-db", _config.RedisDB, "Redis database")
}

func loadRelayConfig(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd, args); err != nil {
		return err
	}

	logFields := logrus.Fields{
		"DataDir":     _config.DataDir,
		"RelayAddr":   _config.RelayAddr,
		"RelayRealm":  _config.RelayRealm,
		"Store":       _config.Store,
		"ServiceAddr": _config.ServiceAddr,
		"NoService":   _config.NoService,
		"LogLevel":    _config.LogLevel,
	}

	if _config.Store == config.StoreBadger {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	if _config.Store == config.StoreRedis {
		logFields["RedisAddr"] = _config.RedisAddr
		logFields["RedisDB"] = _config.RedisDB
	}

	_config.Logger().WithFields(logFields).Debug("RELAY")

	return nil
}
