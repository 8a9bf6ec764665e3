package walkie

import (
	"fmt"

	"github.com/mosaicnetworks/walkie/src/config"
	"github.com/mosaicnetworks/walkie/src/relay"
	"github.com/mosaicnetworks/walkie/src/relay/wamp"
	"github.com/mosaicnetworks/walkie/src/service"
	"github.com/sirupsen/logrus"
)

// Relay is a relay server: a WAMP router in front of a relay.Hub, with an
// optional statistics service.
type Relay struct {
	Config  *config.Config
	Store   relay.Store
	Hub     *relay.Hub
	Server  *wamp.Server
	Service *service.Service

	logger *logrus.Entry
}

// NewRelay ...
func NewRelay(c *config.Config) *Relay {
	return &Relay{
		Config: c,
		logger: c.Logger().WithField("component", "relay"),
	}
}

// Init opens the store and creates the WAMP server.
func (r *Relay) Init() error {
	if err := r.initStore(); err != nil {
		r.logger.WithError(err).Error("relay.go:Init() initStore")
		return err
	}

	r.Hub = relay.NewHub(r.Store, r.logger)

	server, err := wamp.NewServer(
		r.Config.RelayAddr,
		r.Config.RelayRealm,
		r.Hub,
		r.Config.RelayCertFile,
		r.Config.RelayKeyFile,
		r.logger,
	)
	if err != nil {
		r.logger.WithError(err).Error("relay.go:Init() NewServer")
		r.Hub.Close()
		return err
	}
	r.Server = server

	if !r.Config.NoService {
		r.Service = service.NewService(r.Config.ServiceAddr, nil, r.Hub, r.logger)
	}

	return nil
}

func (r *Relay) initStore() error {
	switch r.Config.Store {
	case config.StoreInmem, "":
		r.Store = relay.NewInmemStore()

		r.logger.Debug("created new in-mem store")
	case config.StoreBadger:
		r.logger.WithField("path", r.Config.DatabaseDir).Debug("Attempting to load or create database")

		store, err := relay.NewBadgerStore(r.Config.DatabaseDir, r.logger)
		if err != nil {
			return err
		}
		r.Store = store
	case config.StoreRedis:
		r.logger.WithField("addr", r.Config.RedisAddr).Debug("Connecting to redis")

		store, err := relay.NewRedisStore(
			r.Config.RedisAddr,
			r.Config.RedisPassword,
			r.Config.RedisDB,
			r.Config.RelayTimeout,
		)
		if err != nil {
			return err
		}
		store.SetPrefix(r.Config.RelayRealm)
		r.Store = store
	default:
		return fmt.Errorf("unknown store %q", r.Config.Store)
	}

	return nil
}

// Run serves the relay. This is a blocking call.
func (r *Relay) Run() error {
	if r.Service != nil {
		go r.Service.Serve()
	}

	return r.Server.Run()
}

// Shutdown stops the server and closes the store.
func (r *Relay) Shutdown() {
	r.logger.Debug("Shutdown")

	if r.Service != nil {
		r.Service.Shutdown()
	}

	r.Server.Shutdown()

	if err := r.Hub.Close(); err != nil {
		r.logger.WithError(err).Error("Closing relay")
	}
}
