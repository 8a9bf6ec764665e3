// Package walkie assembles a walkie peer, and a relay server, from a
// config.Config.
package walkie

import (
	"context"
	"fmt"

	"github.com/mosaicnetworks/walkie/src/background"
	"github.com/mosaicnetworks/walkie/src/call"
	"github.com/mosaicnetworks/walkie/src/config"
	"github.com/mosaicnetworks/walkie/src/identity"
	"github.com/mosaicnetworks/walkie/src/media"
	"github.com/mosaicnetworks/walkie/src/negotiator"
	"github.com/mosaicnetworks/walkie/src/relay"
	"github.com/mosaicnetworks/walkie/src/relay/wamp"
	"github.com/mosaicnetworks/walkie/src/service"
	"github.com/sirupsen/logrus"
)

// Walkie is a peer: a call machine connected to a relay server, with an
// optional HTTP bridge for a UI shell.
type Walkie struct {
	Config    *config.Config
	Channel   relay.Channel
	Directory *relay.Directory
	Source    media.Source
	Factory   negotiator.Factory
	Machine   *call.Machine
	Service   *service.Service

	// closer releases the relay connection opened by initChannel.
	closer func() error

	logger *logrus.Entry
}

// NewWalkie is a factory method to produce a Walkie instance. Channel,
// Source and Factory can be set before Init to replace the defaults.
func NewWalkie(c *config.Config) *Walkie {
	return &Walkie{
		Config: c,
		logger: c.Logger(),
	}
}

// Init initialises the peer.
func (w *Walkie) Init() error {
	w.logger.Debug("validateConfig")
	if err := w.validateConfig(); err != nil {
		w.logger.WithError(err).Error("walkie.go:Init() validateConfig")
		return err
	}

	w.logger.Debug("initChannel")
	if err := w.initChannel(); err != nil {
		w.logger.WithError(err).Error("walkie.go:Init() initChannel")
		return err
	}

	w.logger.Debug("initDirectory")
	if err := w.initDirectory(); err != nil {
		w.logger.WithError(err).Error("walkie.go:Init() initDirectory")
		return err
	}

	w.logger.Debug("initMedia")
	w.initMedia()

	w.logger.Debug("initNegotiator")
	if err := w.initNegotiator(); err != nil {
		w.logger.WithError(err).Error("walkie.go:Init() initNegotiator")
		return err
	}

	w.logger.Debug("initMachine")
	if err := w.initMachine(); err != nil {
		w.logger.WithError(err).Error("walkie.go:Init() initMachine")
		return err
	}

	w.logger.Debug("initService")
	w.initService()

	return nil
}

// Run starts the HTTP bridge and the call machine. This is a blocking call.
func (w *Walkie) Run() {
	if w.Service != nil {
		go w.Service.Serve()
		go w.Service.Pump(w.Machine.Events())
	} else {
		go w.logEvents()
	}

	w.Machine.Run()
}

// Shutdown ends the current call, and releases the relay connection.
func (w *Walkie) Shutdown() {
	w.logger.Debug("Shutdown")

	if w.Service != nil {
		w.Service.Shutdown()
	}

	if w.Machine != nil {
		w.Machine.Shutdown()
	}

	if w.closer != nil {
		if err := w.closer(); err != nil {
			w.logger.WithError(err).Error("Closing relay connection")
		}
	}
}

func (w *Walkie) validateConfig() error {
	if w.Config.ID == "" {
		if w.Config.UID == "" {
			return fmt.Errorf("either an id or a uid is required")
		}

		id, err := identity.FromUID(w.Config.UID)
		if err != nil {
			return err
		}
		w.Config.ID = id
	}

	if err := identity.Validate(w.Config.ID); err != nil {
		return err
	}

	w.logger = w.logger.WithField("id", w.Config.ID)

	w.logger.WithFields(logrus.Fields{
		"config.RelayAddr":            w.Config.RelayAddr,
		"config.RelayRealm":           w.Config.RelayRealm,
		"config.RelaySecure":          w.Config.RelaySecure,
		"config.ServiceAddr":          w.Config.ServiceAddr,
		"config.NoService":            w.Config.NoService,
		"config.ICEAddresses":         w.Config.ICEAddresses,
		"config.SilentMic":            w.Config.SilentMic,
		"config.CallTimeout":          w.Config.CallTimeout,
		"config.GraceTimeout":         w.Config.GraceTimeout,
		"config.HeartbeatInterval":    w.Config.HeartbeatInterval,
		"config.StaleThreshold":       w.Config.StaleThreshold,
		"config.HealthInterval":       w.Config.HealthInterval,
		"config.MaxReconnectAttempts": w.Config.MaxReconnectAttempts,
		"config.BackgroundInterval":   w.Config.BackgroundInterval,
		"config.BackgroundCeiling":    w.Config.BackgroundCeiling,
	}).Debug("Config")

	return nil
}

func (w *Walkie) initChannel() error {
	if w.Channel != nil {
		return nil
	}

	client, err := wamp.NewClient(
		w.Config.RelayAddr,
		w.Config.RelayRealm,
		w.Config.RelaySecure,
		w.Config.CertFile(),
		w.Config.RelaySkipVerify,
		w.Config.RelayTimeout,
		w.logger.WithField("component", "relay-client"),
	)
	if err != nil {
		return err
	}

	w.Channel = client
	w.closer = client.Close

	return nil
}

func (w *Walkie) initDirectory() error {
	w.Directory = relay.NewDirectory(w.Channel)

	ctx, cancel := context.WithTimeout(context.Background(), w.Config.RelayTimeout)
	defer cancel()

	return w.Directory.Register(ctx, relay.Profile{
		ID:          w.Config.ID,
		DisplayName: w.Config.DisplayName,
		Email:       w.Config.Email,
	})
}

func (w *Walkie) initMedia() {
	if w.Source != nil {
		return
	}

	if w.Config.SilentMic {
		w.Source = media.NewSilentSource()
		return
	}

	w.Source = media.NewDeviceSource(w.logger.WithField("component", "media"))
}

func (w *Walkie) initNegotiator() error {
	if w.Factory != nil {
		return nil
	}

	factory, err := negotiator.NewWebRTCFactory(negotiator.Config{
		ICEServers: w.Config.ICEServers(),
		Logger:     w.logger.WithField("component", "negotiator"),
	})
	if err != nil {
		return err
	}

	w.Factory = factory

	return nil
}

func (w *Walkie) initMachine() error {
	w.Machine = call.NewMachine(
		w.Config.ID,
		CallConfig(w.Config),
		w.Channel,
		w.Directory,
		w.Source,
		w.Factory,
	)

	return w.Machine.Init()
}

func (w *Walkie) initService() {
	if !w.Config.NoService {
		w.Service = service.NewService(w.Config.ServiceAddr, w.Machine, nil, w.logger)
	}
}

// logEvents drains presentation events when no bridge consumes them.
func (w *Walkie) logEvents() {
	for ev := range w.Machine.Events() {
		w.logger.WithField("event", ev).Info(ev.EventType())
	}
}

// CallConfig extracts the configuration of the call machine.
func CallConfig(c *config.Config) *call.Config {
	conf := call.NewConfig(
		c.CallTimeout,
		c.GraceTimeout,
		c.HeartbeatInterval,
		c.StaleThreshold,
		c.HealthInterval,
		c.MaxReconnectAttempts,
		c.RelayRetryDelay,
		c.RelayTimeout,
		background.Config{
			Interval: c.BackgroundInterval,
			Ceiling:  c.BackgroundCeiling,
		},
		c.Logger().Logger,
	)
	return conf
}
