package commands

import (
	"github.com/mosaicnetworks/walkie/src/walkie"
	"github.com/spf13/cobra"
)

//NewPeerCmd returns the command that starts a walkie peer
func NewPeerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "peer",
		Short:   "Run a walkie peer",
		PreRunE: loadConfig,
		RunE:    runPeer,
	}
	AddPeerFlags(cmd)
	return cmd
}

func runPeer(cmd *cobra.Command, args []string) error {
	engine := walkie.NewWalkie(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize walkie:", err)
		engine.Shutdown()
		return err
	}

	go engine.Run()

	waitForSignal(_config.Logger())

	engine.Shutdown()

	return nil
}

//AddPeerFlags adds flags to the peer command
func AddPeerFlags(cmd *cobra.Command) {
	addCommonFlags(cmd)

	// Identity
	cmd.Flags().String("uid", _config.UID, "Authentication uid the identity is derived from")
	cmd.Flags().String("id", _config.ID, "Call identity, overrides --uid")
	cmd.Flags().String("name", _config.DisplayName, "Display name shown to callees")
	cmd.Flags().String("email", _config.Email, "Email shown to callees without a display name")

	// Relay TLS
	cmd.Flags().Bool("relay-secure", _config.RelaySecure, "Connect to the relay with wss")
	cmd.Flags().Bool("relay-skip-verify", _config.RelaySkipVerify, "Skip verification of the relay certificate")

	// Media
	cmd.Flags().StringSlice("ice-addr", _config.ICEAddresses, "STUN and TURN server URIs")
	cmd.Flags().String("ice-username", _config.ICEUsername, "Username of the ICE servers")
	cmd.Flags().String("ice-password", _config.ICEPassword, "Password of the ICE servers")
	cmd.Flags().Bool("silent-mic", _config.SilentMic, "Send silence instead of capturing the microphone")

	// Call timings
	cmd.Flags().Duration("call-timeout", _config.CallTimeout, "Time a call may ring or take to connect")
	cmd.Flags().Duration("grace-timeout", _config.GraceTimeout, "Wait after a disconnection before reconnecting")
	cmd.Flags().Duration("heartbeat", _config.HeartbeatInterval, "Time between keep-alive messages")
	cmd.Flags().Duration("stale-threshold", _config.StaleThreshold, "Silence after which the peer is pinged")
	cmd.Flags().Duration("health-interval", _config.HealthInterval, "Time between connection health checks")
	cmd.Flags().Int("max-reconnect", _config.MaxReconnectAttempts, "Maximum reconnection attempts")
	cmd.Flags().Duration("relay-retry", _config.RelayRetryDelay, "Time between relay publish attempts")
	cmd.Flags().Duration("background-interval", _config.BackgroundInterval, "Time between health checks in the background")
	cmd.Flags().Duration("background-ceiling", _config.BackgroundCeiling, "Time in the background before a liveness ping")
}
