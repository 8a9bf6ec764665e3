package main

import (
	"os"

	cmd "github.com/mosaicnetworks/walkie/cmd/walkie/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.VersionCmd,
		cmd.NewIDCmd(),
		cmd.NewRelayCmd(),
		cmd.NewPeerCmd())

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
