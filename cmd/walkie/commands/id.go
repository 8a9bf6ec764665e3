package commands

import (
	"fmt"

	"github.com/mosaicnetworks/walkie/src/identity"
	"github.com/spf13/cobra"
)

// NewIDCmd produces an IDCmd which prints the call identity derived from a uid
func NewIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id [uid]",
		Short: "Print the call identity of a uid",
		Args:  cobra.ExactArgs(1),
		RunE:  printID,
	}
}

func printID(cmd *cobra.Command, args []string) error {
	id, err := identity.FromUID(args[0])
	if err != nil {
		return err
	}

	fmt.Println(id)

	return nil
}
