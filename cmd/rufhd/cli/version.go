package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X .../cli.Version=...".
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rufhd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("rufhd %s\n", Version)
			return nil
		},
	}
}
