package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rufhd",
	Short: "rufhd is a resumable-upload (RUFH) middleware server",
	Long:  "rufhd terminates resumable-upload HTTP requests and forwards a single, ordered byte stream per upload to an application handler.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&Flags.ConfigFile, "config", "", "path to a YAML configuration file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
