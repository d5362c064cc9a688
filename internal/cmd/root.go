package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ticketfs",
	Short: "Mount a cached issue tracker view as a filesystem",
	Long:  `ticketfs exposes a synced, cached view of an issue tracker's workspaces as a read-mostly FUSE filesystem.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file; not read: configuration always loads from $XDG_CONFIG_HOME/ticketfs/config.yaml, else ~/.config/ticketfs/config.yaml")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
}
