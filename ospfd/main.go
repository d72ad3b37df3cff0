package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version    string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "ospfd",
	Short: "OSPF adjacency and database synchronization on a simulated network",
	Long: `ospfd brings up the routers described in a topology file, connects them
over an in-memory network and lets them form adjacencies and synchronize
their link state databases.`,
	SilenceUsage: true,
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ospfd.yaml", "path to the topology file")
}
