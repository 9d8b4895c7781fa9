package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiliankoe/chartrecall/internal/config"
)

// set with -ldflags "-X main.version=..."
var version = "v0.1.0-dev"

var (
	configFile string
	portFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "chartrecall",
	Short: "Chart memory experiment server",
	Long: `Runs the chart memory experiment: participants are assigned a
variation and a group, shown chart stimuli and asked about them. Results
and the event log of every finished session are exported as CSV.

Settings come from an optional config file and the environment
(PORT, STIMULI_FILE, IMAGES_DIR, RESULTS_DIR, DISPLAY_SECONDS, ...).`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "chartrecall %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, toml or json)")
	rootCmd.Flags().StringVarP(&portFlag, "port", "p", "", "port to listen on (overrides PORT)")
	rootCmd.AddCommand(validateCmd, versionCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, err
	}
	if portFlag != "" {
		cfg.Port = portFlag
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
