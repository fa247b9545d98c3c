// Command nbtprobe opens a NetBIOS session service or direct TCP transport to
// an SMB server and reports how establishment went.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/irctrakz/nbtransport/pkg/config"
	"github.com/irctrakz/nbtransport/pkg/core"
	"github.com/irctrakz/nbtransport/pkg/logging"
)

var (
	// Version information injected at build time.
	Version = "dev"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "nbtprobe",
	Short: "Probe SMB transports over NetBIOS session service or direct TCP",
	Long: `nbtprobe connects to an SMB server on port 139 (NetBIOS session service,
with session request, negative response and retarget handling) or port 445
(direct TCP) and reports the outcome.

Settings come from an optional YAML/JSON config file, then NBT_*, LOGGING_*
and METRICS_* environment variables, then command line flags.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.yaml, .yml or .json)")
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig layers defaults, the config file and the environment.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if cfgFile != "" {
		if err := config.LoadFromFile(cfgFile, cfg); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

// applyDebug honors the DEBUG environment toggle on top of the configured level.
func applyDebug() {
	dval := strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG")))
	if dval == "1" || dval == "true" || dval == "yes" || dval == "on" {
		logging.SetLevel(logging.DebugLevel)
		core.SetDebugMode(true)
		logging.Infof("DEBUG enabled: verbose logging and buffer copy mode")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrf("nbtprobe: %v\n", err)
		os.Exit(1)
	}
}
