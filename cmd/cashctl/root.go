package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-cashio/config"
	"github.com/arloliu/go-cashio/logger"
)

var (
	configPath  string
	profileName string
	portName    string
	logLevel    string
	journalPath string
	simulate    bool
)

var rootCmd = &cobra.Command{
	Use:   "cashctl",
	Short: "Cash peripheral control tool",
	Long: `cashctl drives bill validators (id003, ccnet) and bill dispensers (f56)
attached over RS-232.

Settings come from a YAML or TOML file given with --config; the --profile,
--port, --log-level and --journal flags override the file.

With --simulate the peripheral is replaced by an in-memory device, which is
useful to try the commands without hardware.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "peripheral profile (id003, ccnet, f56)")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "serial port device")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "", "append events to this CBOR journal")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use a simulated peripheral")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file, if any, and lays the flags over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("profile") {
		cfg.Profile = profileName
	}
	if flags.Changed("port") {
		cfg.Port = portName
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("journal") {
		cfg.Journal = journalPath
	}

	if simulate {
		simulatedCassettes(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Port == "" && !simulate {
		return nil, errNoPort
	}

	logger.SetDefault(logger.NewSlogWriter(os.Stderr, cfg.Level(), false, os.Getenv("ENV") == "development"))

	return cfg, nil
}
