package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/wwwzy/sweepchat/internal/config"
	"github.com/wwwzy/sweepchat/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	log      *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sweepchat",
	Short: "sweepchat is a WhatsApp/SMS customer-support agent",
	Long: `sweepchat answers customer messages for a home-services company.
A supervisor routes each message to a specialised worker agent that can check
calendar availability, book appointments and write project briefs.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, ./configs/config.yaml, $HOME/.sweepchat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log = logging.New(cfg.LogLevel, cfg.LogFormat)
}
