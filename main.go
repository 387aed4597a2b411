package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"alarm-engine/internal/config"
	"alarm-engine/internal/logging"
)

var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "alarm-engine",
		Short: "Evaluate alarm rules against device telemetry and attributes.",
		Long: `alarm-engine consumes telemetry, attribute and alarm events, evaluates the
configured alarm rules per entity and creates, escalates and clears alarms.

Configuration is read from the YAML file given by --config (or the
ALARM_ENGINE_CONFIG environment variable) and overridden by environment
variables such as DATABASE_URL, MQTT_BROKER and AUTH_JWT_SECRET.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	root.AddCommand(newServeCommand(), newMigrateCommand(), newRulesCommand())
	return root
}

func loadRuntime() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cfg, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}
