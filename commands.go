package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	alarmrepo "alarm-engine/internal/alarms/infrastructure/postgres"
	"alarm-engine/internal/alarms/infrastructure/rulefile"
	"alarm-engine/internal/config"
	"alarm-engine/migrations"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return errors.New("migrate: the postgres store is not configured")
			}
			db, err := openDB(cmd.Context(), cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := migrations.Apply(cmd.Context(), db); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func newRulesCommand() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Validate and import alarm rule files.",
	}
	rules.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a YAML rule file without starting the engine.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			list, err := rulefile.Validate(data)
			if err != nil {
				return err
			}
			cmd.Printf("%d rules ok\n", len(list))
			return nil
		},
	})
	rules.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Validate a YAML rule file and upsert its rules into the database.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			list, err := rulefile.Validate(data)
			if err != nil {
				return err
			}
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			repo := alarmrepo.NewAlarmRuleRepository(db)
			for i := range list {
				if err := repo.Upsert(cmd.Context(), &list[i]); err != nil {
					return fmt.Errorf("rule %s: %w", list[i].ID, err)
				}
				logger.Info("rule imported",
					zap.String("rule_id", list[i].ID),
					zap.Int64("version", list[i].Version))
			}
			return nil
		},
	})
	return rules
}
