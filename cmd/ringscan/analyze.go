package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensource-finance/ringscan/internal/analysis"
	"github.com/opensource-finance/ringscan/internal/domain"
	"github.com/opensource-finance/ringscan/internal/rules"
)

// analyzeOutput is the report printed by "ringscan analyze".
type analyzeOutput struct {
	*domain.Report
	Alerts []domain.Alert `json:"alerts,omitempty"`
}

func analyzeCmd() *cobra.Command {
	var withAlerts bool

	cmd := &cobra.Command{
		Use:   "analyze <ledger.csv>",
		Short: "Analyse a CSV ledger and print the report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(viper.GetViper())
			if err != nil {
				return err
			}

			upload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read ledger: %w", err)
			}

			pipeline, err := analysis.NewPipeline(cfg.Detection)
			if err != nil {
				return err
			}
			service := &analysis.Service{Pipeline: pipeline}

			if withAlerts {
				engine, err := rules.NewEngine(0)
				if err != nil {
					return err
				}
				if err := engine.LoadRules(rules.DefaultAlertRules()); err != nil {
					return err
				}
				service.Rules = engine
			}

			result, err := service.Run(cmd.Context(), upload)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(analyzeOutput{Report: result.Report, Alerts: result.Alerts})
		},
	}

	cmd.Flags().BoolVar(&withAlerts, "alerts", false, "evaluate the default alert rules")
	return cmd
}
