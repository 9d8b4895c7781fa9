package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kiliankoe/chartrecall/internal/experiment"
	"github.com/kiliankoe/chartrecall/internal/stimulus"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the stimulus and chart data files",
	Long: `Loads the configured stimulus table and chart data, then reports how
many stimuli every variation would present. Exits non-zero when a file is
missing required columns or a variation has no stimuli.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	cat, err := stimulus.Load(cfg.StimuliFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d stimuli, %d rows dropped\n", cat.Source, len(cat.Rows), cat.Dropped)

	var empty []string
	for _, v := range experiment.Variations {
		rows, err := cat.FilterByVariation(string(v))
		if err != nil {
			empty = append(empty, string(v))
			fmt.Fprintf(out, "  %s: no stimuli\n", v)
			continue
		}
		fmt.Fprintf(out, "  %s: %d stimuli\n", v, len(rows))
	}

	charts, err := loadCharts(cfg)
	if err != nil {
		return err
	}
	if charts != nil {
		missing := 0
		for _, r := range cat.Rows {
			if r.HasChartKey && !charts.Has(r.ChartDataKey) {
				missing++
			}
		}
		fmt.Fprintf(out, "%s: %d stimuli reference chart ids without data\n", charts.Source, missing)
	}

	if len(empty) > 0 {
		return fmt.Errorf("variations without stimuli: %v", empty)
	}
	return nil
}
