package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weatherarchive/edr-ingest/internal/errs"
	"github.com/weatherarchive/edr-ingest/internal/orchestrator"
	"github.com/weatherarchive/edr-ingest/internal/refine"
)

func newRefineCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refine [stations]",
		Short: "Flatten ingested raw artifacts into monthly columnar partitions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				v.Set("stations", args[0])
			}

			ctx := cmd.Context()
			a, err := setupApp(ctx, v)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.refined == nil {
				return &errs.ConfigurationError{Msg: "--refined-root is required for the refine command"}
			}

			stations, err := a.registry.Resolve(a.cfg.Selector)
			if err != nil {
				return err
			}

			runID := orchestrator.NewRunID()
			refiner := refine.New(a.raw, a.refined, a.metadata, a.log, runID)

			failures := 0
			for _, s := range stations {
				for year := a.cfg.StartYear; year <= a.cfg.EndYear; year++ {
					outcome, err := refiner.Refine(ctx, s, year)
					switch {
					case err == refine.ErrNotIngested:
						fmt.Printf("%s %d: not ingested, skipping\n", s.Key, year)
					case err != nil:
						failures++
						fmt.Printf("%s %d: %v\n", s.Key, year, err)
					case outcome.Skipped:
						fmt.Printf("%s %d: already refined\n", s.Key, year)
					default:
						fmt.Printf("%s %d: refined %d month(s)\n", s.Key, year, len(outcome.Months))
					}
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d (station, year) pair(s) failed to fully refine", failures)
			}
			return nil
		},
	}

	cmd.Flags().Int("start-year", 0, "first year to refine (inclusive)")
	cmd.Flags().Int("end-year", 0, "last year to refine (inclusive)")
	v.BindPFlag("start-year", cmd.Flags().Lookup("start-year"))
	v.BindPFlag("end-year", cmd.Flags().Lookup("end-year"))

	return cmd
}
