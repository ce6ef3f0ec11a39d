package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weatherarchive/edr-ingest/internal/orchestrator"
	"github.com/weatherarchive/edr-ingest/internal/retriever"
	"github.com/weatherarchive/edr-ingest/internal/station"
)

func newIngestCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [stations]",
		Short: "Fetch and materialize raw observation artifacts for one or more stations",
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

			stations, err := a.registry.Resolve(a.cfg.Selector)
			if err != nil {
				return err
			}

			if a.cfg.DryRun {
				plan := orchestrator.Plan{Stations: stations, StartYear: a.cfg.StartYear, EndYear: a.cfg.EndYear}
				fmt.Printf("plan: %d station(s) x %d year(s) = %d chunk(s), force=%v\n",
					len(stations), a.cfg.EndYear-a.cfg.StartYear+1, plan.TotalChunks(), a.cfg.Force)
				for _, s := range stations {
					fmt.Printf("  %-12s (%s) %d..%d\n", s.Key, s.ID, a.cfg.StartYear, a.cfg.EndYear)
				}
				return nil
			}

			if p := v.GetInt("parallelism"); p > 0 {
				a.cfg.Concurrency = p
			}

			runID := orchestrator.NewRunID()

			retr := retriever.New(retriever.Config{
				BaseURL:        a.cfg.BaseURL,
				Collection:     a.cfg.Collection,
				APIKey:         a.cfg.APIKey,
				MaxAttempts:    a.cfg.RetryAttempts,
				BaseBackoff:    a.cfg.BaseBackoff,
				MaxBackoff:     a.cfg.MaxBackoff,
				RequestTimeout: a.cfg.RequestTimeout,
				RateLimitHz:    a.cfg.RateLimitHz,
				MaxRetrySleep:  a.cfg.MaxRetrySleep,
			}, a.log, runID)

			pipeline := station.New(retr, a.raw, a.metadata, a.log, runID)
			orch := orchestrator.New(runID, retr, pipeline, a.log, a.cfg.Concurrency)

			run, err := orch.Ingest(ctx, stations, a.cfg.StartYear, a.cfg.EndYear, a.cfg.Force)
			if err != nil {
				return err
			}

			fmt.Print(orchestrator.SummaryTable(run))

			if run.TotalFailed() > 0 {
				return fmt.Errorf("%d chunk(s) failed", run.TotalFailed())
			}
			return nil
		},
	}

	cmd.Flags().Int("start-year", 0, "first year to ingest (inclusive)")
	cmd.Flags().Int("end-year", 0, "last year to ingest (inclusive)")
	cmd.Flags().Int("parallelism", 0, "override concurrency for this run (0 = use --concurrency)")
	cmd.Flags().Bool("force", false, "re-fetch chunks even if the ledger reports them loaded")
	cmd.Flags().Bool("dry-run", false, "print the chunk plan without performing any network calls")
	v.BindPFlag("start-year", cmd.Flags().Lookup("start-year"))
	v.BindPFlag("end-year", cmd.Flags().Lookup("end-year"))
	v.BindPFlag("force", cmd.Flags().Lookup("force"))
	v.BindPFlag("dry-run", cmd.Flags().Lookup("dry-run"))
	v.BindPFlag("parallelism", cmd.Flags().Lookup("parallelism"))

	return cmd
}
