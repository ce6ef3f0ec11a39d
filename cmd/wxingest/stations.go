package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newStationsCmd implements the supplemented "stations list" subcommand
// (SPEC_FULL §12): a read-only view of the resolved station registry and
// its named groups, so an operator can confirm selectors resolve before
// spending retry/rate-limit budget on a real run.
func newStationsCmd(v *viper.Viper) *cobra.Command {
	stations := &cobra.Command{
		Use:   "stations",
		Short: "Inspect the station registry",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print every registered station and named group",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setupApp(ctx, v)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Printf("%-12s %-16s %-24s %10s %10s\n", "key", "id", "name", "lat", "lon")
			for _, s := range a.registry.All() {
				fmt.Printf("%-12s %-16s %-24s %10.4f %10.4f\n", s.Key, s.ID, s.Name, s.Lat, s.Lon)
			}

			groups := a.registry.Groups()
			if len(groups) > 0 {
				names := make([]string, 0, len(groups))
				for name := range groups {
					names = append(names, name)
				}
				sort.Strings(names)

				fmt.Println("\ngroups:")
				for _, name := range names {
					fmt.Printf("  %-12s %v\n", name, groups[name])
				}
			}
			return nil
		},
	}

	stations.AddCommand(list)
	return stations
}
