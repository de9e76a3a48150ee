package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/audience-cli/internal/store"
)

var (
	audiencesSource string
	audiencesActive bool
	audiencesLimit  int
)

var audiencesCmd = &cobra.Command{
	Use:   "audiences",
	Short: "List submitted audiences with their last known progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("sources"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		list, err := st.ListAudiences(ctx, store.AudienceFilter{
			SourceID:   audiencesSource,
			ActiveOnly: audiencesActive,
			Limit:      audiencesLimit,
		})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "JOB\tNAME\tSOURCE\tSIZE\tPROGRESS\tCREATED") //nolint:errcheck
		for _, a := range list {
			progress := "pending"
			switch {
			case a.Progress.Terminal():
				progress = "complete"
			case !a.Progress.Indeterminate():
				progress = fmt.Sprintf("%.1f%%", a.Progress.Percent())
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", //nolint:errcheck
				a.JobID, a.Name, a.SourceID, a.SizeMethodID, progress, a.CreatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

func init() {
	audiencesCmd.Flags().StringVar(&audiencesSource, "source", "", "only audiences built from this source")
	audiencesCmd.Flags().BoolVar(&audiencesActive, "active", false, "only audiences still in progress")
	audiencesCmd.Flags().IntVar(&audiencesLimit, "limit", 100, "maximum audiences to list")
	rootCmd.AddCommand(audiencesCmd)
}
