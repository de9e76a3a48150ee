package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/catalog"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage seed sources",
}

var sourcesImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import seed sources from a CSV file",
	Long:  "Loads id,name,matched_records,number_of_customers rows into the store. Existing sources are updated.",
	Args:  cobra.ExactArgs(1),
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

		n, err := catalog.ImportCSV(ctx, st, args[0])
		if err != nil {
			return eris.Wrap(err, "import sources")
		}

		zap.L().Info("import complete",
			zap.Int64("sources", n),
			zap.String("csv", args[0]),
		)
		return nil
	},
}

var (
	sourcesQuery  string
	sourcesLimit  int
	sourcesOffset int
)

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List seed sources, optionally filtered by name",
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

		srcs, err := catalog.NewSources(st).Search(ctx, sourcesQuery, sourcesLimit, sourcesOffset)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tMATCHED\tCUSTOMERS") //nolint:errcheck
		for _, s := range srcs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", s.ID, s.Name, s.MatchedRecords, s.NumberOfCustomers) //nolint:errcheck
		}
		return tw.Flush()
	},
}

func init() {
	sourcesListCmd.Flags().StringVar(&sourcesQuery, "q", "", "case-insensitive name filter")
	sourcesListCmd.Flags().IntVar(&sourcesLimit, "limit", 50, "maximum sources to list")
	sourcesListCmd.Flags().IntVar(&sourcesOffset, "offset", 0, "sources to skip")

	sourcesCmd.AddCommand(sourcesImportCmd, sourcesListCmd)
	rootCmd.AddCommand(sourcesCmd)
}
