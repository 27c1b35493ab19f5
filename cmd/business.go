package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/places-sync/internal/model"
)

var businessCmd = &cobra.Command{
	Use:   "business",
	Short: "Inspect stored businesses",
}

var businessListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored businesses",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		locality, _ := cmd.Flags().GetString("locality")
		category, _ := cmd.Flags().GetString("category")
		query, _ := cmd.Flags().GetString("query")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		list, err := st.ListBusinesses(ctx, model.BusinessFilter{
			Locality: locality,
			Category: category,
			Query:    query,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			return eris.Wrap(err, "business list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No businesses found.")
			return nil
		}
		formatBusinessList(os.Stdout, list)
		return nil
	},
}

var businessGetCmd = &cobra.Command{
	Use:   "get <business-id>",
	Short: "Show one business as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		b, err := st.GetBusiness(ctx, args[0])
		if err != nil {
			return exitOnNotFound(err, "business "+args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	},
}

func formatBusinessList(w io.Writer, list []model.Business) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLOCALITY\tCATEGORIES\tPHOTOS\tSTATUS")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			b.ID, b.Name, b.Locality, strings.Join(b.Categories, ","), len(b.PhotoRefs), b.Status)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	businessListCmd.Flags().String("locality", "", "filter by locality")
	businessListCmd.Flags().String("category", "", "filter by category")
	businessListCmd.Flags().String("query", "", "match name or address")
	businessListCmd.Flags().Int("limit", 50, "maximum results")
	businessListCmd.Flags().Int("offset", 0, "skip this many results")
	businessCmd.AddCommand(businessListCmd, businessGetCmd)
	rootCmd.AddCommand(businessCmd)
}
