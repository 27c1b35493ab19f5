package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/places-sync/internal/places"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one page of a Places text search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "api")
		if err != nil {
			return err
		}
		defer env.Close()

		radius, _ := cmd.Flags().GetInt("radius")
		limit, _ := cmd.Flags().GetInt("limit")
		token, _ := cmd.Flags().GetString("page-token")
		asJSON, _ := cmd.Flags().GetBool("json")

		if radius == 0 {
			radius = cfg.Search.DefaultRadius
		}
		if limit == 0 {
			limit = cfg.Search.DefaultLimit
		}

		page, err := env.Places.Search(ctx, places.SearchRequest{
			Query:        args[0],
			RadiusMeters: radius,
			Limit:        limit,
			PageToken:    token,
		})
		if err != nil {
			return eris.Wrap(err, "search")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		}
		formatSearchPage(os.Stdout, page)
		return nil
	},
}

func formatSearchPage(w io.Writer, page *places.SearchPage) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLACE ID\tNAME\tADDRESS\tRATING")
	for _, p := range page.Places {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\n", p.ID, p.DisplayName.Text, p.FormattedAddress, p.Rating)
	}
	tw.Flush() //nolint:errcheck

	if page.Cached {
		fmt.Fprintln(w, "(cached)")
	}
	if page.NextPageToken != "" {
		fmt.Fprintf(w, "next page: --page-token %s\n", page.NextPageToken)
	}
}

func init() {
	searchCmd.Flags().Int("radius", 0, "location bias radius in meters (default from config)")
	searchCmd.Flags().Int("limit", 0, "results per page, max 20 (default from config)")
	searchCmd.Flags().String("page-token", "", "continue from a previous page")
	searchCmd.Flags().Bool("json", false, "print the raw page as JSON")
	rootCmd.AddCommand(searchCmd)
}
