package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/places-sync/internal/business"
)

var importCmd = &cobra.Command{
	Use:   "import [query...]",
	Short: "Search, fetch details and upsert businesses",
	Long:  "Runs every query (from arguments and/or a YAML file), fetches details for each place found and upserts them. With --photos a photo_import task is queued per imported business.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		photos, _ := cmd.Flags().GetBool("photos")
		maxPages, _ := cmd.Flags().GetInt("max-pages")

		queries, err := importQueries(args, file)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "api")
		if err != nil {
			return err
		}
		defer env.Close()

		if maxPages == 0 {
			maxPages = cfg.Import.MaxPages
		}
		report, err := env.Importer.Import(ctx, business.ImportOptions{
			Queries:       queries,
			MaxPages:      maxPages,
			Concurrency:   cfg.Import.Concurrency,
			EnqueuePhotos: photos,
		})
		if report != nil {
			formatImportReport(os.Stdout, report)
		}
		if err != nil {
			return eris.Wrap(err, "import")
		}
		return nil
	},
}

// importQueries merges positional queries with those in file. Positional
// queries use the configured default radius and limit.
func importQueries(args []string, file string) ([]business.Query, error) {
	var queries []business.Query
	for _, a := range args {
		queries = append(queries, business.Query{
			Text:         a,
			RadiusMeters: cfg.Search.DefaultRadius,
			Limit:        cfg.Search.DefaultLimit,
		})
	}
	if file != "" {
		fromFile, err := business.LoadQueries(file)
		if err != nil {
			return nil, err
		}
		queries = append(queries, fromFile...)
	}
	if len(queries) == 0 {
		return nil, eris.New("import: provide at least one query or --file")
	}
	return queries, nil
}

func formatImportReport(w io.Writer, r *business.ImportReport) {
	fmt.Fprintf(w, "queries: %d  pages: %d  found: %d\n", r.Queries, r.Pages, r.Found)
	if r.Batch != nil {
		fmt.Fprintf(w, "created: %d  updated: %d  failed: %d\n", r.Batch.Created, r.Batch.Updated, r.Batch.Failed)
		for _, d := range r.Batch.Items {
			fmt.Fprintf(w, "  record %d (%s): %s: %s\n", d.Index, d.ID, d.Kind, d.Reason)
		}
	}
	for _, d := range r.DetailErrors {
		fmt.Fprintf(w, "  details %s: %s: %s\n", d.ID, d.Kind, d.Reason)
	}
	for _, e := range r.SearchErrors {
		fmt.Fprintf(w, "  search: %s\n", e)
	}
	if r.RateLimited {
		fmt.Fprintln(w, "stopped early: rate limit reached")
	}
	if r.PhotoTasks > 0 {
		fmt.Fprintf(w, "photo tasks queued: %d\n", r.PhotoTasks)
	}
}

func init() {
	importCmd.Flags().String("file", "", "YAML file with a queries list")
	importCmd.Flags().Bool("photos", false, "queue a photo_import task for each imported business")
	importCmd.Flags().Int("max-pages", 0, "search pages per query (default from config)")
	rootCmd.AddCommand(importCmd)
}
