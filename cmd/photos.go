package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/resilience"
	"github.com/sells-group/places-sync/internal/store"
)

var photosCmd = &cobra.Command{
	Use:   "photos",
	Short: "Refresh and queue business photos",
}

var photosRefreshCmd = &cobra.Command{
	Use:   "refresh <business-id>",
	Short: "Replace a business's photos from upstream now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "api")
		if err != nil {
			return err
		}
		defer env.Close()

		placeID, _ := cmd.Flags().GetString("place-id")
		res, err := env.Ingestor.RefreshPhotos(ctx, args[0], placeID)
		if res != nil {
			fmt.Fprintf(os.Stdout, "requested: %d  attached: %d  added: %d  reused: %d  removed: %d  failed: %d\n",
				res.Requested, res.Attached, res.Added, res.Reused, res.Removed, res.Failed)
			if res.Primary != nil {
				fmt.Fprintf(os.Stdout, "primary: %s\n", *res.Primary)
			}
			for _, d := range res.Items {
				fmt.Fprintf(os.Stdout, "  %s: %s: %s\n", d.ID, d.Kind, d.Reason)
			}
		}
		if err != nil {
			return eris.Wrap(err, "photos refresh")
		}

		if optimize, _ := cmd.Flags().GetBool("optimize"); optimize && res.Added > 0 {
			opt, err := env.Optimizer.Optimize(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "photos optimize")
			}
			fmt.Fprintf(os.Stdout, "optimized: %d resized of %d\n", opt.Resized, opt.Checked)
		}
		return nil
	},
}

var photosEnqueueCmd = &cobra.Command{
	Use:   "enqueue [business-id...]",
	Short: "Queue photo_import tasks",
	Long:  "Queues a photo_import task per business id, or for every business (optionally limited to one locality) with --all.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		all, _ := cmd.Flags().GetBool("all")
		locality, _ := cmd.Flags().GetString("locality")
		missing, _ := cmd.Flags().GetBool("missing-only")
		if len(args) == 0 && !all {
			return eris.New("photos enqueue: provide business ids or --all")
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		var tasks []model.Task
		for _, id := range args {
			t, err := model.NewPhotoImportTask(id, "")
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		if all {
			more, err := allPhotoTasks(cmd, env.Store, locality, missing)
			if err != nil {
				return err
			}
			tasks = append(tasks, more...)
		}

		n, err := env.Queue.Enqueue(ctx, tasks...)
		if err != nil {
			return eris.Wrap(err, "photos enqueue")
		}
		fmt.Fprintf(os.Stdout, "enqueued %d photo_import task(s)\n", n)
		return nil
	},
}

func allPhotoTasks(cmd *cobra.Command, st store.Store, locality string, missingOnly bool) ([]model.Task, error) {
	const page = 500
	var tasks []model.Task
	for offset := 0; ; offset += page {
		list, err := st.ListBusinesses(cmd.Context(), model.BusinessFilter{Locality: locality, Limit: page, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "photos enqueue: list businesses")
		}
		for _, b := range list {
			if missingOnly && b.PrimaryPhoto != nil {
				continue
			}
			t, err := model.NewPhotoImportTask(b.ID, b.PlaceID)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
		if len(list) < page {
			return tasks, nil
		}
	}
}

// exitOnNotFound maps a not-found lookup onto a friendlier message.
func exitOnNotFound(err error, what string) error {
	if errors.Is(err, resilience.ErrNotFound) {
		return eris.Errorf("%s not found", what)
	}
	return err
}

func init() {
	photosRefreshCmd.Flags().String("place-id", "", "upstream place id (default: the business's own)")
	photosRefreshCmd.Flags().Bool("optimize", false, "resize newly downloaded photos afterwards")
	photosEnqueueCmd.Flags().Bool("all", false, "queue every business")
	photosEnqueueCmd.Flags().String("locality", "", "with --all, only businesses in this locality")
	photosEnqueueCmd.Flags().Bool("missing-only", false, "with --all, skip businesses that already have a primary photo")
	photosCmd.AddCommand(photosRefreshCmd, photosEnqueueCmd)
	rootCmd.AddCommand(photosCmd)
}
