package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drive the photo task queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress of the current queue run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Queue.Status(ctx)
		if err != nil {
			return eris.Wrap(err, "queue status")
		}
		formatQueueStatus(os.Stdout, st)
		return nil
	},
}

var queueTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Process one batch of queued tasks now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "api")
		if err != nil {
			return err
		}
		defer env.Close()

		drain, _ := cmd.Flags().GetBool("drain")
		for {
			res, err := env.Queue.Tick(ctx)
			if err != nil {
				return eris.Wrap(err, "queue tick")
			}
			fmt.Fprintf(os.Stdout, "dispatched: %d  failed: %d  remaining: %d\n", res.Dispatched, res.Failed, res.Remaining)
			if !drain || res.Remaining == 0 || res.Dispatched == 0 {
				return nil
			}
		}
	},
}

var queueFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List recent task failures",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		failures, err := st.ListTaskFailures(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "queue failures")
		}
		if len(failures) == 0 {
			fmt.Fprintln(os.Stderr, "No task failures.")
			return nil
		}
		formatFailures(os.Stdout, failures)
		return nil
	},
}

func formatQueueStatus(w io.Writer, st *queue.Status) {
	fmt.Fprintf(w, "total: %d  processed: %d  remaining: %d  (%.1f%%)\n", st.Total, st.Processed, st.Remaining, st.Percent)
	if st.StartedAt != nil {
		fmt.Fprintf(w, "run started: %s\n", st.StartedAt.Format(time.RFC3339))
	}
}

func formatFailures(w io.Writer, failures []model.TaskFailure) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FAILED AT\tTYPE\tKIND\tPAYLOAD\tERROR")
	for _, f := range failures {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			f.FailedAt.Format(time.DateTime), f.Type, f.ErrorKind, string(f.Payload), f.Error)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	queueTickCmd.Flags().Bool("drain", false, "keep ticking until the queue is empty")
	queueFailuresCmd.Flags().Int("limit", 50, "maximum failures to list")
	queueCmd.AddCommand(queueStatusCmd, queueTickCmd, queueFailuresCmd)
	rootCmd.AddCommand(queueCmd)
}
