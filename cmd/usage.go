package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/places-sync/internal/monitoring"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report API usage against the daily quota",
}

var usageReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show daily and weekly usage rollups",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		day := env.Collector.Today()
		if raw, _ := cmd.Flags().GetString("day"); raw != "" {
			if day, err = time.ParseInLocation(time.DateOnly, raw, env.Location); err != nil {
				return eris.Wrap(err, "usage report: parse --day")
			}
		}

		daily, err := env.Collector.Daily(ctx, day)
		if err != nil {
			return err
		}
		weekly, err := env.Collector.Weekly(ctx, day)
		if err != nil {
			return err
		}
		formatRollup(os.Stdout, "daily", daily, cfg.RateLimit.DailyLimit)
		formatRollup(os.Stdout, "weekly", weekly, 0)

		if check, _ := cmd.Flags().GetBool("alert"); check {
			checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), env.Store, cfg.Monitoring)
			sent, err := checker.Check(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "alerts sent: %d\n", len(sent))
		}
		return nil
	},
}

var usageExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write daily and weekly rollups to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		out, _ := cmd.Flags().GetString("out")
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			return eris.New("usage export: --days must be > 0")
		}

		to := env.Collector.Today()
		from := to.AddDate(0, 0, -(days - 1))

		daily, err := env.Collector.Series(ctx, from, to)
		if err != nil {
			return err
		}
		weekly, err := env.Collector.WeeklySeries(ctx, from, to)
		if err != nil {
			return err
		}
		if err := monitoring.WriteWorkbook(out, daily, weekly); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "wrote %d daily and %d weekly rows to %s\n", len(daily), len(weekly), out)
		return nil
	},
}

func formatRollup(w io.Writer, label string, r *monitoring.Rollup, limit int) {
	fmt.Fprintf(w, "%s %s..%s\n", label, r.From, r.To)
	for _, t := range monitoring.CallTypes(*r) {
		fmt.Fprintf(w, "  api.%-12s %d\n", t, r.APICalls[t])
	}
	if limit > 0 {
		fmt.Fprintf(w, "  api total        %d / %d (%.1f%%)\n", r.APITotal, limit, float64(r.APITotal)*100/float64(limit))
	} else {
		fmt.Fprintf(w, "  api total        %d\n", r.APITotal)
	}
	fmt.Fprintf(w, "  denied           %d\n", r.Denied)
	fmt.Fprintf(w, "  created          %d\n", r.Created)
	fmt.Fprintf(w, "  updated          %d\n", r.Updated)
	if r.CostUSD > 0 {
		fmt.Fprintf(w, "  est. cost        $%.2f\n", r.CostUSD)
	}
}

func init() {
	usageReportCmd.Flags().String("day", "", "report day YYYY-MM-DD (default today)")
	usageReportCmd.Flags().Bool("alert", false, "also evaluate thresholds and send pending alerts")
	usageExportCmd.Flags().String("out", "usage.xlsx", "output workbook path")
	usageExportCmd.Flags().Int("days", 28, "number of days to export, ending today")
	usageCmd.AddCommand(usageReportCmd, usageExportCmd)
	rootCmd.AddCommand(usageCmd)
}
