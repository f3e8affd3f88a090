package cmd

import (
	"fmt"
	"os"
	"time"

	"ghithu-reconciliation-service/cmd/ghithu/config"
	"ghithu-reconciliation-service/internal/aggregate"
	"ghithu-reconciliation-service/internal/export"
	"ghithu-reconciliation-service/internal/report"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the report command
var (
	reportStart    string
	reportEnd      string
	reportDeadline string
	reportGroup    string
	reportFilter   string
	showProgress   bool

	reportRequest report.Request
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build the weekly collection report",
	Long: `Report reads the assignments handed to the collection groups in a date
window, looks up every assigned invoice in the billing system and
classifies each one as paid, unpaid or locked against the payment
deadline.

The output holds the per-group summary, the daily statistics, the
per-account detail and the completion ratio of every group.

Examples:
  # All groups, one week, console output
  ghithu report --start 02/06/2025 --end 06/06/2025 --deadline 10/06/2025

  # One group as a signed PDF
  ghithu report --start 02/06/2025 --end 06/06/2025 --deadline 10/06/2025 \
    --group "Sang Sơn" --format pdf --output tuan23.pdf

  # Only the unpaid accounts, as a workbook
  ghithu report --start 02/06/2025 --end 02/06/2025 --deadline 05/06/2025 \
    --filter unpaid --format xlsx --output chua_thu.xlsx`,

	PreRunE: validateReportFlags,
	RunE:    runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportStart, "start", "", "first assignment day, dd/mm/yyyy (required)")
	reportCmd.Flags().StringVar(&reportEnd, "end", "", "last assignment day, dd/mm/yyyy (required)")
	reportCmd.Flags().StringVar(&reportDeadline, "deadline", "", "payment deadline, dd/mm/yyyy (required)")
	reportCmd.Flags().StringVarP(&reportGroup, "group", "g", report.AllGroups, "collection group, or "+report.AllGroups)
	reportCmd.Flags().StringVar(&reportFilter, "filter", "all", "detail filter: all, paid, unpaid, locked")
	reportCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")

	reportCmd.MarkFlagRequired("start")
	reportCmd.MarkFlagRequired("end")
	reportCmd.MarkFlagRequired("deadline")

	viper.BindPFlag("report.group", reportCmd.Flags().Lookup("group"))
	viper.BindPFlag("report.filter", reportCmd.Flags().Lookup("filter"))
}

func validateReportFlags(cmd *cobra.Command, args []string) error {
	start, err := config.ParseDay("start", reportStart)
	if err != nil {
		return err
	}
	end, err := config.ParseDay("end", reportEnd)
	if err != nil {
		return err
	}
	deadline, err := config.ParseDay("deadline", reportDeadline)
	if err != nil {
		return err
	}
	filter, err := aggregate.ParseStatusFilter(viper.GetString("report.filter"))
	if err != nil {
		return err
	}

	reportRequest = report.Request{
		Start:    start,
		End:      end,
		Deadline: deadline,
		Group:    viper.GetString("report.group"),
		Filter:   filter,
	}
	if err := reportRequest.Validate(); err != nil {
		return err
	}
	return validateOutput()
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, "report", true)
	if err != nil {
		return err
	}
	defer a.close()

	runner := report.NewRunner(a.sources, a.log).WithRecorder(a.metrics)
	if showProgress {
		runner.AddProgressCallback(func(p *report.Progress) {
			fmt.Fprintf(os.Stderr, "\r[%d/%d] %s (%.1f%% complete)",
				p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.PercentComplete)
		})
	}

	result, err := runner.Run(ctx, reportRequest)
	if showProgress {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	if err := a.render(export.ReportDocument(result)); err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		printReportSummary(result)
	}
	return nil
}

func printReportSummary(r *report.Result) {
	if r.Empty {
		fmt.Fprintf(os.Stderr, "\n%s\n", r.Message)
		return
	}
	fmt.Fprintf(os.Stderr, "\nReport completed.\n")
	t := r.Summary.Total
	fmt.Fprintf(os.Stderr, "Accounts: %d assigned, %d paid, %d locked (%s complete).\n",
		t.Count, t.Paid, t.Locked, t.Completion())
	if n := len(r.Warnings); n > 0 {
		fmt.Fprintf(os.Stderr, "Skipped %d malformed ledger rows.\n", n)
	}
	fmt.Fprintf(os.Stderr, "Processing time: %v\n", r.Elapsed.Round(time.Millisecond))
}
