package cmd

import (
	"ghithu-reconciliation-service/internal/dashboard"
	"ghithu-reconciliation-service/internal/export"

	"github.com/spf13/cobra"
)

var withBreakdowns bool

// dashboardCmd represents the dashboard command
var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the outstanding debt overview",
	Long: `Dashboard computes the debt KPIs over every invoice still open in the
billing system and not yet paid through the payment gateway: total debt,
debtors, debtors three or more periods behind, debt per tariff group and
the monthly series since the start of last year.

With --breakdowns the per-year and per-period-count tables are added.

Examples:
  ghithu dashboard
  ghithu dashboard --breakdowns -f xlsx -o tong_quan.xlsx`,

	PreRunE: func(cmd *cobra.Command, args []string) error { return validateOutput() },
	RunE:    runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	dashboardCmd.Flags().BoolVar(&withBreakdowns, "breakdowns", false, "add the per-year and per-period-count tables")
}

func runDashboard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, "dashboard", false)
	if err != nil {
		return err
	}
	defer a.close()

	svc := dashboard.NewService(a.sources, a.exec, a.log)

	var doc export.Document
	err = a.observe("dashboard", func() error {
		ov, err := svc.Overview(ctx)
		if err != nil {
			return err
		}
		doc = export.OverviewDocument(ov)
		if !withBreakdowns || ov.Empty {
			return nil
		}

		byYear, err := svc.OutstandingByYear(ctx)
		if err != nil {
			return err
		}
		byPeriods, err := svc.PeriodCountDistribution(ctx)
		if err != nil {
			return err
		}
		doc.Tables = append(doc.Tables,
			export.BreakdownDocument("", export.SheetByYear, byYear).Tables[0],
			export.BreakdownDocument("", export.SheetByPeriods, byPeriods).Tables[0],
		)
		doc.Value = map[string]any{
			"overview":        ov,
			"by_year":         byYear,
			"by_period_count": byPeriods,
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, nt := range doc.Tables {
		a.metrics.ObserveTable(nt.Name, nt.Table.Len())
	}
	return a.render(doc)
}
