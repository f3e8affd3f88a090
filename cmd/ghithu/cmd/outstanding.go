package cmd

import (
	"fmt"
	"time"

	"ghithu-reconciliation-service/internal/dashboard"
	"ghithu-reconciliation-service/internal/export"
	"ghithu-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
)

// Flags for the outstanding subcommands
var (
	debtorsOp      string
	debtorsPeriods int
	detailsYear    int
	detailsPage    int
	detailsSize    int
)

// outstandingCmd groups the outstanding debt breakdowns.
var outstandingCmd = &cobra.Command{
	Use:   "outstanding",
	Short: "Break down the open invoices",
	Long: `Outstanding queries the open invoices of the billing system directly.

Examples:
  ghithu outstanding by-year
  ghithu outstanding by-periods -f csv
  ghithu outstanding debtors --op ">=" --periods 3 -f xlsx -o no_3_ky.xlsx
  ghithu outstanding details --year 2024 --page 2 --size 100`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setup(cmd, args); err != nil {
			return err
		}
		return validateOutput()
	},
}

var byYearCmd = &cobra.Command{
	Use:   "by-year",
	Short: "Open invoices and debt per billing year",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOutstanding(cmd, "outstanding-by-year", func(svc *dashboard.Service) (export.Document, error) {
			b, err := svc.OutstandingByYear(cmd.Context())
			if err != nil {
				return export.Document{}, err
			}
			return export.BreakdownDocument("Nợ tồn theo năm", export.SheetByYear, b), nil
		})
	},
}

var byPeriodsCmd = &cobra.Command{
	Use:   "by-periods",
	Short: "Debtors grouped by their number of open periods",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOutstanding(cmd, "outstanding-by-periods", func(svc *dashboard.Service) (export.Document, error) {
			b, err := svc.PeriodCountDistribution(cmd.Context())
			if err != nil {
				return export.Document{}, err
			}
			return export.BreakdownDocument("Nợ tồn theo số kỳ", export.SheetByPeriods, b), nil
		})
	},
}

var debtorsCmd = &cobra.Command{
	Use:   "debtors",
	Short: "Debtors whose open period count satisfies --op --periods",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := dashboard.ParseOperator(debtorsOp); err != nil {
			return err
		}
		if debtorsPeriods < 0 {
			return errors.ValidationError(errors.CodeOutOfRange, "periods", debtorsPeriods, nil)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOutstanding(cmd, "outstanding-debtors", func(svc *dashboard.Service) (export.Document, error) {
			debtors, err := svc.OutstandingByPeriodCount(cmd.Context(), debtorsOp, debtorsPeriods)
			if err != nil {
				return export.Document{}, err
			}
			title := fmt.Sprintf("Khách hàng nợ %s %d kỳ", debtorsOp, debtorsPeriods)
			return export.DebtorsDocument(title, debtors), nil
		})
	},
}

var detailsCmd = &cobra.Command{
	Use:   "details",
	Short: "Page through the open invoices of one year",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if detailsPage < 1 {
			return errors.ValidationError(errors.CodeOutOfRange, "page", detailsPage, nil).
				WithSuggestion("pages are numbered from 1")
		}
		if detailsSize < 1 {
			return errors.ValidationError(errors.CodeOutOfRange, "size", detailsSize, nil)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOutstanding(cmd, "outstanding-details", func(svc *dashboard.Service) (export.Document, error) {
			p, err := svc.OutstandingDetailsByYear(cmd.Context(), detailsYear, detailsPage, detailsSize)
			if err != nil {
				return export.Document{}, err
			}
			return export.PageDocument(fmt.Sprintf("Hóa đơn nợ năm %d", detailsYear), p), nil
		})
	},
}

func init() {
	rootCmd.AddCommand(outstandingCmd)
	outstandingCmd.AddCommand(byYearCmd, byPeriodsCmd, debtorsCmd, detailsCmd)

	debtorsCmd.Flags().StringVar(&debtorsOp, "op", ">=", "comparison: =, >, >=, <, <=")
	debtorsCmd.Flags().IntVar(&debtorsPeriods, "periods", dashboard.DelinquentPeriods, "number of open periods")

	detailsCmd.Flags().IntVar(&detailsYear, "year", time.Now().Year(), "billing year")
	detailsCmd.Flags().IntVar(&detailsPage, "page", 1, "page number, from 1")
	detailsCmd.Flags().IntVar(&detailsSize, "size", 50, "invoices per page")
}

func runOutstanding(cmd *cobra.Command, operation string, build func(*dashboard.Service) (export.Document, error)) error {
	a, err := newApp(cmd.Context(), "outstanding", false)
	if err != nil {
		return err
	}
	defer a.close()

	svc := dashboard.NewService(a.sources, a.exec, a.log)
	var doc export.Document
	err = a.observe(operation, func() error {
		var err error
		doc, err = build(svc)
		return err
	})
	if err != nil {
		return err
	}
	for _, nt := range doc.Tables {
		a.metrics.ObserveTable(nt.Name, nt.Table.Len())
	}
	return a.render(doc)
}
