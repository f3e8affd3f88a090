package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ghithu-reconciliation-service/cmd/ghithu/config"
	"ghithu-reconciliation-service/internal/debtfilter"
	"ghithu-reconciliation-service/internal/export"
	"ghithu-reconciliation-service/internal/report"
	"ghithu-reconciliation-service/internal/sheets"
	"ghithu-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the filter command
var (
	filterYear         int
	filterPeriod       int
	filterDots         []int
	filterMinPeriods   int
	filterMinAmount    string
	filterExcludeCodes []string
	filterLimit        int
	filterSend         bool
	filterGroup        string
	filterAssignDate   string

	filterParams debtfilter.Params
	assignDay    time.Time
)

// filterCmd represents the filter command
var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Extract overdue debt for new assignments",
	Long: `Filter lists the accounts with open invoices for a billing period,
drops invoices already settled through the payment gateway or excluded
by reading code, groups what remains per account and keeps the accounts
owing at least --min-periods periods or --min-amount dong. Accounts
locked in the ledger are left out.

With --send the result is appended to the assignment worksheet for
--group.

Examples:
  # Accounts of batches 1 and 2 owing two periods or 200.000 đ
  ghithu filter --year 2025 --period 6 --dots 1,2 --min-periods 2 --min-amount 200000

  # Top 50, excluding vacant and demolished premises, as CSV
  ghithu filter --year 2025 --period 6 --exclude-codes K,N --limit 50 -f csv -o loc.csv

  # Hand the list to a group
  ghithu filter --year 2025 --period 6 --min-periods 3 --send --group "Sang Sơn" --assign-date 09/06/2025`,

	PreRunE: validateFilterFlags,
	RunE:    runFilter,
}

func init() {
	rootCmd.AddCommand(filterCmd)

	now := time.Now()
	filterCmd.Flags().IntVar(&filterYear, "year", now.Year(), "billing year")
	filterCmd.Flags().IntVar(&filterPeriod, "period", int(now.Month()), "billing period, 1-12")
	filterCmd.Flags().IntSliceVar(&filterDots, "dots", nil, "reading batches to include (default: all)")
	filterCmd.Flags().IntVar(&filterMinPeriods, "min-periods", 0, "minimum number of unpaid periods")
	filterCmd.Flags().StringVar(&filterMinAmount, "min-amount", "0", "minimum total debt in dong")
	filterCmd.Flags().StringSliceVar(&filterExcludeCodes, "exclude-codes", nil, "reading codes to exclude, e.g. K,N")
	filterCmd.Flags().IntVar(&filterLimit, "limit", 0, "keep the largest N debtors (0: all)")
	filterCmd.Flags().BoolVar(&filterSend, "send", false, "append the result to the assignment worksheet")
	filterCmd.Flags().StringVarP(&filterGroup, "group", "g", "", "collection group receiving the assignment")
	filterCmd.Flags().StringVar(&filterAssignDate, "assign-date", "", "assignment day, dd/mm/yyyy (default: today)")

	viper.BindPFlag("filter.min_periods", filterCmd.Flags().Lookup("min-periods"))
	viper.BindPFlag("filter.min_amount", filterCmd.Flags().Lookup("min-amount"))
	viper.BindPFlag("filter.exclude_codes", filterCmd.Flags().Lookup("exclude-codes"))
}

func validateFilterFlags(cmd *cobra.Command, args []string) error {
	minAmount, err := decimal.NewFromString(strings.TrimSpace(viper.GetString("filter.min_amount")))
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidData, "min-amount", filterMinAmount, err).
			WithSuggestion("give the amount in dong without separators, e.g. 200000")
	}

	filterParams = debtfilter.Params{
		Year:         filterYear,
		Period:       filterPeriod,
		Dots:         filterDots,
		MinPeriods:   viper.GetInt("filter.min_periods"),
		MinAmount:    minAmount,
		ExcludeCodes: viper.GetStringSlice("filter.exclude_codes"),
		Limit:        filterLimit,
	}
	if err := filterParams.Validate(); err != nil {
		return err
	}

	if filterSend {
		group := strings.TrimSpace(filterGroup)
		if group == "" || group == report.AllGroups {
			return errors.ValidationError(errors.CodeMissingField, "group", filterGroup, nil).
				WithSuggestion("--send needs the --group receiving the assignment")
		}
		assignDay = time.Now()
		if filterAssignDate != "" {
			if assignDay, err = config.ParseDay("assign-date", filterAssignDate); err != nil {
				return err
			}
		}
	}
	return validateOutput()
}

func runFilter(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, "filter", true)
	if err != nil {
		return err
	}
	defer a.close()

	var result *debtfilter.Result
	err = a.observe("filter", func() error {
		var err error
		result, err = debtfilter.NewPipeline(a.sources, a.log).Run(ctx, filterParams)
		return err
	})
	if err != nil {
		return err
	}
	a.metrics.ObserveTable(export.SheetFilter, len(result.Records))

	if err := a.render(export.FilterDocument(result)); err != nil {
		return err
	}

	if filterSend && !result.Empty {
		n, msg := debtfilter.NewAssigner(a.ledger, a.log).Send(ctx, result.Records, filterGroup, assignDay)
		fmt.Fprintln(os.Stderr, msg)
		if n == 0 {
			return errors.New(errors.CategorySheet, errors.CodeAppendFailed, msg).
				WithContext("worksheet", sheets.AssignmentSheet)
		}
	}

	if viper.GetBool("verbose") {
		s := result.Stats
		fmt.Fprintf(os.Stderr, "\nOpen invoices: %d, excluded by code: %d, settled online: %d.\n",
			s.OpenInvoices, s.ExcludedByCode, s.ExcludedSettled)
		fmt.Fprintf(os.Stderr, "Accounts: %d grouped, %d below threshold, %d locked in the ledger, %d returned.\n",
			s.Groups, s.BelowThreshold, s.ExcludedByLedger, s.Returned)
	}
	return nil
}
