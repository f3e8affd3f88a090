package sheets

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// GoogleStore talks to one spreadsheet through a service account.
type GoogleStore struct {
	values        *gsheets.SpreadsheetsValuesService
	spreadsheetID string
	locker        Locker
	logger        logger.Logger
}

// NewGoogleStore authenticates with the service-account key file.
func NewGoogleStore(ctx context.Context, config Config, locker Locker, log logger.Logger) (*GoogleStore, error) {
	srv, err := gsheets.NewService(ctx,
		option.WithCredentialsFile(config.CredentialsFile),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, errors.SheetError(errors.CodeConnectionFailed, config.SpreadsheetID, err).
			WithSuggestion("check sheets.credentials_file points at a service-account key")
	}
	return newGoogleStore(srv, config.SpreadsheetID, locker, log), nil
}

func newGoogleStore(srv *gsheets.Service, spreadsheetID string, locker Locker, log logger.Logger) *GoogleStore {
	return &GoogleStore{
		values:        srv.Spreadsheets.Values,
		spreadsheetID: spreadsheetID,
		locker:        lockerOrNone(locker),
		logger:        logger.OrDefault(log).WithComponent("google-sheets"),
	}
}

// FetchWorksheet reads every used cell. The first row is the header;
// blank rows are skipped.
func (s *GoogleStore) FetchWorksheet(ctx context.Context, name string) (*gateway.Table, error) {
	log := s.logger.WithField("worksheet", name)
	log.Info("Reading worksheet")

	resp, err := s.values.Get(s.spreadsheetID, quoteSheet(name)).Context(ctx).Do()
	if err != nil {
		return nil, sheetFailure(name, err)
	}

	table := valuesToTable(resp.Values)
	log.WithField("rows", table.Len()).Info("Worksheet read")
	return table, nil
}

// AppendRows writes rows starting at column B of the first empty row.
func (s *GoogleStore) AppendRows(ctx context.Context, name string, rows *gateway.Table) (int, string) {
	if rows.Empty() {
		s.logger.Warn("Nothing to append")
		return 0, msgNothingToSend
	}
	log := s.logger.WithFields(logger.Fields{"worksheet": name, "rows": rows.Len()})

	release, err := s.locker.Lock(ctx, LockKey(name))
	if err != nil {
		log.WithError(err).Error("Could not lock worksheet")
		return 0, fmt.Sprintf(msgSendFailed, err)
	}
	defer release()

	existing, err := s.values.Get(s.spreadsheetID, quoteSheet(name)).Context(ctx).Do()
	if err != nil {
		err = sheetFailure(name, err)
		log.WithError(err).Error("Could not read worksheet before append")
		return 0, fmt.Sprintf(msgSendFailed, err)
	}

	next := len(existing.Values) + 1
	target := fmt.Sprintf("%s!%s%d", quoteSheet(name), AppendStartColumn, next)
	body := &gsheets.ValueRange{Values: tableToValues(rows)}

	_, err = s.values.Update(s.spreadsheetID, target, body).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		err = errors.SheetError(errors.CodeAppendFailed, name, err)
		log.WithError(err).Error("Append failed")
		return 0, fmt.Sprintf(msgSendFailed, err)
	}

	log.WithField("start_row", next).Info("Rows appended")
	return rows.Len(), fmt.Sprintf(msgSent, rows.Len())
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func sheetFailure(name string, err error) error {
	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "Unable to parse range"),
			apiErr.Code == http.StatusNotFound:
			return errors.SheetError(errors.CodeWorksheetNotFound, name, err)
		case apiErr.Code == http.StatusForbidden:
			return errors.SheetError(errors.CodeConnectionFailed, name, err).
				WithSuggestion("share the spreadsheet with the service-account email")
		}
	}
	return errors.SheetError(errors.CodeConnectionFailed, name, err)
}

// valuesToTable converts the API's row-major cells into a table. Short
// rows are padded; cells beyond the header are dropped.
func valuesToTable(values [][]interface{}) *gateway.Table {
	if len(values) == 0 {
		return gateway.NewTable()
	}

	header := make([]string, len(values[0]))
	for i, cell := range values[0] {
		header[i] = strings.TrimSpace(fmt.Sprint(cell))
	}
	table := gateway.NewTable(header...)

	for _, raw := range values[1:] {
		cells := make([]string, len(raw))
		blank := true
		for i, cell := range raw {
			cells[i] = fmt.Sprint(cell)
			if strings.TrimSpace(cells[i]) != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		table.AppendValues(cells...)
	}
	return table
}

func tableToValues(table *gateway.Table) [][]interface{} {
	out := make([][]interface{}, 0, table.Len())
	for _, row := range table.Rows {
		cells := table.Values(row)
		line := make([]interface{}, len(cells))
		for i, c := range cells {
			line[i] = c
		}
		out = append(out, line)
	}
	return out
}
