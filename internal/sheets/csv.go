package sheets

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/parsers"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"
)

// CSVStore serves worksheets from <dir>/<name>.csv exports.
type CSVStore struct {
	dir    string
	parser *parsers.WorksheetParser
	locker Locker
	logger logger.Logger
}

// NewCSVStore reads and appends exports under dir.
func NewCSVStore(dir string, locker Locker, log logger.Logger) *CSVStore {
	return &CSVStore{
		dir:    dir,
		parser: parsers.NewWorksheetParser(nil, log),
		locker: lockerOrNone(locker),
		logger: logger.OrDefault(log).WithComponent("csv-sheets"),
	}
}

// Path returns the export file backing a worksheet.
func (s *CSVStore) Path(name string) string {
	return filepath.Join(s.dir, name+".csv")
}

func (s *CSVStore) FetchWorksheet(ctx context.Context, name string) (*gateway.Table, error) {
	f, err := os.Open(s.Path(name))
	if os.IsNotExist(err) {
		return nil, errors.SheetError(errors.CodeWorksheetNotFound, name, err).
			WithSuggestion(fmt.Sprintf("export the worksheet to %s", s.Path(name)))
	}
	if err != nil {
		return nil, errors.SheetError(errors.CodeConnectionFailed, name, err)
	}
	defer f.Close()

	table, stats, err := s.parser.ReadTable(ctx, f, s.Path(name))
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logger.Fields{"worksheet": name, "rows": stats.RecordsParsed}).Info("Worksheet export read")
	return table, nil
}

// AppendRows appends to the export. Each row gets an empty leading cell
// so the columns line up with a worksheet filled from column B.
func (s *CSVStore) AppendRows(ctx context.Context, name string, rows *gateway.Table) (int, string) {
	if rows.Empty() {
		return 0, msgNothingToSend
	}
	log := s.logger.WithFields(logger.Fields{"worksheet": name, "rows": rows.Len()})

	release, err := s.locker.Lock(ctx, LockKey(name))
	if err != nil {
		log.WithError(err).Error("Could not lock worksheet")
		return 0, fmt.Sprintf(msgSendFailed, err)
	}
	defer release()

	_, statErr := os.Stat(s.Path(name))
	fresh := os.IsNotExist(statErr)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Sprintf(msgSendFailed, errors.SheetError(errors.CodeAppendFailed, name, err))
	}
	f, err := os.OpenFile(s.Path(name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		err = errors.SheetError(errors.CodeAppendFailed, name, err)
		log.WithError(err).Error("Append failed")
		return 0, fmt.Sprintf(msgSendFailed, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		w.Write(append([]string{""}, rows.Columns...))
	}
	for _, row := range rows.Rows {
		w.Write(append([]string{""}, rows.Values(row)...))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		err = errors.SheetError(errors.CodeAppendFailed, name, err)
		log.WithError(err).Error("Append failed")
		return 0, fmt.Sprintf(msgSendFailed, err)
	}

	log.Info("Rows appended to export")
	return rows.Len(), fmt.Sprintf(msgSent, rows.Len())
}
