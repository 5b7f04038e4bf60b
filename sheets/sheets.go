// Package sheets implements the tabular store: a Google Sheets range, or a
// local CSV file per sheet.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/jessdabre/gmail-to-sheets/model"
	"github.com/jessdabre/gmail-to-sheets/provider"
)

const (
	ProviderName = "sheets"

	valueInputRaw  = "RAW"
	insertDataRows = "INSERT_ROWS"
)

// Store appends rows through the Sheets values API. One AppendRows call is
// one values.append request, which Sheets applies atomically.
type Store struct {
	svc    *sheetsapi.Service
	logger *slog.Logger
}

func New(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*Store, error) {
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, provider.NewError(ProviderName, provider.KindInvalid, "new service", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{svc: svc, logger: logger}, nil
}

func (s *Store) AppendRows(ctx context.Context, target model.Target, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	if err := validTarget(target); err != nil {
		return err
	}

	rng := DataRange(target.Sheet)
	resp, err := s.svc.Spreadsheets.Values.Append(target.SpreadsheetID, rng, &sheetsapi.ValueRange{
		MajorDimension: "ROWS",
		Values:         toValues(rows),
	}).
		ValueInputOption(valueInputRaw).
		InsertDataOption(insertDataRows).
		Context(ctx).
		Do()
	if err != nil {
		return provider.FromGoogleAPI(ProviderName, "append "+rng, err)
	}

	if resp.Updates != nil {
		s.logger.Debug("sheet rows appended", "range", resp.Updates.UpdatedRange, "rows", resp.Updates.UpdatedRows, "cells", resp.Updates.UpdatedCells)
	}
	return nil
}

// WriteHeader writes model.Columns into the first row of the sheet.
func (s *Store) WriteHeader(ctx context.Context, target model.Target) error {
	if err := validTarget(target); err != nil {
		return err
	}

	rng := HeaderRange(target.Sheet)
	_, err := s.svc.Spreadsheets.Values.Update(target.SpreadsheetID, rng, &sheetsapi.ValueRange{
		MajorDimension: "ROWS",
		Values:         toValues([][]string{model.Columns}),
	}).
		ValueInputOption(valueInputRaw).
		Context(ctx).
		Do()
	if err != nil {
		return provider.FromGoogleAPI(ProviderName, "update "+rng, err)
	}

	s.logger.Info("sheet header written", "spreadsheet", target.SpreadsheetID, "range", rng)
	return nil
}

// DataRange is the A:D range of sheet in A1 notation.
func DataRange(sheet string) string {
	return quoteSheet(sheet) + "!A:D"
}

// HeaderRange is the A1:D1 range of sheet in A1 notation.
func HeaderRange(sheet string) string {
	return quoteSheet(sheet) + "!A1:D1"
}

func quoteSheet(sheet string) string {
	plain := sheet != ""
	for _, r := range sheet {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			plain = false
			break
		}
	}
	if plain {
		return sheet
	}
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

func toValues(rows [][]string) [][]interface{} {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, cell := range row {
			cells[j] = cell
		}
		values[i] = cells
	}
	return values
}

func validTarget(target model.Target) error {
	if strings.TrimSpace(target.SpreadsheetID) == "" {
		return provider.NewError(ProviderName, provider.KindInvalid, "target", fmt.Errorf("spreadsheet id is empty"))
	}
	if strings.TrimSpace(target.Sheet) == "" {
		return provider.NewError(ProviderName, provider.KindInvalid, "target", fmt.Errorf("sheet name is empty"))
	}
	return nil
}
