package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/vHozang/CheckLink/internal/storage"
)

var header = []string{"url", "final_url", "http_status", "classification", "title", "error", "updated_at"}

// WriteCSV emits the rows as CSV, prefixed with a UTF-8 BOM so spreadsheet
// software detects the encoding.
func WriteCSV(w io.Writer, rows []storage.CheckRow) error {
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(record(row)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteJSON emits the rows as an indented JSON array.
func WriteJSON(w io.Writer, rows []storage.CheckRow) error {
	if rows == nil {
		rows = []storage.CheckRow{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// WriteXLSX emits the rows as a single-sheet workbook.
func WriteXLSX(w io.Writer, rows []storage.CheckRow) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Checks"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &cells); err != nil {
		return err
	}

	for i, row := range rows {
		rec := record(row)
		cells := make([]any, len(rec))
		for j, v := range rec {
			cells[j] = v
		}
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, axis, &cells); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func record(row storage.CheckRow) []string {
	status := ""
	if row.HTTPStatus != 0 {
		status = strconv.Itoa(row.HTTPStatus)
	}
	updated := ""
	if !row.UpdatedAt.IsZero() {
		updated = row.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		row.URL,
		row.FinalURL,
		status,
		row.Classification,
		row.Title,
		strings.ReplaceAll(row.Error, "\n", " "),
		updated,
	}
}

// Filename suggests a download name for the given format.
func Filename(format string) string {
	return fmt.Sprintf("storefront-checks.%s", format)
}
