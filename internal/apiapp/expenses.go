package apiapp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

const maxImportRows = 100000

var spentOnLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-06",
	"1/2/06",
	"2006/01/02",
	time.RFC3339,
}

func readRowsFromSpreadsheet(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, err
		}
		if workbook.NumSheets() == 0 {
			return nil, errors.New("no worksheet found")
		}
		rows := workbook.ReadAllCells(maxImportRows)
		if len(rows) == 0 {
			return nil, errors.New("worksheet is empty")
		}
		return rows, nil
	case ".xlsx":
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, errors.New("no worksheet found")
		}
		rows, err := file.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, errors.New("worksheet is empty")
		}
		return rows, nil
	default:
		return nil, errors.New("spreadsheet must be .xls or .xlsx")
	}
}

// expensesFromRows maps a header row plus data rows onto expense lines.
// Blank rows are skipped; any other malformed row fails the whole import.
func expensesFromRows(rows [][]string) ([]expense, error) {
	if len(rows) == 0 {
		return nil, errors.New("worksheet is empty")
	}
	descIdx, amountIdx, dateIdx := -1, -1, -1
	for i, h := range rows[0] {
		switch normalizeHeader(h) {
		case "description", "descripcion", "concept", "concepto":
			descIdx = i
		case "amount", "monto", "importe", "total":
			amountIdx = i
		case "date", "fecha", "spent on", "spent_on":
			dateIdx = i
		}
	}
	if descIdx < 0 || amountIdx < 0 || dateIdx < 0 {
		return nil, errors.New("header row must contain description, amount and date")
	}

	out := make([]expense, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		desc := cellValue(row, descIdx)
		amountRaw := cellValue(row, amountIdx)
		dateRaw := cellValue(row, dateIdx)
		if desc == "" && amountRaw == "" && dateRaw == "" {
			continue
		}
		if desc == "" {
			return nil, fmt.Errorf("row %d: description is required", line)
		}
		cents, err := parseAmountCents(amountRaw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		spentOn, err := parseSpentOn(dateRaw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		out = append(out, expense{Description: desc, AmountCents: cents, SpentOn: spentOn})
	}
	if len(out) == 0 {
		return nil, errors.New("no expense rows found")
	}
	return out, nil
}

func parseAmountCents(raw string) (int64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, errors.New("amount is required")
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("amount %q must not be negative", raw)
	}
	return int64(math.Round(value * 100)), nil
}

func parseSpentOn(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", errors.New("date is required")
	}
	for _, layout := range spentOnLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	// unformatted workbook cells come through as Excel serial numbers
	if serial, err := strconv.ParseFloat(value, 64); err == nil && serial > 0 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("invalid date %q", raw)
}

func normalizeHeader(header string) string {
	return strings.ToLower(strings.TrimSpace(header))
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
