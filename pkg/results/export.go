package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "results"

// WriteCSV writes a header row of Columns followed by one row per record.
func (s *Set) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	cols := s.Columns()
	if err := cw.Write(cols); err != nil {
		return err
	}
	for _, row := range s.Rows() {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSONL writes one JSON object per record.
func (s *Set) WriteJSONL(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, r := range s.Records {
		if r == nil {
			r = Record{}
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	return nil
}

// WriteXLSX writes the set as a single-sheet workbook.
func (s *Set) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return err
	}

	cols := s.Columns()
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return err
	}

	for i, row := range s.Rows() {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = xlsxValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &cells); err != nil {
			return err
		}
	}

	if len(cols) > 0 {
		if err := f.SetPanes(xlsxSheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

// Save writes the set to path, choosing the format by extension: .csv,
// .jsonl or .xlsx.
func (s *Set) Save(path string) error {
	var write func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		write = s.WriteCSV
	case ".jsonl", ".ndjson":
		write = s.WriteJSONL
	case ".xlsx":
		write = s.WriteXLSX
	default:
		return fmt.Errorf("unsupported output format %q (want .csv, .jsonl or .xlsx)", filepath.Ext(path))
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}

func xlsxValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int64, float64:
		return v
	}
	return formatCell(v)
}
