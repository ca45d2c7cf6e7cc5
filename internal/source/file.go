package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/abhisek/bktrace/internal/attempt"
)

// JSONFile reads a JSON array of attempt objects, or one object per line
// when Lines is set. Numbers are kept as json.Number so large epoch
// timestamps survive intact.
type JSONFile struct {
	Path  string
	Lines bool
}

func (s *JSONFile) Load(ctx context.Context) ([]attempt.Raw, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	if s.Lines {
		return decodeLines(ctx, data)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rows []attempt.Raw
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return rows, nil
}

func decodeLines(ctx context.Context, data []byte) ([]attempt.Raw, error) {
	var rows []attempt.Raw
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var row attempt.Raw
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// CSVFile reads a CSV file whose header row names the fields.
type CSVFile struct {
	Path string
}

func (s *CSVFile) Load(_ context.Context) ([]attempt.Raw, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return tabular(records[0], records[1:]), nil
}

// XLSXFile reads one sheet of an Excel workbook whose first row names the
// fields. An empty Sheet reads the first sheet.
type XLSXFile struct {
	Path  string
	Sheet string
}

func (s *XLSXFile) Load(_ context.Context) ([]attempt.Raw, error) {
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := s.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return tabular(rows[0], rows[1:]), nil
}
