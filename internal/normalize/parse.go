package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Parse decodes an upload by file extension. Anything that is not .xlsx is
// treated as JSON.
func Parse(name string, data []byte) ([]RawRecord, error) {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return ParseXLSX(data)
	}
	return ParseJSON(data)
}

// ParseJSON decodes a JSON array of raw records.
func ParseJSON(data []byte) ([]RawRecord, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	list, ok := doc.([]any)
	if !ok || len(list) == 0 {
		return nil, ErrEmptyOrNotAList
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := make([]RawRecord, len(elems))
	for i, elem := range elems {
		if err := json.Unmarshal(elem, &out[i]); err != nil {
			return nil, &InvalidRecordError{Index: i, Err: err}
		}
	}
	return out, nil
}

// ParseXLSX reads the first sheet of a workbook. The first row names the
// columns (DNI, categoria, partido, region, mesa, candidato, any case); blank
// rows are skipped and blank cells count as absent.
func ParseXLSX(data []byte) ([]RawRecord, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyOrNotAList
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(rows) < 2 {
		return nil, ErrEmptyOrNotAList
	}
	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var out []RawRecord
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		index := len(out)
		rec := RawRecord{
			DNI:       cell(row, cols, "dni"),
			Categoria: cell(row, cols, "categoria"),
			Partido:   cell(row, cols, "partido"),
			Region:    cell(row, cols, "region"),
			Candidato: cell(row, cols, "candidato"),
		}
		if mesa := cell(row, cols, "mesa"); mesa != nil {
			n, err := ParseMesa(*mesa)
			if err != nil {
				return nil, &InvalidRecordError{Index: index, Field: "mesa", Err: err}
			}
			rec.Mesa = &n
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, ErrEmptyOrNotAList
	}
	return out, nil
}

func cell(row []string, cols map[string]int, name string) *string {
	i, ok := cols[name]
	if !ok || i >= len(row) || row[i] == "" {
		return nil
	}
	v := row[i]
	return &v
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
