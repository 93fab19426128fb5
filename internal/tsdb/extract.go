package tsdb

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
)

const (
	fieldColumn = "_field"
	valueColumn = "_value"
)

// Values maps a field name to its numeric value. A missing key means the
// store did not report that field.
type Values map[string]float64

// Ptr returns the value of name, or nil when absent.
func (v Values) Ptr(name string) *float64 {
	if name == "" {
		return nil
	}
	f, ok := v[name]
	if !ok {
		return nil
	}
	return &f
}

// ExtractFields reads (field, value) pairs out of the annotated CSV the store
// returns. Lines starting with '#' are annotations. The header row is found
// by the _field and _value column names, not by position. Rows whose value is
// not numeric are skipped; a body without a header yields an empty result.
func ExtractFields(body string) Values {
	out := Values{}
	fieldIdx, valueIdx := -1, -1

	eachRecord(body, func(rec []string) {
		if f, v, ok := headerIndexes(rec); ok {
			fieldIdx, valueIdx = f, v
			return
		}
		if fieldIdx < 0 || fieldIdx >= len(rec) || valueIdx >= len(rec) {
			return
		}
		name := strings.TrimSpace(rec[fieldIdx])
		val, err := strconv.ParseFloat(strings.TrimSpace(rec[valueIdx]), 64)
		if name == "" || err != nil {
			return
		}
		out[name] = val
	})
	return out
}

// ExtractColumn returns the non-empty values of the named column, in row order.
func ExtractColumn(body, column string) []string {
	var out []string
	idx := -1
	eachRecord(body, func(rec []string) {
		if idx < 0 {
			for i, c := range rec {
				if c == column {
					idx = i
					return
				}
			}
			return
		}
		if idx < len(rec) {
			if v := strings.TrimSpace(rec[idx]); v != "" && v != column {
				out = append(out, v)
			}
		}
	})
	return out
}

// headerIndexes reports whether rec is a header row carrying both columns.
func headerIndexes(rec []string) (field, value int, ok bool) {
	field, value = -1, -1
	for i, c := range rec {
		switch strings.TrimSpace(c) {
		case fieldColumn:
			field = i
		case valueColumn:
			value = i
		}
	}
	return field, value, field >= 0 && value >= 0
}

// eachRecord walks CSV records, skipping annotations, blank lines and rows
// the CSV reader rejects.
func eachRecord(body string, fn func([]string)) {
	r := csv.NewReader(strings.NewReader(body))
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	for {
		rec, err := r.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return
		}
		fn(rec)
	}
}
