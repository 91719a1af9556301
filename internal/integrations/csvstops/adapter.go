// Package csvstops reads stop lists exported as CSV.
//
// Columns are digipin, priority, window_start, window_end. A header row may
// name them in any order; without one they are read positionally. Missing
// windows default to the whole day.
package csvstops

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"digipin/internal/integrations"
	"digipin/internal/routing"
)

const name = "csv"

// MaxRows caps a single upload.
const MaxRows = 5000

var columns = []string{"digipin", "priority", "window_start", "window_end"}

type Adapter struct{}

var _ integrations.StopSource = Adapter{}

func (Adapter) Name() string { return name }

func (Adapter) ContentTypes() []string { return []string{"text/csv", "application/csv", "text/plain"} }

func (Adapter) Parse(r io.Reader) ([]routing.RouteLocation, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	idx := map[string]int{"digipin": 0, "priority": 1, "window_start": 2, "window_end": 3}
	var out []routing.RouteLocation
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return nil, &integrations.ParseError{Source: name, Line: line, Reason: err.Error()}
		}
		line, _ := cr.FieldPos(0)
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(rec[0]), "digipin") || isHeader(rec) {
				if idx, err = headerIndex(rec, line); err != nil {
					return nil, err
				}
				continue
			}
		}
		if len(out) >= MaxRows {
			return nil, &integrations.ParseError{Source: name, Line: line, Reason: fmt.Sprintf("more than %d rows", MaxRows)}
		}
		loc, err := parseRow(rec, idx, line)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	if len(out) == 0 {
		return nil, &integrations.ParseError{Source: name, Line: 1, Reason: "no stops"}
	}
	return out, nil
}

func isHeader(rec []string) bool {
	for _, f := range rec {
		for _, c := range columns {
			if strings.EqualFold(strings.TrimSpace(f), c) {
				return true
			}
		}
	}
	return false
}

func headerIndex(rec []string, line int) (map[string]int, error) {
	idx := map[string]int{}
	for i, f := range rec {
		idx[strings.ToLower(strings.TrimSpace(f))] = i
	}
	for _, c := range columns[:2] {
		if _, ok := idx[c]; !ok {
			return nil, &integrations.ParseError{Source: name, Line: line, Field: c, Reason: "missing column"}
		}
	}
	return idx, nil
}

func parseRow(rec []string, idx map[string]int, line int) (routing.RouteLocation, error) {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	bad := func(col, reason string) error {
		return &integrations.ParseError{Source: name, Line: line, Field: col, Reason: reason}
	}

	loc := routing.RouteLocation{Code: get("digipin"), TimeWindow: routing.TimeWindow{Start: 0, End: 9999}}
	if loc.Code == "" {
		return loc, bad("digipin", "required")
	}
	p, err := strconv.Atoi(get("priority"))
	if err != nil || p < 1 || p > 3 {
		return loc, bad("priority", fmt.Sprintf("want 1, 2 or 3, got %q", get("priority")))
	}
	loc.Priority = p

	if v := get("window_start"); v != "" {
		if loc.TimeWindow.Start, err = strconv.Atoi(v); err != nil {
			return loc, bad("window_start", "not an integer")
		}
	}
	if v := get("window_end"); v != "" {
		if loc.TimeWindow.End, err = strconv.Atoi(v); err != nil {
			return loc, bad("window_end", "not an integer")
		}
	}
	if loc.TimeWindow.Start > loc.TimeWindow.End {
		return loc, bad("window_start", "after window_end")
	}
	return loc, nil
}
