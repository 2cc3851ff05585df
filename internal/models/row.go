package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// TagTemplate tags combined-view rows that come from a request's initial rows
// rather than from a department submission.
const TagTemplate = "Template/Initial"

// TagKey is the reserved key carrying the tag of a combined-view row on the wire.
const TagKey = "__department"

// Row is a flat mapping from column name to cell text.
// Keys outside the request's columns are tolerated and preserved.
type Row map[string]string

// Cell is a single named value, used when a row is rendered in schema order.
type Cell struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// IsBlank reports whether every value in the row is empty or whitespace.
func (r Row) IsBlank() bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Clone returns a copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Ordered returns the cells of the row following columns, then any drift
// keys in lexical order. Columns missing from the row yield empty cells.
func (r Row) Ordered(columns []string) []Cell {
	cells := make([]Cell, 0, len(columns))
	for _, c := range columns {
		cells = append(cells, Cell{Column: c, Value: r[c]})
	}
	for _, k := range r.Drift(columns) {
		cells = append(cells, Cell{Column: k, Value: r[k]})
	}
	return cells
}

// Drift returns keys present in the row but not in columns, sorted.
func (r Row) Drift(columns []string) []string {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	var drift []string
	for k := range r {
		if !known[k] {
			drift = append(drift, k)
		}
	}
	sort.Strings(drift)
	return drift
}

// CloneRows deep-copies a slice of rows.
func CloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// TaggedRow is a combined-view row labelled with its originating department
// or TagTemplate.
type TaggedRow struct {
	Department string
	Row        Row
}

// MarshalJSON flattens the row and adds the tag under TagKey.
func (t TaggedRow) MarshalJSON() ([]byte, error) {
	flat := make(map[string]string, len(t.Row)+1)
	for k, v := range t.Row {
		flat[k] = v
	}
	flat[TagKey] = t.Department
	return json.Marshal(flat)
}

// UnmarshalJSON reads a flat row object and splits out the tag.
func (t *TaggedRow) UnmarshalJSON(data []byte) error {
	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	t.Department = flat[TagKey]
	delete(flat, TagKey)
	if flat == nil {
		flat = Row{}
	}
	t.Row = flat
	return nil
}
