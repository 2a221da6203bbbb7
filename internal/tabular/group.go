package tabular

import (
	"errors"
	"fmt"
)

// ErrMissingColumn means the grouping column does not exist in the table.
var ErrMissingColumn = errors.New("grouping column not found")

// Group is one output partition: a canonical key and the member rows,
// restricted to the selected columns.
type Group struct {
	Key     string
	Columns []string
	Rows    []Row
}

// GroupBy partitions t's rows by the value of column. When dateColumn is
// true, values convert to instants and bucket by calendar date in
// DD/MM/YYYY form; rows whose value fails conversion are excluded. For
// other columns grouping is by exact stringified equality and rows with a
// null or missing value are excluded. Groups appear in order of first
// appearance. Each group's rows retain only selected columns (intersected
// with columns present in t), in the caller-specified order.
func GroupBy(t Table, column string, selected []string, dateColumn bool) ([]Group, error) {
	if !hasColumn(t, column) {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, column)
	}

	keep := projectColumns(t, selected)

	var groups []Group
	index := make(map[string]int)
	for _, row := range t.Rows {
		key, ok := groupKey(row[column], dateColumn)
		if !ok {
			continue
		}
		i, exists := index[key]
		if !exists {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key, Columns: keep})
		}
		groups[i].Rows = append(groups[i].Rows, project(row, keep))
	}
	return groups, nil
}

// CountGroups returns the number of distinct group keys GroupBy would
// produce, without materializing the partitions.
func CountGroups(t Table, column string, dateColumn bool) (int, error) {
	if !hasColumn(t, column) {
		return 0, fmt.Errorf("%w: %q", ErrMissingColumn, column)
	}
	seen := make(map[string]bool)
	for _, row := range t.Rows {
		key, ok := groupKey(row[column], dateColumn)
		if !ok {
			continue
		}
		seen[key] = true
	}
	return len(seen), nil
}

func groupKey(v Value, dateColumn bool) (string, bool) {
	if dateColumn {
		t, ok := Instant(v)
		if !ok {
			return "", false
		}
		return FormatDate(t), true
	}
	if v.IsNull() {
		return "", false
	}
	return v.String(), true
}

func hasColumn(t Table, column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// projectColumns keeps the caller's order, dropping names absent from t.
// An empty selection keeps every table column.
func projectColumns(t Table, selected []string) []string {
	if len(selected) == 0 {
		return append([]string(nil), t.Columns...)
	}
	out := make([]string, 0, len(selected))
	for _, c := range selected {
		if hasColumn(t, c) {
			out = append(out, c)
		}
	}
	return out
}

func project(row Row, columns []string) Row {
	out := make(Row, len(columns))
	for _, c := range columns {
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	return out
}
