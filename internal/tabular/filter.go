package tabular

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/srfd-tools/gristpdf/pkg/telemetry"
)

// Operator names one filter comparison.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Predicate is one filter condition. A predicate with an empty value is a
// no-op: it never excludes rows.
type Predicate struct {
	Column   string   `json:"column"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// Mode combines predicates.
type Mode string

const (
	ModeAnd Mode = "and"
	ModeOr  Mode = "or"
)

// FilterSpec is a set of predicates plus their combination mode.
type FilterSpec struct {
	Mode       Mode        `json:"mode"`
	Predicates []Predicate `json:"filters"`
}

// Empty reports whether the spec filters nothing.
func (s FilterSpec) Empty() bool {
	return len(s.Predicates) == 0
}

// UnmarshalJSON accepts both the current payload shape
// {"mode":"and","filters":[...]} and the legacy bare predicate list
// [...], which implies AND. Parsing the shape once here keeps format
// sniffing out of the evaluator.
func (s *FilterSpec) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		var preds []Predicate
		if err := json.Unmarshal(b, &preds); err != nil {
			return err
		}
		s.Mode = ModeAnd
		s.Predicates = preds
		return nil
	}
	type alias FilterSpec
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*s = FilterSpec(a)
	if s.Mode == "" {
		s.Mode = ModeAnd
	}
	return nil
}

// Evaluator applies filter specifications to tables. types carries the
// declared column types (nil means every column is treated as text).
type Evaluator struct {
	types map[string]ColumnType
	log   *telemetry.Logger
}

func NewEvaluator(types map[string]ColumnType, log *telemetry.Logger) *Evaluator {
	if log == nil {
		log = telemetry.Nop
	}
	return &Evaluator{types: types, log: log}
}

// Evaluate returns the subset of t's rows satisfying spec. One bad
// predicate never aborts the whole evaluation: in AND mode it degrades to
// selecting everything, in OR mode it contributes nothing to the union.
func (e *Evaluator) Evaluate(t Table, spec FilterSpec) Table {
	if spec.Empty() || len(t.Rows) == 0 {
		return t
	}
	switch spec.Mode {
	case ModeOr:
		return e.evaluateOr(t, spec.Predicates)
	case ModeAnd:
		return e.evaluateAnd(t, spec.Predicates)
	default:
		e.log.Warn("unknown filter mode, falling back to and", map[string]any{"mode": string(spec.Mode)})
		return e.evaluateAnd(t, spec.Predicates)
	}
}

// evaluateAnd narrows the row set predicate by predicate, in order.
func (e *Evaluator) evaluateAnd(t Table, preds []Predicate) Table {
	rows := t.Rows
	for _, p := range preds {
		if e.skip(p, t) {
			continue
		}
		mask, err := e.mask(rows, p)
		if err != nil {
			e.log.Warn("filter predicate degraded, keeping all rows", map[string]any{
				"column": p.Column, "operator": string(p.Operator), "err": err,
			})
			continue
		}
		kept := rows[:0:0]
		for i, ok := range mask {
			if ok {
				kept = append(kept, rows[i])
			}
		}
		rows = kept
	}
	return Table{Columns: t.Columns, Rows: rows}
}

// evaluateOr evaluates every predicate independently against the original
// rows and unions the matches, preserving original row order. This is
// deliberately NOT a sequential fold: "match any of these conditions"
// means each predicate sees the unfiltered table.
func (e *Evaluator) evaluateOr(t Table, preds []Predicate) Table {
	matched := make([]bool, len(t.Rows))
	resolved := false
	for _, p := range preds {
		if e.skip(p, t) {
			continue
		}
		mask, err := e.mask(t.Rows, p)
		if err != nil {
			e.log.Warn("filter predicate degraded, contributing nothing", map[string]any{
				"column": p.Column, "operator": string(p.Operator), "err": err,
			})
			continue
		}
		resolved = true
		for i, ok := range mask {
			if ok {
				matched[i] = true
			}
		}
	}
	// No predicate resolved at all: nothing constrains the result.
	if !resolved {
		return t
	}
	rows := make([]Row, 0, len(t.Rows))
	for i, ok := range matched {
		if ok {
			rows = append(rows, t.Rows[i])
		}
	}
	return Table{Columns: t.Columns, Rows: rows}
}

// skip reports whether a predicate is a structural no-op: blank parts or a
// column absent from the table.
func (e *Evaluator) skip(p Predicate, t Table) bool {
	if p.Column == "" || p.Operator == "" || p.Value == "" {
		return true
	}
	for _, c := range t.Columns {
		if c == p.Column {
			return false
		}
	}
	e.log.Warn("filter predicate skipped, column not in table", map[string]any{"column": p.Column})
	return true
}

// mask builds the boolean selection for one predicate over rows. A non-nil
// error marks the predicate unresolvable; the caller decides the degrade.
func (e *Evaluator) mask(rows []Row, p Predicate) ([]bool, error) {
	if e.types[p.Column].IsDate() {
		return e.dateMask(rows, p)
	}
	return e.scalarMask(rows, p)
}

func (e *Evaluator) dateMask(rows []Row, p Predicate) ([]bool, error) {
	want, err := ParseFilterDate(p.Value)
	if err != nil {
		return nil, err
	}
	switch p.Operator {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan:
	default:
		return nil, fmt.Errorf("operator %s not supported on date columns", p.Operator)
	}
	mask := make([]bool, len(rows))
	for i, row := range rows {
		got, ok := Instant(row[p.Column])
		if !ok {
			// Unconvertible cells never equal a date, but they do differ.
			mask[i] = p.Operator == OpNotEquals
			continue
		}
		day := truncateToDay(got)
		switch p.Operator {
		case OpEquals:
			mask[i] = day.Equal(want)
		case OpNotEquals:
			mask[i] = !day.Equal(want)
		case OpGreaterThan:
			mask[i] = day.After(want)
		case OpLessThan:
			mask[i] = day.Before(want)
		}
	}
	return mask, nil
}

func (e *Evaluator) scalarMask(rows []Row, p Predicate) ([]bool, error) {
	mask := make([]bool, len(rows))
	switch p.Operator {
	case OpEquals:
		for i, row := range rows {
			mask[i] = row[p.Column].String() == p.Value
		}
	case OpNotEquals:
		for i, row := range rows {
			mask[i] = row[p.Column].String() != p.Value
		}
	case OpContains, OpStartsWith, OpEndsWith:
		want := strings.ToLower(p.Value)
		for i, row := range rows {
			cell := row[p.Column]
			if cell.IsNull() {
				continue
			}
			got := strings.ToLower(cell.String())
			switch p.Operator {
			case OpContains:
				mask[i] = strings.Contains(got, want)
			case OpStartsWith:
				mask[i] = strings.HasPrefix(got, want)
			case OpEndsWith:
				mask[i] = strings.HasSuffix(got, want)
			}
		}
	case OpGreaterThan, OpLessThan:
		want, err := strconv.ParseFloat(strings.TrimSpace(p.Value), 64)
		if err != nil {
			return nil, fmt.Errorf("non-numeric comparison value %q", p.Value)
		}
		for i, row := range rows {
			got, ok := row[p.Column].Float()
			if !ok {
				// Coercion failure excludes the row, it is not an error.
				continue
			}
			if p.Operator == OpGreaterThan {
				mask[i] = got > want
			} else {
				mask[i] = got < want
			}
		}
	default:
		return nil, fmt.Errorf("unsupported operator %q", p.Operator)
	}
	return mask, nil
}
