// Package export orchestrates the pipeline from Grist records to a batch
// of personalized PDF files, and pushes finished files back into the
// document as attachments.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/srfd-tools/gristpdf/internal/grist"
	"github.com/srfd-tools/gristpdf/internal/render"
	"github.com/srfd-tools/gristpdf/internal/tabular"
	"github.com/srfd-tools/gristpdf/pkg/telemetry"
)

// DefaultFilenamePattern is applied when a request names no pattern.
const DefaultFilenamePattern = "{filter_value}_{date}.pdf"

var (
	// ErrInvalidRequest flags requests missing required parameters.
	ErrInvalidRequest = errors.New("invalid export request")
	// ErrRender wraps a failed PDF generation; it aborts the whole batch.
	ErrRender = errors.New("pdf generation failed")
)

// Request describes one export batch.
type Request struct {
	TableID         string
	FilterColumn    string
	SelectedColumns []string
	OutputDir       string
	FilenamePattern string
	Profile         render.Profile
	Filter          tabular.FilterSpec
}

// ExportedFile describes one generated PDF. Field names follow the JSON
// payload returned to API clients.
type ExportedFile struct {
	Filename    string `json:"filename"`
	FilterValue string `json:"filter_value"`
	RecordCount int    `json:"records_count"`
	Path        string `json:"filepath"`
}

// Exporter wires a record source, the column-type cache and the renderer.
type Exporter struct {
	source   grist.Source
	cache    *tabular.TypeCache
	renderer *render.Renderer
	log      *telemetry.Logger
	now      func() time.Time
}

func New(source grist.Source, cache *tabular.TypeCache, renderer *render.Renderer, log *telemetry.Logger) *Exporter {
	if log == nil {
		log = telemetry.Nop
	}
	if cache == nil {
		cache = tabular.NewTypeCache()
	}
	return &Exporter{source: source, cache: cache, renderer: renderer, log: log, now: time.Now}
}

// Export runs the full pipeline: fetch the table once, apply the advanced
// filter, group by the filter column, render one PDF per distinct value.
// Any single rendering failure aborts the batch.
func (e *Exporter) Export(docID string, req Request) ([]ExportedFile, error) {
	if req.TableID == "" || req.FilterColumn == "" || len(req.SelectedColumns) == 0 {
		return nil, fmt.Errorf("%w: table, filter column and selected columns are required", ErrInvalidRequest)
	}
	pattern := req.FilenamePattern
	if pattern == "" {
		pattern = DefaultFilenamePattern
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	types, err := e.columnTypes(docID, req.TableID)
	if err != nil {
		return nil, err
	}
	labels, err := e.columnLabels(req.TableID)
	if err != nil {
		return nil, err
	}

	table, err := e.fetchFiltered(req.TableID, types, req.Filter)
	if err != nil {
		return nil, err
	}

	groups, err := tabular.GroupBy(table, req.FilterColumn, req.SelectedColumns, types[req.FilterColumn].IsDate())
	if err != nil {
		return nil, err
	}

	stamp := e.now()
	out := make([]ExportedFile, 0, len(groups))
	for _, g := range groups {
		filename := BuildFilename(pattern, g.Key, req.TableID, stamp)
		path := filepath.Join(req.OutputDir, filename)
		title := fmt.Sprintf("Données %s: %s", req.FilterColumn, g.Key)

		if err := e.renderer.Render(g.Rows, g.Columns, title, req.Profile, types, labels, path); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRender, g.Key, err)
		}
		e.log.Info("pdf generated", map[string]any{"file": filename, "rows": len(g.Rows)})

		out = append(out, ExportedFile{
			Filename:    filename,
			FilterValue: g.Key,
			RecordCount: len(g.Rows),
			Path:        path,
		})
	}
	return out, nil
}

// Preview is the outcome of a dry-run count: how many PDFs an export would
// produce and how many records survive the filter.
type Preview struct {
	Count        int `json:"count"`
	TotalRecords int `json:"total_records"`
}

// CountGroups previews how many PDFs an export would produce, applying the
// same filter and grouping as Export without rendering anything.
func (e *Exporter) CountGroups(docID, tableID, filterColumn string, filter tabular.FilterSpec) (Preview, error) {
	if tableID == "" || filterColumn == "" {
		return Preview{}, fmt.Errorf("%w: table and filter column are required", ErrInvalidRequest)
	}
	types, err := e.columnTypes(docID, tableID)
	if err != nil {
		return Preview{}, err
	}
	table, err := e.fetchFiltered(tableID, types, filter)
	if err != nil {
		return Preview{}, err
	}
	n, err := tabular.CountGroups(table, filterColumn, types[filterColumn].IsDate())
	if err != nil {
		return Preview{}, err
	}
	return Preview{Count: n, TotalRecords: len(table.Rows)}, nil
}

// columnTypes resolves the table's type map through the per-document cache,
// hitting the metadata endpoint only on a cold entry.
func (e *Exporter) columnTypes(docID, tableID string) (map[string]tabular.ColumnType, error) {
	return fetchColumnTypes(e.source, e.cache, docID, tableID)
}

// columnLabels maps column ids to their display labels.
func (e *Exporter) columnLabels(tableID string) (map[string]string, error) {
	cols, err := e.source.Columns(tableID)
	if err != nil {
		return nil, err
	}
	labels := make(map[string]string, len(cols))
	for _, c := range cols {
		labels[c.ID] = c.Label
	}
	return labels, nil
}

func (e *Exporter) fetchFiltered(tableID string, types map[string]tabular.ColumnType, filter tabular.FilterSpec) (tabular.Table, error) {
	envelopes, err := e.source.Records(tableID)
	if err != nil {
		return tabular.Table{}, err
	}
	table := tabular.Normalize(envelopes)
	ev := tabular.NewEvaluator(types, e.log)
	return ev.Evaluate(table, filter), nil
}

// BuildFilename substitutes the pattern tokens and normalizes the result:
// the group value is path-sanitized, doubled separators collapse, and the
// .pdf extension is forced.
func BuildFilename(pattern, filterValue, tableID string, now time.Time) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(filterValue)

	name := strings.NewReplacer(
		"{filter_value}", safe,
		"{timestamp}", now.Format("20060102_150405"),
		"{date}", now.Format("20060102"),
		"{table_name}", tableID,
	).Replace(pattern)

	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	if !strings.HasSuffix(name, ".pdf") {
		name += ".pdf"
	}
	return name
}
