package export

import (
	"fmt"
	"os"
	"time"

	"github.com/srfd-tools/gristpdf/internal/grist"
	"github.com/srfd-tools/gristpdf/internal/tabular"
	"github.com/srfd-tools/gristpdf/pkg/telemetry"
)

// uploadPacing spaces consecutive attachment uploads; back-to-back uploads
// trip concurrency limits on the document API.
const uploadPacing = 500 * time.Millisecond

// PDFRef points the reconciler at a previously generated file.
type PDFRef struct {
	FilterValue string `json:"filter_value"`
	Path        string `json:"filepath"`
}

// UploadResult is the per-file outcome of an attachment run.
type UploadResult struct {
	FilterValue  string `json:"filter_value"`
	Success      bool   `json:"success"`
	RecordID     int64  `json:"record_id,omitempty"`
	AttachmentID int64  `json:"attachment_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// UploadSummary aggregates an attachment run. A failed file never aborts
// the run; it is reported and the next file proceeds.
type UploadSummary struct {
	SuccessCount int            `json:"success_count"`
	ErrorCount   int            `json:"error_count"`
	Results      []UploadResult `json:"results"`
}

// Reconciler pushes generated PDFs back into the document: each file is
// uploaded as an attachment and linked to the first record of its group.
type Reconciler struct {
	source grist.Source
	cache  *tabular.TypeCache
	log    *telemetry.Logger
	sleep  func(time.Duration)
}

func NewReconciler(source grist.Source, cache *tabular.TypeCache, log *telemetry.Logger) *Reconciler {
	if log == nil {
		log = telemetry.Nop
	}
	if cache == nil {
		cache = tabular.NewTypeCache()
	}
	return &Reconciler{source: source, cache: cache, log: log, sleep: time.Sleep}
}

// Attach uploads every file and links it to the first record whose filter
// column matches the file's group value. Records are fetched once for the
// whole run.
func (r *Reconciler) Attach(docID, tableID, filterColumn, attachmentColumn string, files []PDFRef) (UploadSummary, error) {
	if tableID == "" || filterColumn == "" || attachmentColumn == "" || len(files) == 0 {
		return UploadSummary{}, fmt.Errorf("%w: table, filter column, attachment column and files are required", ErrInvalidRequest)
	}

	records, err := r.source.Records(tableID)
	if err != nil {
		return UploadSummary{}, err
	}
	types, err := fetchColumnTypes(r.source, r.cache, docID, tableID)
	if err != nil {
		return UploadSummary{}, err
	}
	isDate := types[filterColumn].IsDate()

	summary := UploadSummary{Results: make([]UploadResult, 0, len(files))}
	for i, f := range files {
		if i > 0 {
			r.sleep(uploadPacing)
		}
		res := r.attachOne(tableID, filterColumn, attachmentColumn, f, records, isDate)
		if res.Success {
			summary.SuccessCount++
		} else {
			summary.ErrorCount++
			r.log.Warn("attachment failed", map[string]any{"value": f.FilterValue, "error": res.Error})
		}
		summary.Results = append(summary.Results, res)
	}
	return summary, nil
}

func (r *Reconciler) attachOne(tableID, filterColumn, attachmentColumn string, f PDFRef,
	records []tabular.Envelope, isDate bool) UploadResult {

	res := UploadResult{FilterValue: f.FilterValue}

	if _, err := os.Stat(f.Path); err != nil {
		res.Error = fmt.Sprintf("file not found: %s", f.Path)
		return res
	}

	attachmentID, err := r.source.UploadAttachment(f.Path)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	record, ok := firstMatch(records, filterColumn, f.FilterValue, isDate)
	if !ok {
		res.Error = fmt.Sprintf("no record matches %s = %s", filterColumn, f.FilterValue)
		return res
	}

	if err := r.source.UpdateRecord(tableID, record.ID, attachmentColumn, attachmentID); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.RecordID = record.ID
	res.AttachmentID = attachmentID
	r.log.Info("pdf attached", map[string]any{"value": f.FilterValue, "record": record.ID, "attachment": attachmentID})
	return res
}

// firstMatch scans records in document order for the first one whose filter
// column equals the group value, using the same date normalization as the
// grouping step so a raw timestamp field matches its DD/MM/YYYY group key.
func firstMatch(records []tabular.Envelope, column, value string, isDate bool) (tabular.Envelope, bool) {
	for _, rec := range records {
		v := tabular.FromAny(rec.Fields[column])
		if isDate {
			if t, ok := tabular.Instant(v); ok {
				if tabular.FormatDate(t) == value {
					return rec, true
				}
				continue
			}
		}
		if v.String() == value {
			return rec, true
		}
	}
	return tabular.Envelope{}, false
}

// fetchColumnTypes resolves a table's type map through the shared cache.
func fetchColumnTypes(source grist.Source, cache *tabular.TypeCache, docID, tableID string) (map[string]tabular.ColumnType, error) {
	return cache.GetOrFetch(docID, tableID, func() (map[string]tabular.ColumnType, error) {
		cols, err := source.Columns(tableID)
		if err != nil {
			return nil, err
		}
		m := make(map[string]tabular.ColumnType, len(cols))
		for _, c := range cols {
			m[c.ID] = c.Type
		}
		return m, nil
	})
}
