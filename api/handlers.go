package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/srfd-tools/gristpdf/internal/export"
	"github.com/srfd-tools/gristpdf/internal/render"
	"github.com/srfd-tools/gristpdf/internal/tabular"
)

type connectRequest struct {
	APIURL   string `json:"api_url"`
	APIToken string `json:"api_token"`
	DocID    string `json:"doc_id"`
}

// handleConnect opens a document session and returns its tables. Listing
// the tables doubles as the credential check.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if req.APIURL == "" {
		req.APIURL = s.cfg.Grist.APIURL
	}
	if req.APIToken == "" {
		req.APIToken = s.cfg.Grist.Token
	}
	if req.DocID == "" {
		req.DocID = s.cfg.Grist.DocID
	}
	if req.APIURL == "" || req.APIToken == "" || req.DocID == "" {
		writeError(w, http.StatusBadRequest, "missing_parameters", "api_url, api_token and doc_id are required")
		return
	}

	source := s.newSource(req.APIURL, req.APIToken, req.DocID)
	tables, err := source.ListTables()
	if err != nil {
		writeFailure(w, err)
		return
	}

	s.setSession(&session{source: source, docID: req.DocID, apiURL: req.APIURL})
	s.log.Info("grist session opened", map[string]any{"doc": req.DocID, "tables": len(tables)})

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tables": tables})
}

// handleValidate probes whether the active session's credentials still
// reach the document.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session()
	if err != nil {
		writeError(w, http.StatusBadRequest, "not_connected", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": sess.source.Validate(), "doc_id": sess.docID})
}

type columnInfo struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Type   string `json:"type"`
	IsDate bool   `json:"is_date"`
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session()
	if err != nil {
		writeError(w, http.StatusBadRequest, "not_connected", err.Error())
		return
	}
	tableID := mux.Vars(r)["table_id"]

	cols, err := sess.source.Columns(tableID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	names := make([]string, 0, len(cols))
	info := make([]columnInfo, 0, len(cols))
	types := make(map[string]string, len(cols))
	for _, c := range cols {
		names = append(names, c.ID)
		info = append(info, columnInfo{
			Name:   c.ID,
			Label:  c.Label,
			Type:   string(c.Type),
			IsDate: c.Type.IsDate(),
		})
		types[c.ID] = string(c.Type)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"columns":      names,
		"columns_info": info,
		"column_types": types,
	})
}

// handleTableInfo summarizes one table: its dimensions and whether it
// holds any rows.
func (s *Server) handleTableInfo(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session()
	if err != nil {
		writeError(w, http.StatusBadRequest, "not_connected", err.Error())
		return
	}
	tableID := mux.Vars(r)["table_id"]

	cols, err := sess.source.Columns(tableID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	records, err := sess.source.Records(tableID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table_id":     tableID,
		"row_count":    len(records),
		"column_count": len(cols),
		"columns":      names,
		"has_data":     len(records) > 0,
	})
}

type countRequest struct {
	DocID        string             `json:"doc_id"`
	TableID      string             `json:"table_id"`
	FilterColumn string             `json:"filter_column"`
	Filters      tabular.FilterSpec `json:"advanced_filters"`
}

func (s *Server) handleCountPDFs(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session()
	if err != nil {
		writeError(w, http.StatusBadRequest, "not_connected", err.Error())
		return
	}
	var req countRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	preview, err := s.exporter(sess).CountGroups(s.docID(req.DocID, r), req.TableID, req.FilterColumn, req.Filters)
	if err != nil {
		writeFailure(w, err)
		return
	}

	mode := req.Filters.Mode
	if mode == "" {
		mode = tabular.ModeAnd
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":         preview.Count,
		"filter_column": req.FilterColumn,
		"total_records": preview.TotalRecords,
		"filter_mode":   mode,
	})
}

type exportRequest struct {
	DocID           string             `json:"doc_id"`
	TableID         string             `json:"table_id"`
	FilterColumn    string             `json:"filter_column"`
	SelectedColumns []string           `json:"selected_columns"`
	OutputDir       string             `json:"output_dir"`
	FilenamePattern string             `json:"filename_pattern"`
	Filters         tabular.FilterSpec `json:"advanced_filters"`

	ServiceName     string `json:"service_name"`
	SignerFirstname string `json:"signer_firstname"`
	SignerName      string `json:"signer_name"`
	SignerTitle     string `json:"signer_title"`
	SignaturePath   string `json:"signature_path"`
	LogoPath        string `json:"logo_path"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session()
	if err != nil {
		writeError(w, http.StatusBadRequest, "not_connected", err.Error())
		return
	}
	var req exportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	files, err := s.exporter(sess).Export(s.docID(req.DocID, r), export.Request{
		TableID:         req.TableID,
		FilterColumn:    req.FilterColumn,
		SelectedColumns: req.SelectedColumns,
		OutputDir:       s.resolveOutputDir(req.OutputDir),
		FilenamePattern: req.FilenamePattern,
		Filter:          req.Filters,
		Profile: render.Profile{
			ServiceName:     req.ServiceName,
			SignerFirstname: req.SignerFirstname,
			SignerName:      req.SignerName,
			SignerTitle:     req.SignerTitle,
			SignaturePath:   req.SignaturePath,
			LogoPath:        req.LogoPath,
		},
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	mode := req.Filters.Mode
	if mode == "" {
		mode = tabular.ModeAnd
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"files":       files,
		"files_count": len(files),
		"filter_mode": mode,
	})
}

// resolveOutputDir keeps relative destinations under the configured export
// root; absolute paths are honored as-is.
func (s *Server) resolveOutputDir(dir string) string {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return s.cfg.OutputDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(s.cfg.OutputDir, dir)
}

type attachRequest struct {
	DocID            string          `json:"doc_id"`
	TableID          string          `json:"table_id"`
	FilterColumn     string          `json:"filter_column"`
	AttachmentColumn string          `json:"attachment_column"`
	PDFFiles         []export.PDFRef `json:"pdf_files"`
}

func (s *Server) handleUploadPDFsToGrist(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session()
	if err != nil {
		writeError(w, http.StatusBadRequest, "not_connected", err.Error())
		return
	}
	var req attachRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	summary, err := s.reconciler(sess).Attach(s.docID(req.DocID, r), req.TableID,
		req.FilterColumn, req.AttachmentColumn, req.PDFFiles)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"success_count": summary.SuccessCount,
		"error_count":   summary.ErrorCount,
		"results":       summary.Results,
	})
}
