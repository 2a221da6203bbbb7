package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/srfd-tools/gristpdf/internal/store"
)

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "configuration store is not configured")
		return false
	}
	return true
}

func (s *Server) requireDocID(w http.ResponseWriter, r *http.Request, explicit string) (string, bool) {
	docID := s.docID(explicit, r)
	if docID == "" {
		writeError(w, http.StatusBadRequest, "missing_doc_id", "doc_id is required")
		return "", false
	}
	return docID, true
}

func configID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (s *Server) handleConfigList(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	docID, ok := s.requireDocID(w, r, "")
	if !ok {
		return
	}

	summaries, err := s.store.List(docID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	type listItem struct {
		store.Summary
		Filename string `json:"filename"`
	}
	items := make([]listItem, 0, len(summaries))
	for _, sm := range summaries {
		items = append(items, listItem{Summary: sm, Filename: fmt.Sprintf("config_%d", sm.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": items})
}

type configSaveRequest struct {
	ConfigName string `json:"config_name"`
	DocID      string `json:"doc_id"`
	APIURL     string `json:"api_url"`

	TableID         string          `json:"table_id"`
	FilterColumn    string          `json:"filter_column"`
	SelectedColumns []string        `json:"selected_columns"`
	AdvancedFilters json.RawMessage `json:"advanced_filters"`

	ServiceName     string `json:"service_name"`
	SignerFirstname string `json:"signer_firstname"`
	SignerName      string `json:"signer_name"`
	SignerTitle     string `json:"signer_title"`

	OutputDir       string `json:"output_dir"`
	FilenamePattern string `json:"filename_pattern"`

	LogoBase64        string `json:"logo_base64"`
	LogoFilename      string `json:"logo_filename"`
	LogoMimetype      string `json:"logo_mimetype"`
	SignatureBase64   string `json:"signature_base64"`
	SignatureFilename string `json:"signature_filename"`
	SignatureMimetype string `json:"signature_mimetype"`
}

func (s *Server) handleConfigSave(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req configSaveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	cfg := store.SavedConfig{
		DocID:           req.DocID,
		Name:            req.ConfigName,
		APIURL:          req.APIURL,
		TableID:         req.TableID,
		FilterColumn:    req.FilterColumn,
		SelectedColumns: req.SelectedColumns,
		AdvancedFilters: req.AdvancedFilters,
		ServiceName:     req.ServiceName,
		SignerFirstname: req.SignerFirstname,
		SignerName:      req.SignerName,
		SignerTitle:     req.SignerTitle,
		OutputDir:       req.OutputDir,
		FilenamePattern: req.FilenamePattern,
	}

	// Inline images arrive base64-encoded; a bad payload drops the image
	// but never fails the save.
	if req.LogoBase64 != "" {
		if data, err := base64.StdEncoding.DecodeString(req.LogoBase64); err == nil {
			cfg.LogoData = data
			cfg.LogoFilename = defaultStr(req.LogoFilename, "logo.png")
			cfg.LogoMimetype = defaultStr(req.LogoMimetype, "image/png")
		} else {
			s.log.Warn("logo decode failed, saving without it", map[string]any{"error": err.Error()})
		}
	}
	if req.SignatureBase64 != "" {
		if data, err := base64.StdEncoding.DecodeString(req.SignatureBase64); err == nil {
			cfg.SignatureData = data
			cfg.SignatureFilename = defaultStr(req.SignatureFilename, "signature.png")
			cfg.SignatureMimetype = defaultStr(req.SignatureMimetype, "image/png")
		} else {
			s.log.Warn("signature decode failed, saving without it", map[string]any{"error": err.Error()})
		}
	}

	id, err := s.store.Save(cfg)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      id,
		"message": fmt.Sprintf("Configuration %q sauvegardée", req.ConfigName),
	})
}

func (s *Server) handleConfigLoad(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	docID, ok := s.requireDocID(w, r, "")
	if !ok {
		return
	}
	id := configID(r)

	cfg, err := s.store.Get(id, docID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	customization := map[string]any{
		"service_name":     cfg.ServiceName,
		"signer_firstname": cfg.SignerFirstname,
		"signer_name":      cfg.SignerName,
		"signer_title":     cfg.SignerTitle,
		"has_logo":         len(cfg.LogoData) > 0,
		"has_signature":    len(cfg.SignatureData) > 0,
	}
	if len(cfg.LogoData) > 0 {
		customization["logo_url"] = fmt.Sprintf("/api/config/%d/logo", id)
	}
	if len(cfg.SignatureData) > 0 {
		customization["signature_url"] = fmt.Sprintf("/api/config/%d/signature", id)
	}

	var filters any
	if len(cfg.AdvancedFilters) > 0 {
		filters = json.RawMessage(cfg.AdvancedFilters)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config": map[string]any{
			"id":          cfg.ID,
			"config_name": cfg.Name,
			"created_at":  cfg.CreatedAt,
			"updated_at":  cfg.UpdatedAt,
			"connection": map[string]any{
				"api_url": cfg.APIURL,
				"doc_id":  cfg.DocID,
			},
			"table": map[string]any{
				"table_id":         cfg.TableID,
				"filter_column":    cfg.FilterColumn,
				"selected_columns": cfg.SelectedColumns,
			},
			"filters": map[string]any{
				"advanced_filters": filters,
			},
			"customization": customization,
			"export": map[string]any{
				"output_dir":       cfg.OutputDir,
				"filename_pattern": cfg.FilenamePattern,
			},
		},
	})
}

func (s *Server) handleConfigDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	docID, ok := s.requireDocID(w, r, "")
	if !ok {
		return
	}

	if err := s.store.Delete(configID(r), docID); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Configuration supprimée"})
}

func (s *Server) handleConfigLogo(w http.ResponseWriter, r *http.Request) {
	s.serveConfigImage(w, r, s.store.Logo)
}

func (s *Server) handleConfigSignature(w http.ResponseWriter, r *http.Request) {
	s.serveConfigImage(w, r, s.store.Signature)
}

func (s *Server) serveConfigImage(w http.ResponseWriter, r *http.Request,
	fetch func(int64, string) (store.Image, error)) {

	if !s.requireStore(w) {
		return
	}
	docID, ok := s.requireDocID(w, r, "")
	if !ok {
		return
	}

	img, err := fetch(configID(r), docID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	w.Header().Set("content-type", img.Mimetype)
	w.Header().Set("content-disposition", fmt.Sprintf("inline; filename=%q", img.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
