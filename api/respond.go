package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/srfd-tools/gristpdf/internal/export"
	"github.com/srfd-tools/gristpdf/internal/grist"
	"github.com/srfd-tools/gristpdf/internal/store"
	"github.com/srfd-tools/gristpdf/internal/tabular"
	"github.com/srfd-tools/gristpdf/internal/uploads"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var eb errorBody
	eb.Error.Code = code
	eb.Error.Message = message
	writeJSON(w, status, eb)
}

// writeFailure maps domain sentinels onto HTTP statuses. Anything
// unrecognized is a 500.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, export.ErrInvalidRequest),
		errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, uploads.ErrEmpty),
		errors.Is(err, uploads.ErrExtension):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, uploads.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, uploads.ErrOutsideRoot):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, tabular.ErrMissingColumn):
		writeError(w, http.StatusNotFound, "column_not_found", err.Error())
	case errors.Is(err, grist.ErrRequest), errors.Is(err, grist.ErrStatus), errors.Is(err, grist.ErrBadResponse):
		writeError(w, http.StatusBadGateway, "grist_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
