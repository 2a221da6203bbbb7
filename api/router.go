package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
)

// Router assembles the full route table behind logging and panic recovery.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLogging)
	r.Use(s.recoverer)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/connect", s.handleConnect).Methods(http.MethodPost)
	a.HandleFunc("/tables", s.handleConnect).Methods(http.MethodPost)
	a.HandleFunc("/validate", s.handleValidate).Methods(http.MethodGet)
	a.HandleFunc("/columns/{table_id}", s.handleColumns).Methods(http.MethodGet)
	a.HandleFunc("/table-info/{table_id}", s.handleTableInfo).Methods(http.MethodGet)
	a.HandleFunc("/count-pdfs", s.handleCountPDFs).Methods(http.MethodPost)
	a.HandleFunc("/export", s.handleExport).Methods(http.MethodPost)
	a.HandleFunc("/upload-logo", s.handleUploadLogo).Methods(http.MethodPost)
	a.HandleFunc("/upload-signature", s.handleUploadSignature).Methods(http.MethodPost)
	a.HandleFunc("/upload-pdfs-to-grist", s.handleUploadPDFsToGrist).Methods(http.MethodPost)

	a.HandleFunc("/config/list", s.handleConfigList).Methods(http.MethodGet)
	a.HandleFunc("/config/save", s.handleConfigSave).Methods(http.MethodPost)
	a.HandleFunc("/config/load/{id:[0-9]+}", s.handleConfigLoad).Methods(http.MethodGet)
	a.HandleFunc("/config/delete/{id:[0-9]+}", s.handleConfigDelete).Methods(http.MethodDelete)
	a.HandleFunc("/config/{id:[0-9]+}/logo", s.handleConfigLogo).Methods(http.MethodGet)
	a.HandleFunc("/config/{id:[0-9]+}/signature", s.handleConfigSignature).Methods(http.MethodGet)

	r.HandleFunc("/uploads/{path:.*}", s.handleServeUpload).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Info("http request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", map[string]any{
					"path":  r.URL.Path,
					"panic": rec,
					"stack": string(debug.Stack()),
				})
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
