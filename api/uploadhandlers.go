package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/srfd-tools/gristpdf/internal/uploads"
)

// maxUploadForm bounds the whole multipart body; individual file caps are
// enforced by the saver.
const maxUploadForm = uploads.MaxSignatureSize + 1<<20

func (s *Server) handleUploadLogo(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.saver.SaveLogo)
}

func (s *Server) handleUploadSignature(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.saver.SaveSignature)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request,
	save func(string, io.Reader) (uploads.Saved, error)) {

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadForm)
	if err := r.ParseMultipartForm(maxUploadForm); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_multipart", "multipart form expected")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "file field is required")
		return
	}
	defer file.Close()

	saved, err := save(header.Filename, file)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"filename": saved.Filename,
		"filepath": saved.RelativePath,
	})
}

// handleServeUpload serves previously uploaded images back to the UI.
func (s *Server) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	rel := mux.Vars(r)["path"]
	path, err := s.saver.Resolve("uploads/" + rel)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	http.ServeFile(w, r, path)
}
