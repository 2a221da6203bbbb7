// Package api exposes the HTTP surface: document connection, column
// discovery, export preview and execution, image uploads, attachment
// pushes, and the saved-configuration endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/srfd-tools/gristpdf/internal/config"
	"github.com/srfd-tools/gristpdf/internal/export"
	"github.com/srfd-tools/gristpdf/internal/grist"
	"github.com/srfd-tools/gristpdf/internal/render"
	"github.com/srfd-tools/gristpdf/internal/store"
	"github.com/srfd-tools/gristpdf/internal/tabular"
	"github.com/srfd-tools/gristpdf/internal/uploads"
	"github.com/srfd-tools/gristpdf/pkg/telemetry"
)

// ErrNotConnected is returned by endpoints that need an active document
// session before any connect call succeeded.
var ErrNotConnected = errors.New("no grist connection established")

// session is the active document connection. Like the original single-user
// deployment this is process-global: the last successful connect wins.
type session struct {
	source grist.Source
	docID  string
	apiURL string
}

// Options wires the server's collaborators.
type Options struct {
	Config config.Config
	Log    *telemetry.Logger
	Store  *store.Store
	// NewSource builds a record source for a connect request. Defaults to
	// the HTTP Grist client.
	NewSource func(apiURL, token, docID string) grist.Source
}

// Server holds the shared state behind the HTTP handlers.
type Server struct {
	cfg      config.Config
	log      *telemetry.Logger
	store    *store.Store
	saver    *uploads.Saver
	cache    *tabular.TypeCache
	renderer *render.Renderer

	newSource func(apiURL, token, docID string) grist.Source

	mu   sync.RWMutex
	sess *session
}

func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = telemetry.Nop
	}
	newSource := opts.NewSource
	if newSource == nil {
		newSource = func(apiURL, token, docID string) grist.Source {
			return grist.NewClient(apiURL, token, docID)
		}
	}
	return &Server{
		cfg:       opts.Config,
		log:       log,
		store:     opts.Store,
		saver:     uploads.NewSaver(opts.Config.DataDir, log),
		cache:     tabular.NewTypeCache(),
		renderer:  render.NewRenderer(opts.Config.DataDir, opts.Config.DefaultLogo, log),
		newSource: newSource,
	}
}

func (s *Server) setSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = sess
}

func (s *Server) session() (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess == nil {
		return nil, ErrNotConnected
	}
	return s.sess, nil
}

// docID resolves the current document id: explicit value first, then query
// parameter, then the active session.
func (s *Server) docID(explicit string, r *http.Request) string {
	if explicit != "" {
		return explicit
	}
	if v := r.URL.Query().Get("doc_id"); v != "" {
		return v
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess != nil {
		return s.sess.docID
	}
	return ""
}

func (s *Server) exporter(sess *session) *export.Exporter {
	return export.New(sess.source, s.cache, s.renderer, s.log)
}

func (s *Server) reconciler(sess *session) *export.Reconciler {
	return export.NewReconciler(sess.source, s.cache, s.log)
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
