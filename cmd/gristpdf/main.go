// Command gristpdf serves the PDF export application: it turns rows of a
// Grist document into personalized paginated PDF reports and can push them
// back into the document as attachments.
package main

import (
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/srfd-tools/gristpdf/api"
	"github.com/srfd-tools/gristpdf/internal/config"
	"github.com/srfd-tools/gristpdf/internal/store"
	"github.com/srfd-tools/gristpdf/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		telemetry.NewDefaultLogger(os.Stderr, "gristpdf").
			Error("configuration invalid", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	log := telemetry.NewLogger(os.Stdout, telemetry.Options{
		Service: "gristpdf",
		Level:   telemetry.ParseLevel(cfg.LogLevel),
	})

	if err := cfg.EnsureDirs(); err != nil {
		log.Error("data directories unavailable", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	st, err := store.Open(store.Options{Driver: cfg.DB.Driver, DSN: cfg.DB.DSN})
	if err != nil {
		log.Error("configuration store unavailable", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer st.Close()

	srv := api.NewServer(api.Options{Config: cfg, Log: log, Store: st})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("starting", map[string]any{
		"addr":     cfg.ListenAddr,
		"data_dir": cfg.DataDir,
		"db":       cfg.DB.Driver,
	})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("listen failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
