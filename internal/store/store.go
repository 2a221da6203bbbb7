// Package store persists saved export configurations. Each configuration
// is scoped to one Grist document through a SHA-256 hash of its doc id, so
// a session never sees or deletes another document's configurations.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrInvalidInput indicates a caller-supplied field is missing or bad.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates the configuration does not exist for this document.
	ErrNotFound = errors.New("configuration not found")
	// ErrDB indicates a database operation failure.
	ErrDB = errors.New("db error")
)

type Clock func() time.Time

// Options configures the store connection.
type Options struct {
	// Driver is "sqlite3" (default) or "postgres".
	Driver string
	// DSN is the driver connection string.
	DSN string
	// Clock supplies created_at/updated_at timestamps. Defaults to time.Now.
	Clock Clock
}

// SavedConfig is one persisted export setup: connection reference, table
// selection, filters, personalization, and inline image bytes. The API
// token is deliberately never stored.
type SavedConfig struct {
	ID    int64
	DocID string
	Name  string

	APIURL          string
	TableID         string
	FilterColumn    string
	SelectedColumns []string
	AdvancedFilters json.RawMessage

	ServiceName     string
	SignerFirstname string
	SignerName      string
	SignerTitle     string

	LogoData     []byte
	LogoFilename string
	LogoMimetype string

	SignatureData     []byte
	SignatureFilename string
	SignatureMimetype string

	OutputDir       string
	FilenamePattern string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is the listing view of a configuration; image bytes stay out.
type Summary struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	TableID      string    `json:"table_id"`
	CreatedAt    time.Time `json:"created_at"`
	HasLogo      bool      `json:"has_logo"`
	HasSignature bool      `json:"has_signature"`
}

// Image is an inline logo or signature as served back to clients.
type Image struct {
	Data     []byte
	Filename string
	Mimetype string
}

// Store is a configuration repository over database/sql. Both sqlite and
// postgres are supported; sqlite is the default deployment.
type Store struct {
	db     *sql.DB
	driver string
	clock  Clock
}

// HashDocID derives the isolation key for a document id.
func HashDocID(docID string) string {
	sum := sha256.Sum256([]byte(docID))
	return hex.EncodeToString(sum[:])
}

// Open connects, applies connection limits, and ensures the schema.
func Open(opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	if driver != "sqlite3" && driver != "postgres" {
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidInput, driver)
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("%w: dsn is required", ErrInvalidInput)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrDB, err)
	}
	if driver == "sqlite3" {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, driver: driver, clock: clock}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema() error {
	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	blob := "BLOB"
	if s.driver == "postgres" {
		idCol = "id BIGSERIAL PRIMARY KEY"
		blob = "BYTEA"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS configurations (
			%s,
			doc_id_hash TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			config_name TEXT NOT NULL,
			api_url TEXT NOT NULL DEFAULT '',
			table_id TEXT NOT NULL DEFAULT '',
			filter_column TEXT NOT NULL DEFAULT '',
			selected_columns TEXT NOT NULL DEFAULT '[]',
			advanced_filters TEXT NOT NULL DEFAULT '',
			service_name TEXT NOT NULL DEFAULT '',
			signer_firstname TEXT NOT NULL DEFAULT '',
			signer_name TEXT NOT NULL DEFAULT '',
			signer_title TEXT NOT NULL DEFAULT '',
			logo_data %s,
			logo_filename TEXT NOT NULL DEFAULT '',
			logo_mimetype TEXT NOT NULL DEFAULT '',
			signature_data %s,
			signature_filename TEXT NOT NULL DEFAULT '',
			signature_mimetype TEXT NOT NULL DEFAULT '',
			output_dir TEXT NOT NULL DEFAULT '',
			filename_pattern TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`, idCol, blob, blob),
		`CREATE INDEX IF NOT EXISTS idx_configurations_doc_hash ON configurations (doc_id_hash)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: schema: %v", ErrDB, err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save inserts a configuration and returns its id.
func (s *Store) Save(cfg SavedConfig) (int64, error) {
	if cfg.Name == "" || cfg.DocID == "" {
		return 0, fmt.Errorf("%w: name and doc id are required", ErrInvalidInput)
	}
	selected, err := json.Marshal(cfg.SelectedColumns)
	if err != nil {
		return 0, fmt.Errorf("%w: selected columns: %v", ErrInvalidInput, err)
	}
	pattern := cfg.FilenamePattern
	if pattern == "" {
		pattern = "{filter_value}_{date}.pdf"
	}
	now := s.clock().UTC().Format(time.RFC3339Nano)

	query := `INSERT INTO configurations (
		doc_id_hash, doc_id, config_name, api_url, table_id, filter_column,
		selected_columns, advanced_filters, service_name, signer_firstname,
		signer_name, signer_title, logo_data, logo_filename, logo_mimetype,
		signature_data, signature_filename, signature_mimetype, output_dir,
		filename_pattern, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	args := []any{
		HashDocID(cfg.DocID), cfg.DocID, cfg.Name, cfg.APIURL, cfg.TableID, cfg.FilterColumn,
		string(selected), string(cfg.AdvancedFilters), cfg.ServiceName, cfg.SignerFirstname,
		cfg.SignerName, cfg.SignerTitle, cfg.LogoData, cfg.LogoFilename, cfg.LogoMimetype,
		cfg.SignatureData, cfg.SignatureFilename, cfg.SignatureMimetype, cfg.OutputDir,
		pattern, now, now,
	}

	if s.driver == "postgres" {
		var id int64
		err := s.db.QueryRow(s.rebind(query+" RETURNING id"), args...).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("%w: insert: %v", ErrDB, err)
		}
		return id, nil
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %v", ErrDB, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: insert id: %v", ErrDB, err)
	}
	return id, nil
}

// List returns this document's configurations, newest first.
func (s *Store) List(docID string) ([]Summary, error) {
	if docID == "" {
		return nil, fmt.Errorf("%w: doc id is required", ErrInvalidInput)
	}
	rows, err := s.db.Query(s.rebind(`SELECT id, config_name, table_id, created_at,
		logo_data IS NOT NULL AND length(logo_data) > 0,
		signature_data IS NOT NULL AND length(signature_data) > 0
		FROM configurations WHERE doc_id_hash = ? ORDER BY created_at DESC, id DESC`),
		HashDocID(docID))
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrDB, err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var created string
		if err := rows.Scan(&sm.ID, &sm.Name, &sm.TableID, &created, &sm.HasLogo, &sm.HasSignature); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrDB, err)
		}
		sm.CreatedAt = parseStamp(created)
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrDB, err)
	}
	return out, nil
}

// Get loads a configuration only when it belongs to docID.
func (s *Store) Get(id int64, docID string) (SavedConfig, error) {
	if docID == "" {
		return SavedConfig{}, fmt.Errorf("%w: doc id is required", ErrInvalidInput)
	}
	row := s.db.QueryRow(s.rebind(`SELECT id, doc_id, config_name, api_url, table_id,
		filter_column, selected_columns, advanced_filters, service_name,
		signer_firstname, signer_name, signer_title, logo_data, logo_filename,
		logo_mimetype, signature_data, signature_filename, signature_mimetype,
		output_dir, filename_pattern, created_at, updated_at
		FROM configurations WHERE id = ? AND doc_id_hash = ?`),
		id, HashDocID(docID))

	var cfg SavedConfig
	var selected, filters, created, updated string
	err := row.Scan(&cfg.ID, &cfg.DocID, &cfg.Name, &cfg.APIURL, &cfg.TableID,
		&cfg.FilterColumn, &selected, &filters, &cfg.ServiceName,
		&cfg.SignerFirstname, &cfg.SignerName, &cfg.SignerTitle, &cfg.LogoData, &cfg.LogoFilename,
		&cfg.LogoMimetype, &cfg.SignatureData, &cfg.SignatureFilename, &cfg.SignatureMimetype,
		&cfg.OutputDir, &cfg.FilenamePattern, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return SavedConfig{}, ErrNotFound
	}
	if err != nil {
		return SavedConfig{}, fmt.Errorf("%w: get: %v", ErrDB, err)
	}

	if selected != "" {
		if err := json.Unmarshal([]byte(selected), &cfg.SelectedColumns); err != nil {
			return SavedConfig{}, fmt.Errorf("%w: selected columns: %v", ErrDB, err)
		}
	}
	if filters != "" {
		cfg.AdvancedFilters = json.RawMessage(filters)
	}
	cfg.CreatedAt = parseStamp(created)
	cfg.UpdatedAt = parseStamp(updated)
	return cfg, nil
}

// Delete removes a configuration only when it belongs to docID.
func (s *Store) Delete(id int64, docID string) error {
	if docID == "" {
		return fmt.Errorf("%w: doc id is required", ErrInvalidInput)
	}
	res, err := s.db.Exec(s.rebind(`DELETE FROM configurations WHERE id = ? AND doc_id_hash = ?`),
		id, HashDocID(docID))
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrDB, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrDB, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Logo returns the stored logo image, or ErrNotFound when absent.
func (s *Store) Logo(id int64, docID string) (Image, error) {
	return s.image(id, docID, "logo_data", "logo_filename", "logo_mimetype", "logo.png")
}

// Signature returns the stored signature image, or ErrNotFound when absent.
func (s *Store) Signature(id int64, docID string) (Image, error) {
	return s.image(id, docID, "signature_data", "signature_filename", "signature_mimetype", "signature.png")
}

func (s *Store) image(id int64, docID, dataCol, nameCol, mimeCol, defaultName string) (Image, error) {
	if docID == "" {
		return Image{}, fmt.Errorf("%w: doc id is required", ErrInvalidInput)
	}
	query := fmt.Sprintf(`SELECT %s, %s, %s FROM configurations WHERE id = ? AND doc_id_hash = ?`,
		dataCol, nameCol, mimeCol)

	var img Image
	err := s.db.QueryRow(s.rebind(query), id, HashDocID(docID)).Scan(&img.Data, &img.Filename, &img.Mimetype)
	if errors.Is(err, sql.ErrNoRows) {
		return Image{}, ErrNotFound
	}
	if err != nil {
		return Image{}, fmt.Errorf("%w: image: %v", ErrDB, err)
	}
	if len(img.Data) == 0 {
		return Image{}, ErrNotFound
	}
	if img.Filename == "" {
		img.Filename = defaultName
	}
	if img.Mimetype == "" {
		img.Mimetype = "image/png"
	}
	return img, nil
}

func parseStamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
