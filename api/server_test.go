package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/srfd-tools/gristpdf/internal/config"
	"github.com/srfd-tools/gristpdf/internal/grist"
	"github.com/srfd-tools/gristpdf/internal/store"
	"github.com/srfd-tools/gristpdf/internal/tabular"
)

type fakeSource struct {
	tables  []grist.TableInfo
	columns []tabular.ColumnDescriptor
	records []tabular.Envelope

	listErr error
	invalid bool

	uploads        []string
	nextAttachment int64
	updated        []int64
}

func (f *fakeSource) Validate() bool { return !f.invalid }

func (f *fakeSource) ListTables() ([]grist.TableInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tables, nil
}

func (f *fakeSource) Columns(string) ([]tabular.ColumnDescriptor, error) {
	return f.columns, nil
}

func (f *fakeSource) Records(string) ([]tabular.Envelope, error) {
	return f.records, nil
}

func (f *fakeSource) UploadAttachment(path string) (int64, error) {
	f.uploads = append(f.uploads, path)
	f.nextAttachment++
	return f.nextAttachment, nil
}

func (f *fakeSource) UpdateRecord(_ string, recordID int64, _ string, _ int64) error {
	f.updated = append(f.updated, recordID)
	return nil
}

func testSource() *fakeSource {
	return &fakeSource{
		tables: []grist.TableInfo{{ID: "Inspections", Label: "Inspections 2024"}},
		columns: []tabular.ColumnDescriptor{
			{ID: "Nom", Type: tabular.TypeText, Label: "Nom complet"},
			{ID: "Ville", Type: tabular.TypeText, Label: "Ville"},
			{ID: "Date_visite", Type: tabular.TypeDate, Label: "Date de visite"},
		},
		records: []tabular.Envelope{
			{ID: 1, Fields: map[string]any{"Nom": "Dupont", "Ville": "Paris", "Date_visite": 1705276800}},
			{ID: 2, Fields: map[string]any{"Nom": "Martin", "Ville": "Lyon", "Date_visite": 1705363200}},
			{ID: 3, Fields: map[string]any{"Nom": "Durand", "Ville": "Paris", "Date_visite": 1705276800}},
		},
	}
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	source *fakeSource
	cfg    config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dataDir := t.TempDir()
	cfg := config.Defaults()
	cfg.DataDir = dataDir
	cfg.OutputDir = filepath.Join(dataDir, "exports")
	require.NoError(t, cfg.EnsureDirs())

	st, err := store.Open(store.Options{
		DSN: "file:" + filepath.Join(dataDir, "configs.db") + "?_busy_timeout=5000&_journal_mode=WAL",
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	src := testSource()
	srv := NewServer(Options{
		Config: cfg,
		Store:  st,
		NewSource: func(apiURL, token, docID string) grist.Source {
			return src
		},
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: srv, http: ts, source: src, cfg: cfg}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.http.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp, decodeMap(t, resp)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	return resp, decodeMap(t, resp)
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	resp, body := e.postJSON(t, "/api/connect", map[string]string{
		"api_url": "https://grist.example.org", "api_token": "tok", "doc_id": "doc1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}

func TestConnectListsTables(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.postJSON(t, "/api/connect", map[string]string{
		"api_url": "https://grist.example.org", "api_token": "tok", "doc_id": "doc1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tables := body["tables"].([]any)
	require.Len(t, tables, 1)
	require.Equal(t, "Inspections", tables[0].(map[string]any)["id"])
}

func TestConnectRequiresParameters(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.postJSON(t, "/api/connect", map[string]string{"doc_id": "doc1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConnectUpstreamFailure(t *testing.T) {
	e := newTestEnv(t)
	e.source.listErr = fmt.Errorf("%w: 403", grist.ErrStatus)

	resp, _ := e.postJSON(t, "/api/connect", map[string]string{
		"api_url": "u", "api_token": "t", "doc_id": "d",
	})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestEndpointsRequireConnection(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.get(t, "/api/columns/Inspections")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.postJSON(t, "/api/count-pdfs", map[string]any{"table_id": "Inspections", "filter_column": "Ville"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestColumns(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	resp, body := e.get(t, "/api/columns/Inspections")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, []any{"Nom", "Ville", "Date_visite"}, body["columns"])
	info := body["columns_info"].([]any)
	last := info[2].(map[string]any)
	require.Equal(t, true, last["is_date"])
	require.Equal(t, "Date de visite", last["label"])
}

func TestValidate(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	resp, body := e.get(t, "/api/validate")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["valid"])
	require.Equal(t, "doc1", body["doc_id"])

	e.source.invalid = true
	_, body = e.get(t, "/api/validate")
	require.Equal(t, false, body["valid"])
}

func TestTableInfo(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	resp, body := e.get(t, "/api/table-info/Inspections")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Inspections", body["table_id"])
	require.EqualValues(t, 3, body["row_count"])
	require.EqualValues(t, 3, body["column_count"])
	require.Equal(t, []any{"Nom", "Ville", "Date_visite"}, body["columns"])
	require.Equal(t, true, body["has_data"])
}

func TestCountPDFs(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	resp, body := e.postJSON(t, "/api/count-pdfs", map[string]any{
		"table_id":      "Inspections",
		"filter_column": "Ville",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, body["count"])
	require.EqualValues(t, 3, body["total_records"])
	require.Equal(t, "and", body["filter_mode"])
}

func TestCountPDFsWithFilter(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	_, body := e.postJSON(t, "/api/count-pdfs", map[string]any{
		"table_id":      "Inspections",
		"filter_column": "Ville",
		"advanced_filters": map[string]any{
			"mode": "or",
			"filters": []map[string]string{
				{"column": "Ville", "operator": "equals", "value": "Lyon"},
			},
		},
	})
	require.EqualValues(t, 1, body["count"])
	require.Equal(t, "or", body["filter_mode"])
}

func TestExportEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	resp, body := e.postJSON(t, "/api/export", map[string]any{
		"table_id":         "Inspections",
		"filter_column":    "Ville",
		"selected_columns": []string{"Nom", "Date_visite"},
		"service_name":     "SRFD Occitanie",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 2, body["files_count"])

	files := body["files"].([]any)
	first := files[0].(map[string]any)
	require.Equal(t, "Paris", first["filter_value"])

	data, err := os.ReadFile(first["filepath"].(string))
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(data[:4]))
}

func TestExportValidation(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	resp, _ := e.postJSON(t, "/api/export", map[string]any{"table_id": "Inspections"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadLogoAndServe(t *testing.T) {
	e := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "logo.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake png bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.http.URL+"/api/upload-logo", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	body := decodeMap(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])

	rel := body["filepath"].(string)
	served, err := http.Get(e.http.URL + "/" + rel)
	require.NoError(t, err)
	defer served.Body.Close()
	require.Equal(t, http.StatusOK, served.StatusCode)
	data, err := io.ReadAll(served.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("fake png bytes"), data)
}

func TestUploadRejectsBadExtension(t *testing.T) {
	e := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "malware.exe")
	require.NoError(t, err)
	_, err = part.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.http.URL+"/api/upload-signature", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadPDFsToGrist(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	pdf := filepath.Join(t.TempDir(), "paris.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))

	resp, body := e.postJSON(t, "/api/upload-pdfs-to-grist", map[string]any{
		"table_id":          "Inspections",
		"filter_column":     "Ville",
		"attachment_column": "Rapport",
		"pdf_files": []map[string]string{
			{"filter_value": "Paris", "filepath": pdf},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["success_count"])
	require.EqualValues(t, 0, body["error_count"])
	require.Equal(t, []int64{1}, e.source.updated)
}

func TestConfigLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	resp, body := e.postJSON(t, "/api/config/save", map[string]any{
		"config_name":      "Export mensuel",
		"doc_id":           "doc1",
		"table_id":         "Inspections",
		"filter_column":    "Ville",
		"selected_columns": []string{"Nom"},
		"logo_base64":      "iVBORw0KGgo=",
		"logo_filename":    "logo.png",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := int64(body["id"].(float64))
	require.Positive(t, id)

	// List is scoped to the session doc id.
	_, body = e.get(t, "/api/config/list")
	configs := body["configs"].([]any)
	require.Len(t, configs, 1)
	first := configs[0].(map[string]any)
	require.Equal(t, "Export mensuel", first["name"])
	require.Equal(t, true, first["has_logo"])
	require.Equal(t, fmt.Sprintf("config_%d", id), first["filename"])

	// Load returns the nested payload with an image URL.
	_, body = e.get(t, fmt.Sprintf("/api/config/load/%d", id))
	cfg := body["config"].(map[string]any)
	custom := cfg["customization"].(map[string]any)
	require.Equal(t, true, custom["has_logo"])
	require.Equal(t, fmt.Sprintf("/api/config/%d/logo", id), custom["logo_url"])

	// The logo endpoint serves the decoded bytes.
	logoResp, err := http.Get(e.http.URL + fmt.Sprintf("/api/config/%d/logo", id))
	require.NoError(t, err)
	defer logoResp.Body.Close()
	require.Equal(t, http.StatusOK, logoResp.StatusCode)
	require.Equal(t, "image/png", logoResp.Header.Get("content-type"))

	// Another document must not see or delete the configuration.
	otherResp, err := http.Get(e.http.URL + fmt.Sprintf("/api/config/load/%d?doc_id=autre", id))
	require.NoError(t, err)
	otherResp.Body.Close()
	require.Equal(t, http.StatusNotFound, otherResp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, e.http.URL+fmt.Sprintf("/api/config/delete/%d", id), nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)

	_, body = e.get(t, "/api/config/list")
	require.Empty(t, body["configs"])
}

func TestConfigListWithoutDocID(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.get(t, "/api/config/list")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

var errBoom = errors.New("boom")

func TestRecovererTurnsPanicInto500(t *testing.T) {
	e := newTestEnv(t)
	e.server.newSource = func(string, string, string) grist.Source {
		panic(errBoom)
	}
	resp, _ := e.postJSON(t, "/api/connect", map[string]string{
		"api_url": "u", "api_token": "t", "doc_id": "d",
	})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
