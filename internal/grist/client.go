package grist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/srfd-tools/gristpdf/internal/tabular"
)

const (
	defaultTimeout = 30 * time.Second
	// Attachment uploads get a longer bound: PDF payloads over slow links
	// routinely exceed the default.
	uploadTimeout   = 60 * time.Second
	validateTimeout = 5 * time.Second
)

// Client is an HTTP client for one Grist document.
type Client struct {
	baseURL string
	token   string
	docID   string
	httpc   *http.Client
	uploads *http.Client
}

// NewClient builds a client for docID at baseURL, authenticating with a
// bearer token.
func NewClient(baseURL, token, docID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		docID:   docID,
		httpc:   &http.Client{Timeout: defaultTimeout},
		uploads: &http.Client{Timeout: uploadTimeout},
	}
}

// DocID returns the document this client is bound to.
func (c *Client) DocID() string { return c.docID }

func (c *Client) docURL(parts ...string) string {
	u := c.baseURL + "/api/docs/" + c.docID
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	return resp, nil
}

func (c *Client) getJSON(url string, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequest, err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %d from %s: %s", ErrStatus, resp.StatusCode, url, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

// Validate checks that the document is reachable with the configured
// credentials.
func (c *Client) Validate() bool {
	req, err := http.NewRequest(http.MethodGet, c.docURL(), nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	short := &http.Client{Timeout: validateTimeout}
	resp, err := short.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListTables returns the document's tables. Labels default to the id when
// the metadata carries none.
func (c *Client) ListTables() ([]TableInfo, error) {
	var payload struct {
		Tables []struct {
			ID     string `json:"id"`
			Fields struct {
				Label string `json:"label"`
			} `json:"fields"`
		} `json:"tables"`
	}
	if err := c.getJSON(c.docURL("tables"), &payload); err != nil {
		return nil, err
	}
	out := make([]TableInfo, 0, len(payload.Tables))
	for _, t := range payload.Tables {
		label := t.Fields.Label
		if label == "" {
			label = t.ID
		}
		out = append(out, TableInfo{ID: t.ID, Label: label})
	}
	return out, nil
}

// Columns returns the table's column descriptors with their declared
// types mapped to the internal enum and display labels resolved.
func (c *Client) Columns(tableID string) ([]tabular.ColumnDescriptor, error) {
	var payload struct {
		Columns []struct {
			ID     string `json:"id"`
			ColID  string `json:"colId"`
			Type   string `json:"type"`
			Fields struct {
				Type  string `json:"type"`
				Label string `json:"label"`
			} `json:"fields"`
		} `json:"columns"`
	}
	if err := c.getJSON(c.docURL("tables", tableID, "columns"), &payload); err != nil {
		return nil, err
	}
	out := make([]tabular.ColumnDescriptor, 0, len(payload.Columns))
	for _, col := range payload.Columns {
		id := col.ID
		if id == "" {
			id = col.ColID
		}
		if id == "" {
			continue
		}
		rawType := col.Fields.Type
		if rawType == "" {
			rawType = col.Type
		}
		label := col.Fields.Label
		if label == "" {
			label = id
		}
		out = append(out, tabular.ColumnDescriptor{
			ID:    id,
			Type:  mapColumnType(rawType),
			Label: label,
		})
	}
	return out, nil
}

// mapColumnType folds raw Grist type strings onto the internal enum.
// DateTime types carry a timezone suffix ("DateTime:Europe/Paris").
func mapColumnType(raw string) tabular.ColumnType {
	switch {
	case raw == "Date":
		return tabular.TypeDate
	case strings.HasPrefix(raw, "DateTime"):
		return tabular.TypeDateTime
	case raw == "Numeric", raw == "Int":
		return tabular.TypeNumeric
	case raw == "Text", raw == "", strings.HasPrefix(raw, "Choice"):
		return tabular.TypeText
	default:
		return tabular.TypeOther
	}
}

// Records fetches all record envelopes of a table.
func (c *Client) Records(tableID string) ([]tabular.Envelope, error) {
	var payload struct {
		Records []struct {
			ID     int64          `json:"id"`
			Fields map[string]any `json:"fields"`
		} `json:"records"`
	}
	if err := c.getJSON(c.docURL("tables", tableID, "records"), &payload); err != nil {
		return nil, err
	}
	out := make([]tabular.Envelope, 0, len(payload.Records))
	for _, r := range payload.Records {
		out = append(out, tabular.Envelope{ID: r.ID, Fields: r.Fields})
	}
	return out, nil
}

// UploadAttachment uploads the file as a document attachment and returns
// the new attachment id. Bounded by the upload timeout.
func (c *Client) UploadAttachment(filePath string) (int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("upload", filepath.Base(filePath))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRequest, err)
	}

	req, err := http.NewRequest(http.MethodPost, c.docURL("attachments"), &buf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.uploads.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: upload of %s: %v", ErrRequest, filepath.Base(filePath), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("%w: %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Grist answers with a list of created attachment ids.
	var ids []int64
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil || len(ids) == 0 {
		return 0, fmt.Errorf("%w: expected attachment id list", ErrBadResponse)
	}
	return ids[0], nil
}

// UpdateRecord sets column on one record to reference the attachment.
// The leading "L" marker is the wire format for list-typed cells.
func (c *Client) UpdateRecord(tableID string, recordID int64, column string, attachmentID int64) error {
	payload := map[string]any{
		"records": []map[string]any{
			{
				"id": recordID,
				"fields": map[string]any{
					column: []any{"L", attachmentID},
				},
			},
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req, err := http.NewRequest(http.MethodPatch, c.docURL("tables", tableID, "records"), bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
