// Package grist talks to the Grist document API: table and column
// metadata, record fetches, attachment uploads, and record updates.
package grist

import (
	"errors"

	"github.com/srfd-tools/gristpdf/internal/tabular"
)

// TableInfo identifies one table of the document.
type TableInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Source is the record-source contract the export pipeline depends on.
// Cancellation is not modeled: every call blocks until completion or its
// transport timeout.
type Source interface {
	Validate() bool
	ListTables() ([]TableInfo, error)
	Columns(tableID string) ([]tabular.ColumnDescriptor, error)
	Records(tableID string) ([]tabular.Envelope, error)
	UploadAttachment(filePath string) (int64, error)
	UpdateRecord(tableID string, recordID int64, column string, attachmentID int64) error
}

var (
	// ErrRequest wraps transport-level failures (connection, timeout).
	ErrRequest = errors.New("grist request failed")
	// ErrStatus wraps non-success HTTP responses.
	ErrStatus = errors.New("grist returned an error status")
	// ErrBadResponse wraps responses whose body cannot be interpreted.
	ErrBadResponse = errors.New("unexpected grist response")
)
