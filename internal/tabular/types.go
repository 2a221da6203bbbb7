package tabular

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ColumnType is the declared semantic type of a column.
type ColumnType string

const (
	TypeText     ColumnType = "Text"
	TypeNumeric  ColumnType = "Numeric"
	TypeDate     ColumnType = "Date"
	TypeDateTime ColumnType = "DateTime"
	TypeOther    ColumnType = "Other"
)

// IsDate reports whether the type carries calendar-date semantics.
func (t ColumnType) IsDate() bool {
	return t == TypeDate || t == TypeDateTime
}

// ColumnDescriptor is a column's identifier plus the metadata the engines need.
type ColumnDescriptor struct {
	ID    string
	Type  ColumnType
	Label string
}

// Envelope is the wrapper an external record arrives in: an identifier plus
// a loosely-typed field map.
type Envelope struct {
	ID     int64
	Fields map[string]any
}

// Row is one flat record: column identifier -> cell value.
type Row map[string]Value

// Table is an ordered set of rows with a stable column order.
type Table struct {
	Columns []string
	Rows    []Row
}

// helperColumnPrefix marks internal helper columns of the external system;
// they never surface in normalized tables.
const helperColumnPrefix = "gristHelper_"

// ErrRemoteMetadata wraps failures fetching column metadata from the source.
// Callers must not treat it as "no date columns".
var ErrRemoteMetadata = errors.New("remote column metadata unavailable")

// MetadataFetcher supplies column descriptors for a table. Implemented by
// the record source client.
type MetadataFetcher interface {
	Columns(tableID string) ([]ColumnDescriptor, error)
}

// TypeCache caches resolved column types per (document, table). Entries are
// never evicted; staleness lasts until process restart or an explicit
// Invalidate call.
type TypeCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]ColumnType
}

func NewTypeCache() *TypeCache {
	return &TypeCache{entries: make(map[string]map[string]ColumnType)}
}

func cacheKey(docID, tableID string) string {
	return docID + "\x00" + tableID
}

// GetOrFetch returns the cached type map for (docID, tableID), populating it
// via fetch on a miss. Concurrent populations of the same key race
// harmlessly; last write wins.
func (c *TypeCache) GetOrFetch(docID, tableID string, fetch func() (map[string]ColumnType, error)) (map[string]ColumnType, error) {
	key := cacheKey(docID, tableID)

	c.mu.RLock()
	if m, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	m, err := fetch()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = m
	c.mu.Unlock()
	return m, nil
}

// Invalidate drops the cached entry for (docID, tableID). The request
// paths never call it; cached types live until restart.
func (c *TypeCache) Invalidate(docID, tableID string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(docID, tableID))
	c.mu.Unlock()
}

// Normalizer converts raw record envelopes into flat tables and resolves
// declared column types through the shared cache.
type Normalizer struct {
	docID   string
	fetcher MetadataFetcher
	cache   *TypeCache
}

func NewNormalizer(docID string, fetcher MetadataFetcher, cache *TypeCache) *Normalizer {
	if cache == nil {
		cache = NewTypeCache()
	}
	return &Normalizer{docID: docID, fetcher: fetcher, cache: cache}
}

// ColumnTypes resolves the declared type of every column of tableID,
// cached per (document, table).
func (n *Normalizer) ColumnTypes(tableID string) (map[string]ColumnType, error) {
	return n.cache.GetOrFetch(n.docID, tableID, func() (map[string]ColumnType, error) {
		descs, err := n.fetcher.Columns(tableID)
		if err != nil {
			return nil, fmt.Errorf("%w: table %s: %v", ErrRemoteMetadata, tableID, err)
		}
		types := make(map[string]ColumnType, len(descs))
		for _, d := range descs {
			if strings.HasPrefix(d.ID, helperColumnPrefix) {
				continue
			}
			types[d.ID] = d.Type
		}
		return types, nil
	})
}

// IsDateColumn reports whether column is declared Date or DateTime.
// Unknown columns default to text semantics.
func (n *Normalizer) IsDateColumn(tableID, column string) (bool, error) {
	types, err := n.ColumnTypes(tableID)
	if err != nil {
		return false, err
	}
	return types[column].IsDate(), nil
}

// Normalize strips the envelope wrapper, yielding one row per record.
// Helper columns of the external system are dropped. Column order is the
// order of first appearance across records.
func Normalize(envelopes []Envelope) Table {
	t := Table{Rows: make([]Row, 0, len(envelopes))}
	seen := make(map[string]bool)
	for _, env := range envelopes {
		ids := make([]string, 0, len(env.Fields))
		for id := range env.Fields {
			if strings.HasPrefix(id, helperColumnPrefix) {
				continue
			}
			ids = append(ids, id)
		}
		sort.Strings(ids)

		row := make(Row, len(ids))
		for _, id := range ids {
			row[id] = FromAny(env.Fields[id])
			if !seen[id] {
				seen[id] = true
				t.Columns = append(t.Columns, id)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
