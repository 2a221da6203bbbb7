package tabular

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromAnyShapes(t *testing.T) {
	require.Equal(t, KindNull, FromAny(nil).Kind())
	require.Equal(t, KindBool, FromAny(true).Kind())
	require.Equal(t, KindNumber, FromAny(3.5).Kind())
	require.Equal(t, KindText, FromAny("abc").Kind())
	require.Equal(t, KindList, FromAny([]any{"L", 1.0, 2.0}).Kind())
}

func TestValueStringFiltersListMarker(t *testing.T) {
	v := FromAny([]any{"L", "premier", "second"})
	require.Equal(t, "premier, second", v.String())

	// Attachment-style cells: marker plus numeric ids.
	v = FromAny([]any{"L", 12.0, 34.0})
	require.Equal(t, "12, 34", v.String())
}

func TestValueStringNumbers(t *testing.T) {
	require.Equal(t, "30", Number(30).String())
	require.Equal(t, "3.5", Number(3.5).String())
	require.Equal(t, "", Null().String())
	require.Equal(t, "true", Bool(true).String())
}

func TestValueFloatCoercion(t *testing.T) {
	f, ok := Number(12).Float()
	require.True(t, ok)
	require.Equal(t, 12.0, f)

	f, ok = Text(" 27.5 ").Float()
	require.True(t, ok)
	require.Equal(t, 27.5, f)

	_, ok = Text("abc").Float()
	require.False(t, ok)
	_, ok = Null().Float()
	require.False(t, ok)
}

func TestValueJSONRoundTrip(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`["L","a","b"]`), &v))
	require.Equal(t, KindList, v.Kind())

	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, `["L","a","b"]`, string(b))
}

func TestNormalizeStripsEnvelopeAndHelpers(t *testing.T) {
	envs := []Envelope{
		{ID: 1, Fields: map[string]any{"Nom": "Dupont", "gristHelper_Display": "x", "Age": 30.0}},
		{ID: 2, Fields: map[string]any{"Nom": "Martin", "Ville": "Lyon"}},
	}
	tbl := Normalize(envs)
	require.Len(t, tbl.Rows, 2)
	require.ElementsMatch(t, []string{"Nom", "Age", "Ville"}, tbl.Columns)
	require.NotContains(t, tbl.Columns, "gristHelper_Display")
	require.Equal(t, "Dupont", tbl.Rows[0]["Nom"].String())
	_, ok := tbl.Rows[1]["Age"]
	require.False(t, ok, "missing fields stay missing, not zero-filled")
}

type fakeFetcher struct {
	calls int
	descs []ColumnDescriptor
	err   error
}

func (f *fakeFetcher) Columns(tableID string) ([]ColumnDescriptor, error) {
	f.calls++
	return f.descs, f.err
}

func TestNormalizerColumnTypesCached(t *testing.T) {
	f := &fakeFetcher{descs: []ColumnDescriptor{
		{ID: "Nom", Type: TypeText},
		{ID: "Date_visite", Type: TypeDate},
		{ID: "gristHelper_Display2", Type: TypeText},
	}}
	n := NewNormalizer("doc1", f, NewTypeCache())

	types, err := n.ColumnTypes("T1")
	require.NoError(t, err)
	require.Equal(t, TypeDate, types["Date_visite"])
	require.NotContains(t, types, "gristHelper_Display2")

	_, err = n.ColumnTypes("T1")
	require.NoError(t, err)
	require.Equal(t, 1, f.calls, "second resolution must hit the cache")

	ok, err := n.IsDateColumn("T1", "Date_visite")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = n.IsDateColumn("T1", "Inconnue")
	require.NoError(t, err)
	require.False(t, ok, "unknown columns default to text")
}

func TestNormalizerMetadataFailureIsTyped(t *testing.T) {
	f := &fakeFetcher{err: errTest}
	n := NewNormalizer("doc1", f, NewTypeCache())
	_, err := n.ColumnTypes("T1")
	require.ErrorIs(t, err, ErrRemoteMetadata)
}

var errTest = errors.New("boom")
