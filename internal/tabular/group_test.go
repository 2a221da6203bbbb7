package tabular

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupByTextColumn(t *testing.T) {
	tbl := Table{
		Columns: []string{"Nom", "Ville", "Score"},
		Rows: []Row{
			{"Nom": Text("Dupont"), "Ville": Text("Paris"), "Score": Number(12)},
			{"Nom": Text("Martin"), "Ville": Text("Lyon"), "Score": Number(9)},
			{"Nom": Text("Durand"), "Ville": Text("Paris"), "Score": Number(15)},
		},
	}

	groups, err := GroupBy(tbl, "Ville", []string{"Nom", "Score"}, false)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	require.Equal(t, "Paris", groups[0].Key)
	require.Equal(t, []string{"Nom", "Score"}, groups[0].Columns)
	require.Len(t, groups[0].Rows, 2)
	require.Equal(t, "Dupont", groups[0].Rows[0]["Nom"].String())
	require.Equal(t, "Durand", groups[0].Rows[1]["Nom"].String())

	require.Equal(t, "Lyon", groups[1].Key)
	require.Len(t, groups[1].Rows, 1)

	// Projection drops the grouping column itself when not selected.
	_, present := groups[0].Rows[0]["Ville"]
	require.False(t, present)
}

func TestGroupByDateColumnBucketsByCalendarDay(t *testing.T) {
	tbl := Table{
		Columns: []string{"Nom", "Date_visite"},
		Rows: []Row{
			{"Nom": Text("a"), "Date_visite": Number(1700000000)},
			{"Nom": Text("b"), "Date_visite": Number(1700086400)},
			{"Nom": Text("c"), "Date_visite": Text("quinze novembre")},
		},
	}

	groups, err := GroupBy(tbl, "Date_visite", []string{"Nom"}, true)
	require.NoError(t, err)
	require.Len(t, groups, 2, "two timestamps one day apart give two buckets")
	require.Equal(t, "14/11/2023", groups[0].Key)
	require.Equal(t, "15/11/2023", groups[1].Key)
	// Row c failed conversion and belongs to no group.
	require.Len(t, groups[0].Rows, 1)
	require.Len(t, groups[1].Rows, 1)
}

func TestGroupByDateMatchesPreformattedStrings(t *testing.T) {
	dated := Table{
		Columns: []string{"Nom", "Jour"},
		Rows: []Row{
			{"Nom": Text("a"), "Jour": Number(1700000000)},
			{"Nom": Text("b"), "Jour": Number(1700086400)},
			{"Nom": Text("c"), "Jour": Number(1700001234)}, // same day as a
		},
	}
	preformatted := Table{
		Columns: []string{"Nom", "Jour"},
		Rows: []Row{
			{"Nom": Text("a"), "Jour": Text("14/11/2023")},
			{"Nom": Text("b"), "Jour": Text("15/11/2023")},
			{"Nom": Text("c"), "Jour": Text("14/11/2023")},
		},
	}

	gd, err := GroupBy(dated, "Jour", []string{"Nom"}, true)
	require.NoError(t, err)
	gs, err := GroupBy(preformatted, "Jour", []string{"Nom"}, false)
	require.NoError(t, err)

	require.Len(t, gd, len(gs))
	for i := range gd {
		require.Equal(t, gs[i].Key, gd[i].Key)
		require.Len(t, gd[i].Rows, len(gs[i].Rows))
		for j := range gd[i].Rows {
			require.Equal(t, gs[i].Rows[j]["Nom"].String(), gd[i].Rows[j]["Nom"].String())
		}
	}
}

func TestGroupByNullValuesExcluded(t *testing.T) {
	tbl := Table{
		Columns: []string{"Nom", "Ville"},
		Rows: []Row{
			{"Nom": Text("a"), "Ville": Text("Paris")},
			{"Nom": Text("b"), "Ville": Null()},
		},
	}
	groups, err := GroupBy(tbl, "Ville", nil, false)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Rows, 1)
}

func TestGroupByMissingColumn(t *testing.T) {
	tbl := Table{Columns: []string{"Nom"}, Rows: []Row{{"Nom": Text("a")}}}
	_, err := GroupBy(tbl, "Inexistante", nil, false)
	require.ErrorIs(t, err, ErrMissingColumn)

	_, err = CountGroups(tbl, "Inexistante", false)
	require.ErrorIs(t, err, ErrMissingColumn)
}

func TestCountGroups(t *testing.T) {
	tbl := Table{
		Columns: []string{"Ville"},
		Rows: []Row{
			{"Ville": Text("Paris")},
			{"Ville": Text("Lyon")},
			{"Ville": Text("Paris")},
		},
	}
	n, err := CountGroups(tbl, "Ville", false)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
