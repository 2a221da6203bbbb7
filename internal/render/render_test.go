package render

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/srfd-tools/gristpdf/internal/tabular"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.Set(x, 0, color.RGBA{R: 0, G: 0, B: 145, A: 255})
		img.Set(x, 1, color.White)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestFormatCellPriority(t *testing.T) {
	list := tabular.List([]tabular.Value{tabular.Text("premier"), tabular.Text("second")})

	// Lists flatten even in a date column.
	require.Equal(t, "premier, second", FormatCell(list, true))
	require.Equal(t, "15/11/2023", FormatCell(tabular.Number(1700086400), true))
	require.Equal(t, "", FormatCell(tabular.Null(), false))
	require.Equal(t, "30", FormatCell(tabular.Number(30), false))
	require.Equal(t, "Dupont", FormatCell(tabular.Text("Dupont"), false))
	// Non-timestamp numbers in a date column fall back to their raw text.
	require.Equal(t, "12", FormatCell(tabular.Number(12), true))
}

func TestColumnWidthsFillAvailableWidth(t *testing.T) {
	cells := [][]string{
		{"a", "une valeur particulièrement longue qui déborde largement de sa part égale de page"},
		{"b", "court"},
	}
	widths := columnWidths(cells, []string{"ID", "Description"}, nil, 277)
	require.Len(t, widths, 2)

	sum := widths[0] + widths[1]
	require.InDelta(t, 277, sum, 0.001)
	// The long column gets more than the equal share, the short one less.
	require.Greater(t, widths[1], widths[0])
}

func TestColumnWidthsClamp(t *testing.T) {
	// One tiny and one huge column out of four: after clamping, no column
	// may exceed 1.5x or drop below 0.6x of the rescaled equal share.
	cells := [][]string{{"x", "yyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy", "mid", "mid"}}
	cols := []string{"A", "B", "C", "D"}
	widths := columnWidths(cells, cols, nil, 277)

	total := 0.0
	minW, maxW := widths[0], widths[0]
	for _, w := range widths {
		total += w
		if w < minW {
			minW = w
		}
		if w > maxW {
			maxW = w
		}
	}
	require.InDelta(t, 277, total, 0.001)
	// Rescaling preserves ratios, so the spread stays within the clamp band.
	require.LessOrEqual(t, maxW/minW, maxColFactor/minColFactor+0.001)
}

func TestColumnWidthsUsesLabels(t *testing.T) {
	cells := [][]string{{"1", "2"}}
	labels := map[string]string{"c1": "Libellé de colonne suffisamment développé pour dépasser la part égale de page"}
	with := columnWidths(cells, []string{"c1", "c2"}, labels, 277)
	without := columnWidths(cells, []string{"c1", "c2"}, nil, 277)
	require.Greater(t, with[0], without[0])
}

func TestProfileSignerFullName(t *testing.T) {
	require.Equal(t, "Marie Durand", Profile{SignerFirstname: "Marie", SignerName: "Durand"}.SignerFullName())
	require.Equal(t, "Durand", Profile{SignerName: "Durand"}.SignerFullName())
	require.Equal(t, "", Profile{}.SignerFullName())

	require.True(t, Profile{SignerTitle: "Directrice"}.HasSignerInfo())
	require.False(t, Profile{ServiceName: "SRFD"}.HasSignerInfo())
}

func TestProfileImageResolution(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "sig.png"))
	writePNG(t, filepath.Join(root, "default_logo.png"))

	p := Profile{SignaturePath: "sig.png", LogoPath: "missing.png"}

	sig, ok := p.Signature(root)
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "sig.png"), sig)

	_, ok = Profile{SignaturePath: "absent.png"}.Signature(root)
	require.False(t, ok)

	// Missing custom logo falls back to the default asset.
	logo, ok := p.EffectiveLogo(root, "default_logo.png")
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "default_logo.png"), logo)

	_, ok = p.EffectiveLogo(root, "also_missing.png")
	require.False(t, ok)
}

func testRenderer(t *testing.T) (*Renderer, string) {
	t.Helper()
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "logo.png"))
	writePNG(t, filepath.Join(root, "sig.png"))
	r := NewRenderer(root, "logo.png", nil)
	r.now = func() time.Time { return time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC) }
	return r, root
}

func TestRenderWritesPDF(t *testing.T) {
	r, root := testRenderer(t)

	rows := []tabular.Row{
		{"Nom": tabular.Text("Dupont"), "Age": tabular.Number(30), "Date_visite": tabular.Number(1700086400)},
		{"Nom": tabular.Text("Martin"), "Age": tabular.Number(25), "Date_visite": tabular.Null()},
	}
	types := map[string]tabular.ColumnType{"Date_visite": tabular.TypeDateTime, "Age": tabular.TypeNumeric}
	labels := map[string]string{"Nom": "Nom complet"}
	profile := Profile{
		ServiceName:     "SRFD Occitanie",
		SignerFirstname: "Marie",
		SignerName:      "Durand",
		SignerTitle:     "Directrice",
		SignaturePath:   "sig.png",
	}

	out := filepath.Join(root, "rapport.pdf")
	err := r.Render(rows, []string{"Nom", "Age", "Date_visite"}, "Données Ville: Paris", profile, types, labels, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.Equal(t, "%PDF", string(data[:4]))
}

func TestRenderEmptyGroupStillProducesDocument(t *testing.T) {
	r, root := testRenderer(t)

	out := filepath.Join(root, "vide.pdf")
	err := r.Render(nil, []string{"Nom"}, "Données Ville: Lyon", Profile{}, nil, nil, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(data[:4]))
}

func TestRenderPaginatesLongTables(t *testing.T) {
	r, root := testRenderer(t)

	rows := make([]tabular.Row, 80)
	for i := range rows {
		rows[i] = tabular.Row{"Nom": tabular.Text("Ligne"), "Valeur": tabular.Number(float64(i))}
	}

	out := filepath.Join(root, "long.pdf")
	require.NoError(t, r.Render(rows, []string{"Nom", "Valeur"}, "Données Site: Nord", Profile{}, nil, nil, out))

	short := filepath.Join(root, "court.pdf")
	require.NoError(t, r.Render(rows[:2], []string{"Nom", "Valeur"}, "Données Site: Nord", Profile{}, nil, nil, short))

	longInfo, err := os.Stat(out)
	require.NoError(t, err)
	shortInfo, err := os.Stat(short)
	require.NoError(t, err)
	require.Greater(t, longInfo.Size(), shortInfo.Size())
}
