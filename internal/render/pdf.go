package render

import (
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/srfd-tools/gristpdf/internal/tabular"
	"github.com/srfd-tools/gristpdf/pkg/telemetry"
)

// Page layout constants, in millimeters on landscape A4.
const (
	marginLeft   = 10.0
	marginRight  = 10.0
	marginTop    = 10.0
	marginBottom = 30.0 // leaves room for the footer band

	logoHeight   = 18.0
	logoMaxWidth = 50.0

	headerRowHeight = 8.0
	bodyRowHeight   = 6.0

	// charWidth approximates one character of 7pt body text when
	// estimating content-driven column widths.
	charWidth = 1.5

	minColFactor = 0.6
	maxColFactor = 1.5
)

const generatedLayout = "02/01/2006 à 15:04"

// Renderer turns grouped rows into paginated PDF files.
type Renderer struct {
	root        string
	defaultLogo string
	log         *telemetry.Logger
	now         func() time.Time
}

// NewRenderer builds a renderer. root anchors relative image paths;
// defaultLogo is the asset used when a profile has no usable custom logo.
func NewRenderer(root, defaultLogo string, log *telemetry.Logger) *Renderer {
	if log == nil {
		log = telemetry.Nop
	}
	return &Renderer{root: root, defaultLogo: defaultLogo, log: log, now: time.Now}
}

// pageGeometry is the page box handed to the footer decoration.
type pageGeometry struct {
	Width  float64
	Height float64
}

// Render writes one paginated report to outPath: header band, title, data
// table with a repeating header row, and the per-page footer. Any layout
// or write failure is fatal for the document.
func (r *Renderer) Render(rows []tabular.Row, columns []string, title string, profile Profile,
	types map[string]tabular.ColumnType, labels map[string]string, outPath string) error {

	pdf := fpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(marginLeft, marginTop, marginRight)
	pdf.SetAutoPageBreak(true, marginBottom)

	pageW, pageH := pdf.GetPageSize()
	geo := pageGeometry{Width: pageW, Height: pageH}

	sigPath, hasSig := profile.Signature(r.root)
	if profile.SignaturePath != "" && !hasSig {
		r.log.Warn("signature image unresolved, omitting", map[string]any{"path": profile.SignaturePath})
	}
	generated := r.now()

	// The footer is drawn by an explicit decoration function per page,
	// including pages created purely by table pagination.
	pdf.SetFooterFunc(func() {
		drawFooter(pdf, tr, pdf.PageNo(), geo, profile, sigPath, hasSig, generated)
	})

	pdf.AddPage()
	r.drawHeaderBand(pdf, tr, geo, profile)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(0, 0, 145)
	pdf.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	if len(rows) == 0 {
		pdf.SetFont("Helvetica", "", 12)
		pdf.SetTextColor(200, 0, 0)
		pdf.CellFormat(0, 10, tr("Aucune donnée à afficher pour ce filtre"), "", 1, "C", false, 0, "")
	} else {
		r.drawTable(pdf, tr, geo, rows, columns, types, labels)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render %s: %w", outPath, err)
	}
	return pdf.OutputFileAndClose(outPath)
}

// drawHeaderBand places the logo left and the service name right. With no
// resolvable logo the band degrades to the heading alone.
func (r *Renderer) drawHeaderBand(pdf *fpdf.Fpdf, tr func(string) string, geo pageGeometry, profile Profile) {
	service := profile.ServiceName
	if service == "" {
		service = DefaultServiceName
	}

	bandBottom := marginTop + logoHeight

	logoPath, hasLogo := profile.EffectiveLogo(r.root, r.defaultLogo)
	if profile.LogoPath != "" && !fileExists(resolvePath(r.root, profile.LogoPath)) {
		r.log.Warn("custom logo unresolved, falling back to default", map[string]any{"path": profile.LogoPath})
	}
	if hasLogo {
		opts := fpdf.ImageOptions{ReadDpi: false}
		info := pdf.RegisterImageOptions(logoPath, opts)
		if info != nil && info.Height() > 0 {
			w := logoHeight * info.Width() / info.Height()
			h := logoHeight
			if w > logoMaxWidth {
				w = logoMaxWidth
				h = w * info.Height() / info.Width()
			}
			pdf.ImageOptions(logoPath, marginLeft, marginTop, w, h, false, opts, 0, "")
		}
	}

	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(0, 0, 145)
	textX := marginLeft + logoMaxWidth + 5
	pdf.SetXY(textX, marginTop)
	pdf.MultiCell(geo.Width-marginRight-textX, 7, tr(service), "", "R", false)

	pdf.SetY(bandBottom + 5)
}

func (r *Renderer) drawTable(pdf *fpdf.Fpdf, tr func(string) string, geo pageGeometry,
	rows []tabular.Row, columns []string, types map[string]tabular.ColumnType, labels map[string]string) {

	avail := geo.Width - marginLeft - marginRight
	cells := formatRows(rows, columns, types)
	widths := columnWidths(cells, columns, labels, avail)

	headerRow := func() {
		pdf.SetFont("Helvetica", "B", 8)
		pdf.SetFillColor(0, 0, 145)
		pdf.SetTextColor(255, 255, 255)
		pdf.SetDrawColor(128, 128, 128)
		for i, col := range columns {
			label := col
			if l, ok := labels[col]; ok && l != "" {
				label = l
			}
			pdf.CellFormat(widths[i], headerRowHeight, tr(label), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}

	headerRow()
	pdf.SetFont("Helvetica", "", 7)
	for rowIdx, row := range cells {
		if pdf.GetY()+bodyRowHeight > geo.Height-marginBottom {
			pdf.AddPage()
			headerRow()
			pdf.SetFont("Helvetica", "", 7)
		}
		if rowIdx%2 == 1 {
			pdf.SetFillColor(248, 249, 250)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		pdf.SetTextColor(0, 0, 0)
		for i := range columns {
			pdf.CellFormat(widths[i], bodyRowHeight, tr(row[i]), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
	}
}

// formatRows pre-renders every cell to its display text, one slice per row
// in column order.
func formatRows(rows []tabular.Row, columns []string, types map[string]tabular.ColumnType) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		line := make([]string, len(columns))
		for j, col := range columns {
			line[j] = FormatCell(row[col], types[col].IsDate())
		}
		out[i] = line
	}
	return out
}

// FormatCell renders one cell for display. Priority order: list cells
// flatten (the list-type marker is filtered out), date columns go through
// the date formatter, nulls blank, everything else stringifies.
func FormatCell(v tabular.Value, dateColumn bool) string {
	if v.Kind() == tabular.KindList {
		return v.String()
	}
	if dateColumn {
		return tabular.FormatDateValue(v)
	}
	return v.String()
}

// columnWidths allocates column widths: each column gets the larger of 60%
// of the equal share and its estimated content width, capped at 150% of
// the share, then everything rescales proportionally to fill avail exactly.
func columnWidths(cells [][]string, columns []string, labels map[string]string, avail float64) []float64 {
	n := len(columns)
	if n == 0 {
		return nil
	}
	base := avail / float64(n)

	widths := make([]float64, n)
	total := 0.0
	for i, col := range columns {
		label := col
		if l, ok := labels[col]; ok && l != "" {
			label = l
		}
		contentLen := len([]rune(label))
		for _, row := range cells {
			if l := len([]rune(row[i])); l > contentLen {
				contentLen = l
			}
		}
		w := float64(contentLen) * charWidth
		if min := base * minColFactor; w < min {
			w = min
		}
		if max := base * maxColFactor; w > max {
			w = max
		}
		widths[i] = w
		total += w
	}

	scale := avail / total
	for i := range widths {
		widths[i] *= scale
	}
	return widths
}

// drawFooter is the page decoration: separator line, signer identity with
// the inset signature image, page number, and generation timestamp. It is
// invoked once per page and must produce the same layout on each.
func drawFooter(pdf *fpdf.Fpdf, tr func(string) string, pageNo int, geo pageGeometry,
	profile Profile, sigPath string, hasSig bool, generated time.Time) {

	sepY := geo.Height - 25
	pdf.SetDrawColor(221, 221, 221)
	pdf.SetLineWidth(0.2)
	pdf.Line(marginLeft, sepY, geo.Width-marginRight, sepY)

	leftX := 15.0
	if profile.HasSignerInfo() {
		pdf.SetTextColor(102, 102, 102)
		full := profile.SignerFullName()
		var nameWidth float64
		if full != "" {
			pdf.SetFont("Helvetica", "", 8)
			pdf.Text(leftX, geo.Height-18, tr(full))
			nameWidth = pdf.GetStringWidth(tr(full))
		}
		if profile.SignerTitle != "" {
			pdf.SetFont("Helvetica", "", 7)
			pdf.Text(leftX, geo.Height-14, tr(profile.SignerTitle))
		}
		if hasSig {
			// Inset signature right after the rendered name.
			sigX := leftX + nameWidth + 15
			pdf.ImageOptions(sigPath, sigX, geo.Height-23, 20, 10, false, fpdf.ImageOptions{ReadDpi: false}, 0, "")
		}
	}

	pdf.SetTextColor(102, 102, 102)
	pdf.SetFont("Helvetica", "", 8)
	pageText := fmt.Sprintf("Page %d", pageNo)
	pdf.Text(geo.Width-marginRight-5-pdf.GetStringWidth(pageText), geo.Height-18, pageText)

	pdf.SetFont("Helvetica", "", 7)
	genText := tr("Généré le " + generated.Format(generatedLayout))
	pdf.Text(geo.Width-marginRight-5-pdf.GetStringWidth(genText), geo.Height-14, genText)
}
