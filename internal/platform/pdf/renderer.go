// Package pdf renders plain clinical text into a paginated PDF with embedded
// TrueType fonts.
//
// Each line is written with the first configured font whose character map
// covers every rune of the line. Arabic-script lines are shaped into
// presentation forms and reordered for display, with left-to-right runs such
// as doses and units kept in reading order. A line that no font can
// encode is left out of the document and reported in Document.Skipped; the
// rest of the document still renders.
package pdf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-pdf/fpdf"
	"github.com/rs/zerolog"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

type ErrorKind string

const (
	FontUnavailable ErrorKind = "font_unavailable"
	EncodingFailure ErrorKind = "encoding_failure"
)

// RenderError describes a font problem or a line that could not be encoded.
// Line is 1-based within the body and zero for errors not tied to a line.
type RenderError struct {
	Kind   ErrorKind
	Line   int
	Detail string
}

func (e *RenderError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("pdf %s at line %d: %s", e.Kind, e.Line, e.Detail)
	}
	return fmt.Sprintf("pdf %s: %s", e.Kind, e.Detail)
}

// FontSource is a TrueType font to embed.
type FontSource struct {
	Name string
	Data []byte
}

// DefaultFonts returns the built-in Go Regular face. It covers Latin, Greek
// and Cyrillic but not Arabic.
func DefaultFonts() []FontSource {
	return []FontSource{{Name: "goregular", Data: goregular.TTF}}
}

// LoadFontFiles reads TrueType files from disk in the given order.
func LoadFontFiles(paths []string) ([]FontSource, error) {
	out := make([]FontSource, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, &RenderError{Kind: FontUnavailable, Detail: err.Error()}
		}
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		out = append(out, FontSource{Name: name, Data: data})
	}
	return out, nil
}

type loadedFont struct {
	family string
	data   []byte
	face   *sfnt.Font
}

// covers reports whether every printable rune of s has a glyph.
func (f *loadedFont) covers(s string) bool {
	var buf sfnt.Buffer
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		idx, err := f.face.GlyphIndex(&buf, r)
		if err != nil || idx == 0 {
			return false
		}
	}
	return true
}

// Field is a labelled header line such as "Patient: Aisha Khan".
type Field struct {
	Label string
	Value string
}

// Document is a rendered PDF.
type Document struct {
	Bytes   []byte
	Pages   int
	Skipped []RenderError
}

type Options struct {
	Fonts    []FontSource
	Facility string
	Creator  string
	Logger   zerolog.Logger
}

type Renderer struct {
	fonts    []*loadedFont
	facility string
	creator  string
	logger   zerolog.Logger
	now      func() time.Time
	onCell   func(lineNo int, text string)
}

// NewRenderer parses every font up front. An empty font list falls back to
// DefaultFonts.
func NewRenderer(opts Options) (*Renderer, error) {
	sources := opts.Fonts
	if len(sources) == 0 {
		sources = DefaultFonts()
	}

	r := &Renderer{
		facility: opts.Facility,
		creator:  opts.Creator,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if r.creator == "" {
		r.creator = "clinixnote"
	}
	for i, src := range sources {
		face, err := sfnt.Parse(src.Data)
		if err != nil {
			return nil, &RenderError{Kind: FontUnavailable, Detail: fmt.Sprintf("parse font %q: %v", src.Name, err)}
		}
		r.fonts = append(r.fonts, &loadedFont{
			family: fmt.Sprintf("f%d", i),
			data:   src.Data,
			face:   face,
		})
	}
	return r, nil
}

// Render lays out the facility line, the title, the header fields and the
// body. Blank body lines separate paragraphs.
func (r *Renderer) Render(title string, fields []Field, body string) (*Document, error) {
	p := fpdf.New("P", "mm", "A4", "")
	p.SetCreationDate(r.now())
	p.SetTitle(title, true)
	p.SetCreator(r.creator, true)
	p.SetMargins(18, 18, 18)
	p.SetAutoPageBreak(true, 20)

	for _, f := range r.fonts {
		p.AddUTF8FontFromBytes(f.family, "", f.data)
	}
	if p.Err() {
		return nil, &RenderError{Kind: FontUnavailable, Detail: p.Error().Error()}
	}

	base := r.fonts[0].family
	p.AliasNbPages("")
	p.SetFooterFunc(func() {
		p.SetY(-15)
		p.SetFont(base, "", 8)
		p.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", p.PageNo()), "", 0, "C", false, 0, "")
	})
	p.AddPage()

	w := &writer{r: r, p: p}
	if r.facility != "" {
		w.line(0, r.facility, 9, 4.5, "C")
		p.Ln(2)
	}
	w.line(0, title, 16, 8, "C")
	p.Ln(2)
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			continue
		}
		w.line(0, f.Label+": "+f.Value, 10, 5.5, "")
	}

	y := p.GetY() + 2
	left, _, right, _ := p.GetMargins()
	pageW, _ := p.GetPageSize()
	p.Line(left, y, pageW-right, y)
	p.SetY(y + 4)

	for i, raw := range strings.Split(body, "\n") {
		text := strings.TrimRight(raw, " \t\r")
		if text == "" {
			p.Ln(3)
			continue
		}
		w.line(i+1, text, 11, 6, "")
	}

	if p.Err() {
		return nil, &RenderError{Kind: EncodingFailure, Detail: p.Error().Error()}
	}

	var buf bytes.Buffer
	if err := p.Output(&buf); err != nil {
		return nil, &RenderError{Kind: EncodingFailure, Detail: err.Error()}
	}
	return &Document{Bytes: buf.Bytes(), Pages: p.PageCount(), Skipped: w.skipped}, nil
}

type writer struct {
	r       *Renderer
	p       *fpdf.Fpdf
	skipped []RenderError
}

// line writes one logical line. align "" means natural alignment for the
// script. lineNo is 0 for header lines.
func (w *writer) line(lineNo int, text string, size, height float64, align string) {
	text = clean(text)
	vis, rtl := visual(text)

	font := w.r.pick(vis)
	if font == nil {
		w.skipped = append(w.skipped, RenderError{
			Kind:   EncodingFailure,
			Line:   lineNo,
			Detail: "no configured font covers this line",
		})
		w.r.logger.Warn().Int("line", lineNo).Bool("rtl", rtl).Msg("pdf line skipped: no font covers its characters")
		return
	}

	if align == "" {
		align = "L"
		if rtl {
			align = "R"
		}
	}

	w.p.SetFont(font.family, "", size)
	if !rtl {
		w.emit(lineNo, vis)
		w.p.MultiCell(0, height, vis, "", align, false)
		return
	}
	// Wrap in logical order so the first printed row starts the sentence.
	for _, row := range w.wrapRTL(text) {
		row = visualDir(row, true)
		w.emit(lineNo, row)
		w.p.CellFormat(0, height, row, "", 1, align, false, 0, "")
	}
}

// wrapRTL breaks a right-to-left line into rows that fit the text width,
// measured on their display form.
func (w *writer) wrapRTL(text string) []string {
	left, _, right, _ := w.p.GetMargins()
	pageW, _ := w.p.GetPageSize()
	width := pageW - left - right

	var rows []string
	cur := ""
	for _, word := range strings.Fields(text) {
		next := word
		if cur != "" {
			next = cur + " " + word
		}
		if cur != "" && w.p.GetStringWidth(visualDir(next, true)) > width {
			rows = append(rows, cur)
			next = word
		}
		cur = next
	}
	if cur != "" {
		rows = append(rows, cur)
	}
	return rows
}

func (w *writer) emit(lineNo int, text string) {
	if w.r.onCell != nil {
		w.r.onCell(lineNo, text)
	}
}

func (r *Renderer) pick(text string) *loadedFont {
	for _, f := range r.fonts {
		if f.covers(text) {
			return f
		}
	}
	return nil
}

// clean drops invisible formatting runes and expands tabs.
func clean(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t':
			return ' '
		case unicode.Is(unicode.Cf, r), unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}
