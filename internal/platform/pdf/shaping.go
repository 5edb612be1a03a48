package pdf

import (
	"strings"
	"unicode"

	"github.com/unidoc/garabic"
)

// isRTL reports whether s contains Arabic-script letters.
func isRTL(s string) bool {
	for _, r := range s {
		if isArabicLetter(r) {
			return true
		}
	}
	return false
}

// Arabic-Indic digits sit in the Arabic block but run left to right.
func isArabicLetter(r rune) bool {
	return garabic.IsArabicLetter(r) && !unicode.IsDigit(r)
}

// rtlParagraph reports whether the first strong letter of s is Arabic.
func rtlParagraph(s string) bool {
	for _, r := range s {
		switch {
		case isArabicLetter(r):
			return true
		case unicode.IsLetter(r):
			return false
		}
	}
	return false
}

type runKind int

const (
	spaceRun runKind = iota
	ltrRun
	arabicRun
)

type textRun struct {
	kind runKind
	text string
}

// splitRuns cuts s into direction runs. Spaces between two runs of the same
// kind join them, so "500 mg" stays a single left-to-right run.
func splitRuns(s string) []textRun {
	var raw []textRun
	for _, r := range s {
		k := ltrRun
		switch {
		case unicode.IsSpace(r):
			k = spaceRun
		case isArabicLetter(r):
			k = arabicRun
		}
		if n := len(raw); n > 0 && raw[n-1].kind == k {
			raw[n-1].text += string(r)
			continue
		}
		raw = append(raw, textRun{kind: k, text: string(r)})
	}

	var out []textRun
	for i := 0; i < len(raw); i++ {
		cur := raw[i]
		if cur.kind == spaceRun && len(out) > 0 && i+1 < len(raw) && out[len(out)-1].kind == raw[i+1].kind {
			out[len(out)-1].text += cur.text + raw[i+1].text
			i++
			continue
		}
		out = append(out, cur)
	}
	return out
}

// visual returns s in left-to-right display order with Arabic letters in
// their contextual presentation forms, and whether the paragraph reads right
// to left. Left-to-right runs such as numbers and Latin words keep their
// internal order in either direction.
func visual(s string) (string, bool) {
	if !isRTL(s) {
		return s, false
	}
	rtl := rtlParagraph(s)
	return visualDir(s, rtl), rtl
}

func visualDir(s string, rtl bool) string {
	runs := splitRuns(s)
	if rtl {
		for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
			runs[i], runs[j] = runs[j], runs[i]
		}
	}
	var sb strings.Builder
	for _, r := range runs {
		if r.kind == arabicRun {
			// garabic returns a pure Arabic run already in display order.
			sb.WriteString(garabic.Shape(r.text))
			continue
		}
		sb.WriteString(r.text)
	}
	return sb.String()
}
