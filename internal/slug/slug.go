// Package slug turns song titles into object-key fragments. Ideograph runs
// are romanized through a reading table, everything else is kept as typed.
package slug

import (
	"math/rand/v2"
	"strings"
	"unicode/utf8"
)

// SuffixLength is the number of random characters appended to a slug
const SuffixLength = 6

const suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Table maps an ideograph to its romanized readings, most common first
type Table interface {
	Readings(r rune) []string
}

// Source is a non-cryptographic random source
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Generator produces slugs from titles
type Generator struct {
	table Table
	rnd   Source
}

// NewGenerator creates a generator. A nil table falls back to pinyin and a
// nil source to the process-wide math/rand generator.
func NewGenerator(table Table, rnd Source) *Generator {
	if table == nil {
		table = NewPinyinTable()
	}
	if rnd == nil {
		rnd = globalSource{}
	}
	return &Generator{table: table, rnd: rnd}
}

// Run is a maximal substring that is either all ideographs or free of them
type Run struct {
	Text      string
	Ideograph bool
}

// IsIdeograph reports whether r is in the CJK Unified Ideographs block
func IsIdeograph(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

// HasIdeograph reports whether s contains at least one ideograph
func HasIdeograph(s string) bool {
	return strings.IndexFunc(s, IsIdeograph) >= 0
}

// Segment splits s into alternating ideograph and non-ideograph runs
func Segment(s string) []Run {
	var runs []Run
	start := 0
	for start < len(s) {
		first, _ := utf8.DecodeRuneInString(s[start:])
		kind := IsIdeograph(first)
		end := start
		for end < len(s) {
			r, size := utf8.DecodeRuneInString(s[end:])
			if IsIdeograph(r) != kind {
				break
			}
			end += size
		}
		runs = append(runs, Run{Text: s[start:end], Ideograph: kind})
		start = end
	}
	return runs
}

// Romanize replaces every ideograph of text with its first reading. Other
// characters are copied unchanged; ideographs without a reading are dropped.
func (g *Generator) Romanize(text string) string {
	var b strings.Builder
	for _, run := range Segment(text) {
		if !run.Ideograph {
			b.WriteString(run.Text)
			continue
		}
		for _, r := range run.Text {
			if readings := g.table.Readings(r); len(readings) > 0 {
				b.WriteString(readings[0])
			}
		}
	}
	return b.String()
}

// Generate returns the lowercased romanized title followed by SuffixLength
// random characters from [A-Za-z0-9]
func (g *Generator) Generate(title string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(g.Romanize(title)))
	for i := 0; i < SuffixLength; i++ {
		b.WriteByte(suffixAlphabet[g.rnd.IntN(len(suffixAlphabet))])
	}
	return b.String()
}

// Fragment is the title part of an object key: the title itself when it
// has no ideographs, a generated slug otherwise. The result is sanitized.
func (g *Generator) Fragment(title string) string {
	if HasIdeograph(title) {
		return SanitizeKey(g.Generate(title))
	}
	return SanitizeKey(title)
}

// SanitizeKey replaces every character outside [A-Za-z0-9-_] with '_'
func SanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
