// ABOUTME: Masks blocked words in visitor messages before they are stored
// ABOUTME: Matches with an Aho-Corasick automaton over a normalized copy of the text

package moderation

import (
	"fmt"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// DefaultMask replaces each character of a blocked word.
const DefaultMask = '*'

// lookalikes maps digits and symbols commonly typed in place of letters.
var lookalikes = map[rune]rune{
	'4': 'a', '@': 'a',
	'3': 'e', '€': 'e',
	'1': 'i', '!': 'i', '|': 'i',
	'0': 'o',
	'5': 's', '$': 's',
	'7': 't',
}

// Moderator masks blocked words. A nil Moderator leaves text untouched.
type Moderator struct {
	machine *goahocorasick.Machine
	mask    rune
}

// New builds a Moderator for words. Words that normalize to nothing are
// ignored; if none remain, New returns nil and no error.
func New(words []string, mask rune) (*Moderator, error) {
	if mask == 0 {
		mask = DefaultMask
	}

	var patterns [][]rune
	for _, w := range words {
		p := normalize([]rune(strings.TrimSpace(w))).runes
		for len(p) > 0 && p[0] == ' ' {
			p = p[1:]
		}
		for len(p) > 0 && p[len(p)-1] == ' ' {
			p = p[:len(p)-1]
		}
		if len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("building word matcher: %w", err)
	}
	return &Moderator{machine: m, mask: mask}, nil
}

// Censor returns text with every blocked word masked. Only whole words
// match: "s.c.a.m" is masked, "scampi" and "is camping" are not. Separators
// inside a match are masked too; text around the match is preserved.
func (m *Moderator) Censor(text string) string {
	if m == nil || text == "" {
		return text
	}

	original := []rune(text)
	nt := normalize(original)
	hits := m.matches(nt)
	if len(hits) == 0 {
		return text
	}

	for _, h := range hits {
		for i := nt.pos[h[0]]; i <= nt.pos[h[1]-1]; i++ {
			original[i] = m.mask
		}
	}
	return string(original)
}

// Blocked reports whether text contains any blocked word.
func (m *Moderator) Blocked(text string) bool {
	if m == nil {
		return false
	}
	return len(m.matches(normalize([]rune(text)))) > 0
}

// matches returns the [start, end) ranges of whole-word hits in nt.
func (m *Moderator) matches(nt normalized) [][2]int {
	if len(nt.runes) == 0 {
		return nil
	}
	var out [][2]int
	for _, hit := range m.machine.MultiPatternSearch(nt.runes, false) {
		start, end := hit.Pos, hit.Pos+len(hit.Word)
		if start < 0 || end > len(nt.runes) {
			continue
		}
		if nt.boundary(start) && nt.boundary(end) {
			out = append(out, [2]int{start, end})
		}
	}
	return out
}

// normalized is a folded copy of a text. Runs of whitespace collapse to one
// ' ', which patterns can only cross if they contain a space themselves.
// Punctuation is dropped but remembered as a word break.
type normalized struct {
	runes []rune
	pos   []int  // index of runes[i] in the original text
	split []bool // punctuation was dropped right before runes[i]
}

// boundary reports whether a word may start or end at index i.
func (n normalized) boundary(i int) bool {
	if i <= 0 || i >= len(n.runes) {
		return true
	}
	return n.runes[i] == ' ' || n.runes[i-1] == ' ' || n.split[i]
}

func normalize(in []rune) normalized {
	n := normalized{
		runes: make([]rune, 0, len(in)),
		pos:   make([]int, 0, len(in)),
		split: make([]bool, 0, len(in)),
	}
	split := false
	for i, r := range in {
		switch {
		case unicode.IsSpace(r):
			if k := len(n.runes); k > 0 && n.runes[k-1] == ' ' {
				continue
			}
			r = ' '
		case standsForLetter(in, i):
			r = lookalikes[r]
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			split = true
			continue
		default:
			r = unicode.ToLower(r)
		}
		n.runes = append(n.runes, r)
		n.pos = append(n.pos, i)
		n.split = append(n.split, split)
		split = false
	}
	return n
}

// standsForLetter reports whether in[i] is a look-alike used as a letter.
// Digits next to other digits are numbers ("53x", "1700"). A digit needs a
// neighbouring letter; a symbol needs a letter right after it, so trailing
// "!" stays punctuation.
func standsForLetter(in []rune, i int) bool {
	r := in[i]
	if _, ok := lookalikes[r]; !ok {
		return false
	}
	var prev, next rune
	if i > 0 {
		prev = in[i-1]
	}
	if i+1 < len(in) {
		next = in[i+1]
	}
	if unicode.IsDigit(prev) || unicode.IsDigit(next) {
		return false
	}
	if unicode.IsDigit(r) {
		return unicode.IsLetter(prev) || unicode.IsLetter(next)
	}
	return unicode.IsLetter(next)
}
