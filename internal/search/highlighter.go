package search

import (
	"sort"
	"strings"
	"unicode"
)

// SnippetOptions controls snippet generation.
type SnippetOptions struct {
	// Width is the window size in characters, excluding markers.
	Width    int
	Pre      string
	Post     string
	Ellipsis string
}

// DefaultSnippetOptions wraps matches in ** and uses a 160 character window.
func DefaultSnippetOptions() SnippetOptions {
	return SnippetOptions{Width: 160, Pre: "**", Post: "**", Ellipsis: "..."}
}

// Snippet returns a window of text centred on the first whole-word match of
// any term, cut at word boundaries, with every match wrapped in highlight
// markers. Matching ignores case; the output keeps the original case.
// Whitespace runs are collapsed to single spaces.
func Snippet(text string, terms []string, opts SnippetOptions) string {
	if opts.Width <= 0 {
		opts.Width = DefaultSnippetOptions().Width
	}
	runes := []rune(strings.Join(strings.Fields(text), " "))
	if len(runes) == 0 {
		return ""
	}
	lower := make([]rune, len(runes))
	for i, r := range runes {
		lower[i] = unicode.ToLower(r)
	}
	needles := termRunes(terms)
	matches := findMatches(lower, needles)

	focusStart, focusEnd := 0, 0
	if len(matches) > 0 {
		focusStart, focusEnd = matches[0].start, matches[0].end
	}
	start, end := window(runes, focusStart, focusEnd, opts.Width)

	var b strings.Builder
	if start > 0 {
		b.WriteString(opts.Ellipsis)
	}
	pos := start
	for _, m := range matches {
		if m.start < start || m.end > end {
			continue
		}
		b.WriteString(string(runes[pos:m.start]))
		b.WriteString(opts.Pre)
		b.WriteString(string(runes[m.start:m.end]))
		b.WriteString(opts.Post)
		pos = m.end
	}
	b.WriteString(string(runes[pos:end]))
	if end < len(runes) {
		b.WriteString(opts.Ellipsis)
	}
	return b.String()
}

type span struct{ start, end int }

func termRunes(terms []string) [][]rune {
	var out [][]rune
	seen := map[string]bool{}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		rs := []rune(t)
		for i, r := range rs {
			rs[i] = unicode.ToLower(r)
		}
		out = append(out, rs)
	}
	// longest first so "go-kit" wins over "go" at the same position
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// findMatches returns non-overlapping whole-word matches in order.
func findMatches(text []rune, needles [][]rune) []span {
	var out []span
	for i := 0; i < len(text); {
		if i > 0 && isWordRune(text[i-1]) {
			i++
			continue
		}
		matched := 0
		for _, n := range needles {
			if hasPrefixAt(text, i, n) && (i+len(n) == len(text) || !isWordRune(text[i+len(n)])) {
				matched = len(n)
				break
			}
		}
		if matched == 0 {
			i++
			continue
		}
		out = append(out, span{i, i + matched})
		i += matched
	}
	return out
}

func hasPrefixAt(text []rune, i int, n []rune) bool {
	if len(n) == 0 || i+len(n) > len(text) {
		return false
	}
	for k, r := range n {
		if text[i+k] != r {
			return false
		}
	}
	return true
}

// window picks [start, end) of about width runes around the focus span and
// moves both edges off partial words so no word is cut.
func window(runes []rune, focusStart, focusEnd, width int) (int, int) {
	n := len(runes)
	if n <= width {
		return 0, n
	}
	start := focusStart - (width-(focusEnd-focusStart))/2
	if start > focusStart {
		start = focusStart
	}
	if start+width > n {
		start = n - width
	}
	if start < 0 {
		start = 0
	}
	end := start + width
	if end < focusEnd {
		end = focusEnd
	}

	if start > 0 && runes[start-1] != ' ' && runes[start] != ' ' {
		s := start
		for s < n && runes[s] != ' ' {
			s++
		}
		if s < focusStart {
			start = s
		} else {
			for start > 0 && runes[start-1] != ' ' {
				start--
			}
		}
	}
	for start < n && runes[start] == ' ' {
		start++
	}

	if end < n && runes[end-1] != ' ' && runes[end] != ' ' {
		e := end
		for e > 0 && runes[e-1] != ' ' {
			e--
		}
		if e > focusEnd {
			end = e
		} else {
			for end < n && runes[end] != ' ' {
				end++
			}
		}
	}
	for end > start && runes[end-1] == ' ' {
		end--
	}
	return start, end
}
