package tone

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// phraseTable is a rune trie compiled once from a rule table. Replace walks
// the text a single time and, at every word boundary, substitutes the
// longest key that matches there.
type phraseTable struct {
	root *trieNode
}

type trieNode struct {
	children map[rune]*trieNode
	terminal bool
	value    string
}

func newPhraseTable(entries map[string]string) *phraseTable {
	t := &phraseTable{root: &trieNode{}}
	for k, v := range entries {
		t.insert(k, v)
	}
	return t
}

// newRemovalTable compiles phrases that are replaced by nothing.
func newRemovalTable(phrases []string) *phraseTable {
	t := &phraseTable{root: &trieNode{}}
	for _, p := range phrases {
		t.insert(p, "")
	}
	return t
}

func (t *phraseTable) insert(key, value string) {
	n := t.root
	for _, r := range normalizeKey(key) {
		if n.children == nil {
			n.children = make(map[rune]*trieNode)
		}
		child, ok := n.children[r]
		if !ok {
			child = &trieNode{}
			n.children[r] = child
		}
		n = child
	}
	n.terminal = true
	n.value = value
}

// Replace returns text with every matched key substituted. Text between
// matches is copied through byte for byte, invalid UTF-8 included.
func (t *phraseTable) Replace(text string) string {
	if text == "" || len(t.root.children) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	copied := 0

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if i > 0 && isWordRune(r) {
			if prev, _ := utf8.DecodeLastRuneInString(text[:i]); isWordRune(prev) {
				i += size
				continue
			}
		}
		end, value, ok := t.longest(text, i)
		if !ok {
			i += size
			continue
		}
		b.WriteString(text[copied:i])
		b.WriteString(matchCase(value, r))
		copied, i = end, end
	}
	if copied == 0 {
		return text
	}
	b.WriteString(text[copied:])
	return b.String()
}

// longest returns the end offset and value of the longest key matching at
// text[start:], honouring the trailing word boundary. Invalid UTF-8 never
// matches.
func (t *phraseTable) longest(text string, start int) (int, string, bool) {
	n := t.root
	best := -1
	var value string

	for j := start; j < len(text); {
		r, size := utf8.DecodeRuneInString(text[j:])
		if r == utf8.RuneError && size <= 1 {
			break
		}
		var next *trieNode
		if unicode.IsSpace(r) {
			next = n.children[' ']
			for j < len(text) {
				r, size = utf8.DecodeRuneInString(text[j:])
				if !unicode.IsSpace(r) {
					break
				}
				j += size
			}
		} else {
			next = n.children[foldRune(r)]
			j += size
		}
		if next == nil {
			break
		}
		n = next
		if n.terminal && endsOnBoundary(text, j) {
			best, value = j, n.value
		}
	}

	if best < 0 {
		return 0, "", false
	}
	return best, value, true
}

func endsOnBoundary(text string, end int) bool {
	if last, _ := utf8.DecodeLastRuneInString(text[:end]); !isWordRune(last) {
		return true
	}
	if end == len(text) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(text[end:])
	return !isWordRune(next)
}

// matchCase upper-cases the first rune of replacement when the matched span
// started with an upper-case rune.
func matchCase(replacement string, first rune) string {
	if replacement == "" || !unicode.IsUpper(first) {
		return replacement
	}
	r, size := utf8.DecodeRuneInString(replacement)
	return string(unicode.ToUpper(r)) + replacement[size:]
}

// isWordRune treats apostrophes as part of a word so that contractions are
// matched whole.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '\'' || r == '’'
}

func foldRune(r rune) rune {
	if r == '’' {
		return '\''
	}
	return unicode.ToLower(r)
}

// normalizeKey lower-cases a key, folds curly apostrophes and collapses
// inner whitespace to single spaces.
func normalizeKey(key string) string {
	key = CollapseWhitespace(key)
	return strings.Map(foldRune, key)
}

// CollapseWhitespace replaces every run of whitespace with a single space
// and trims both ends. It is idempotent.
func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
