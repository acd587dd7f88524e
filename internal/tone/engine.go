// Package tone implements the deterministic tone/register rewrite applied to
// refined transcripts.
//
// An Engine is compiled once from a set of Rules and is safe for concurrent
// use: Rewrite is a pure function of its input text, the mode and the
// compiled tables.
//
//	neutral  whitespace normalization only
//	formal   contractions → expansions → drop intensifiers
//	casual   simplifications
//	concise  drop hedges → drop intensifiers
//
// Every mode finishes with CollapseWhitespace.
package tone

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNilRules is returned by NewEngine when no rule tables are supplied.
var ErrNilRules = errors.New("tone: nil rules")

// Engine applies mode-specific rewrites.
type Engine struct {
	contractions    *phraseTable
	expansions      *phraseTable
	simplifications *phraseTable
	hedges          *phraseTable
	intensifiers    map[string]struct{}
}

// NewEngine validates rules and compiles them. Malformed tables are reported
// here so that Rewrite never fails.
func NewEngine(rules *Rules) (*Engine, error) {
	if rules == nil {
		return nil, ErrNilRules
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("tone: %w", err)
	}

	intensifiers := make(map[string]struct{}, len(rules.Intensifiers))
	for _, w := range rules.Intensifiers {
		intensifiers[normalizeKey(w)] = struct{}{}
	}

	return &Engine{
		contractions:    newPhraseTable(rules.Contractions),
		expansions:      newPhraseTable(rules.Expansions),
		simplifications: newPhraseTable(rules.Simplifications),
		hedges:          newRemovalTable(rules.Hedges),
		intensifiers:    intensifiers,
	}, nil
}

// NewDefaultEngine compiles the embedded default tables.
func NewDefaultEngine() (*Engine, error) {
	rules, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	return NewEngine(rules)
}

// Rewrite returns text rewritten for mode. It panics if mode is not one of
// the declared Mode constants; callers validate modes at construction.
func (e *Engine) Rewrite(text string, mode Mode) string {
	var out string
	switch mode {
	case ModeNeutral:
		out = text
	case ModeFormal:
		out = e.contractions.Replace(text)
		out = e.expansions.Replace(out)
		out = e.dropIntensifiers(out)
	case ModeCasual:
		out = e.simplifications.Replace(text)
	case ModeConcise:
		out = e.hedges.Replace(text)
		out = e.dropIntensifiers(out)
	default:
		panic(fmt.Sprintf("tone: rewrite with %v", mode))
	}
	return CollapseWhitespace(out)
}

// dropIntensifiers removes whole whitespace-delimited tokens only. A token
// carrying punctuation ("very,") is kept so punctuation is never lost.
func (e *Engine) dropIntensifiers(text string) string {
	if len(e.intensifiers) == 0 {
		return text
	}
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if _, ok := e.intensifiers[strings.Map(foldRune, f)]; ok {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}
