// Package expansion implements the Expansion Engine of spec §4.3: the four
// combinatorial strategies (Sniper, Battering Ram, Pitchfork, Cluster Bomb)
// plus Mutation, turning (template, placeholders, payload sets) into an
// ordered list of concrete request blobs with provenance.
package expansion

import "strings"

// token is one element of a tokenized template: either a literal text run,
// or a placeholder occurrence (named or, for Sniper's `<<>>`, unnamed).
type token struct {
	text          string
	isPlaceholder bool
	name          string // empty for the unnamed `<<>>` token
}

// literal reconstructs the original text of a placeholder token when it is
// left unsubstituted (spec §4.3: "an <<UNKNOWN>> present in the template but
// not declared is left as literal text").
func (t token) literal() string {
	if !t.isPlaceholder {
		return t.text
	}
	return "<<" + t.name + ">>"
}

// tokenize splits template into literal and placeholder tokens. A
// placeholder starts at "<<" and ends at the next ">>"; its NAME is any run
// of non-">" characters in between (spec §4.3), so "<<>>" is the unnamed
// Sniper token and "<<NAME>>" is a declared placeholder.
func tokenize(template string) []token {
	var tokens []token
	rest := template
	for {
		start := strings.Index(rest, "<<")
		if start < 0 {
			if rest != "" {
				tokens = append(tokens, token{text: rest})
			}
			break
		}
		if start > 0 {
			tokens = append(tokens, token{text: rest[:start]})
		}
		afterOpen := rest[start+2:]
		end := strings.Index(afterOpen, ">>")
		if end < 0 {
			// Unterminated "<<": treat the rest as literal text, not a placeholder.
			tokens = append(tokens, token{text: rest[start:]})
			break
		}
		name := afterOpen[:end]
		tokens = append(tokens, token{isPlaceholder: true, name: name})
		rest = afterOpen[end+2:]
	}
	return tokens
}

// unnamedPositions returns the token indices of every `<<>>` occurrence, in
// template order. Its length is N in spec §4.3's cardinality formulas.
func unnamedPositions(tokens []token) []int {
	var positions []int
	for i, t := range tokens {
		if t.isPlaceholder && t.name == "" {
			positions = append(positions, i)
		}
	}
	return positions
}

// render joins tokens back into text, substituting each placeholder token
// via substitute (which returns the literal reconstruction when it declines
// to substitute).
func render(tokens []token, substitute func(idx int, t token) string) string {
	var b strings.Builder
	for i, t := range tokens {
		if !t.isPlaceholder {
			b.WriteString(t.text)
			continue
		}
		b.WriteString(substitute(i, t))
	}
	return b.String()
}

// seedBlob is the template with every placeholder occurrence — named or
// unnamed — replaced by the empty string (spec §4.3's seed row rule).
func seedBlob(tokens []token) string {
	return render(tokens, func(int, token) string { return "" })
}
