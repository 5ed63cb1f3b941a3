package expansion

import (
	"strings"

	"github.com/yujitounai/fuzzer-api/core"
)

// MutationValue is the sum type spec §9's design note calls for, replacing
// the source's isinstance dispatch on literal-vs-repeat payload values:
// exactly one of Literal(v) or Repeat(v, n) constructs an instance, and
// Materialize is the single place that resolves it to a substitution string.
type MutationValue struct {
	value    string
	repeat   int
	isRepeat bool
}

// Literal builds a plain substitution value.
func Literal(v string) MutationValue { return MutationValue{value: v} }

// RepeatValue builds a repeat-construction value: v repeated n times when
// n > 0, or v itself otherwise (spec §4.3).
func RepeatValue(v string, n int) MutationValue { return MutationValue{value: v, repeat: n, isRepeat: true} }

// Materialize resolves the value to its substitution string.
func (m MutationValue) Materialize() string {
	if m.isRepeat && m.repeat > 0 {
		return strings.Repeat(m.value, m.repeat)
	}
	return m.value
}

// Mutation is one arbitrary caller-specified placeholder mutation (spec
// §4.3): a token naming the `<<TOKEN>>` occurrence to vary, an informational
// strategy label, and the ordered values to emit one request per.
type Mutation struct {
	Token    string
	Label    string
	Values   []MutationValue
}

// ExtractTokens returns the distinct tokens referenced by mutations, in
// first-seen order. The `/mutations` handler uses this to record the
// placeholder names of the CorpusRun it persists (SPEC_FULL §3).
func ExtractTokens(mutations []Mutation) []string {
	seen := make(map[string]bool, len(mutations))
	var tokens []string
	for _, m := range mutations {
		if !seen[m.Token] {
			seen[m.Token] = true
			tokens = append(tokens, m.Token)
		}
	}
	return tokens
}

// ExpandMutations implements spec §4.3's Mutation strategy: one request per
// (mutation, value) pair, substituting only that mutation's token and
// leaving all other placeholders untouched, total = 1 + Σ|values_i|.
func ExpandMutations(template string, mutations []Mutation) ([]core.GeneratedRequest, error) {
	if len(mutations) == 0 {
		return nil, core.NewError("expansion.ExpandMutations", "invalid_expansion", core.ErrInvalidExpansion, "at least one mutation is required")
	}
	tokens := tokenize(template)
	seed := core.GeneratedRequest{Ordinal: 1, Blob: seedBlob(tokens), Provenance: core.Provenance{Original: true}}

	var rows []core.GeneratedRequest
	for _, m := range mutations {
		for _, v := range m.Values {
			substitution := v.Materialize()
			blob := render(tokens, func(_ int, t token) string {
				if t.isPlaceholder && t.name == m.Token {
					return substitution
				}
				return t.literal()
			})
			rows = append(rows, core.GeneratedRequest{
				Blob: blob,
				Provenance: core.Provenance{
					MutationToken: m.Token,
					Assignment:    map[string]string{m.Token: substitution},
				},
			})
		}
	}
	return assemble(seed, rows), nil
}
