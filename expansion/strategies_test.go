package expansion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yujitounai/fuzzer-api/core"
)

func set(name string, payloads ...string) core.PayloadSet {
	return core.PayloadSet{Name: name, Payloads: payloads}
}

// TestSniperBasic is spec §8 scenario 1.
func TestSniperBasic(t *testing.T) {
	rows, err := Expand("q=<<>>&r=<<>>", nil, core.StrategySniper, []core.PayloadSet{set("p", "a", "b")})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	want := []string{"q=&r=", "q=a&r=", "q=&r=a", "q=b&r=", "q=&r=b"}
	for i, w := range want {
		assert.Equal(t, w, rows[i].Blob)
		assert.Equal(t, i+1, rows[i].Ordinal)
	}
	assert.True(t, rows[0].Provenance.Original)
}

// TestBatteringRam is spec §8 scenario 2.
func TestBatteringRam(t *testing.T) {
	rows, err := Expand("u=<<U>>&p=<<U>>", []string{"U"}, core.StrategyBatteringRam, []core.PayloadSet{set("p", "x", "y")})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "u=&p=", rows[0].Blob)
	assert.Equal(t, "u=x&p=x", rows[1].Blob)
	assert.Equal(t, "u=y&p=y", rows[2].Blob)
}

// TestPitchforkAlignment is spec §8 scenario 3.
func TestPitchforkAlignment(t *testing.T) {
	rows, err := Expand("<<A>>:<<B>>", []string{"A", "B"}, core.StrategyPitchfork,
		[]core.PayloadSet{set("a", "1", "2", "3"), set("b", "x", "y")})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ":", rows[0].Blob)
	assert.Equal(t, "1:x", rows[1].Blob)
	assert.Equal(t, "2:y", rows[2].Blob)
}

// TestClusterBombProduct is spec §8 scenario 4.
func TestClusterBombProduct(t *testing.T) {
	rows, err := Expand("<<A>>-<<B>>", []string{"A", "B"}, core.StrategyClusterBomb,
		[]core.PayloadSet{set("a", "1", "2"), set("b", "x", "y")})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	want := []string{"-", "1-x", "1-y", "2-x", "2-y"}
	for i, w := range want {
		assert.Equal(t, w, rows[i].Blob)
	}
}

func TestClusterBombEmptySetYieldsSeedOnly(t *testing.T) {
	rows, err := Expand("<<A>>-<<B>>", []string{"A", "B"}, core.StrategyClusterBomb,
		[]core.PayloadSet{set("a"), set("b", "x")})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Provenance.Original)
}

func TestSniperZeroPlaceholdersSeedOnly(t *testing.T) {
	rows, err := Expand("no placeholders here", nil, core.StrategySniper, []core.PayloadSet{set("p", "a")})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestBatteringRamSinglePayloadSizeOneYieldsTwoRows(t *testing.T) {
	rows, err := Expand("v=<<V>>", []string{"V"}, core.StrategyBatteringRam, []core.PayloadSet{set("p", "x")})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestBatteringRamNoPayloadSetsErrors(t *testing.T) {
	_, err := Expand("v=<<V>>", []string{"V"}, core.StrategyBatteringRam, nil)
	require.Error(t, err)
	assert.True(t, core.IsInvalidInput(err))
}

func TestPitchforkWrongSetCountErrors(t *testing.T) {
	_, err := Expand("<<A>>:<<B>>", []string{"A", "B"}, core.StrategyPitchfork, []core.PayloadSet{set("a", "1")})
	require.Error(t, err)
}

func TestClusterBombWrongSetCountErrors(t *testing.T) {
	_, err := Expand("<<A>>:<<B>>", []string{"A", "B"}, core.StrategyClusterBomb, []core.PayloadSet{set("a", "1")})
	require.Error(t, err)
}

func TestUndeclaredPlaceholderLeftLiteral(t *testing.T) {
	rows, err := Expand("x=<<X>>&y=<<Y>>", []string{"X"}, core.StrategyBatteringRam, []core.PayloadSet{set("p", "1")})
	require.NoError(t, err)
	assert.Equal(t, "x=1&y=<<Y>>", rows[1].Blob)
}

func TestDeclaredPlaceholderAbsentFromTemplateNeverSubstituted(t *testing.T) {
	rows, err := Expand("x=<<X>>", []string{"X", "Z"}, core.StrategyBatteringRam, []core.PayloadSet{set("p", "1")})
	require.NoError(t, err)
	assert.Equal(t, "x=1", rows[1].Blob)
}

func TestExpansionDeterministic(t *testing.T) {
	payloads := []core.PayloadSet{set("a", "1", "2"), set("b", "x", "y")}
	rows1, err := Expand("<<A>>-<<B>>", []string{"A", "B"}, core.StrategyClusterBomb, payloads)
	require.NoError(t, err)
	rows2, err := Expand("<<A>>-<<B>>", []string{"A", "B"}, core.StrategyClusterBomb, payloads)
	require.NoError(t, err)
	assert.Equal(t, rows1, rows2)
}

func TestExpandMutations(t *testing.T) {
	rows, err := ExpandMutations("id=<<ID>>", []Mutation{
		{Token: "ID", Label: "sqli", Values: []MutationValue{Literal("1"), RepeatValue("A", 5)}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Provenance.Original)
	assert.Equal(t, "id=1", rows[1].Blob)
	assert.Equal(t, "id=AAAAA", rows[2].Blob)
}

func TestExtractTokens(t *testing.T) {
	tokens := ExtractTokens([]Mutation{{Token: "A"}, {Token: "B"}, {Token: "A"}})
	assert.Equal(t, []string{"A", "B"}, tokens)
}
