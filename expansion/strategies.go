package expansion

import (
	"github.com/yujitounai/fuzzer-api/core"
)

// Expand runs the expansion engine for one of the four non-Mutation
// strategies (spec §4.3), always emitting the seed "original" row first.
func Expand(template string, placeholders []string, strategy core.Strategy, payloadSets []core.PayloadSet) ([]core.GeneratedRequest, error) {
	tokens := tokenize(template)

	seed := core.GeneratedRequest{Ordinal: 1, Blob: seedBlob(tokens), Provenance: core.Provenance{Original: true}}
	var rows []core.GeneratedRequest

	switch strategy {
	case core.StrategySniper:
		generated, err := sniper(tokens, payloadSets)
		if err != nil {
			return nil, err
		}
		rows = generated
	case core.StrategyBatteringRam:
		generated, err := batteringRam(tokens, placeholders, payloadSets)
		if err != nil {
			return nil, err
		}
		rows = generated
	case core.StrategyPitchfork:
		generated, err := pitchfork(tokens, placeholders, payloadSets)
		if err != nil {
			return nil, err
		}
		rows = generated
	case core.StrategyClusterBomb:
		generated, err := clusterBomb(tokens, placeholders, payloadSets)
		if err != nil {
			return nil, err
		}
		rows = generated
	default:
		return nil, core.NewError("expansion.Expand", "invalid_expansion", core.ErrInvalidExpansion, "unknown strategy: "+string(strategy))
	}

	return assemble(seed, rows), nil
}

// assemble numbers the seed plus generated rows into a contiguous 1-based
// ordinal sequence (spec §3 invariant: ordinals are 1..total).
func assemble(seed core.GeneratedRequest, rows []core.GeneratedRequest) []core.GeneratedRequest {
	out := make([]core.GeneratedRequest, 0, len(rows)+1)
	seed.Ordinal = 1
	out = append(out, seed)
	for i, r := range rows {
		r.Ordinal = i + 2
		out = append(out, r)
	}
	return out
}

// sniper implements spec §4.3's Sniper strategy: one payload set, one
// `<<>>` occurrence substituted at a time, total = 1 + N·|S_0|.
func sniper(tokens []token, payloadSets []core.PayloadSet) ([]core.GeneratedRequest, error) {
	if len(payloadSets) != 1 {
		return nil, core.NewError("expansion.sniper", "invalid_expansion", core.ErrInvalidExpansion, "sniper requires exactly one payload set")
	}
	set := payloadSets[0]
	if len(set.Payloads) == 0 {
		return nil, core.NewError("expansion.sniper", "invalid_expansion", core.ErrInvalidExpansion, "sniper requires a non-empty payload set")
	}
	positions := unnamedPositions(tokens)

	var rows []core.GeneratedRequest
	for _, payload := range set.Payloads {
		for occ, pos := range positions {
			target := pos
			blob := render(tokens, func(idx int, t token) string {
				if !t.isPlaceholder || t.name != "" {
					return t.literal()
				}
				if idx == target {
					return payload
				}
				return ""
			})
			rows = append(rows, core.GeneratedRequest{
				Blob: blob,
				Provenance: core.Provenance{
					SniperToken:    "<<>>",
					SniperPosition: occ,
					SniperPayload:  payload,
				},
			})
		}
	}
	return rows, nil
}

// batteringRam implements spec §4.3's Battering Ram strategy: one payload
// set, the same payload substituted at every declared NAME simultaneously,
// total = 1 + |S_0|.
func batteringRam(tokens []token, placeholders []string, payloadSets []core.PayloadSet) ([]core.GeneratedRequest, error) {
	if len(payloadSets) == 0 {
		return nil, core.NewError("expansion.batteringRam", "invalid_expansion", core.ErrInvalidExpansion, "battering ram requires a payload set")
	}
	if len(payloadSets) != 1 {
		return nil, core.NewError("expansion.batteringRam", "invalid_expansion", core.ErrInvalidExpansion, "battering ram requires exactly one payload set")
	}
	set := payloadSets[0]

	var rows []core.GeneratedRequest
	for _, payload := range set.Payloads {
		blob := render(tokens, func(_ int, t token) string {
			if t.isPlaceholder && contains(placeholders, t.name) {
				return payload
			}
			return t.literal()
		})
		rows = append(rows, core.GeneratedRequest{
			Blob: blob,
			Provenance: core.Provenance{
				RamPayload:      payload,
				RamPlaceholders: placeholders,
			},
		})
	}
	return rows, nil
}

// pitchfork implements spec §4.3's Pitchfork strategy: exactly K payload
// sets aligned by index, total = 1 + min(|S_0|..|S_{K-1}|).
func pitchfork(tokens []token, placeholders []string, payloadSets []core.PayloadSet) ([]core.GeneratedRequest, error) {
	k := len(placeholders)
	if len(payloadSets) != k {
		return nil, core.NewError("expansion.pitchfork", "invalid_expansion", core.ErrInvalidExpansion, "pitchfork requires exactly as many payload sets as declared placeholders")
	}
	n := minSetLen(payloadSets)

	var rows []core.GeneratedRequest
	for i := 0; i < n; i++ {
		assignment := make(map[string]string, k)
		for j, name := range placeholders {
			assignment[name] = payloadSets[j].Payloads[i]
		}
		rows = append(rows, core.GeneratedRequest{
			Blob:       renderAssignment(tokens, assignment),
			Provenance: core.Provenance{Assignment: assignment},
		})
	}
	return rows, nil
}

// clusterBomb implements spec §4.3's Cluster Bomb strategy: exactly K
// payload sets, full cross-product in lexicographic order with the first
// placeholder varying slowest, total = 1 + ∏|S_i|.
func clusterBomb(tokens []token, placeholders []string, payloadSets []core.PayloadSet) ([]core.GeneratedRequest, error) {
	k := len(placeholders)
	if len(payloadSets) != k {
		return nil, core.NewError("expansion.clusterBomb", "invalid_expansion", core.ErrInvalidExpansion, "cluster bomb requires exactly as many payload sets as declared placeholders")
	}
	for _, set := range payloadSets {
		if len(set.Payloads) == 0 {
			// spec §9 Open Question: an empty payload set yields 0 non-seed rows.
			return nil, nil
		}
	}

	var rows []core.GeneratedRequest
	indices := make([]int, k)
	for {
		assignment := make(map[string]string, k)
		for j, name := range placeholders {
			assignment[name] = payloadSets[j].Payloads[indices[j]]
		}
		rows = append(rows, core.GeneratedRequest{
			Blob:       renderAssignment(tokens, assignment),
			Provenance: core.Provenance{Assignment: assignment},
		})

		// Advance like an odometer, last placeholder fastest, so the first
		// placeholder varies slowest per spec.
		pos := k - 1
		for pos >= 0 {
			indices[pos]++
			if indices[pos] < len(payloadSets[pos].Payloads) {
				break
			}
			indices[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return rows, nil
}

func renderAssignment(tokens []token, assignment map[string]string) string {
	return render(tokens, func(_ int, t token) string {
		if t.isPlaceholder {
			if v, ok := assignment[t.name]; ok {
				return v
			}
		}
		return t.literal()
	})
}

func minSetLen(sets []core.PayloadSet) int {
	if len(sets) == 0 {
		return 0
	}
	min := len(sets[0].Payloads)
	for _, s := range sets[1:] {
		if len(s.Payloads) < min {
			min = len(s.Payloads)
		}
	}
	return min
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
