package arbitration

import (
	"sort"
	"strconv"

	"github.com/prefctl/prefctl/internal/store"
)

// riskNumeric gives risk levels an ordinal weight for the weighted
// strategy's score formula and for threshold comparisons. Not defined
// explicitly in spec §4.G's prose; low=0/medium=1/high=2 is the natural
// ordering implied by "risk ≥ riskThreshold".
func riskNumeric(r store.RiskLevel) float64 {
	switch r {
	case store.RiskLow:
		return 0
	case store.RiskMedium:
		return 1
	case store.RiskHigh:
		return 2
	default:
		return 0
	}
}

// StrategyResult is the outcome of selecting a winner among a group of
// non-vetoed proposals under one resolution strategy.
type StrategyResult struct {
	Winner     *store.AgentActionProposal
	Suppressed []store.AgentActionProposal
	// Comparison holds, per suppressed proposal ID, the human-readable
	// factor comparison used in that proposal's ActionSuppressed event.
	Comparison map[string]string
	// NoClearWinner is set by consensus when proposals disagree and no
	// strategy can proceed — the caller must escalate with reason
	// "no_clear_winner".
	NoClearWinner bool
}

// selectByPriority ranks proposals by their agent's position in
// priorityOrder (ascending; an agent absent from the order sorts last),
// and declares the first proposal in that order the winner.
func selectByPriority(proposals []store.AgentActionProposal, priorityOrder []string) StrategyResult {
	rank := make(map[string]int, len(priorityOrder))
	for i, agent := range priorityOrder {
		rank[agent] = i
	}
	indexOf := func(agent string) int {
		if r, ok := rank[agent]; ok {
			return r
		}
		return len(priorityOrder)
	}

	ordered := append([]store.AgentActionProposal(nil), proposals...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return indexOf(ordered[i].AgentName) < indexOf(ordered[j].AgentName)
	})

	winner := ordered[0]
	result := StrategyResult{Winner: &winner, Comparison: map[string]string{}}
	for _, p := range ordered[1:] {
		result.Suppressed = append(result.Suppressed, p)
		result.Comparison[p.ID] = "priority " + strconv.Itoa(indexOf(p.AgentName)) + " vs winner priority " + strconv.Itoa(indexOf(winner.AgentName))
	}
	return result
}

// selectByWeighted scores each proposal as
// w.confidence*confidence - w.cost*costEstimate - w.risk*riskNumeric(risk)
// and picks the highest. Ties break by earliest CreatedAt, then by
// proposal ID, for full determinism.
func selectByWeighted(proposals []store.AgentActionProposal, weights store.Weights) StrategyResult {
	score := func(p store.AgentActionProposal) float64 {
		return weights.Confidence*p.ConfidenceScore - weights.Cost*p.CostEstimate - weights.Risk*riskNumeric(p.RiskLevel)
	}

	ordered := append([]store.AgentActionProposal(nil), proposals...)
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := score(ordered[i]), score(ordered[j])
		if si != sj {
			return si > sj
		}
		if ordered[i].CreatedAt != ordered[j].CreatedAt {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	winner := ordered[0]
	winnerScore := score(winner)
	result := StrategyResult{Winner: &winner, Comparison: map[string]string{}}
	for _, p := range ordered[1:] {
		result.Suppressed = append(result.Suppressed, p)
		result.Comparison[p.ID] = formatFloat(score(p)) + " vs winner " + formatFloat(winnerScore)
	}
	return result
}

// selectByVeto picks the highest-confidence proposal among those that
// survived veto gating; the veto pass itself happens before strategy
// selection, so by the time this runs "veto" behaves like a
// confidence-only weighted pick.
func selectByVeto(proposals []store.AgentActionProposal) StrategyResult {
	ordered := append([]store.AgentActionProposal(nil), proposals...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ConfidenceScore != ordered[j].ConfidenceScore {
			return ordered[i].ConfidenceScore > ordered[j].ConfidenceScore
		}
		if ordered[i].CreatedAt != ordered[j].CreatedAt {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	winner := ordered[0]
	result := StrategyResult{Winner: &winner, Comparison: map[string]string{}}
	for _, p := range ordered[1:] {
		result.Suppressed = append(result.Suppressed, p)
		result.Comparison[p.ID] = "confidence " + formatFloat(p.ConfidenceScore) + " vs winner " + formatFloat(winner.ConfidenceScore)
	}
	return result
}

// selectByConsensus declares the first proposal (in submission order) the
// winner only if every proposal's canonicalized proposedValue agrees;
// otherwise it reports NoClearWinner so the caller escalates.
func selectByConsensus(proposals []store.AgentActionProposal) (StrategyResult, error) {
	ordered := append([]store.AgentActionProposal(nil), proposals...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt != ordered[j].CreatedAt {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	var firstHash string
	for i, p := range ordered {
		hash, err := canonicalizeValue(p.ProposedValue)
		if err != nil {
			return StrategyResult{}, err
		}
		if i == 0 {
			firstHash = hash
			continue
		}
		if hash != firstHash {
			return StrategyResult{NoClearWinner: true}, nil
		}
	}

	winner := ordered[0]
	result := StrategyResult{Winner: &winner, Comparison: map[string]string{}}
	for _, p := range ordered[1:] {
		result.Suppressed = append(result.Suppressed, p)
		result.Comparison[p.ID] = "consensus value matches winner; submitted later"
	}
	return result, nil
}

