// Package tally counts a materialized vote list against the league's fixed
// pass threshold. It performs no quorum or status checks; those are
// preconditions owned by the voting state machine.
package tally

import "strings"

const (
	ChoiceYes     = "yes"
	ChoiceNo      = "no"
	ChoiceAbstain = "abstain"
)

type Totals struct {
	Yes     int `json:"yes"`
	No      int `json:"no"`
	Abstain int `json:"abstain"`
	Total   int `json:"total"`
}

// NormalizeChoice lowercases and trims a raw ballot value, returning the
// canonical choice string and whether it is recognized.
func NormalizeChoice(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ChoiceYes:
		return ChoiceYes, true
	case ChoiceNo:
		return ChoiceNo, true
	case ChoiceAbstain:
		return ChoiceAbstain, true
	default:
		return "", false
	}
}

// Count tallies stored choice strings. Comparison is case-insensitive;
// unrecognized values are ignored (the ledger only accepts normalized
// choices, so anything else is historical noise, not a ballot).
func Count(choices []string) Totals {
	var totals Totals
	for _, raw := range choices {
		choice, ok := NormalizeChoice(raw)
		if !ok {
			continue
		}
		switch choice {
		case ChoiceYes:
			totals.Yes++
		case ChoiceNo:
			totals.No++
		case ChoiceAbstain:
			totals.Abstain++
		}
	}
	totals.Total = totals.Yes + totals.No + totals.Abstain
	return totals
}

// Passed applies the fixed-threshold rule: a proposal passes when the yes
// count reaches the threshold. Abstentions and missing ballots both count
// against reaching it.
func Passed(totals Totals, threshold int) bool {
	return totals.Yes >= threshold
}
