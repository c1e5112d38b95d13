// Package command maps free-text and voice utterances to typed actions via
// deterministic fuzzy scoring against a phrase registry.
package command

import (
	"strings"
	"sync"

	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/metrics"
)

// Scoring constants. Downstream behavior depends on these exact values;
// do not tune them.
const (
	exactScore       = 1.0
	containmentScore = 0.9
	acceptThreshold  = 0.6
)

// Action is what a matched phrase maps to.
type Action struct {
	Name   string
	Target string
}

type entry struct {
	phrase string
	action Action
}

// Registry holds phrase-to-action bindings in registration order. Ties
// break toward the first-registered phrase.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register binds a phrase to an action. Re-registering a phrase replaces
// the action but keeps the original position.
func (r *Registry) Register(phrase string, action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].phrase == phrase {
			r.entries[i].action = action
			return
		}
	}
	r.entries = append(r.entries, entry{phrase: phrase, action: action})
}

// Len returns the number of registered phrases.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Parse scores the utterance against every registered phrase and returns
// the best match, or UNRECOGNIZED when nothing clears the threshold.
// Never errors; malformed input is just an unrecognized utterance.
func (r *Registry) Parse(utterance string) models.CommandMatch {
	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	normalized := normalize(utterance)

	best := models.CommandMatch{
		InputText:  utterance,
		Status:     models.MatchUnrecognized,
		Confidence: 0,
	}
	// An empty utterance is contained in every phrase; short-circuit it
	// before it can score as a containment match.
	if normalized == "" {
		return best
	}
	bestScore := 0.0

	for _, e := range entries {
		score := scorePhrase(normalized, normalize(e.phrase))
		// Strict > keeps the first-registered phrase on ties.
		if score > bestScore {
			bestScore = score
			best.MatchedPhrase = e.phrase
			best.Action = e.action.Name
			best.Target = e.action.Target
		}
	}

	if bestScore >= acceptThreshold {
		best.Status = models.MatchMatched
		best.Confidence = bestScore
	} else {
		best = models.CommandMatch{
			InputText:  utterance,
			Status:     models.MatchUnrecognized,
			Confidence: 0,
		}
	}
	return best
}

// ParseRecorded is Parse plus a metrics record of the outcome.
func (r *Registry) ParseRecorded(utterance string, m *metrics.Metrics) models.CommandMatch {
	match := r.Parse(utterance)
	m.RecordCommandParsed(string(match.Status))
	return match
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// scorePhrase scores one candidate against the normalized utterance:
// exact match 1.0, containment either way 0.9, otherwise a greedy
// left-to-right subsequence walk that only counts when the entire
// candidate matched in order.
func scorePhrase(utterance, candidate string) float64 {
	if candidate == "" {
		return 0
	}
	if utterance == candidate {
		return exactScore
	}
	if strings.Contains(utterance, candidate) || strings.Contains(candidate, utterance) {
		return containmentScore
	}
	return subsequenceRatio(utterance, candidate)
}

func subsequenceRatio(utterance, candidate string) float64 {
	matched := 0
	ci := 0
	cRunes := []rune(candidate)
	for _, u := range utterance {
		if ci < len(cRunes) && u == cRunes[ci] {
			matched++
			ci++
		}
	}
	if ci < len(cRunes) {
		// Candidate not fully consumed as a subsequence.
		return 0
	}
	return float64(matched) / float64(len(cRunes))
}
