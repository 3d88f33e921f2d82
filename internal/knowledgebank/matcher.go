package knowledgebank

import (
	"sort"
	"strings"
)

// Similarity computes the Jaccard similarity of two descriptions: the token
// sets of both strings are compared as |intersection| / |union|. The result
// is always in [0, 1]; identical descriptions score 1.0 and two empty
// strings score 0.0.
func Similarity(a, b string) float64 {
	as := tokenize(a)
	bs := tokenize(b)

	union := make(map[string]struct{}, len(as)+len(bs))
	for t := range as {
		union[t] = struct{}{}
	}
	for t := range bs {
		union[t] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}

	intersection := 0
	for t := range as {
		if _, ok := bs[t]; ok {
			intersection++
		}
	}
	return float64(intersection) / float64(len(union))
}

func tokenize(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(s)) {
		set[word] = struct{}{}
	}
	return set
}

// Match finds the stored pattern whose description is most similar to the
// given one. Only a strictly higher score displaces the current best, so
// ties keep the first candidate in sorted pattern-id order. Returns nil when
// no pattern clears the configured threshold, including for an empty store
// or an empty description.
func (s *fileStore) Match(description string) *Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data.IssuePatterns))
	for id := range s.data.IssuePatterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var best *Match
	bestScore := s.config.MatchThreshold

	for _, id := range ids {
		p := s.data.IssuePatterns[id]
		score := Similarity(description, p.Description)
		if score > bestScore {
			bestScore = score
			best = &Match{
				PatternID:       id,
				Pattern:         p.Pattern,
				Description:     p.Description,
				Similarity:      score,
				HistoricalFixes: append([]HistoricalFix(nil), p.HistoricalFixes...),
			}
		}
	}

	return best
}
