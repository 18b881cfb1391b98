// Package rank scores merged search results with a transparent weighted
// formula. Every sub-score is clamped to [0,1] before weighting, so the
// composite score is itself in [0,1] and comparable across entity types.
package rank

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/domain/search/result"
)

// Weights are the relative contributions of each ranking signal.
type Weights struct {
	Text      float64
	Fuzzy     float64
	Recency   float64
	Activity  float64
	Ownership float64
}

// DefaultWeights returns the published scoring formula:
// 0.4 text + 0.2 fuzzy + 0.2 recency + 0.1 activity + 0.1 ownership.
func DefaultWeights() Weights {
	return Weights{Text: 0.4, Fuzzy: 0.2, Recency: 0.2, Activity: 0.1, Ownership: 0.1}
}

// Engine ranks search results.
type Engine struct {
	weights Weights
}

// New creates an Engine. Zero weights fall back to the defaults.
func New(w Weights) *Engine {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Engine{weights: w}
}

// Rank scores every result in place and sorts by score descending. The sort
// is stable, so results with equal scores keep the entity registration order
// they arrived in. A malformed result scores what its remaining signals give
// it; it never aborts the batch.
func (e *Engine) Rank(results []result.Result, queryText string, p domain.Principal) {
	now := time.Now().UTC()
	q := strings.ToLower(strings.TrimSpace(queryText))

	for i := range results {
		results[i].Score = e.score(&results[i], q, p, now)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

func (e *Engine) score(r *result.Result, q string, p domain.Principal, now time.Time) float64 {
	s := e.weights.Text*textRelevance(r) +
		e.weights.Fuzzy*fuzzyMatch(r.Title, q) +
		e.weights.Recency*recency(r, now) +
		e.weights.Activity*activity(r) +
		e.weights.Ownership*ownership(r, p)
	return clamp(s)
}

// textRelevance reads the source's own relevance signal from metadata. A
// source that reports none sits at the neutral midpoint rather than the
// bottom, so match-all queries still rank on the other signals.
func textRelevance(r *result.Result) float64 {
	raw, ok := r.Metadata[result.MetaRelevance]
	if !ok || raw == "" {
		return 0.5
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0.5
	}
	return clamp(v)
}

// fuzzyMatch compares the query against the result title. Whole-string
// matches dominate: exact 1.0, prefix 0.95, substring 0.85. Otherwise each
// query word contributes 1.0 for an exact word hit or 0.8 for a close one,
// normalized by the query word count.
func fuzzyMatch(title, q string) float64 {
	if q == "" {
		return 0.5
	}
	t := strings.ToLower(title)
	switch {
	case t == q:
		return 1.0
	case strings.HasPrefix(t, q):
		return 0.95
	case strings.Contains(t, q):
		return 0.85
	}

	qWords := strings.Fields(q)
	if len(qWords) == 0 {
		return 0.5
	}
	tWords := strings.Fields(t)

	var sum float64
	for _, qw := range qWords {
		best := 0.0
		for _, tw := range tWords {
			if qw == tw {
				best = 1.0
				break
			}
			if wordSimilarity(qw, tw) >= 0.7 && best < 0.8 {
				best = 0.8
			}
		}
		sum += best
	}
	return clamp(sum / float64(len(qWords)))
}

// wordSimilarity is a cheap positional character overlap with bonuses for
// matching first and last characters. Good enough to catch typos like
// "jhon" for "john" without pulling in an edit-distance dependency.
func wordSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}
	ra, rb := []rune(a), []rune(b)

	shorter := la
	if lb < shorter {
		shorter = lb
	}
	longer := la
	if lb > longer {
		longer = lb
	}

	matches := 0
	for i := 0; i < shorter; i++ {
		if ra[i] == rb[i] {
			matches++
		}
	}

	s := float64(matches) / float64(longer)
	if ra[0] == rb[0] {
		s += 0.1
	}
	if ra[la-1] == rb[lb-1] {
		s += 0.1
	}
	return clamp(s)
}

// recency buckets creation age. Results without a creation timestamp sit at
// the neutral midpoint.
func recency(r *result.Result, now time.Time) float64 {
	raw, ok := r.Metadata[result.MetaCreatedAt]
	if !ok || raw == "" {
		return 0.5
	}
	created, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0.5
	}

	age := now.Sub(created)
	switch {
	case age < 7*24*time.Hour:
		return 1.0
	case age < 30*24*time.Hour:
		return 0.8
	case age < 90*24*time.Hour:
		return 0.6
	case age < 365*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

// activity rewards items demanding attention: overdue first, then priority.
func activity(r *result.Result) float64 {
	if r.Metadata[result.MetaOverdue] == "true" {
		return 1.0
	}
	switch strings.ToLower(r.Metadata[result.MetaPriority]) {
	case "urgent", "critical", "high":
		return 0.9
	case "medium":
		return 0.6
	default:
		return 0.4
	}
}

// ownership rewards the principal's relationship to the item: owner over
// assignee over team member over stranger.
func ownership(r *result.Result, p domain.Principal) float64 {
	if p.ID == "" {
		return 0.3
	}
	switch {
	case r.Metadata[result.MetaOwnerID] == p.ID:
		return 1.0
	case r.Metadata[result.MetaAssignee] == p.ID:
		return 0.8
	case p.InTeam(r.Metadata[result.MetaTeamID]):
		return 0.6
	default:
		return 0.3
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
