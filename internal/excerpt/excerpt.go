// Package excerpt implements the Deterministic Excerpt Selector (§4.5): a
// tiered fallback chain over the Whitelist that always returns what
// evidence is actually available, never padding with fabrications.
package excerpt

import (
	"sort"

	"github.com/AssafLanir/ideas-edition-core/internal/coverage"
	"github.com/AssafLanir/ideas-edition-core/internal/roster"
	"github.com/AssafLanir/ideas-edition-core/internal/whitelist"
)

// Counts is the configurable §4.5 excerpt-count table: how many excerpts a
// chapter at each coverage level should receive. The zero value is not
// meaningful; always start from DefaultCounts.
type Counts struct {
	Strong int
	Medium int
	Weak   int
}

// DefaultCounts returns the §4.5 baseline excerpt counts (2 WEAK, 3 MEDIUM,
// 4 STRONG).
func DefaultCounts() Counts {
	return Counts{Strong: 4, Medium: 3, Weak: 2}
}

// RequiredCount returns how many excerpts a chapter at the given coverage
// level should receive under counts.
func RequiredCount(level coverage.Level, counts Counts) int {
	switch level {
	case coverage.LevelStrong:
		return counts.Strong
	case coverage.LevelMedium:
		return counts.Medium
	default:
		return counts.Weak
	}
}

// Select runs the five-tier fallback chain against wl for the given
// effective chapter index, returning at least `required` excerpts whenever
// the whitelist has that many available. The first four tiers are additive
// and capped at `required`: each contributes quotes not already chosen, in
// tier order, until the cap is reached or every tier is exhausted. Tier 5 is
// uncapped by design — it is not a fallback for insufficient *count*, it is
// a grounding guarantee for the specific claims this chapter's prompt asks
// the model to cover, so a valid Core-Claim support quote is appended
// whenever it was not already picked up by tiers 1-4, even if that grows the
// result past `required`.
func Select(wl *whitelist.Whitelist, effectiveChapterIndex int, level coverage.Level, counts Counts, coreClaimSupportQuoteIDs []string) []whitelist.Quote {
	required := RequiredCount(level, counts)
	chosen := make([]whitelist.Quote, 0, required)
	seen := map[string]struct{}{}

	add := func(candidates []whitelist.Quote) {
		for _, c := range candidates {
			if len(chosen) >= required {
				return
			}
			if _, ok := seen[c.QuoteID]; ok {
				continue
			}
			seen[c.QuoteID] = struct{}{}
			chosen = append(chosen, c)
		}
	}

	scoped := wl.ForChapter(effectiveChapterIndex)
	all := wl.Quotes()

	// Tier 1: GUEST-role, scoped to this chapter.
	add(sortTier(filter(scoped, isGuest)))
	// Tier 2: any non-HOST, scoped to this chapter.
	add(sortTier(filter(scoped, isNonHost)))
	// Tier 3: GUEST-role, any chapter (global pool).
	add(sortTier(filter(all, isGuest)))
	// Tier 4: any speaker, any chapter.
	add(sortTier(all))

	// Tier 5: valid Core-Claim support quotes not already in the pool,
	// added unconditionally rather than capped at `required` (see doc
	// comment above).
	var extra []whitelist.Quote
	for _, id := range coreClaimSupportQuoteIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		if q, ok := wl.ByID(id); ok {
			seen[id] = struct{}{}
			extra = append(extra, q)
		}
	}
	chosen = append(chosen, sortTier(extra)...)

	return chosen
}

func filter(quotes []whitelist.Quote, pred func(whitelist.Quote) bool) []whitelist.Quote {
	out := make([]whitelist.Quote, 0, len(quotes))
	for _, q := range quotes {
		if pred(q) {
			out = append(out, q)
		}
	}
	return out
}

func isGuest(q whitelist.Quote) bool    { return q.Speaker.Role == roster.RoleGuest }
func isNonHost(q whitelist.Quote) bool  { return q.Speaker.Role != roster.RoleHost }

// sortTier orders a tier's candidates by (len(quote_text) DESC, quote_id
// ASC) for stable, deterministic selection across runs (§4.5).
func sortTier(quotes []whitelist.Quote) []whitelist.Quote {
	out := make([]whitelist.Quote, len(quotes))
	copy(out, quotes)
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].QuoteText) != len(out[j].QuoteText) {
			return len(out[i].QuoteText) > len(out[j].QuoteText)
		}
		return out[i].QuoteID < out[j].QuoteID
	})
	return out
}
