// Package whitelist implements the Whitelist Builder (§4.3): it validates
// every quote offered by the untrusted Evidence Map against the transcript
// and discards anything that cannot be proven. The result is the only set
// of quotations the Enforcer is ever allowed to emit verbatim.
package whitelist

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/AssafLanir/ideas-edition-core/internal/canonicalize"
	"github.com/AssafLanir/ideas-edition-core/internal/evidence"
	"github.com/AssafLanir/ideas-edition-core/internal/roster"
)

// Span is a half-open byte range [Start, End) into the raw transcript.
type Span struct {
	Start int
	End   int
}

// Quote is one proven-usable quotation (§3 WhitelistQuote).
type Quote struct {
	QuoteID          string
	QuoteText        string // exact substring of transcript.raw
	QuoteCanonical   string // casefold(canonicalize(QuoteText))
	Speaker          roster.Ref
	SourceEvidenceIDs []string
	ChapterIndices    []int
	MatchSpans        []Span
}

// Whitelist is the unordered (semantically) set of proven quotations,
// stored as a stable-ordered slice plus a lookup index.
type Whitelist struct {
	quotes []Quote
	byID   map[string]int // quote_id -> index into quotes
}

// Quotes returns all whitelist entries in stable insertion order.
func (w *Whitelist) Quotes() []Quote {
	if w == nil {
		return nil
	}
	return w.quotes
}

// ByID looks up a whitelist entry by its quote_id.
func (w *Whitelist) ByID(id string) (Quote, bool) {
	if w == nil {
		return Quote{}, false
	}
	idx, ok := w.byID[id]
	if !ok {
		return Quote{}, false
	}
	return w.quotes[idx], true
}

// FindByCanonicalText returns every whitelist entry whose QuoteCanonical
// equals the given casefold(canonicalize(...)) text, sorted by quote_id for
// stable tie-breaking by callers (§4.7 Enforcer lookup).
func (w *Whitelist) FindByCanonicalText(canonicalText string) []Quote {
	if w == nil {
		return nil
	}
	var out []Quote
	for _, q := range w.quotes {
		if q.QuoteCanonical == canonicalText {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuoteID < out[j].QuoteID })
	return out
}

// ForChapter returns the subset of quotes scoped to the given chapter.
func (w *Whitelist) ForChapter(chapterIndex int) []Quote {
	if w == nil {
		return nil
	}
	out := make([]Quote, 0, len(w.quotes))
	for _, q := range w.quotes {
		for _, ci := range q.ChapterIndices {
			if ci == chapterIndex {
				out = append(out, q)
				break
			}
		}
	}
	return out
}

// QuoteID is a stable function of (speaker_id, quote_canonical).
func QuoteID(speakerID string, quoteCanonical string) string {
	sum := sha256.Sum256([]byte(speakerID + "|" + quoteCanonical))
	return hex.EncodeToString(sum[:])[:16]
}

// Build runs the §4.3 algorithm over every support quote in the Evidence
// Map, against the given (already canonicalized) transcript and roster.
// The whitelist may legitimately end up empty; that is reported up by the
// coverage analyzer, never treated as fatal here.
func Build(em evidence.Map, tp canonicalize.TranscriptPair, rosters roster.Roster) *Whitelist {
	w := &Whitelist{byID: map[string]int{}}
	canonLower := canonicalize.CasefoldForMatch(tp.Canonical)

	for _, chapter := range em.Chapters {
		for _, claim := range chapter.Claims {
			for _, support := range claim.Support {
				w.ingest(chapter.ChapterIndex, claim.ID, support, tp, canonLower, rosters)
			}
		}
	}
	return w
}

func (w *Whitelist) ingest(chapterIndex int, evidenceID string, support evidence.Support, tp canonicalize.TranscriptPair, canonLower string, rosters roster.Roster) {
	// Step 1: absent/empty speaker -> discard.
	if strings.TrimSpace(support.Speaker) == "" {
		return
	}
	// Step 2: resolve via roster; UNCLEAR -> discard.
	ref := rosters.Resolve(support.Speaker)
	if ref.Role == roster.RoleUnclear {
		log.Debug().Str("speaker", support.Speaker).Msg("whitelist: discarding support with unclear speaker")
		return
	}

	// Step 3: compute canonical quote form.
	quoteCanonical := canonicalize.CasefoldForMatch(canonicalize.Canonicalize(support.Quote))
	if quoteCanonical == "" {
		return
	}

	// Step 4: find all occurrences in the canonical transcript.
	canonOffsets := findAllOccurrences(canonLower, quoteCanonical)
	if len(canonOffsets) == 0 {
		log.Debug().Str("speaker", support.Speaker).Str("quote", support.Quote).Msg("whitelist: discarding unmatched quote")
		return
	}

	// Step 5: self-healing raw-side exact text + spans, mapped back from
	// canonical-transcript offsets through the transcript pair's offset
	// table (§3: canonicalization is length-preserving or paired with an
	// offset table).
	spans := make([]Span, 0, len(canonOffsets))
	for _, off := range canonOffsets {
		rawStart, rawEnd := tp.RawSpan(off, off+len(quoteCanonical))
		spans = append(spans, Span{Start: rawStart, End: rawEnd})
	}
	exactText := safeSlice(tp.Raw, spans[0])

	// Step 6: merge-by-key or insert.
	id := QuoteID(ref.SpeakerID, quoteCanonical)
	if idx, ok := w.byID[id]; ok {
		existing := &w.quotes[idx]
		existing.ChapterIndices = appendUniqueInt(existing.ChapterIndices, chapterIndex)
		existing.SourceEvidenceIDs = appendUniqueString(existing.SourceEvidenceIDs, evidenceID)
		existing.MatchSpans = mergeSpans(existing.MatchSpans, spans)
		return
	}
	w.byID[id] = len(w.quotes)
	w.quotes = append(w.quotes, Quote{
		QuoteID:           id,
		QuoteText:         exactText,
		QuoteCanonical:    quoteCanonical,
		Speaker:           ref,
		SourceEvidenceIDs: []string{evidenceID},
		ChapterIndices:    []int{chapterIndex},
		MatchSpans:        spans,
	})
}

// findAllOccurrences returns the start offsets of every non-overlapping
// occurrence of needle inside haystack, in ascending order.
func findAllOccurrences(haystack, needle string) []int {
	if needle == "" {
		return nil
	}
	var out []int
	start := 0
	for {
		idx := strings.Index(haystack[start:], needle)
		if idx < 0 {
			break
		}
		abs := start + idx
		out = append(out, abs)
		start = abs + len(needle)
		if start >= len(haystack) {
			break
		}
	}
	return out
}

func safeSlice(s string, sp Span) string {
	if sp.Start < 0 || sp.End > len(s) || sp.Start > sp.End {
		return ""
	}
	return s[sp.Start:sp.End]
}

func appendUniqueInt(xs []int, v int) []int {
	for _, x := range xs {
		if x == v {
			return xs
		}
	}
	return append(xs, v)
}

func appendUniqueString(xs []string, v string) []string {
	for _, x := range xs {
		if x == v {
			return xs
		}
	}
	return append(xs, v)
}

func mergeSpans(existing, incoming []Span) []Span {
	seen := map[Span]struct{}{}
	out := make([]Span, 0, len(existing)+len(incoming))
	for _, s := range existing {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range incoming {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
