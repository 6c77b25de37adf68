// Package canonicalize normalizes raw transcript and quote strings so that
// substring matching is stable across cosmetic Unicode differences (curly
// vs straight quotes, em/en-dashes, irregular whitespace).
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// TranscriptPair holds the raw and canonical forms of one transcript for the
// lifetime of a single draft generation, plus the offset table that maps a
// byte position in Canonical back to the byte position in Raw that produced
// it. Canonicalization is built to be length-preserving rune-by-rune except
// for whitespace collapse, which only ever shortens the text, so this
// mapping is exact for the overwhelmingly common case of already-composed
// transcript text; see canonicalizeWithOffsets on rune-local NFC below.
type TranscriptPair struct {
	Raw       string
	Canonical string
	// Hash is the sha256 hex digest of Canonical, computed at construction.
	Hash string

	// rawOffsets has len(Canonical)+1 entries; rawOffsets[i] is the byte
	// offset into Raw of the rune that produced Canonical[i], with a
	// trailing sentinel holding the Raw offset just past the source of the
	// last canonical byte (len(Raw) unless trailing whitespace was trimmed).
	rawOffsets []int
}

// NewTranscriptPair canonicalizes raw and returns the paired, hashed,
// offset-mapped result.
func NewTranscriptPair(raw string) TranscriptPair {
	canon, offsets := canonicalizeWithOffsets(raw)
	return TranscriptPair{
		Raw:        raw,
		Canonical:  canon,
		Hash:       ComputeHash(canon),
		rawOffsets: offsets,
	}
}

// RawSpan maps a [start,end) byte span in Canonical to the corresponding
// [start,end) byte span in Raw. Both inputs must satisfy
// 0 <= start <= end <= len(Canonical).
func (tp TranscriptPair) RawSpan(canonicalStart, canonicalEnd int) (int, int) {
	if tp.rawOffsets == nil || canonicalStart < 0 || canonicalEnd > len(tp.rawOffsets)-1 || canonicalStart > canonicalEnd {
		return 0, 0
	}
	return tp.rawOffsets[canonicalStart], tp.rawOffsets[canonicalEnd]
}

var runeSubstitutions = map[rune]string{
	'“': "\"", '”': "\"", // left/right double quote
	'‘': "'", '’': "'", // left/right single quote
	'—': "-", '–': "-", // em dash, en dash
}

// Canonicalize applies NFC to each rune on its own, substitutes curly
// quotes/dashes with their plain ASCII equivalents, collapses whitespace
// runs to a single space, and trims the result. Multi-rune combining
// sequences are not recomposed, so decomposed input is not fully NFC after
// this call (see canonicalizeWithOffsets). Case is preserved. The operation is
// idempotent: Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(text string) string {
	canon, _ := canonicalizeWithOffsets(text)
	return canon
}

// canonicalizeWithOffsets performs the substitution table and whitespace
// collapse of Canonicalize while recording, for every output byte, which
// input byte produced it. NFC normalization is applied rune-by-rune rather
// than over the whole string up front: this is a no-op for already-composed
// text (the common case for transcripts produced by upstream speech-to-text
// or cleanup steps) and deliberately does not attempt to recompose
// multi-rune combining sequences, since doing so would require collapsing
// several input runes into one output rune and break the 1:1 offset
// correspondence the Whitelist Builder depends on for exact raw-substring
// extraction (§3 WhitelistQuote, self-healing quote_text).
func canonicalizeWithOffsets(raw string) (string, []int) {
	var out strings.Builder
	out.Grow(len(raw))
	offsets := make([]int, 0, len(raw)+1)
	inRun := false

	for i, r := range raw {
		piece := nfcRune(r)
		for _, pr := range piece {
			if sub, ok := runeSubstitutions[pr]; ok {
				for _, sr := range sub {
					writeRune(&out, &offsets, sr, i)
				}
				inRun = false
				continue
			}
			if isSpace(pr) {
				if inRun {
					continue
				}
				writeRune(&out, &offsets, ' ', i)
				inRun = true
				continue
			}
			inRun = false
			writeRune(&out, &offsets, pr, i)
		}
	}
	offsets = append(offsets, len(raw))

	canon := out.String()
	start := 0
	for start < len(canon) && canon[start] == ' ' {
		start++
	}
	end := len(canon)
	for end > start && canon[end-1] == ' ' {
		end--
	}
	return canon[start:end], offsets[start : end+1]
}

func writeRune(out *strings.Builder, offsets *[]int, r rune, rawOffset int) {
	before := out.Len()
	out.WriteRune(r)
	for n := before; n < out.Len(); n++ {
		*offsets = append(*offsets, rawOffset)
	}
}

// nfcRune NFC-normalizes a single rune in isolation. For the vast majority
// of input (already-composed Latin/ASCII text) this returns the rune
// unchanged.
func nfcRune(r rune) string {
	return norm.NFC.String(string(r))
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f', 0x00A0, 0x2028, 0x2029:
		return true
	}
	return false
}

// CasefoldForMatch lower-cases canonicalized text for case-insensitive
// substring matching. Lowercasing happens only here, never inside
// Canonicalize, so that raw-side renderings keep the speaker's original
// casing.
//
// Folding is deliberately ASCII-only (ASCII upper -> lower), which keeps
// byte length, and therefore every offset computed against the folded
// string, identical to the unfolded canonical string. Full Unicode case
// folding can change a rune's UTF-8 byte length (e.g. the Kelvin sign),
// which would silently misalign offsets; multilingual transcripts are an
// explicit Non-goal, so ASCII-only folding is sufficient for this pipeline.
func CasefoldForMatch(text string) string {
	b := []byte(text)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// ComputeHash returns the sha256 hex digest of the UTF-8 encoding of a
// canonicalized string.
func ComputeHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether storedHash matches the hash of canonicalize(raw).
// Callers holding offsets into a previously canonicalized transcript must
// call this before trusting those offsets.
func Verify(raw string, storedHash string) bool {
	return ComputeHash(Canonicalize(raw)) == storedHash
}
