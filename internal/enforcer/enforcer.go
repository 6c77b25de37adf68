// Package enforcer implements the Enforcer (§4.7): the hard guarantee that
// every quotation surviving into a chapter is either a verbatim whitelist
// quote or a plain paraphrase, never an unverifiable fabrication. It is a
// small line-oriented scanner — regexp-driven, no markdown AST library —
// run over the model's raw generated text before assembly.
package enforcer

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/AssafLanir/ideas-edition-core/internal/canonicalize"
	"github.com/AssafLanir/ideas-edition-core/internal/roster"
	"github.com/AssafLanir/ideas-edition-core/internal/whitelist"
)

const (
	headingKeyExcerpts = "### Key Excerpts"
	headingCoreClaims  = "### Core Claims"

	corePlaceholder = "*No fully grounded claims available for this chapter.*"
)

// Result is the Enforcer's output (§4.7): the cleaned text plus a record
// of what was replaced with exact whitelist text and what was dropped
// outright, for logging and audit purposes.
type Result struct {
	Text     string
	Replaced []string
	Dropped  []string
}

var (
	blockquoteTextRe = regexp.MustCompile(`^>\s*"(.*)"\s*$`)
	blockquoteAttrRe = regexp.MustCompile(`^>\s*—\s*(.*)$`)
	inlineQuoteRe    = regexp.MustCompile(`"([^"]{5,})"`)
	bulletRe         = regexp.MustCompile(`^[-*]\s+(.*)$`)
	attrRoleRe       = regexp.MustCompile(`^(.*?)\s*\(([A-Za-z]+)\)\s*$`)
)

// Enforce runs the four-step pass described in §4.7 against one chapter's
// raw generated text.
func Enforce(raw string, wl *whitelist.Whitelist, effectiveChapterIndex int) Result {
	raw = stripStrayHTMLTags(raw)
	lines := strings.Split(raw, "\n")

	keyIdx, coreIdx := findHeadings(lines)
	lines = stripBlockquotesOutsideProtected(lines, keyIdx, coreIdx)

	res := Result{}
	lines = validateBlockquotes(lines, wl, effectiveChapterIndex, &res)
	lines = handleInlineQuotations(lines, wl, effectiveChapterIndex, &res)
	lines = filterCoreClaims(lines, wl, &res)

	res.Text = strings.Join(lines, "\n")
	return res
}

// stripStrayHTMLTags is a defense-in-depth pass: the output contract is
// markdown, not HTML, so any tag the model emits is noise, not content. It
// only runs when a "<" is present, to avoid the tokenizer's entity
// decoding touching ordinary prose.
func stripStrayHTMLTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var sb strings.Builder
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			sb.Write(z.Text())
		}
	}
	return sb.String()
}

func findHeadings(lines []string) (keyIdx, coreIdx int) {
	keyIdx, coreIdx = -1, -1
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if keyIdx == -1 && t == headingKeyExcerpts {
			keyIdx = i
		}
		if coreIdx == -1 && t == headingCoreClaims {
			coreIdx = i
		}
	}
	return keyIdx, coreIdx
}

// stripBlockquotesOutsideProtected deletes any "> ..." line appearing
// before the Key Excerpts heading or after the Core Claims heading starts
// (§4.7 step 1). The Key Excerpts block is injected deterministically by
// the assembler, never by the model, so any blockquote outside that window
// is the model smuggling a quote into prose.
func stripBlockquotesOutsideProtected(lines []string, keyIdx, coreIdx int) []string {
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		if isBlockquoteLine(line) {
			before := keyIdx == -1 || i < keyIdx
			after := coreIdx != -1 && i > coreIdx
			if before || after {
				continue
			}
		}
		out = append(out, line)
	}
	return out
}

func isBlockquoteLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), ">")
}

// validateBlockquotes implements §4.7 step 2 over the surviving
// `> "TEXT"` / `> — SPEAKER` pairs.
func validateBlockquotes(lines []string, wl *whitelist.Whitelist, effectiveChapterIndex int, res *Result) []string {
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		textMatch := blockquoteTextRe.FindStringSubmatch(lines[i])
		if textMatch == nil || i+1 >= len(lines) {
			out = append(out, lines[i])
			continue
		}
		attrMatch := blockquoteAttrRe.FindStringSubmatch(lines[i+1])
		if attrMatch == nil {
			out = append(out, lines[i])
			continue
		}

		text := textMatch[1]
		attrName := parseAttributionName(attrMatch[1])
		canonical := canonicalize.CasefoldForMatch(canonicalize.Canonicalize(text))
		quote, ok := resolveQuote(wl, canonical, effectiveChapterIndex, attrName)
		if !ok {
			res.Dropped = append(res.Dropped, fmt.Sprintf("blockquote: %q", text))
			i++ // consume the attribution line too
			continue
		}
		res.Replaced = append(res.Replaced, quote.QuoteID)
		out = append(out, fmt.Sprintf("> \"%s\"", quote.QuoteText))
		out = append(out, fmt.Sprintf("> — %s (%s)", quote.Speaker.DisplayName, quote.Speaker.Role))
		i++ // attribution line already emitted
	}
	return out
}

func parseAttributionName(s string) string {
	if m := attrRoleRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// resolveQuote applies the §4.7 tie-breaking rule: a match in the current
// chapter wins over any-chapter matches; among ties, the entry whose
// SpeakerRef matches the parsed attribution wins, then the entry valid for
// this chapter, then the first in stable id order (FindByCanonicalText
// already returns candidates sorted by quote_id).
func resolveQuote(wl *whitelist.Whitelist, canonical string, effectiveChapterIndex int, attrName string) (whitelist.Quote, bool) {
	candidates := wl.FindByCanonicalText(canonical)
	if len(candidates) == 0 {
		return whitelist.Quote{}, false
	}

	var inChapter []whitelist.Quote
	for _, c := range candidates {
		for _, ci := range c.ChapterIndices {
			if ci == effectiveChapterIndex {
				inChapter = append(inChapter, c)
				break
			}
		}
	}

	pool := inChapter
	if len(pool) == 0 {
		pool = candidates
	}

	if attrName != "" {
		for _, c := range pool {
			if strings.EqualFold(c.Speaker.DisplayName, attrName) {
				return c, true
			}
		}
	}
	return pool[0], true
}

// handleInlineQuotations implements §4.7 step 3: any `"..."` run of at
// least 5 characters inside narrative text is either replaced with the
// whitelist's exact text or, if unmatched, demoted to a plain paraphrase by
// stripping the surrounding quote marks.
func handleInlineQuotations(lines []string, wl *whitelist.Whitelist, effectiveChapterIndex int, res *Result) []string {
	_, coreIdx := findHeadings(lines)
	out := make([]string, len(lines))
	for i, line := range lines {
		// Only narrative paragraphs are in scope: blockquotes, headings,
		// and the structured Core Claims bullet list (validated separately
		// in step 4) are left untouched here.
		if isBlockquoteLine(line) || isHeading(line) || (coreIdx != -1 && i > coreIdx) {
			out[i] = line
			continue
		}
		out[i] = inlineQuoteRe.ReplaceAllStringFunc(line, func(m string) string {
			inner := inlineQuoteRe.FindStringSubmatch(m)[1]
			canonical := canonicalize.CasefoldForMatch(canonicalize.Canonicalize(inner))
			if quote, ok := resolveQuote(wl, canonical, effectiveChapterIndex, ""); ok {
				res.Replaced = append(res.Replaced, quote.QuoteID)
				return "\"" + quote.QuoteText + "\""
			}
			return inner
		})
	}
	return out
}

func isHeading(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

// filterCoreClaims implements §4.7 step 4: a GUEST-only filter over the
// Core Claims bullet list, replaced with a placeholder if every claim is
// dropped so the section is never silently empty.
func filterCoreClaims(lines []string, wl *whitelist.Whitelist, res *Result) []string {
	coreIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == headingCoreClaims {
			coreIdx = i
			break
		}
	}
	if coreIdx == -1 {
		return lines
	}

	end := len(lines)
	for i := coreIdx + 1; i < len(lines); i++ {
		if isHeading(lines[i]) {
			end = i
			break
		}
	}

	var kept []string
	any := false
	for i := coreIdx + 1; i < end; i++ {
		m := bulletRe.FindStringSubmatch(lines[i])
		if m == nil {
			if strings.TrimSpace(lines[i]) != "" {
				kept = append(kept, lines[i])
			}
			continue
		}
		claimText := m[1]
		quoted := inlineQuoteRe.FindStringSubmatch(claimText)
		if quoted == nil {
			// No embedded quote reference to validate; keep as-is.
			kept = append(kept, lines[i])
			any = true
			continue
		}
		canonical := canonicalize.CasefoldForMatch(canonicalize.Canonicalize(quoted[1]))
		candidates := wl.FindByCanonicalText(canonical)
		guestMatch := false
		for _, c := range candidates {
			if c.Speaker.Role == roster.RoleGuest {
				guestMatch = true
				break
			}
		}
		if !guestMatch {
			res.Dropped = append(res.Dropped, fmt.Sprintf("core claim: %q", claimText))
			continue
		}
		kept = append(kept, lines[i])
		any = true
	}

	out := make([]string, 0, len(lines))
	out = append(out, lines[:coreIdx+1]...)
	if !any {
		out = append(out, corePlaceholder)
	} else {
		out = append(out, kept...)
	}
	out = append(out, lines[end:]...)
	return out
}
