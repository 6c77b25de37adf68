// Package assembler implements the Assembler and its post-assembly
// structural invariants (§4.8). It composes the stable per-chapter
// skeleton from enforced narrative text plus the deterministically
// selected excerpts — never the model's own rendering of the Key
// Excerpts block — in small, self-contained string builders rather than
// a templating engine, since the skeleton is fixed, not user-configurable.
package assembler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AssafLanir/ideas-edition-core/internal/whitelist"
)

const (
	headingKeyExcerpts = "### Key Excerpts"
	headingCoreClaims  = "### Core Claims"

	corePlaceholder = "*No fully grounded claims available for this chapter.*"
)

// Assemble composes one chapter from enforcer output. enforcedText is the
// Enforcer's cleaned text for this chapter; any Key Excerpts section it
// contains is discarded in favor of excerpts, rendered fresh. Any Core
// Claims section it contains (already GUEST-filtered by the Enforcer) is
// kept as-is; if it emitted none, the placeholder is used.
func Assemble(chapterIndex int, chapterTitle string, enforcedText string, excerpts []whitelist.Quote) string {
	narrative, coreBlock := splitEnforcedText(enforcedText)

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Chapter %d: %s\n\n", chapterIndex, chapterTitle)
	sb.WriteString(strings.TrimSpace(narrative))
	sb.WriteString("\n\n")
	sb.WriteString(headingKeyExcerpts)
	sb.WriteString("\n\n")
	sb.WriteString(renderExcerpts(excerpts))
	sb.WriteString(headingCoreClaims)
	sb.WriteString("\n\n")
	if strings.TrimSpace(coreBlock) == "" {
		sb.WriteString(corePlaceholder)
	} else {
		sb.WriteString(strings.TrimSpace(coreBlock))
	}
	sb.WriteString("\n")
	return sb.String()
}

// splitEnforcedText separates the model's narrative (everything before its
// own Key Excerpts/Core Claims sections) from its already-enforced Core
// Claims block, if any.
func splitEnforcedText(text string) (narrative, coreBlock string) {
	lines := strings.Split(text, "\n")
	keyIdx, coreIdx := -1, -1
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if keyIdx == -1 && t == headingKeyExcerpts {
			keyIdx = i
		}
		if coreIdx == -1 && t == headingCoreClaims {
			coreIdx = i
		}
	}

	narrativeEnd := len(lines)
	if keyIdx != -1 {
		narrativeEnd = keyIdx
	} else if coreIdx != -1 {
		narrativeEnd = coreIdx
	}
	narrative = strings.Join(lines[:narrativeEnd], "\n")

	if coreIdx != -1 {
		coreBlock = strings.Join(lines[coreIdx+1:], "\n")
	}
	return narrative, coreBlock
}

// renderExcerpts builds the fresh Key Excerpts block from the
// deterministically selected quotes, never the model's own rendering.
func renderExcerpts(excerpts []whitelist.Quote) string {
	var sb strings.Builder
	for _, e := range excerpts {
		fmt.Fprintf(&sb, "> \"%s\"\n> — %s (%s)\n\n", e.QuoteText, e.Speaker.DisplayName, e.Speaker.Role)
	}
	return sb.String()
}

var inlineQuoteRe = regexp.MustCompile(`"([^"]{1,})"`)

// Validate asserts the §4.8 post-assembly invariants against one assembled
// chapter's markdown. A non-empty result is a programming error, not a
// data error: the caller should surface it as InvariantViolation rather
// than attempt a silent recovery.
func Validate(markdown string, wl *whitelist.Whitelist) []string {
	var violations []string
	lines := strings.Split(markdown, "\n")

	keyIdx, coreIdx := -1, -1
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if keyIdx == -1 && t == headingKeyExcerpts {
			keyIdx = i
		}
		if coreIdx == -1 && t == headingCoreClaims {
			coreIdx = i
		}
	}

	if keyIdx != -1 {
		end := len(lines)
		if coreIdx != -1 {
			end = coreIdx
		}
		if allBlank(lines[keyIdx+1 : end]) {
			violations = append(violations, "Key Excerpts heading is followed only by whitespace before the next heading")
		}
	}

	if coreIdx != -1 {
		body := strings.TrimSpace(strings.Join(lines[coreIdx+1:], "\n"))
		if body == "" {
			violations = append(violations, "Core Claims section is empty and missing its placeholder line")
		}
	}

	for i, line := range lines {
		if inProtectedSection(i, keyIdx, coreIdx) {
			continue
		}
		for _, m := range inlineQuoteRe.FindAllStringSubmatch(line, -1) {
			text := m[1]
			if len(text) < 5 {
				continue
			}
			if wl != nil && !quoteInWhitelist(wl, text) {
				violations = append(violations, fmt.Sprintf("unwhitelisted inline quotation outside protected sections: %q", text))
			}
		}
	}

	return violations
}

func inProtectedSection(lineIdx, keyIdx, coreIdx int) bool {
	if keyIdx != -1 && lineIdx >= keyIdx && (coreIdx == -1 || lineIdx < coreIdx) {
		return true
	}
	if coreIdx != -1 && lineIdx >= coreIdx {
		return true
	}
	return false
}

func quoteInWhitelist(wl *whitelist.Whitelist, text string) bool {
	for _, q := range wl.Quotes() {
		if q.QuoteText == text {
			return true
		}
	}
	return false
}

func allBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}
