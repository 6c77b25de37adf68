// Package prompt implements the Prompt Composer (§4.6): it assembles the
// chapter-generation prompt from the chapter title, its claim list, the
// deterministically selected excerpts, the target word budget, and the
// generation mode. The composer never lets the model see more claims or
// excerpts than fit the model's remaining context, trimming the least
// important ones first rather than truncating mid-string.
package prompt

import (
	"fmt"
	"strings"

	"github.com/AssafLanir/ideas-edition-core/internal/budget"
	"github.com/AssafLanir/ideas-edition-core/internal/coverage"
	"github.com/AssafLanir/ideas-edition-core/internal/evidence"
	"github.com/AssafLanir/ideas-edition-core/internal/whitelist"
)

// ReservedOutputTokens is the conservative reservation held back for the
// model's own response when sizing the remaining input budget.
const ReservedOutputTokens = 1200

// Input bundles everything the composer needs for one chapter.
type Input struct {
	ChapterIndex   int
	ChapterTitle   string
	Claims         []evidence.Claim
	Excerpts       []whitelist.Quote
	TargetWords    int
	GenerationMode coverage.GenerationMode
	Model          string
}

// Prompt is the composed pair of messages ready for the Generation Adapter.
type Prompt struct {
	System string
	User   string
}

// Compose builds the system and user messages for one chapter, trimming
// claims and excerpts from the tail (least-prioritized first, since both
// slices arrive in their caller-determined priority order) until the
// estimated prompt fits the model's remaining context.
func Compose(in Input) Prompt {
	system := buildSystemMessage()

	claims := in.Claims
	excerpts := in.Excerpts
	for {
		user := buildUserMessage(in, claims, excerpts)
		if fits(in.Model, system, user, excerpts) || (len(claims) == 0 && len(excerpts) == 0) {
			return Prompt{System: system, User: user}
		}
		// Drop the lowest-priority item first: a spare claim if there is
		// more than one, otherwise the last excerpt.
		switch {
		case len(claims) > 1:
			claims = claims[:len(claims)-1]
		case len(excerpts) > 0:
			excerpts = excerpts[:len(excerpts)-1]
		default:
			claims = nil
		}
	}
}

func fits(model, system, user string, excerpts []whitelist.Quote) bool {
	texts := make([]string, len(excerpts))
	for i, e := range excerpts {
		texts[i] = e.QuoteText
	}
	tokens := budget.EstimatePromptTokens(system, user, texts)
	return budget.FitsInContext(model, ReservedOutputTokens, tokens)
}

func buildSystemMessage() string {
	return "You are a careful ghostwriter producing one book chapter from a podcast transcript. " +
		"Write narrative prose in paraphrase only: never place quotation marks around transcript " +
		"language in the body text. The Key Excerpts block below is the only place verbatim quotes " +
		"appear, and it is rendered for you — do not write your own blockquotes and do not invent " +
		"quotes that are not in the provided excerpts. Use only the claims and excerpts given; do not " +
		"introduce facts, names, or events absent from them."
}

func buildUserMessage(in Input, claims []evidence.Claim, excerpts []whitelist.Quote) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Chapter %d: %s\n\n", in.ChapterIndex, in.ChapterTitle)
	fmt.Fprintf(&sb, "Target length: %d words. Generation mode: %s.\n", in.TargetWords, in.GenerationMode)

	switch in.GenerationMode {
	case coverage.ModeExcerptOnly:
		sb.WriteString("Evidence is thin for this chapter: write only a brief framing paragraph " +
			"around the excerpts below; do not pad with unsupported narrative.\n")
	case coverage.ModeThin:
		sb.WriteString("Evidence is moderate for this chapter: keep narrative close to the claims " +
			"and excerpts below.\n")
	}

	sb.WriteString("\nClaims to cover:\n")
	if len(claims) == 0 {
		sb.WriteString("(none survived validation for this chapter)\n")
	}
	for _, c := range claims {
		fmt.Fprintf(&sb, "- %s\n", c.Claim)
	}

	sb.WriteString("\nKey Excerpts (verbatim, do not alter, do not add your own):\n")
	if len(excerpts) == 0 {
		sb.WriteString("(none available)\n")
	}
	for _, e := range excerpts {
		fmt.Fprintf(&sb, "> \"%s\"\n> — %s (%s)\n\n", e.QuoteText, e.Speaker.DisplayName, e.Speaker.Role)
	}

	sb.WriteString("\nWrite the chapter now: narrative paragraphs first, then a \"### Core Claims\" " +
		"section listing each claim you covered as \"- **{claim text}**: \\\"{supporting quote text}\\\"\", " +
		"using only the exact quote text given above as the supporting quote. Do not write your own " +
		"\"### Key Excerpts\" section — that block is assembled separately and appended for you.")
	return sb.String()
}
