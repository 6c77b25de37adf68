// Package draft is the orchestrator: the only surface callers use
// (§6.3). It wires canonicalize -> whitelist -> coverage -> excerpt ->
// prompt -> llm -> enforcer -> assembler for one chapter at a time, in
// that strict order (§5), and exposes the three-call contract
// BuildCoverageReport / GenerateChapter / Enforce. It never accumulates
// shared mutable state between calls: each call takes its inputs fresh.
package draft

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog/log"

	"github.com/AssafLanir/ideas-edition-core/internal/assembler"
	"github.com/AssafLanir/ideas-edition-core/internal/cache"
	"github.com/AssafLanir/ideas-edition-core/internal/canonicalize"
	"github.com/AssafLanir/ideas-edition-core/internal/config"
	"github.com/AssafLanir/ideas-edition-core/internal/coverage"
	"github.com/AssafLanir/ideas-edition-core/internal/enforcer"
	"github.com/AssafLanir/ideas-edition-core/internal/evidence"
	"github.com/AssafLanir/ideas-edition-core/internal/excerpt"
	"github.com/AssafLanir/ideas-edition-core/internal/llm"
	"github.com/AssafLanir/ideas-edition-core/internal/prompt"
	"github.com/AssafLanir/ideas-edition-core/internal/roster"
	"github.com/AssafLanir/ideas-edition-core/internal/whitelist"
)

// ErrorKind classifies a DraftError per the §7 error taxonomy.
type ErrorKind string

const (
	KindInputError         ErrorKind = "InputError"
	KindEvidenceUnusable   ErrorKind = "EvidenceUnusable"
	KindProviderError      ErrorKind = "ProviderError"
	KindInvariantViolation ErrorKind = "InvariantViolation"
	KindCancelled          ErrorKind = "CancelledError"
)

// DraftError wraps a failure with its §7 classification and the chapter it
// occurred in (0 when not chapter-specific), so callers can branch with
// errors.As without parsing error strings.
type DraftError struct {
	Kind    ErrorKind
	Chapter int
	Err     error
}

func (e *DraftError) Error() string {
	if e.Chapter != 0 {
		return fmt.Sprintf("draft: %s (chapter %d): %v", e.Kind, e.Chapter, e.Err)
	}
	return fmt.Sprintf("draft: %s: %v", e.Kind, e.Err)
}

func (e *DraftError) Unwrap() error { return e.Err }

// ErrCancelled is returned by GenerateChapter when the caller's context is
// already done at the cooperative cancellation point between chapters.
var ErrCancelled = errors.New("draft: cancelled between chapters")

// CoreClaim is one {claim_text, supporting_quote} pair parsed back out of
// the assembled Core Claims bullet list (§3).
type CoreClaim struct {
	ClaimText       string
	SupportingQuote string
}

// ChapterDraft is the per-chapter result (§3): the assembled markdown plus
// the pieces that produced it, for audit and partial-output rendering.
type ChapterDraft struct {
	ChapterIndex     int
	EffectiveIndex   int
	Title            string
	Narrative        string
	KeyExcerpts      []whitelist.Quote
	CoreClaims       []CoreClaim
	Coverage         coverage.ChapterCoverage
	EnforcementTrace enforcer.Result
	Markdown         string
}

// BuildCoverageReport runs the Whitelist Builder and Coverage Analyzer
// over the given Evidence Map and transcript, with no model call. Callers
// use this to gate generation (feasibility) before spending any tokens.
// cfg supplies the coverage classification thresholds and controls
// logging verbosity.
func BuildCoverageReport(em evidence.Map, tp canonicalize.TranscriptPair, rosters roster.Roster, cfg config.Config) (coverage.Report, error) {
	if strings.TrimSpace(tp.Raw) == "" {
		return coverage.Report{}, &DraftError{Kind: KindInputError, Err: errors.New("transcript is empty")}
	}
	if em.TranscriptHash != "" && em.TranscriptHash != tp.Hash {
		return coverage.Report{}, &DraftError{Kind: KindInputError, Err: fmt.Errorf("evidence map transcript_hash %q does not match stored canonical transcript hash %q", em.TranscriptHash, tp.Hash)}
	}
	wl := whitelist.Build(em, tp, rosters)
	report := coverage.BuildReport(em, wl, cfg.CoverageThresholds)
	if cfg.Verbose {
		log.Debug().Bool("feasible", report.IsFeasible).Int("chapters", len(report.Chapters)).Msg("draft: coverage report built")
	}
	return report, nil
}

// GenerateChapter runs the full per-chapter pipeline: whitelist -> coverage
// -> excerpt selection -> prompt composition -> generation -> enforcement
// -> assembly. ctx cancellation is honored at the single cooperative
// checkpoint before the LLM call begins (§5); an in-flight call runs to
// completion or its own timeout.
func GenerateChapter(ctx context.Context, chapterIndex int, em evidence.Map, tp canonicalize.TranscriptPair, rosters roster.Roster, cfg config.Config) (ChapterDraft, error) {
	if strings.TrimSpace(tp.Raw) == "" {
		return ChapterDraft{}, &DraftError{Kind: KindInputError, Chapter: chapterIndex, Err: errors.New("transcript is empty")}
	}
	if em.TranscriptHash != "" && em.TranscriptHash != tp.Hash {
		return ChapterDraft{}, &DraftError{Kind: KindInputError, Chapter: chapterIndex, Err: fmt.Errorf("evidence map transcript_hash %q does not match stored canonical transcript hash %q", em.TranscriptHash, tp.Hash)}
	}
	chapter, ok := em.ChaptersByIndex()[chapterIndex]
	if !ok {
		return ChapterDraft{}, &DraftError{Kind: KindInputError, Chapter: chapterIndex, Err: fmt.Errorf("no evidence chapter with index %d", chapterIndex)}
	}

	wl := whitelist.Build(em, tp, rosters)
	report := coverage.BuildReport(em, wl, cfg.CoverageThresholds)
	effectiveIndex, ok := report.IndexMap[chapterIndex]
	if !ok {
		return ChapterDraft{}, &DraftError{Kind: KindInputError, Chapter: chapterIndex, Err: fmt.Errorf("chapter %d not present in coverage index map", chapterIndex)}
	}
	chapterCoverage, ok := report.ChapterOf(effectiveIndex)
	if !ok {
		return ChapterDraft{}, &DraftError{Kind: KindInputError, Chapter: chapterIndex, Err: fmt.Errorf("no coverage computed for effective chapter %d", effectiveIndex)}
	}

	if len(wl.Quotes()) == 0 {
		log.Warn().Int("chapter", chapterIndex).Msg("draft: whitelist empty for entire document")
		return ChapterDraft{}, &DraftError{Kind: KindEvidenceUnusable, Chapter: chapterIndex, Err: errors.New("whitelist empty for this document")}
	}

	if ctx.Err() != nil {
		return ChapterDraft{}, ErrCancelled
	}

	excerpts := excerpt.Select(wl, effectiveIndex, chapterCoverage.Level, cfg.ExcerptCounts, coreClaimSupportQuoteIDs(chapter, wl))
	composed := prompt.Compose(prompt.Input{
		ChapterIndex:   effectiveIndex,
		ChapterTitle:   chapter.ChapterTitle,
		Claims:         chapter.Claims,
		Excerpts:       excerpts,
		TargetWords:    chapterCoverage.TargetWords,
		GenerationMode: chapterCoverage.GenerationMode,
		Model:          cfg.Model,
	})

	gen := &cache.LLMCache{Dir: cfg.CacheDir}
	cacheKey := cache.KeyFrom(cfg.Model, composed.System+"\n\n"+composed.User)
	var raw string
	if cfg.CacheDir != "" {
		if cached, ok, _ := gen.Get(ctx, cache.KindChapter, cacheKey); ok {
			raw = string(cached)
		}
	}
	if raw == "" {
		client := buildClient(cfg)
		chapterCtx := ctx
		var cancel context.CancelFunc
		if cfg.PerChapterTimeout > 0 {
			chapterCtx, cancel = context.WithTimeout(ctx, cfg.PerChapterTimeout)
			defer cancel()
		}
		generated, genErr := llm.Generate(chapterCtx, client, cfg.Model, composed.System, composed.User)
		if genErr != nil {
			var pe *llm.ProviderError
			if !errors.As(genErr, &pe) {
				pe = &llm.ProviderError{Kind: llm.ErrKindExhausted, Err: genErr}
			}
			return ChapterDraft{}, &DraftError{Kind: KindProviderError, Chapter: chapterIndex, Err: pe}
		}
		raw = generated
		if cfg.CacheDir != "" {
			_ = gen.Save(ctx, cache.KindChapter, cacheKey, []byte(raw))
		}
	}

	result := enforcer.Enforce(raw, wl, effectiveIndex)
	markdown := assembler.Assemble(effectiveIndex, chapter.ChapterTitle, result.Text, excerpts)
	if violations := assembler.Validate(markdown, wl); len(violations) > 0 {
		return ChapterDraft{}, &DraftError{Kind: KindInvariantViolation, Chapter: chapterIndex, Err: fmt.Errorf("%s", strings.Join(violations, "; "))}
	}

	return ChapterDraft{
		ChapterIndex:     chapterIndex,
		EffectiveIndex:   effectiveIndex,
		Title:            chapter.ChapterTitle,
		Narrative:        result.Text,
		KeyExcerpts:      excerpts,
		CoreClaims:       extractCoreClaims(markdown),
		Coverage:         chapterCoverage,
		EnforcementTrace: result,
		Markdown:         markdown,
	}, nil
}

// coreClaimSupportQuoteIDs resolves this chapter's own Evidence-Map claims
// against the whitelist, so the Excerpt Selector's tier 5 (§4.5) can
// guarantee every claim the prompt asks the model to cover has a backing
// excerpt, even when it was not already picked up by the generic tiers 1-4.
func coreClaimSupportQuoteIDs(chapter evidence.Chapter, wl *whitelist.Whitelist) []string {
	var ids []string
	seen := map[string]struct{}{}
	for _, claim := range chapter.Claims {
		for _, support := range claim.Support {
			canonical := canonicalize.CasefoldForMatch(canonicalize.Canonicalize(support.Quote))
			for _, q := range wl.FindByCanonicalText(canonical) {
				if _, ok := seen[q.QuoteID]; ok {
					continue
				}
				seen[q.QuoteID] = struct{}{}
				ids = append(ids, q.QuoteID)
			}
		}
	}
	return ids
}

var coreClaimBulletRe = regexp.MustCompile(`^-\s+\*\*(.+?)\*\*:\s*"(.+)"\s*$`)

// extractCoreClaims parses the assembled Core Claims bullet list back into
// structured {claim_text, supporting_quote} pairs (§3 ChapterDraft). A
// chapter whose Core Claims section is the placeholder yields no claims.
func extractCoreClaims(markdown string) []CoreClaim {
	lines := strings.Split(markdown, "\n")
	coreIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "### Core Claims" {
			coreIdx = i
			break
		}
	}
	if coreIdx == -1 {
		return nil
	}
	var claims []CoreClaim
	for _, line := range lines[coreIdx+1:] {
		m := coreClaimBulletRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		claims = append(claims, CoreClaim{ClaimText: m[1], SupportingQuote: m[2]})
	}
	return claims
}

// Enforce runs the Enforcer (§4.7) standalone, for callers that already
// have raw generated text and a whitelist in hand (e.g. re-enforcing a
// cached chapter without regenerating it).
func Enforce(markdown string, wl whitelist.Whitelist, chapterIndex int) (enforcer.Result, error) {
	return enforcer.Enforce(markdown, &wl, chapterIndex), nil
}

// UnusablePlaceholder renders the §7 user-visible placeholder for a
// chapter that could not be drafted, so partial output never silently
// omits a chapter.
func UnusablePlaceholder(chapterIndex int, title, reason string) string {
	return fmt.Sprintf("## Chapter %d: %s\n\n*This chapter could not be drafted: %s.*\n", chapterIndex, title, reason)
}

func buildClient(cfg config.Config) llm.Client {
	primaryCfg := openai.DefaultConfig(cfg.LLMAPIKey)
	if cfg.LLMBaseURL != "" {
		primaryCfg.BaseURL = cfg.LLMBaseURL
	}
	primary := &llm.OpenAIProvider{Inner: openai.NewClientWithConfig(primaryCfg)}

	var secondary llm.Client
	if cfg.SecondaryBaseURL != "" {
		secondaryCfg := openai.DefaultConfig(cfg.SecondaryAPIKey)
		secondaryCfg.BaseURL = cfg.SecondaryBaseURL
		secondary = &llm.OpenAIProvider{Inner: openai.NewClientWithConfig(secondaryCfg)}
	}

	return &llm.RetryingClient{
		Primary:   primary,
		Secondary: secondary,
		Config: llm.RetryConfig{
			MaxAttemptsPerProvider: cfg.MaxAttemptsPerProvider,
			BaseBackoff:            cfg.BaseBackoff,
			MaxBackoff:             cfg.MaxBackoff,
		},
	}
}
