package draft

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AssafLanir/ideas-edition-core/internal/canonicalize"
	"github.com/AssafLanir/ideas-edition-core/internal/config"
	"github.com/AssafLanir/ideas-edition-core/internal/evidence"
	"github.com/AssafLanir/ideas-edition-core/internal/roster"
	"github.com/AssafLanir/ideas-edition-core/internal/whitelist"
)

func fixtureEvidenceMap() evidence.Map {
	return evidence.Map{Chapters: []evidence.Chapter{
		{ChapterIndex: 1, ChapterTitle: "Early Risk", Claims: []evidence.Claim{
			{ID: "e1", Claim: "David took an early risk", Support: []evidence.Support{
				{Quote: "I bet everything I had on one idea", Speaker: "David"},
			}},
		}},
	}}
}

func fixtureTranscriptPair() canonicalize.TranscriptPair {
	return canonicalize.NewTranscriptPair("David said I bet everything I had on one idea during the call.")
}

func fixtureRoster() roster.Roster {
	return roster.New([]roster.Entry{{Name: "David", Role: roster.RoleGuest}})
}

func TestBuildCoverageReport_EmptyTranscriptIsInputError(t *testing.T) {
	_, err := BuildCoverageReport(fixtureEvidenceMap(), canonicalize.NewTranscriptPair(""), fixtureRoster(), config.Defaults())
	var de *DraftError
	if !errors.As(err, &de) || de.Kind != KindInputError {
		t.Fatalf("expected InputError, got %v", err)
	}
}

func TestBuildCoverageReport_TranscriptHashMismatchIsInputError(t *testing.T) {
	em := fixtureEvidenceMap()
	em.TranscriptHash = "not-the-real-hash"
	_, err := BuildCoverageReport(em, fixtureTranscriptPair(), fixtureRoster(), config.Defaults())
	var de *DraftError
	if !errors.As(err, &de) || de.Kind != KindInputError {
		t.Fatalf("expected InputError for transcript_hash mismatch, got %v", err)
	}
}

func TestBuildCoverageReport_ReportsEachChapterForWellFormedInputs(t *testing.T) {
	report, err := BuildCoverageReport(fixtureEvidenceMap(), fixtureTranscriptPair(), fixtureRoster(), config.Defaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Chapters) != 1 {
		t.Fatalf("expected 1 chapter in report, got %d", len(report.Chapters))
	}
}

func stubLLMServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
}

func TestGenerateChapter_AssemblesMarkdownFromLLMResponse(t *testing.T) {
	content := "David reflects on the matter in his own words.\n\n" +
		"### Core Claims\n\n" +
		"- **David took an early risk**: \"I bet everything I had on one idea\"\n"
	srv := stubLLMServer(t, content)
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Model = "test-model"
	cfg.LLMBaseURL = srv.URL
	cfg.LLMAPIKey = "test-key"

	chapterDraft, err := GenerateChapter(context.Background(), 1, fixtureEvidenceMap(), fixtureTranscriptPair(), fixtureRoster(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(chapterDraft.Markdown, "## Chapter 1: Early Risk") {
		t.Fatalf("expected chapter heading, got: %s", chapterDraft.Markdown)
	}
	if !strings.Contains(chapterDraft.Markdown, "### Key Excerpts") {
		t.Fatalf("expected freshly rendered Key Excerpts section, got: %s", chapterDraft.Markdown)
	}
	if len(chapterDraft.CoreClaims) != 1 {
		t.Fatalf("expected 1 parsed core claim, got %d: %+v", len(chapterDraft.CoreClaims), chapterDraft.CoreClaims)
	}
	if chapterDraft.CoreClaims[0].SupportingQuote != "I bet everything I had on one idea" {
		t.Fatalf("unexpected supporting quote: %q", chapterDraft.CoreClaims[0].SupportingQuote)
	}
}

func TestGenerateChapter_CachesGenerationCallsByPromptDigest(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := "David reflects on the matter in his own words.\n\n" +
			"### Core Claims\n\n" +
			"- **David took an early risk**: \"I bet everything I had on one idea\"\n"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Model = "test-model"
	cfg.LLMBaseURL = srv.URL
	cfg.LLMAPIKey = "test-key"
	cfg.CacheDir = t.TempDir()

	em := fixtureEvidenceMap()
	tp := fixtureTranscriptPair()
	rosters := fixtureRoster()

	if _, err := GenerateChapter(context.Background(), 1, em, tp, rosters, cfg); err != nil {
		t.Fatalf("first call: unexpected error: %v", err)
	}
	if _, err := GenerateChapter(context.Background(), 1, em, tp, rosters, cfg); err != nil {
		t.Fatalf("second call: unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call with caching, got %d", calls)
	}
}

func TestGenerateChapter_TranscriptHashMismatchIsInputError(t *testing.T) {
	cfg := config.Defaults()
	em := fixtureEvidenceMap()
	em.TranscriptHash = "not-the-real-hash"
	_, err := GenerateChapter(context.Background(), 1, em, fixtureTranscriptPair(), fixtureRoster(), cfg)
	var de *DraftError
	if !errors.As(err, &de) || de.Kind != KindInputError {
		t.Fatalf("expected InputError for transcript_hash mismatch, got %v", err)
	}
}

func TestGenerateChapter_UnknownChapterIsInputError(t *testing.T) {
	cfg := config.Defaults()
	_, err := GenerateChapter(context.Background(), 99, fixtureEvidenceMap(), fixtureTranscriptPair(), fixtureRoster(), cfg)
	var de *DraftError
	if !errors.As(err, &de) || de.Kind != KindInputError {
		t.Fatalf("expected InputError for unknown chapter, got %v", err)
	}
}

func TestGenerateChapter_CancelledContextBeforeCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := config.Defaults()
	_, err := GenerateChapter(ctx, 1, fixtureEvidenceMap(), fixtureTranscriptPair(), fixtureRoster(), cfg)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestEnforce_DelegatesToEnforcerPackage(t *testing.T) {
	em := fixtureEvidenceMap()
	tp := fixtureTranscriptPair()
	wl := whitelist.Build(em, tp, fixtureRoster())

	raw := "> \"something unmatched\"\n> — Nobody (UNCLEAR)\nPlain narrative line.\n"
	result, err := Enforce(raw, *wl, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(result.Text, "something unmatched") {
		t.Fatalf("expected unmatched blockquote dropped, got: %s", result.Text)
	}
}

func TestExtractCoreClaims_NoHeadingYieldsNil(t *testing.T) {
	if got := extractCoreClaims("Just narrative, no headings.\n"); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestExtractCoreClaims_PlaceholderYieldsNoClaims(t *testing.T) {
	md := "### Core Claims\n\n*No fully grounded claims available for this chapter.*\n"
	if got := extractCoreClaims(md); len(got) != 0 {
		t.Fatalf("expected no claims for placeholder, got %+v", got)
	}
}
