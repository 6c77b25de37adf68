package assembler

import (
	"strings"
	"testing"

	"github.com/AssafLanir/ideas-edition-core/internal/canonicalize"
	"github.com/AssafLanir/ideas-edition-core/internal/evidence"
	"github.com/AssafLanir/ideas-edition-core/internal/roster"
	"github.com/AssafLanir/ideas-edition-core/internal/whitelist"
)

func fixtureWhitelist(t *testing.T) *whitelist.Whitelist {
	t.Helper()
	transcript := "David said wisdom is precious indeed today."
	em := evidence.Map{Chapters: []evidence.Chapter{
		{ChapterIndex: 1, Claims: []evidence.Claim{
			{ID: "e1", Claim: "a", Support: []evidence.Support{
				{Quote: "wisdom is precious indeed today", Speaker: "David"},
			}},
		}},
	}}
	tp := canonicalize.NewTranscriptPair(transcript)
	rosters := roster.New([]roster.Entry{{Name: "David", Role: roster.RoleGuest}})
	return whitelist.Build(em, tp, rosters)
}

func fixtureExcerpts(t *testing.T) []whitelist.Quote {
	t.Helper()
	wl := fixtureWhitelist(t)
	return wl.Quotes()
}

func TestAssemble_BuildsStableSkeleton(t *testing.T) {
	enforced := "David reflects on wisdom in his own words.\n"
	out := Assemble(1, "Early Risk", enforced, fixtureExcerpts(t))
	if !strings.HasPrefix(out, "## Chapter 1: Early Risk\n\n") {
		t.Fatalf("expected chapter heading first, got: %s", out)
	}
	if !strings.Contains(out, "David reflects on wisdom in his own words.") {
		t.Fatalf("expected narrative preserved, got: %s", out)
	}
	if !strings.Contains(out, "### Key Excerpts\n\n> \"wisdom is precious indeed today\"\n> — David (GUEST)") {
		t.Fatalf("expected freshly rendered Key Excerpts block, got: %s", out)
	}
	if !strings.Contains(out, "### Core Claims\n\n*No fully grounded claims available for this chapter.*") {
		t.Fatalf("expected Core Claims placeholder when enforcer emitted none, got: %s", out)
	}
}

func TestAssemble_DiscardsModelsOwnKeyExcerptsRendering(t *testing.T) {
	enforced := "Narrative here.\n" +
		"### Key Excerpts\n\n" +
		"> \"something the model made up\"\n" +
		"> — Nobody (UNCLEAR)\n" +
		"### Core Claims\n\n" +
		"- **a claim**: \"wisdom is precious indeed today\"\n"
	out := Assemble(1, "Early Risk", enforced, fixtureExcerpts(t))
	if strings.Contains(out, "something the model made up") {
		t.Fatalf("expected model's own Key Excerpts rendering discarded, got: %s", out)
	}
	if !strings.Contains(out, "wisdom is precious indeed today") {
		t.Fatalf("expected fresh excerpt still present, got: %s", out)
	}
	if !strings.Contains(out, "a claim") {
		t.Fatalf("expected enforcer's Core Claims block preserved, got: %s", out)
	}
}

func TestValidate_NoViolationsForWellFormedChapter(t *testing.T) {
	enforced := "Narrative.\n"
	out := Assemble(1, "Title", enforced, fixtureExcerpts(t))
	wl := fixtureWhitelist(t)
	if got := Validate(out, wl); len(got) != 0 {
		t.Fatalf("expected no violations, got: %v", got)
	}
}

func TestValidate_FlagsUnwhitelistedInlineQuoteOutsideProtectedSections(t *testing.T) {
	wl := fixtureWhitelist(t)
	markdown := "## Chapter 1: Title\n\n" +
		"He said \"something totally unverified\" in the narrative.\n\n" +
		"### Key Excerpts\n\n### Core Claims\n\n" + corePlaceholder + "\n"
	got := Validate(markdown, wl)
	if len(got) == 0 {
		t.Fatalf("expected a violation for unwhitelisted inline quote outside protected sections")
	}
}

func TestValidate_FlagsEmptyKeyExcerptsBlock(t *testing.T) {
	wl := fixtureWhitelist(t)
	markdown := "## Chapter 1: Title\n\nNarrative.\n\n### Key Excerpts\n\n### Core Claims\n\n" + corePlaceholder + "\n"
	got := Validate(markdown, wl)
	if len(got) == 0 {
		t.Fatalf("expected a violation for whitespace-only Key Excerpts section")
	}
}

func TestValidate_FlagsMissingCoreClaimsPlaceholder(t *testing.T) {
	wl := fixtureWhitelist(t)
	markdown := "## Chapter 1: Title\n\nNarrative.\n\n### Key Excerpts\n\n> \"wisdom is precious indeed today\"\n> — David (GUEST)\n\n### Core Claims\n\n"
	got := Validate(markdown, wl)
	if len(got) == 0 {
		t.Fatalf("expected a violation for empty Core Claims with no placeholder")
	}
}
