package enforcer

import (
	"strings"
	"testing"

	"github.com/AssafLanir/ideas-edition-core/internal/canonicalize"
	"github.com/AssafLanir/ideas-edition-core/internal/evidence"
	"github.com/AssafLanir/ideas-edition-core/internal/roster"
	"github.com/AssafLanir/ideas-edition-core/internal/whitelist"
)

func fixtureRoster() roster.Roster {
	return roster.New([]roster.Entry{
		{Name: "David", Role: roster.RoleGuest},
		{Name: "Naval", Role: roster.RoleHost},
	})
}

func buildWhitelist(t *testing.T, transcript string, em evidence.Map) *whitelist.Whitelist {
	t.Helper()
	tp := canonicalize.NewTranscriptPair(transcript)
	return whitelist.Build(em, tp, fixtureRoster())
}

func TestEnforce_StripsBlockquoteOutsideProtectedSections(t *testing.T) {
	raw := "Narrative begins.\n" +
		"> \"this was never in evidence\"\n" +
		"> — David\n" +
		"### Key Excerpts\n" +
		"### Core Claims\n" +
		"> \"smuggled after claims\"\n" +
		"> — David\n"
	wl := buildWhitelist(t, "irrelevant transcript text here", evidence.Map{})
	res := Enforce(raw, wl, 1)
	if strings.Contains(res.Text, "this was never in evidence") {
		t.Fatalf("expected blockquote before Key Excerpts to be stripped, got: %s", res.Text)
	}
	if strings.Contains(res.Text, "smuggled after claims") {
		t.Fatalf("expected blockquote after Core Claims to be stripped, got: %s", res.Text)
	}
}

func TestEnforce_ValidatesAndReplacesMatchedBlockquote(t *testing.T) {
	transcript := "David said wisdom is precious indeed today."
	em := evidence.Map{Chapters: []evidence.Chapter{
		{ChapterIndex: 1, Claims: []evidence.Claim{
			{ID: "e1", Claim: "a", Support: []evidence.Support{
				{Quote: "wisdom is precious indeed today", Speaker: "David"},
			}},
		}},
	}}
	wl := buildWhitelist(t, transcript, em)

	raw := "### Key Excerpts\n" +
		"> \"Wisdom Is Precious Indeed Today\"\n" +
		"> — David\n" +
		"### Core Claims\n"
	res := Enforce(raw, wl, 1)
	if len(res.Replaced) != 1 {
		t.Fatalf("expected one replacement, got %d: %+v", len(res.Replaced), res.Replaced)
	}
	if !strings.Contains(res.Text, "wisdom is precious indeed today") {
		t.Fatalf("expected exact whitelist text in output, got: %s", res.Text)
	}
	if !strings.Contains(res.Text, "David (GUEST)") {
		t.Fatalf("expected normalized typed attribution, got: %s", res.Text)
	}
}

func TestEnforce_DropsUnmatchedBlockquote(t *testing.T) {
	wl := buildWhitelist(t, "irrelevant", evidence.Map{})
	raw := "### Key Excerpts\n" +
		"> \"never said this at all\"\n" +
		"> — David\n" +
		"### Core Claims\n"
	res := Enforce(raw, wl, 1)
	if len(res.Dropped) != 1 {
		t.Fatalf("expected one dropped blockquote, got %d: %+v", len(res.Dropped), res.Dropped)
	}
	if strings.Contains(res.Text, "never said this at all") {
		t.Fatalf("expected unmatched blockquote removed, got: %s", res.Text)
	}
}

func TestEnforce_InlineQuoteReplacedWhenMatched(t *testing.T) {
	transcript := "David said wisdom is precious indeed today."
	em := evidence.Map{Chapters: []evidence.Chapter{
		{ChapterIndex: 1, Claims: []evidence.Claim{
			{ID: "e1", Claim: "a", Support: []evidence.Support{
				{Quote: "wisdom is precious indeed today", Speaker: "David"},
			}},
		}},
	}}
	wl := buildWhitelist(t, transcript, em)
	raw := "David once said \"wisdom is precious indeed today\" on the show."
	res := Enforce(raw, wl, 1)
	if len(res.Replaced) != 1 {
		t.Fatalf("expected inline quote to be recorded as replaced, got %+v", res.Replaced)
	}
	if !strings.Contains(res.Text, "wisdom is precious indeed today") {
		t.Fatalf("expected exact whitelist text inline, got: %s", res.Text)
	}
}

func TestEnforce_InlineQuoteDemotedToParaphraseWhenUnmatched(t *testing.T) {
	wl := buildWhitelist(t, "irrelevant", evidence.Map{})
	raw := "David once said \"something nobody can verify\" on the show."
	res := Enforce(raw, wl, 1)
	if strings.Contains(res.Text, "\"something nobody can verify\"") {
		t.Fatalf("expected quote marks stripped for unverifiable inline quote, got: %s", res.Text)
	}
	if !strings.Contains(res.Text, "something nobody can verify") {
		t.Fatalf("expected paraphrased text preserved, got: %s", res.Text)
	}
}

func TestEnforce_CoreClaimsPlaceholderWhenAllDropped(t *testing.T) {
	wl := buildWhitelist(t, "irrelevant", evidence.Map{})
	raw := "### Core Claims\n" +
		"- David believes \"a claim with no backing quote\" strongly.\n"
	res := Enforce(raw, wl, 1)
	if !strings.Contains(res.Text, "No fully grounded claims available") {
		t.Fatalf("expected placeholder for fully-dropped Core Claims, got: %s", res.Text)
	}
}

func TestEnforce_StripsStrayHTMLTags(t *testing.T) {
	wl := buildWhitelist(t, "irrelevant", evidence.Map{})
	raw := "Some narrative with a <b>bold</b> stray tag and <script>alert(1)</script> in it."
	res := Enforce(raw, wl, 1)
	if strings.Contains(res.Text, "<b>") || strings.Contains(res.Text, "<script>") {
		t.Fatalf("expected stray HTML tags stripped, got: %s", res.Text)
	}
	if !strings.Contains(res.Text, "bold") {
		t.Fatalf("expected inner text preserved, got: %s", res.Text)
	}
}

func TestEnforce_CoreClaimsKeepsGuestBackedClaim(t *testing.T) {
	transcript := "David said wisdom is precious indeed today."
	em := evidence.Map{Chapters: []evidence.Chapter{
		{ChapterIndex: 1, Claims: []evidence.Claim{
			{ID: "e1", Claim: "a", Support: []evidence.Support{
				{Quote: "wisdom is precious indeed today", Speaker: "David"},
			}},
		}},
	}}
	wl := buildWhitelist(t, transcript, em)
	raw := "### Core Claims\n" +
		"- David believes \"wisdom is precious indeed today\" deeply.\n"
	res := Enforce(raw, wl, 1)
	if strings.Contains(res.Text, "No fully grounded claims available") {
		t.Fatalf("expected guest-backed claim to survive, got: %s", res.Text)
	}
}
