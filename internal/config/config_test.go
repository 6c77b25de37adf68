package config

import (
	"testing"
	"time"

	"github.com/AssafLanir/ideas-edition-core/internal/coverage"
	"github.com/AssafLanir/ideas-edition-core/internal/excerpt"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.MaxAttemptsPerProvider != 3 {
		t.Fatalf("expected default 3 attempts, got %d", cfg.MaxAttemptsPerProvider)
	}
	if cfg.PerChapterTimeout != 60*time.Second {
		t.Fatalf("expected default 60s chapter timeout, got %v", cfg.PerChapterTimeout)
	}
	if cfg.CoverageThresholds != coverage.DefaultThresholds() {
		t.Fatalf("expected coverage thresholds to match coverage.DefaultThresholds(), got %+v", cfg.CoverageThresholds)
	}
	if cfg.ExcerptCounts != excerpt.DefaultCounts() {
		t.Fatalf("expected excerpt counts to match excerpt.DefaultCounts(), got %+v", cfg.ExcerptCounts)
	}
}

func TestApplyEnv_ExplicitValueTakesPrecedence(t *testing.T) {
	t.Setenv("LLM_MODEL", "from-env")
	cfg := Config{Model: "from-flag"}
	ApplyEnv(&cfg)
	if cfg.Model != "from-flag" {
		t.Fatalf("expected explicit value to win, got %q", cfg.Model)
	}
}

func TestApplyEnv_FillsUnsetFromEnv(t *testing.T) {
	t.Setenv("LLM_MODEL", "from-env")
	cfg := Config{}
	ApplyEnv(&cfg)
	if cfg.Model != "from-env" {
		t.Fatalf("expected env fallback, got %q", cfg.Model)
	}
}

func TestLoadYAML_MergesOntoBaseWithoutOverridingSetFields(t *testing.T) {
	base := Config{Model: "already-set"}
	data := []byte("project_id: proj-1\nllm:\n  model: from-file\n  base_url: http://localhost:8080\n")
	cfg, err := LoadYAML(base, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model != "already-set" {
		t.Fatalf("expected base value preserved, got %q", cfg.Model)
	}
	if cfg.ProjectID != "proj-1" {
		t.Fatalf("expected project_id from file, got %q", cfg.ProjectID)
	}
	if cfg.LLMBaseURL != "http://localhost:8080" {
		t.Fatalf("expected base_url from file, got %q", cfg.LLMBaseURL)
	}
}

func TestLoadYAML_OverridesCoverageAndExcerptDefaultsWhenBaseIsZero(t *testing.T) {
	base := Config{} // zero value, not Defaults() -- every field is fair game for the file
	data := []byte("coverage:\n  strong_min_usable_quotes: 7\n  strong_min_density: 60\n  strong_target_words: 900\n" +
		"  medium_min_usable_quotes: 4\n  medium_min_density: 35\n  medium_target_words: 600\n  weak_target_words: 300\n" +
		"excerpts:\n  strong: 5\n  medium: 4\n  weak: 3\n")
	cfg, err := LoadYAML(base, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := coverage.Thresholds{
		StrongMinUsableQuotes: 7, StrongMinDensity: 60, StrongTargetWords: 900,
		MediumMinUsableQuotes: 4, MediumMinDensity: 35, MediumTargetWords: 600,
		WeakTargetWords: 300,
	}
	if cfg.CoverageThresholds != want {
		t.Fatalf("expected coverage thresholds from file, got %+v", cfg.CoverageThresholds)
	}
	if cfg.ExcerptCounts != (excerpt.Counts{Strong: 5, Medium: 4, Weak: 3}) {
		t.Fatalf("expected excerpt counts from file, got %+v", cfg.ExcerptCounts)
	}
}

func TestLoadYAML_PreservesNonZeroBaseCoverageThresholds(t *testing.T) {
	base := Config{CoverageThresholds: coverage.DefaultThresholds(), ExcerptCounts: excerpt.DefaultCounts()}
	data := []byte("coverage:\n  strong_min_usable_quotes: 99\nexcerpts:\n  strong: 99\n")
	cfg, err := LoadYAML(base, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CoverageThresholds.StrongMinUsableQuotes != coverage.DefaultThresholds().StrongMinUsableQuotes {
		t.Fatalf("expected base value preserved, got %+v", cfg.CoverageThresholds)
	}
	if cfg.ExcerptCounts.Strong != excerpt.DefaultCounts().Strong {
		t.Fatalf("expected base value preserved, got %+v", cfg.ExcerptCounts)
	}
}

