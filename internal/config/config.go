// Package config is the explicit, enumerated configuration record handed
// to the orchestrator (§6.3, §9 Open Question on config typing): a flat
// struct with layered flag/env/file overrides, rather than a dynamic
// dict-typed object.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AssafLanir/ideas-edition-core/internal/coverage"
	"github.com/AssafLanir/ideas-edition-core/internal/excerpt"
)

// Config is the full set of knobs the orchestrator (internal/draft) needs
// to run build_coverage_report / generate_chapter / enforce.
type Config struct {
	ProjectID string

	// Generation Adapter: primary provider plus an optional secondary for
	// 429/5xx/timeout fallback (§4.6). Both are assumed to serve Model.
	Model            string
	LLMBaseURL       string
	LLMAPIKey        string
	SecondaryBaseURL string
	SecondaryAPIKey  string

	// Retry/backoff (§5 resource ceilings: capped at 2 retries per provider)
	MaxAttemptsPerProvider int
	BaseBackoff            time.Duration
	MaxBackoff             time.Duration
	PerChapterTimeout      time.Duration

	// Cache
	CacheDir string

	// CoverageThresholds is the §4.4 STRONG/MEDIUM cutoff table (usable-quote
	// counts and quote-words-per-claim density) plus the target word budget
	// each level generates toward; the Coverage Analyzer and Chapter Merger
	// classify against this instead of a hardcoded table.
	CoverageThresholds coverage.Thresholds

	// ExcerptCounts is the §4.5 per-level excerpt-count table the Excerpt
	// Selector requires before falling back to the next tier.
	ExcerptCounts excerpt.Counts

	Verbose bool
}

// Defaults returns a Config populated with the §4.4/§4.5/§5 baseline
// values, before any flag/env/file overlay is applied.
func Defaults() Config {
	return Config{
		MaxAttemptsPerProvider: 3,
		BaseBackoff:            200 * time.Millisecond,
		MaxBackoff:             5 * time.Second,
		PerChapterTimeout:      60 * time.Second,
		CoverageThresholds:     coverage.DefaultThresholds(),
		ExcerptCounts:          excerpt.DefaultCounts(),
	}
}

// ApplyEnv overlays environment variables onto unset fields of cfg.
// Explicit values already set on cfg take precedence over env.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = os.Getenv("PROJECT_ID")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("LLM_MODEL")
	}
	if cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = os.Getenv("LLM_BASE_URL")
	}
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")
	}
	if cfg.SecondaryBaseURL == "" {
		cfg.SecondaryBaseURL = os.Getenv("LLM_SECONDARY_BASE_URL")
	}
	if cfg.SecondaryAPIKey == "" {
		cfg.SecondaryAPIKey = os.Getenv("LLM_SECONDARY_API_KEY")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = os.Getenv("CACHE_DIR")
	}
	if cfg.MaxAttemptsPerProvider == 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("MAX_ATTEMPTS_PER_PROVIDER"))); err == nil && n > 0 {
			cfg.MaxAttemptsPerProvider = n
		}
	}
	if cfg.PerChapterTimeout == 0 {
		if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv("PER_CHAPTER_TIMEOUT"))); err == nil {
			cfg.PerChapterTimeout = d
		}
	}
	if s := strings.ToLower(strings.TrimSpace(os.Getenv("VERBOSE"))); !cfg.Verbose && (s == "1" || s == "true" || s == "yes") {
		cfg.Verbose = true
	}
}

// FileConfig is the on-disk YAML shape for project configuration, with
// nested sections for LLM and cache settings.
type FileConfig struct {
	ProjectID string `yaml:"project_id"`
	LLM       struct {
		Model            string `yaml:"model"`
		BaseURL          string `yaml:"base_url"`
		APIKey           string `yaml:"api_key"`
		SecondaryBaseURL string `yaml:"secondary_base_url"`
		SecondaryAPIKey  string `yaml:"secondary_api_key"`
	} `yaml:"llm"`
	Cache struct {
		Dir string `yaml:"dir"`
	} `yaml:"cache"`
	Coverage FileCoverageThresholds `yaml:"coverage"`
	Excerpts FileExcerptCounts      `yaml:"excerpts"`
	Verbose  bool                   `yaml:"verbose"`
}

// FileCoverageThresholds is the YAML shape of a coverage section, mirroring
// coverage.Thresholds field-for-field.
type FileCoverageThresholds struct {
	StrongMinUsableQuotes int     `yaml:"strong_min_usable_quotes"`
	StrongMinDensity      float64 `yaml:"strong_min_density"`
	StrongTargetWords     int     `yaml:"strong_target_words"`
	MediumMinUsableQuotes int     `yaml:"medium_min_usable_quotes"`
	MediumMinDensity      float64 `yaml:"medium_min_density"`
	MediumTargetWords     int     `yaml:"medium_target_words"`
	WeakTargetWords       int     `yaml:"weak_target_words"`
}

// FileExcerptCounts is the YAML shape of an excerpts section, mirroring
// excerpt.Counts field-for-field.
type FileExcerptCounts struct {
	Strong int `yaml:"strong"`
	Medium int `yaml:"medium"`
	Weak   int `yaml:"weak"`
}

// LoadYAML parses a project configuration file and merges it onto base,
// with base's already-set fields taking precedence (same override
// direction as ApplyEnv).
func LoadYAML(base Config, data []byte) (Config, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, err
	}
	cfg := base
	if cfg.ProjectID == "" {
		cfg.ProjectID = fc.ProjectID
	}
	if cfg.Model == "" {
		cfg.Model = fc.LLM.Model
	}
	if cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = fc.LLM.BaseURL
	}
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = fc.LLM.APIKey
	}
	if cfg.SecondaryBaseURL == "" {
		cfg.SecondaryBaseURL = fc.LLM.SecondaryBaseURL
	}
	if cfg.SecondaryAPIKey == "" {
		cfg.SecondaryAPIKey = fc.LLM.SecondaryAPIKey
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = fc.Cache.Dir
	}
	mergeCoverageThresholds(&cfg.CoverageThresholds, fc.Coverage)
	mergeExcerptCounts(&cfg.ExcerptCounts, fc.Excerpts)
	if !cfg.Verbose {
		cfg.Verbose = fc.Verbose
	}
	return cfg, nil
}

// mergeCoverageThresholds overlays a YAML coverage section onto th,
// leaving any field th already carries a non-zero value for untouched —
// same override direction as the rest of LoadYAML.
func mergeCoverageThresholds(th *coverage.Thresholds, fc FileCoverageThresholds) {
	if th.StrongMinUsableQuotes == 0 {
		th.StrongMinUsableQuotes = fc.StrongMinUsableQuotes
	}
	if th.StrongMinDensity == 0 {
		th.StrongMinDensity = fc.StrongMinDensity
	}
	if th.StrongTargetWords == 0 {
		th.StrongTargetWords = fc.StrongTargetWords
	}
	if th.MediumMinUsableQuotes == 0 {
		th.MediumMinUsableQuotes = fc.MediumMinUsableQuotes
	}
	if th.MediumMinDensity == 0 {
		th.MediumMinDensity = fc.MediumMinDensity
	}
	if th.MediumTargetWords == 0 {
		th.MediumTargetWords = fc.MediumTargetWords
	}
	if th.WeakTargetWords == 0 {
		th.WeakTargetWords = fc.WeakTargetWords
	}
}

// mergeExcerptCounts overlays a YAML excerpts section onto c, same override
// direction as mergeCoverageThresholds.
func mergeExcerptCounts(c *excerpt.Counts, fc FileExcerptCounts) {
	if c.Strong == 0 {
		c.Strong = fc.Strong
	}
	if c.Medium == 0 {
		c.Medium = fc.Medium
	}
	if c.Weak == 0 {
		c.Weak = fc.Weak
	}
}
