package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AssafLanir/ideas-edition-core/internal/auditpdf"
	"github.com/AssafLanir/ideas-edition-core/internal/canonicalize"
	"github.com/AssafLanir/ideas-edition-core/internal/config"
	"github.com/AssafLanir/ideas-edition-core/internal/coverage"
	"github.com/AssafLanir/ideas-edition-core/internal/draft"
	"github.com/AssafLanir/ideas-edition-core/internal/evidence"
	"github.com/AssafLanir/ideas-edition-core/internal/roster"
	"github.com/AssafLanir/ideas-edition-core/internal/whitelist"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		evidencePath   string
		transcriptPath string
		rosterPath     string
		configPath     string
		outputPath     string
		auditPDFPath   string
		verbose        bool
		model          string
		llmBaseURL     string
		llmKey         string
	)

	flag.StringVar(&evidencePath, "evidence", "evidence_map.json", "Path to the Evidence Map JSON document")
	flag.StringVar(&transcriptPath, "transcript", "transcript.txt", "Path to the raw transcript text")
	flag.StringVar(&rosterPath, "roster", "roster.yaml", "Path to the project roster YAML")
	flag.StringVar(&configPath, "config", "", "Optional path to a project configuration YAML file")
	flag.StringVar(&outputPath, "output", "draft.md", "Path to write the assembled chapter markdown")
	flag.StringVar(&auditPDFPath, "audit-pdf", "", "Optional path to write a pre-generation audit PDF and exit")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.StringVar(&model, "llm.model", os.Getenv("LLM_MODEL"), "Model name")
	flag.StringVar(&llmBaseURL, "llm.base", os.Getenv("LLM_BASE_URL"), "OpenAI-compatible base URL")
	flag.StringVar(&llmKey, "llm.key", os.Getenv("LLM_API_KEY"), "API key for OpenAI-compatible server")
	flag.Parse()

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg := config.Defaults()
	cfg.Model = model
	cfg.LLMBaseURL = llmBaseURL
	cfg.LLMAPIKey = llmKey
	cfg.Verbose = verbose
	config.ApplyEnv(&cfg)
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			log.Error().Err(err).Str("path", configPath).Msg("read config file")
			os.Exit(1)
		}
		cfg, err = config.LoadYAML(cfg, data)
		if err != nil {
			log.Error().Err(err).Msg("parse config file")
			os.Exit(1)
		}
	}

	if err := run(runArgs{
		evidencePath:   evidencePath,
		transcriptPath: transcriptPath,
		rosterPath:     rosterPath,
		outputPath:     outputPath,
		auditPDFPath:   auditPDFPath,
		cfg:            cfg,
	}); err != nil {
		log.Error().Err(err).Msg("draftcore failed")
		os.Exit(1)
	}
}

type runArgs struct {
	evidencePath   string
	transcriptPath string
	rosterPath     string
	outputPath     string
	auditPDFPath   string
	cfg            config.Config
}

func run(a runArgs) error {
	em, err := loadEvidenceMap(a.evidencePath)
	if err != nil {
		return fmt.Errorf("load evidence map: %w", err)
	}
	transcriptRaw, err := os.ReadFile(a.transcriptPath)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	tp := canonicalize.NewTranscriptPair(string(transcriptRaw))
	if em.TranscriptHash != "" && em.TranscriptHash != tp.Hash {
		return fmt.Errorf("transcript hash mismatch: evidence map expects %q, transcript canonicalizes to %q", em.TranscriptHash, tp.Hash)
	}

	rosterData, err := os.ReadFile(a.rosterPath)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	rosters, err := roster.LoadYAML(rosterData)
	if err != nil {
		return fmt.Errorf("parse roster: %w", err)
	}

	report, err := draft.BuildCoverageReport(em, tp, rosters, a.cfg)
	if err != nil {
		return fmt.Errorf("build coverage report: %w", err)
	}
	log.Info().Bool("feasible", report.IsFeasible).Int("chapters", len(report.Chapters)).Msg("coverage report built")

	if a.auditPDFPath != "" {
		return writeAuditPDF(em, tp, rosters, report, a.auditPDFPath)
	}

	if !report.IsFeasible {
		log.Warn().Msg("coverage report is not feasible; generating anyway, with placeholders for chapters without usable quotes")
	}

	ctx := context.Background()
	var out strings.Builder
	for _, chapter := range em.Chapters {
		chapterCoverage, ok := report.ChapterOf(report.IndexMap[chapter.ChapterIndex])
		if !ok || chapterCoverage.UsableQuotes == 0 {
			out.WriteString(draft.UnusablePlaceholder(chapter.ChapterIndex, chapter.ChapterTitle, "no usable evidence for this chapter"))
			out.WriteString("\n")
			continue
		}

		chapterDraft, err := draft.GenerateChapter(ctx, chapter.ChapterIndex, em, tp, rosters, a.cfg)
		if err != nil {
			log.Error().Err(err).Int("chapter", chapter.ChapterIndex).Msg("chapter generation failed")
			out.WriteString(draft.UnusablePlaceholder(chapter.ChapterIndex, chapter.ChapterTitle, "generation failed"))
			out.WriteString("\n")
			continue
		}
		out.WriteString(chapterDraft.Markdown)
		out.WriteString("\n")
	}

	if err := os.WriteFile(a.outputPath, []byte(out.String()), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func writeAuditPDF(em evidence.Map, tp canonicalize.TranscriptPair, rosters roster.Roster, report coverage.Report, outPath string) error {
	wl := whitelist.Build(em, tp, rosters)
	return auditpdf.Write(report, wl, outPath)
}

func loadEvidenceMap(path string) (evidence.Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return evidence.Map{}, err
	}
	var em evidence.Map
	if err := json.Unmarshal(data, &em); err != nil {
		return evidence.Map{}, err
	}
	return em, nil
}
