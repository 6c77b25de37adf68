// Package cache is the on-disk, content-addressed store behind both model
// call sites in this pipeline (§4.6): the Evidence-Map builder's reference
// LLM adapter and the chapter Generation Adapter. Both key a response by a
// sha256 digest of model+prompt, so a rerun of build_coverage_report /
// generate_chapter against unchanged inputs never re-spends a model call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
)

// Kind namespaces cache entries by the pipeline stage that produced them.
// An evidence-map response and a chapter draft never share a directory, so
// a digest collision across the two call sites — however unlikely — can
// never return one stage's cached bytes to the other.
type Kind string

const (
	KindEvidence Kind = "evidence"
	KindChapter  Kind = "chapter"
)

// LLMCache stores model responses under Dir, partitioned by Kind and keyed
// by KeyFrom(model, prompt).
type LLMCache struct {
	Dir string

	// StrictPerms, when true, enforces 0700 on cache directories and 0600 on
	// files instead of the default 0755/0644.
	StrictPerms bool
}

// KeyFrom builds a cache key from the model name and the full composed
// prompt (system+user concatenated by the caller).
func KeyFrom(model string, prompt string) string {
	h := sha256.Sum256([]byte(model + "\n\n" + prompt))
	return hex.EncodeToString(h[:])
}

func (c *LLMCache) dirFor(kind Kind) string {
	return filepath.Join(c.Dir, string(kind))
}

func (c *LLMCache) pathFor(kind Kind, key string) string {
	return filepath.Join(c.dirFor(kind), key+".json")
}

func (c *LLMCache) ensureDir(kind Kind) error {
	if c == nil || c.Dir == "" {
		return errors.New("cache: dir not configured")
	}
	perm := os.FileMode(0o755)
	if c.StrictPerms {
		perm = 0o700
	}
	return os.MkdirAll(c.dirFor(kind), perm)
}

// Get returns the cached bytes for key under kind, if present. A miss is
// reported as (nil, false, nil), not an error: an empty or absent cache is
// the normal cold-start state, not a failure.
func (c *LLMCache) Get(_ context.Context, kind Kind, key string) ([]byte, bool, error) {
	if err := c.ensureDir(kind); err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(c.pathFor(kind, key))
	if err != nil {
		return nil, false, nil
	}
	return b, true, nil
}

// Save writes data for key under kind, creating the kind's subdirectory if
// needed.
func (c *LLMCache) Save(_ context.Context, kind Kind, key string, data []byte) error {
	if err := c.ensureDir(kind); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if c.StrictPerms {
		mode = 0o600
	}
	return os.WriteFile(c.pathFor(kind, key), data, mode)
}
