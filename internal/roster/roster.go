// Package roster resolves a raw speaker name, as reported by the Evidence
// Map, to a stable SpeakerRef using a per-project list of known hosts and
// guests. Unknown names default to UNCLEAR so downstream consumers fail
// closed rather than attribute a quote to the wrong role.
package roster

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is the resolved category of a speaker.
type Role string

const (
	RoleHost    Role = "HOST"
	RoleGuest   Role = "GUEST"
	RoleCaller  Role = "CALLER"
	RoleClip    Role = "CLIP"
	RoleUnclear Role = "UNCLEAR"
)

// Ref is the stable tuple downstream components attribute quotes to.
type Ref struct {
	SpeakerID   string `json:"speaker_id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Entry is one configured row in a project roster.
type Entry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Role    Role     `yaml:"role"`
}

// Roster is the resolver built from a project's host/guest/caller/clip
// entries. Lookups are case-insensitive over name and aliases.
type Roster struct {
	byKey map[string]Ref
}

// file is the on-disk YAML shape loaded by LoadYAML.
type file struct {
	Entries []Entry `yaml:"entries"`
}

// New builds a Roster from explicit entries.
func New(entries []Entry) Roster {
	r := Roster{byKey: make(map[string]Ref, len(entries)*2)}
	for _, e := range entries {
		ref := Ref{
			SpeakerID:   slug(e.Name),
			DisplayName: strings.TrimSpace(e.Name),
			Role:        normalizeRole(e.Role),
		}
		r.byKey[key(e.Name)] = ref
		for _, a := range e.Aliases {
			r.byKey[key(a)] = ref
		}
	}
	return r
}

// LoadYAML parses a roster document in the format written by project
// configuration (one "entries" list of {name, aliases, role}).
func LoadYAML(data []byte) (Roster, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Roster{}, err
	}
	return New(f.Entries), nil
}

// Resolve maps a raw speaker name from an EvidenceEntry support to a
// SpeakerRef. An empty name, or one not found in the roster, resolves to
// an UNCLEAR ref keyed by its own slug so it still merges stably with
// itself across evidence entries.
func (r Roster) Resolve(name string) Ref {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Ref{SpeakerID: "", DisplayName: "", Role: RoleUnclear}
	}
	if ref, ok := r.byKey[key(trimmed)]; ok {
		return ref
	}
	return Ref{SpeakerID: slug(trimmed), DisplayName: trimmed, Role: RoleUnclear}
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalizeRole(r Role) Role {
	switch r {
	case RoleHost, RoleGuest, RoleCaller, RoleClip:
		return r
	default:
		return RoleUnclear
	}
}

// slug produces a stable, lower-case, hyphenated identifier from a display
// name, e.g. "David Deutsch" -> "david-deutsch".
func slug(name string) string {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	var sb strings.Builder
	prevDash := false
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
			prevDash = false
		default:
			if !prevDash && sb.Len() > 0 {
				sb.WriteByte('-')
				prevDash = true
			}
		}
	}
	out := strings.TrimRight(sb.String(), "-")
	return out
}
