package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"regexp"
	"strings"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

var (
	claimRe   = regexp.MustCompile(`(?m)^- (.+)$`)
	excerptRe = regexp.MustCompile(`> "([^"]+)"\n> — ([^\n(]+) \(([A-Za-z]+)\)`)
)

func main() {
	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "test-model"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8082"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": model, "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		sys, user := "", ""
		if len(req.Messages) > 0 {
			sys = strings.TrimSpace(req.Messages[0].Content)
		}
		if len(req.Messages) > 1 {
			user = req.Messages[1].Content
		}

		var content string
		switch {
		case strings.Contains(sys, "careful ghostwriter"):
			content = chapterResponse(user)
		default:
			http.Error(w, "unexpected system message", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	})

	log.Printf("llmstub listening on %s (model=%s)", addr, model)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

// chapterResponse fabricates a plausible narrative-plus-Core-Claims chapter
// from the excerpts and claims embedded in the composed user prompt, so a
// draftcore run against this stub exercises the Enforcer and Assembler
// exactly as a live model response would.
func chapterResponse(user string) string {
	var sb strings.Builder
	sb.WriteString("The guest speaks plainly about the matter at hand, without embellishment.\n\n")

	excerpts := excerptRe.FindAllStringSubmatch(user, -1)
	claims := claimRe.FindAllStringSubmatch(claimsSection(user), -1)

	sb.WriteString("### Core Claims\n\n")
	if len(claims) == 0 || len(excerpts) == 0 {
		sb.WriteString("(nothing to report)\n")
		return sb.String()
	}
	for i, c := range claims {
		quote := excerpts[i%len(excerpts)][1]
		claimText := strings.TrimSpace(c[1])
		sb.WriteString("- **" + claimText + "**: \"" + quote + "\"\n")
	}
	return sb.String()
}

func claimsSection(user string) string {
	idx := strings.Index(user, "Claims to cover:")
	if idx == -1 {
		return ""
	}
	rest := user[idx:]
	end := strings.Index(rest, "\nKey Excerpts")
	if end == -1 {
		return rest
	}
	return rest[:end]
}
