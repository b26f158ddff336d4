// Package resolve calls an OpenAI-compatible chat-completion endpoint
// to fuse conflicting metadata signals into one decision, per
// spec.md §4.7. The HTTP client shape (timeout, context, typed
// JSON request/response) follows the teacher's
// internal/musicbrainz/client.go; the prompt-injection hardening
// (truncate interpolated directory names, strip newlines) and the
// per-call nonce to defeat semantic caching are new, grounded on
// spec.md §4.7 directly since no pack repo talks to an LLM endpoint.
package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abcpipeline/audiobook-organizer/internal/catalog"
	"github.com/abcpipeline/audiobook-organizer/internal/pathparse"
	"github.com/abcpipeline/audiobook-organizer/internal/tagread"
)

// Timeout is the LLM HTTP timeout, per spec.md §4.11.
const Timeout = 60 * time.Second

const (
	resolveMaxTokens      = 150
	disambiguateMaxTokens = 10
	temperature           = 0.1
	maxPromptDirNameLen   = 200
)

// Decision is the resolver's output: the same hint-tuple shape as the
// other signal sources, with empty fields meaning "no opinion".
type Decision struct {
	Author   string
	Title    string
	Series   string
	Position string
}

// Resolver calls a chat-completion endpoint.
type Resolver struct {
	BaseURL    string
	APIKey     string
	Model      string
	httpClient *http.Client
}

// New returns a Resolver targeting baseURL with apiKey and model.
func New(baseURL, apiKey, model string) *Resolver {
	return &Resolver{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		httpClient: &http.Client{Timeout: Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// truncateForPrompt strips newlines and caps length to reduce
// prompt-injection surface, per spec.md §4.7.
func truncateForPrompt(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	if len(s) > maxPromptDirNameLen {
		s = s[:maxPromptDirNameLen]
	}
	return s
}

// BuildPrompt assembles the structured resolution prompt: path parser
// output, embedded tags, top-5 catalog candidates, and the source
// directory name. A nonce is prepended to defeat any semantic cache
// sitting in front of the endpoint.
func BuildPrompt(pathHint pathparse.Hint, tagHint tagread.Hint, candidates []catalog.Candidate, sourceDirName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "nonce: %s\n", uuid.NewString())
	b.WriteString("no-cache: true\n\n")
	b.WriteString("You are resolving the canonical identity of an audiobook from multiple uncertain signals.\n\n")
	fmt.Fprintf(&b, "Source directory name: %q\n\n", truncateForPrompt(sourceDirName))

	b.WriteString("Path-parsed hint:\n")
	fmt.Fprintf(&b, "  author=%q title=%q series=%q position=%q year=%q\n\n",
		pathHint.Author, pathHint.Title, pathHint.Series, pathHint.Position, pathHint.Year)

	b.WriteString("Embedded tag hint:\n")
	fmt.Fprintf(&b, "  author=%q title=%q series=%q position=%q year=%q\n\n",
		tagHint.Author, tagHint.Title, tagHint.Series, tagHint.Position, tagHint.Year)

	b.WriteString("Catalog candidates:\n")
	top := candidates
	if len(top) > 5 {
		top = top[:5]
	}
	for i, c := range top {
		fmt.Fprintf(&b, "  %d. title=%q authors=%v series=%q position=%q asin=%q\n",
			i+1, c.Title, c.Authors, c.Series, c.Position, c.ASIN)
	}

	b.WriteString("\nRespond with exactly these labeled lines and nothing else:\n")
	b.WriteString("AUTHOR: <name or empty>\nTITLE: <name or empty>\nSERIES: <name or empty>\nPOSITION: <number or empty>\n")
	return b.String()
}

// Resolve fuses the signals into a Decision. A malformed or empty
// response is treated as "no AI opinion": the caller should fall back
// to the catalog-best candidate.
func (r *Resolver) Resolve(ctx context.Context, pathHint pathparse.Hint, tagHint tagread.Hint, candidates []catalog.Candidate, sourceDirName string) (Decision, error) {
	prompt := BuildPrompt(pathHint, tagHint, candidates, sourceDirName)
	content, err := r.chat(ctx, prompt, resolveMaxTokens)
	if err != nil {
		return Decision{}, err
	}
	return parseDecision(content), nil
}

// Disambiguate asks a terse yes/no-scale question, used when the
// catalog returns multiple candidates with no dominant margin.
// Returns the raw trimmed response text (e.g. a candidate index or
// "none").
func (r *Resolver) Disambiguate(ctx context.Context, prompt string) (string, error) {
	content, err := r.chat(ctx, prompt, disambiguateMaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (r *Resolver) chat(ctx context.Context, prompt string, maxTokens int) (string, error) {
	reqBody := chatRequest{
		Model:       r.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(r.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat endpoint returned %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", nil
	}
	return cr.Choices[0].Message.Content, nil
}

var labelRe = regexp.MustCompile("(?i)^`*\\s*(author|title|series|position)\\s*:\\s*(.*?)`*\\s*$")

// parseDecision tolerantly extracts AUTHOR:/TITLE:/SERIES:/POSITION:
// labeled lines, ignoring markdown fences, leading whitespace, and
// trailing commentary lines it doesn't recognize.
func parseDecision(content string) Decision {
	var d Decision
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		m := labelRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[2])
		if strings.EqualFold(value, "empty") || strings.EqualFold(value, "unknown") || strings.EqualFold(value, "none") {
			value = ""
		}
		switch strings.ToLower(m[1]) {
		case "author":
			d.Author = value
		case "title":
			d.Title = value
		case "series":
			d.Series = value
		case "position":
			d.Position = value
		}
	}
	return d
}

// IsEmpty reports whether d carries no opinion at all.
func (d Decision) IsEmpty() bool {
	return d.Author == "" && d.Title == "" && d.Series == "" && d.Position == ""
}
