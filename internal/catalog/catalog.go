// Package catalog queries an external audiobook catalog over HTTPS
// and scores the returned candidates against a metadata hint tuple,
// per spec.md §4.6. The client shape (rate-aware HTTP client, typed
// JSON response, graceful degradation on transport failure) is
// grounded on the teacher's internal/musicbrainz/client.go; the
// scoring weights are new (title/author/position rather than the
// teacher's codec/bitrate quality score) but follow the same
// "weighted sum of sub-scores, pick the max" shape as
// internal/score/scorer.go's CalculateQualityScore.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abcpipeline/audiobook-organizer/internal/pathparse"
)

// Timeout is the catalog HTTP timeout, per spec.md §4.11.
const Timeout = 30 * time.Second

// MaxPages bounds pagination per spec.md §4.6.
const MaxPages = 10

const pageSize = 20

// Candidate is one catalog search result.
type Candidate struct {
	ASIN              string   `json:"asin"`
	Title             string   `json:"title"`
	Authors           []string `json:"authors"`
	Series            string   `json:"series"`
	Position          string   `json:"position"`
	Year              string   `json:"year"`
	CoverURL          string   `json:"cover_url"`
	Narrators         []string `json:"narrators"`
	PublisherSummary  string   `json:"publisher_summary"`
	SeriesBookCount   int      `json:"series_book_count"`
}

type searchResponse struct {
	Results    []Candidate `json:"results"`
	TotalPages int         `json:"total_pages"`
}

// Client queries the catalog endpoint.
type Client struct {
	BaseURL    string
	Region     string
	httpClient *http.Client
}

// New returns a Client for baseURL scoped to the given regional
// suffix. baseURL is stored as given; an empty value is not replaced
// with a default endpoint.
func New(baseURL, region string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Region:     region,
		httpClient: &http.Client{Timeout: Timeout},
	}
}

// Query is the search request shape.
type Query struct {
	Title  string
	Author string
	ASIN   string
}

// Search performs paginated GET requests (capped at MaxPages) and
// returns every candidate found. Transport failures, non-2xx
// responses, and malformed JSON all degrade to an empty slice rather
// than propagating an error, per spec.md §4.6 ("never raises"); 5xx
// responses are retried with exponential backoff up to 3 attempts
// per spec.md §5.
func (c *Client) Search(ctx context.Context, q Query) []Candidate {
	var all []Candidate
	for page := 0; page < MaxPages; page++ {
		results, totalPages, err := c.searchPage(ctx, q, page)
		if err != nil {
			return all
		}
		all = append(all, results...)
		if page+1 >= totalPages || len(results) == 0 {
			break
		}
	}
	return all
}

// LookupByASIN resolves an ASIN directly against the catalog, bypassing
// fuzzy scoring entirely per spec.md §4.6-NEW: an ASIN is an exact
// identifier, not a hint to be ranked against alternatives. Returns the
// first result of an ASIN-only search, or (nil, false) when the catalog
// has no match (callers should fall back to the normal fuzzy-search
// flow in that case).
func (c *Client) LookupByASIN(ctx context.Context, asin string) (*Candidate, bool) {
	if asin == "" {
		return nil, false
	}
	results, _, err := c.searchPage(ctx, Query{ASIN: asin}, 0)
	if err != nil || len(results) == 0 {
		return nil, false
	}
	return &results[0], true
}

func (c *Client) searchPage(ctx context.Context, q Query, page int) ([]Candidate, int, error) {
	params := url.Values{}
	if q.ASIN != "" {
		params.Set("asin", q.ASIN)
	} else {
		params.Set("title", q.Title)
		if q.Author != "" {
			params.Set("author", q.Author)
		}
	}
	params.Set("region", c.Region)
	params.Set("page", fmt.Sprintf("%d", page))
	params.Set("page_size", fmt.Sprintf("%d", pageSize))

	reqURL := fmt.Sprintf("%s/search?%s", strings.TrimRight(c.BaseURL, "/"), params.Encode())

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		resp, err := c.doRequest(ctx, reqURL)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.status >= 500 {
			lastErr = fmt.Errorf("catalog returned %d", resp.status)
			backoff(attempt)
			continue
		}
		if resp.status != http.StatusOK {
			return nil, 0, fmt.Errorf("catalog returned %d", resp.status)
		}
		var sr searchResponse
		if err := json.Unmarshal(resp.body, &sr); err != nil {
			return nil, 0, fmt.Errorf("decode catalog response: %w", err)
		}
		return sr.Results, sr.TotalPages, nil
	}
	return nil, 0, lastErr
}

func backoff(attempt int) {
	time.Sleep(time.Duration(1<<attempt) * 200 * time.Millisecond)
}

type httpResult struct {
	status int
	body   []byte
}

func (c *Client) doRequest(ctx context.Context, reqURL string) (*httpResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &httpResult{status: resp.StatusCode, body: body}, nil
}

// Weights for the fuzzy scorer, per spec.md §4.6.
const (
	weightTitle    = 0.6
	weightAuthor   = 0.3
	weightPosition = 0.1
)

// Best scores every candidate against hint and returns the top one
// along with its score. Returns (nil, 0) when candidates is empty.
func Best(candidates []Candidate, hint pathparse.Hint) (*Candidate, float64) {
	best, score, _ := BestWithMargin(candidates, hint, 0)
	return best, score
}

// BestWithMargin scores every candidate against hint and additionally
// reports whether the top scorer dominates the runner-up by at least
// margin, per spec.md §4.7(a)'s LLM trigger condition ("catalog returns
// multiple candidates and none dominates by margin ≥ X"). A single
// candidate always dominates trivially. Returns (nil, 0, false) when
// candidates is empty.
func BestWithMargin(candidates []Candidate, hint pathparse.Hint, margin float64) (best *Candidate, bestScore float64, dominates bool) {
	if len(candidates) == 0 {
		return nil, 0, false
	}
	bestScore = -1.0
	secondScore := -1.0
	for i := range candidates {
		s := scoreCandidate(&candidates[i], hint)
		if s > bestScore {
			secondScore = bestScore
			bestScore = s
			best = &candidates[i]
		} else if s > secondScore {
			secondScore = s
		}
	}
	if len(candidates) == 1 {
		return best, bestScore, true
	}
	return best, bestScore, bestScore-secondScore >= margin
}

func scoreCandidate(c *Candidate, hint pathparse.Hint) float64 {
	titleScore := similarity(c.Title, hint.Title)

	authorScore := 0.0
	if hint.Author != "" {
		for _, a := range c.Authors {
			if s := similarity(a, hint.Author); s > authorScore {
				authorScore = s
			}
		}
	} else if len(c.Authors) == 0 {
		authorScore = 1.0
	}

	positionScore := 0.0
	if hint.Position == "" || c.Position == hint.Position {
		positionScore = 1.0
	}

	return titleScore*weightTitle + authorScore*weightAuthor + positionScore*weightPosition
}

// similarity returns a case-insensitive normalized-edit similarity in
// [0, 1]: 1 - levenshtein(a, b) / max(len(a), len(b)).
func similarity(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// AcceptThreshold reports whether score clears threshold, per
// spec.md §4.6's "Returns None when best score < configured threshold".
func AcceptThreshold(score, threshold float64) bool {
	return score >= threshold
}
