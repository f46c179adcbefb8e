package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Search type tags accepted by SearchParams.
const (
	SearchTypeWeb      = "web"
	SearchTypeImages   = "images"
	SearchTypeNews     = "news"
	SearchTypeShopping = "shopping"
	SearchTypeVideos   = "videos"
)

var (
	countryRe  = regexp.MustCompile(`^[a-z]{2}$`)
	languageRe = regexp.MustCompile(`^[a-z]{2}(-[a-z]{2})?$`)
)

// SearchParams are the validated inputs for one query. Construct,
// Validate, then treat as immutable.
type SearchParams struct {
	Query       string
	Country     string // two-letter gl code
	Language    string // hl code, optional regional suffix
	MaxPages    int
	Concurrency int
	SearchType  string // optional tag, one of the SearchType* constants
	SkipCache   bool   // bypass the result cache for this request
}

// Validate checks every field against its declared range. It must pass
// before a request is issued.
func (p SearchParams) Validate() error {
	q := strings.TrimSpace(p.Query)
	if q == "" {
		return &ValidationError{Field: "query", Value: p.Query, Err: ErrEmptyQuery}
	}
	if len(q) > 500 {
		return &ValidationError{Field: "query", Value: q[:40] + "...", Err: fmt.Errorf("query exceeds 500 characters (%d)", len(q))}
	}
	if !countryRe.MatchString(p.Country) {
		return &ValidationError{Field: "country", Value: p.Country, Err: errors.New("must be two lowercase letters")}
	}
	if !languageRe.MatchString(p.Language) {
		return &ValidationError{Field: "language", Value: p.Language, Err: errors.New("must match xx or xx-yy")}
	}
	if p.MaxPages < 1 || p.MaxPages > 100 {
		return &ValidationError{Field: "max_pages", Value: p.MaxPages, Err: errors.New("must be 1-100")}
	}
	if p.Concurrency < 1 || p.Concurrency > 200 {
		return &ValidationError{Field: "concurrency", Value: p.Concurrency, Err: errors.New("must be 1-200")}
	}
	if p.SearchType != "" {
		switch p.SearchType {
		case SearchTypeWeb, SearchTypeImages, SearchTypeNews, SearchTypeShopping, SearchTypeVideos:
		default:
			return &ValidationError{Field: "search_type", Value: p.SearchType, Err: errors.New("unknown search type")}
		}
	}
	return nil
}

// Fingerprint returns the stable 128-bit cache key for these
// parameters. Query text is normalized first, so keys are insensitive
// to case and internal whitespace.
func (p SearchParams) Fingerprint() string {
	seed := fmt.Sprintf("%s|%s|%s|%d", NormalizeQuery(p.Query), p.Country, p.Language, p.MaxPages)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:16])
}

// NormalizeQuery lowercases query text and collapses runs of
// whitespace to single spaces.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
