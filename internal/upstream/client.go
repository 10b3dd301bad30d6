// Package upstream implements the client for the county appraisal search
// API: an authenticated, paginated POST endpoint that occasionally truncates
// large responses mid-body. The client walks a descending page-size ladder
// until a size survives, and classifies every failure for the worker.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/parcelpulse/appraisal-api/internal/metrics"
)

// maxPages caps pagination at any one size.
const maxPages = 100

// Sentinels for the two failure modes that fall through to the next smaller
// page size instead of failing the fetch.
var (
	errTruncated  = errors.New("truncated response")
	errOverloaded = errors.New("upstream overloaded")
)

// PropertyID tolerates the upstream sending the id as either a JSON string
// or a bare number.
type PropertyID string

func (p *PropertyID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PropertyID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = PropertyID(n.String())
	return nil
}

// Record is one property row as the upstream returns it.
type Record struct {
	PropertyID       PropertyID `json:"pid"`
	DisplayName      string     `json:"displayName"`
	PropType         string     `json:"propType"`
	City             *string    `json:"city"`
	StreetPrimary    string     `json:"streetPrimary"`
	AssessedValue    *int64     `json:"assessedValue"`
	AppraisedValue   *int64     `json:"appraisedValue"`
	GeoID            *string    `json:"geoID"`
	LegalDescription *string    `json:"legalDescription"`
}

// SearchResult is the aggregated outcome of one fetch: all pages at the page
// size that survived.
type SearchResult struct {
	TotalCount   int
	Records      []Record
	PageSizeUsed int
}

type fieldFilter struct {
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type searchRequest struct {
	PYear          fieldFilter `json:"pYear"`
	FullTextSearch fieldFilter `json:"fullTextSearch"`
}

type totalProperty struct {
	PropertyCount int `json:"propertyCount"`
}

type searchResponse struct {
	TotalProperty totalProperty `json:"totalProperty"`
	Results       []Record      `json:"results"`
}

// Client fetches search results from the appraisal API.
type Client struct {
	http      *resty.Client
	pageSizes []int
	logger    *slog.Logger
}

// NewClient creates an API client. pageSizes is the descending ladder to
// try, e.g. [1000, 500, 100, 50].
func NewClient(baseURL string, pageSizes []int, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	// Retries are handled by the page-size ladder and the broker, not here.
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{
		http:      http,
		pageSizes: pageSizes,
		logger:    logger,
	}
}

// Fetch runs one full search for (term, year) with the given bearer token.
// Page sizes are tried largest first; truncated or overloaded responses drop
// to the next size, and results from different sizes are never mixed. Other
// failures abort immediately with a classified error.
func (c *Client) Fetch(ctx context.Context, token, term string, year int) (*SearchResult, error) {
	if token == "" {
		return nil, NewError(KindNoToken, "no token available")
	}

	var lastReason error
	for _, size := range c.pageSizes {
		result, err := c.fetchAtSize(ctx, token, term, year, size)
		if err == nil {
			return result, nil
		}

		if errors.Is(err, errTruncated) || errors.Is(err, errOverloaded) {
			metrics.PageSizeFallbacks.Inc()
			c.logger.Warn("page size failed, dropping to next",
				"term", term,
				"page_size", size,
				"reason", err,
			)
			lastReason = err
			continue
		}
		return nil, err
	}

	return nil, &Error{
		Kind:    KindAllPageSizesFailed,
		Message: fmt.Sprintf("all page sizes failed for %q", term),
		Err:     lastReason,
	}
}

// fetchAtSize pages through the search at one fixed page size. Truncation on
// any page discards everything accumulated at this size.
func (c *Client) fetchAtSize(ctx context.Context, token, term string, year, size int) (*SearchResult, error) {
	var all []Record
	total := 0

	capped := true
	for page := 1; page <= maxPages; page++ {
		resp, err := c.postPage(ctx, token, term, year, page, size)
		if err != nil {
			return nil, err
		}

		total = resp.TotalProperty.PropertyCount
		all = append(all, resp.Results...)

		if len(resp.Results) < size || len(all) >= total {
			capped = false
			break
		}
	}

	if capped && len(all) < total {
		c.logger.Warn("page cap reached before exhausting results",
			"term", term,
			"page_size", size,
			"fetched", len(all),
			"total", total,
		)
	}

	return &SearchResult{
		TotalCount:   total,
		Records:      all,
		PageSizeUsed: size,
	}, nil
}

func (c *Client) postPage(ctx context.Context, token, term string, year, page, size int) (*searchResponse, error) {
	// The upstream takes the year as a string.
	body := searchRequest{
		PYear:          fieldFilter{Operator: "=", Value: strconv.Itoa(year)},
		FullTextSearch: fieldFilter{Operator: "match", Value: term},
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", token).
		SetQueryParams(map[string]string{
			"page":     strconv.Itoa(page),
			"pageSize": strconv.Itoa(size),
		}).
		SetBody(body).
		Post("/searchfulltext")
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("transport_error").Inc()
		return nil, WrapError(KindTransportError, err)
	}

	status := resp.StatusCode()
	metrics.UpstreamRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	switch {
	case status == 401:
		return nil, NewError(KindTokenExpired, "upstream rejected token")
	case status == 409 || status == 504:
		return nil, fmt.Errorf("%w: status %d at page %d size %d", errOverloaded, status, page, size)
	case status < 200 || status >= 300:
		return nil, NewError(HTTPKind(status), fmt.Sprintf("unexpected status at page %d size %d", page, size))
	}

	raw := resp.Body()
	if isTruncated(raw) {
		return nil, fmt.Errorf("%w: page %d size %d (%d bytes)", errTruncated, page, size, len(raw))
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, WrapError(KindTransportError, fmt.Errorf("malformed response at page %d size %d: %w", page, size, err))
	}
	return &parsed, nil
}

// isTruncated detects a body cut off mid-JSON: the last non-whitespace byte
// of a complete response is always '}' or ']'.
func isTruncated(body []byte) bool {
	trimmed := bytes.TrimRight(body, " \t\r\n")
	if len(trimmed) == 0 {
		return true
	}
	last := trimmed[len(trimmed)-1]
	return last != '}' && last != ']'
}
