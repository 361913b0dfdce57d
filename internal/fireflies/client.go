// Package fireflies is a client for the Fireflies.ai GraphQL API, limited to
// the transcript queries the sync needs.
package fireflies

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL          = "https://api.fireflies.ai/graphql"
	MaxPageSize             = 50
	DefaultPageSize         = 10
	DefaultBatchConcurrency = 5
)

const listTranscriptsQuery = `query Transcripts($fromDate: DateTime, $toDate: DateTime, $limit: Int, $skip: Int) {
  transcripts(fromDate: $fromDate, toDate: $toDate, limit: $limit, skip: $skip, mine: true) {
    id
    title
    date
    dateString
    duration
    organizer_email
  }
}`

const transcriptDetailQuery = `query Transcript($transcriptId: String!) {
  transcript(id: $transcriptId) {
    id
    title
    date
    dateString
    duration
    organizer_email
    participants
    transcript_url
    meeting_link
    meeting_info {
      summary_status
    }
    meeting_attendees {
      displayName
      email
      name
      location
    }
    sentences {
      index
      speaker_name
      text
      start_time
      end_time
    }
    summary {
      keywords
      action_items
      overview
      short_overview
      shorthand_bullet
      topics_discussed
      meeting_type
    }
  }
}`

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	// MaxAttempts counts the first try. Defaults to 3.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// PageDelay is the pause between listing pages. Negative disables it.
	PageDelay        time.Duration
	BatchConcurrency int
	Logger           Logger
}

type Client struct {
	baseURL          string
	apiKey           string
	httpClient       *http.Client
	maxAttempts      int
	baseDelay        time.Duration
	maxDelay         time.Duration
	pageDelay        time.Duration
	batchConcurrency int
	logger           Logger
	sleep            func(ctx context.Context, d time.Duration) error
	now              func() time.Time
}

func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("fireflies api key is required")
	}
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		baseURL:          baseURL,
		apiKey:           apiKey,
		httpClient:       httpClient,
		maxAttempts:      opts.MaxAttempts,
		baseDelay:        opts.BaseDelay,
		maxDelay:         opts.MaxDelay,
		pageDelay:        opts.PageDelay,
		batchConcurrency: opts.BatchConcurrency,
		logger:           opts.Logger,
		sleep:            waitWithContext,
		now:              time.Now,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.baseDelay <= 0 {
		c.baseDelay = time.Second
	}
	if c.maxDelay <= 0 {
		c.maxDelay = 60 * time.Second
	}
	if c.pageDelay < 0 {
		c.pageDelay = 0
	} else if c.pageDelay == 0 {
		c.pageDelay = 100 * time.Millisecond
	}
	if c.batchConcurrency <= 0 {
		c.batchConcurrency = DefaultBatchConcurrency
	}
	return c, nil
}

// ListSince pages through transcripts starting at from, optionally bounded
// by to. Paging stops at the first short or empty page.
func (c *Client) ListSince(ctx context.Context, from time.Time, to *time.Time, pageSize int) ([]MeetingSummary, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	var all []MeetingSummary
	for skip := 0; ; skip += pageSize {
		page, err := c.listPage(ctx, from, to, pageSize, skip)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		if err := c.sleep(ctx, c.pageDelay); err != nil {
			return nil, err
		}
	}
	c.logf("fetched %d meetings since %s", len(all), from.UTC().Format(time.RFC3339))
	return all, nil
}

func (c *Client) listPage(ctx context.Context, from time.Time, to *time.Time, limit, skip int) ([]MeetingSummary, error) {
	variables := map[string]any{
		"fromDate": formatDateTime(from),
		"limit":    limit,
		"skip":     skip,
	}
	if to != nil {
		variables["toDate"] = formatDateTime(*to)
	}
	var data struct {
		Transcripts []MeetingSummary `json:"transcripts"`
	}
	if err := c.do(ctx, listTranscriptsQuery, variables, &data); err != nil {
		return nil, err
	}
	return data.Transcripts, nil
}

// GetDetail fetches one transcript. A missing transcript matches ErrNotFound.
func (c *Client) GetDetail(ctx context.Context, id string) (MeetingDetail, error) {
	var data struct {
		Transcript *MeetingDetail `json:"transcript"`
	}
	if err := c.do(ctx, transcriptDetailQuery, map[string]any{"transcriptId": id}, &data); err != nil {
		return MeetingDetail{}, err
	}
	if data.Transcript == nil {
		return MeetingDetail{}, &APIError{
			Code:    CodeObjectNotFound,
			Message: "transcript not found or not accessible: " + id,
		}
	}
	return *data.Transcript, nil
}

// GetDetailIfReady returns nil, nil while the provider is still working on the
// summary, or when the readiness field is missing or malformed.
func (c *Client) GetDetailIfReady(ctx context.Context, id string) (*MeetingDetail, error) {
	detail, err := c.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if !detail.Ready() {
		c.logf("meeting %s not ready (summary status: %s)", id, detail.Status())
		return nil, nil
	}
	return &detail, nil
}

// GetDetailsBatch fetches details concurrently. Failed fetches are logged and
// left out; the rest keep input order.
func (c *Client) GetDetailsBatch(ctx context.Context, ids []string) []MeetingDetail {
	results := make([]*MeetingDetail, len(ids))
	sem := make(chan struct{}, c.batchConcurrency)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			detail, err := c.GetDetail(ctx, id)
			if err != nil {
				c.logf("ERROR: fetching meeting %s: %v", id, err)
				return
			}
			results[i] = &detail
		}(i, id)
	}
	wg.Wait()

	out := make([]MeetingDetail, 0, len(ids))
	for _, detail := range results {
		if detail != nil {
			out = append(out, *detail)
		}
	}
	return out
}

// TestConnection issues a single one-item listing for the current month.
func (c *Client) TestConnection(ctx context.Context) (bool, error) {
	now := c.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if _, err := c.listPage(ctx, monthStart, nil, 1, 0); err != nil {
		return false, err
	}
	return true, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		retryAfter, err := c.doOnce(ctx, body, out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.retryable() || attempt >= c.maxAttempts {
			return err
		}
		delay := c.retryDelay(attempt, retryAfter)
		c.logf("fireflies %s, retrying in %s (attempt %d/%d)", apiErr.Code, delay, attempt, c.maxAttempts)
		if waitErr := c.sleep(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
}

// doOnce performs one request. The returned string is the Retry-After header
// of a throttled response.
func (c *Client) doOnce(ctx context.Context, body []byte, out any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &APIError{Code: CodeNetworkError, Message: err.Error(), Err: err}
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", &APIError{StatusCode: resp.StatusCode, Code: CodeNetworkError, Message: readErr.Error(), Err: readErr}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.Header.Get("Retry-After"), &APIError{
			StatusCode: resp.StatusCode,
			Code:       CodeTooManyRequests,
			Message:    "rate limit exceeded",
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Code:       CodeForbidden,
			Message:    "API key invalid or expired",
		}
	case resp.StatusCode >= 500:
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Code:       CodeNetworkError,
			Message:    strings.TrimSpace(http.StatusText(resp.StatusCode)),
		}
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
		}
		return "", fmt.Errorf("decode fireflies response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		return resp.Header.Get("Retry-After"), &APIError{
			StatusCode: resp.StatusCode,
			Code:       first.Extensions.Code,
			Message:    first.Message,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
	}
	if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return "", nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return "", fmt.Errorf("decode fireflies data: %w", err)
	}
	return "", nil
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader, c.now()); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func (c *Client) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}

func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := ts.Sub(now); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func formatDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
