package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable marks failures where the store could not be reached or
// answered with a server-side error. Callers fall back or retry later.
var ErrUnavailable = errors.New("inventory store unavailable")

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inventory store returned %d: %s", e.Status, e.Body)
}

func (e *APIError) Unwrap() error {
	if e.Status >= 500 || e.Status == http.StatusTooManyRequests {
		return ErrUnavailable
	}
	return nil
}

// Client speaks the raw HTTP contract of the tabular store.
type Client struct {
	baseURL       string
	spreadsheetID string
	apiKey        string
	http          *http.Client
}

func NewClient(baseURL, spreadsheetID, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		spreadsheetID: spreadsheetID,
		apiKey:        apiKey,
		http:          httpClient,
	}
}

func (c *Client) spreadsheetURL() string {
	return c.baseURL + "/spreadsheets/" + url.PathEscape(c.spreadsheetID)
}

func (c *Client) ListTabs(ctx context.Context) ([]Tab, error) {
	var resp spreadsheetResponse
	if err := c.do(ctx, http.MethodGet, c.spreadsheetURL(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tabs, nil
}

func (c *Client) GetRange(ctx context.Context, rng string) (ValueRange, error) {
	var resp ValueRange
	if err := c.do(ctx, http.MethodGet, c.spreadsheetURL()+"/values/"+url.PathEscape(rng), nil, &resp); err != nil {
		return ValueRange{}, err
	}
	return resp, nil
}

// BatchGet reads several ranges in one request. The result is parallel to
// ranges; a range the store left out comes back empty.
func (c *Client) BatchGet(ctx context.Context, ranges []string) ([]ValueRange, error) {
	q := url.Values{}
	for _, r := range ranges {
		q.Add("ranges", r)
	}
	var resp batchGetResponse
	if err := c.do(ctx, http.MethodGet, c.spreadsheetURL()+"/values:batchGet?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	out := make([]ValueRange, len(ranges))
	for i := range ranges {
		if i < len(resp.ValueRanges) {
			out[i] = resp.ValueRanges[i]
		}
	}
	return out, nil
}

func (c *Client) UpdateCell(ctx context.Context, rng, value string) error {
	body := updateRequest{Range: rng, Values: [][]string{{value}}}
	return c.do(ctx, http.MethodPut, c.spreadsheetURL()+"/values/"+url.PathEscape(rng), body, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}
