package kommo

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

var (
	ErrNotConfigured   = errors.New("kommo not configured")
	errContactNotFound = errors.New("contact not found")
)

type Client struct {
	apiToken string
	baseURL  string
	statusID int
	http     *http.Client
}

func NewClient(baseURL, apiToken string, statusID int, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		apiToken: apiToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		statusID: statusID,
		http:     httpClient,
	}
}

// SyncOrder creates a deal for the order on the buyer's contact, creating the
// contact first when the email is unknown. Returns the CRM deal id.
func (c *Client) SyncOrder(ctx context.Context, input SyncOrderInput) (int, error) {
	if c.apiToken == "" || c.baseURL == "" {
		return 0, ErrNotConfigured
	}

	contactID, err := c.findOrCreateContact(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("find or create contact: %w", err)
	}

	lead := leadRequest{
		Name:     fmt.Sprintf("%s - %d leads (%s)", displayName(input), input.LeadCount, input.OrderID),
		StatusID: c.statusID,
		Price:    input.TotalCents / 100,
	}
	lead.Embedded.Tags = []tag{{Name: "lead_order"}}
	for _, t := range input.LeadTypes {
		lead.Embedded.Tags = append(lead.Embedded.Tags, tag{Name: t})
	}
	lead.Embedded.Contacts = []contactRef{{ID: contactID}}

	var result embeddedLeads
	if err := c.do(ctx, http.MethodPost, "/leads", []leadRequest{lead}, &result); err != nil {
		return 0, fmt.Errorf("create lead: %w", err)
	}
	if len(result.Embedded.Leads) == 0 {
		return 0, errors.New("create lead: empty response")
	}
	return result.Embedded.Leads[0].ID, nil
}

func (c *Client) findOrCreateContact(ctx context.Context, input SyncOrderInput) (int, error) {
	id, err := c.findContactByEmail(ctx, input.Email)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, errContactNotFound) {
		return 0, err
	}
	return c.createContact(ctx, input)
}

func (c *Client) findContactByEmail(ctx context.Context, email string) (int, error) {
	var result embeddedContacts
	err := c.do(ctx, http.MethodGet, "/contacts?query="+url.QueryEscape(email), nil, &result)
	if err != nil {
		return 0, err
	}
	if len(result.Embedded.Contacts) == 0 {
		return 0, errContactNotFound
	}
	return result.Embedded.Contacts[0].ID, nil
}

func (c *Client) createContact(ctx context.Context, input SyncOrderInput) (int, error) {
	contact := contactRequest{
		Name: displayName(input),
		CustomFields: []customFieldValue{
			{FieldCode: "EMAIL", Values: []fieldValue{{Value: input.Email, EnumCode: "WORK"}}},
		},
	}

	var result embeddedContacts
	if err := c.do(ctx, http.MethodPost, "/contacts", []contactRequest{contact}, &result); err != nil {
		return 0, fmt.Errorf("create contact: %w", err)
	}
	if len(result.Embedded.Contacts) == 0 {
		return 0, errors.New("create contact: empty response")
	}
	return result.Embedded.Contacts[0].ID, nil
}

// do sends body as JSON and decodes the response into out. A 204 from a
// search means no match and leaves out untouched.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("kommo %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func displayName(in SyncOrderInput) string {
	if strings.TrimSpace(in.CustomerName) != "" {
		return in.CustomerName
	}
	return in.Email
}
