// Package convo provides a small client for the external conversation
// platform the CRM schedules messages through.
//
// The intake layer uses it to resolve the target contact before accepting a
// scheduled message, so unknown targets are rejected up front.
package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrContactNotFound means the platform does not know the requested contact.
var ErrContactNotFound = errors.New("contact not found")

// Contact is the platform's view of a CRM customer.
type Contact struct {
	ID         uuid.UUID            `json:"id"`
	Name       string               `json:"name"`
	Identifier string               `json:"identifier"` // platform-side address, e.g. a phone number
	Attributes map[string]Attribute `json:"attributes,omitempty"`
}

// Client talks to the conversation platform API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a platform client authenticated with an API token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetContact fetches a contact by id. A 404 maps to ErrContactNotFound.
func (c *Client) GetContact(ctx context.Context, id uuid.UUID) (Contact, error) {
	url := fmt.Sprintf("%s/api/v1/contacts/%s", c.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Contact{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return Contact{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Contact{}, ErrContactNotFound
	case resp.StatusCode != http.StatusOK:
		return Contact{}, fmt.Errorf("conversation platform error: %s", resp.Status)
	}

	var contact Contact
	if err := json.NewDecoder(resp.Body).Decode(&contact); err != nil {
		return Contact{}, fmt.Errorf("decode response: %w", err)
	}

	return contact, nil
}
