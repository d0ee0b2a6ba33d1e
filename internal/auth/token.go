// Package auth fetches short-lived connection credentials from the deployment
// token issuer. One POST, one attempt: a failed round trip fails the whole
// connect flow so the user can retry it.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Grant is the issuer's response: where to connect and the signed credential.
type Grant struct {
	URL string `json:"url"`
	JWT string `json:"jwt"`
}

type Client struct {
	issuerURL string
	http      *http.Client
}

func NewClient(issuerURL string) *Client {
	return &Client{
		issuerURL: issuerURL,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch requests a grant. Network or CORS-style failures surface as an error
// with enough detail for the UI's retry path; there is no retry here.
func (c *Client) Fetch(ctx context.Context) (Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.issuerURL, nil)
	if err != nil {
		return Grant{}, fmt.Errorf("build token request: %w", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return Grant{}, fmt.Errorf("token issuer unreachable (endpoint CORS authorized?): %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Grant{}, fmt.Errorf("token issuer returned status %d", res.StatusCode)
	}
	var grant Grant
	if err := json.NewDecoder(res.Body).Decode(&grant); err != nil {
		return Grant{}, fmt.Errorf("decode token response: %w", err)
	}
	if grant.URL == "" || grant.JWT == "" {
		return Grant{}, fmt.Errorf("token response missing url or jwt")
	}
	return grant, nil
}
