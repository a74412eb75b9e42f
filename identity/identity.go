// Package identity provisions accounts with the hosted auth provider.
//
// Account identity is owned by the provider; this package only covers the
// admin capability the webhook handler needs when a checkout completes for
// an email address with no existing account.
package identity

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// Provisioner creates an account for an email address and returns the new
// account id. The reconciliation handler depends on this interface so tests
// can provision deterministically.
type Provisioner interface {
	CreateUser(ctx context.Context, email, name string) (string, error)
}

// Client talks to the auth provider's admin API using the service role key.
type Client struct {
	http *resty.Client
}

// NewClient creates a provisioning client for the given provider URL.
func NewClient(baseURL, serviceRoleKey string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", serviceRoleKey).
		SetAuthToken(serviceRoleKey)
	return &Client{http: http}
}

type createUserRequest struct {
	Email        string         `json:"email"`
	EmailConfirm bool           `json:"email_confirm"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

type createUserResponse struct {
	ID string `json:"id"`
}

// CreateUser provisions an account for the email address. The email is
// marked confirmed since it comes from a completed payment, not a signup
// form.
func (c *Client) CreateUser(ctx context.Context, email, name string) (string, error) {
	req := createUserRequest{
		Email:        email,
		EmailConfirm: true,
	}
	if name != "" {
		req.UserMetadata = map[string]any{"name": name}
	}

	var out createUserResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/auth/v1/admin/users")
	if err != nil {
		return "", fmt.Errorf("failed to create auth user: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("auth provider returned %s: %s", resp.Status(), resp.String())
	}
	if out.ID == "" {
		return "", fmt.Errorf("auth provider returned no user id")
	}
	return out.ID, nil
}
