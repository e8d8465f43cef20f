package authsdk

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// SDKClient is a client for the Atrium authentication service.
// It provides access to unauthenticated operations and creates authenticated
// Sessions. The HTTP client carries a cookie jar so the refresh and CSRF
// cookies set by the service are replayed like a browser would.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new auth service client with its own cookie jar.
func NewSDKClient(baseURL string) *SDKClient {
	jar, _ := cookiejar.New(nil) // only fails with a bad PublicSuffixList
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		},
	}
}

// Login signs in with email and password and returns a Session that refreshes
// its access token when needed.
func (c *SDKClient) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	var out LoginResponse
	if err := c.postJSON(ctx, "/v1/auth/login", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return newSession(c, out), nil
}

// Register creates a viewer account and returns its first Session.
func (c *SDKClient) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	var out LoginResponse
	if err := c.postJSON(ctx, "/v1/auth/register", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return newSession(c, out), nil
}

// RequestPasswordReset asks for a reset link. The service answers the same way
// whether or not the email is known.
func (c *SDKClient) RequestPasswordReset(ctx context.Context, email string) error {
	return c.postJSON(ctx, "/v1/auth/password-reset/request", PasswordResetRequest{Email: email}, nil, http.StatusAccepted)
}

// ConfirmPasswordReset sets a new password using the token from the reset link.
func (c *SDKClient) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return c.postJSON(ctx, "/v1/auth/password-reset/confirm",
		PasswordResetConfirmRequest{Token: token, NewPassword: newPassword}, nil, http.StatusNoContent)
}

// CSRF fetches a CSRF token pair. The cookie half lands in the client's jar.
func (c *SDKClient) CSRF(ctx context.Context) (*CSRFResponse, error) {
	var out CSRFResponse
	if err := c.getJSON(ctx, "/v1/auth/csrf", &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLiveness checks if the service is alive.
func (c *SDKClient) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.getJSON(ctx, "/livez", &health, http.StatusOK); err != nil {
		return nil, err
	}
	return &health, nil
}

// GetReadiness checks if the service is ready.
func (c *SDKClient) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.getJSON(ctx, "/readyz", &health, http.StatusOK); err != nil {
		return nil, err
	}
	return &health, nil
}

// GetJWKS retrieves the JSON Web Key Set for local token verification.
func (c *SDKClient) GetJWKS(ctx context.Context) (*JWKSResponse, error) {
	var jwks JWKSResponse
	if err := c.getJSON(ctx, "/.well-known/jwks.json", &jwks, http.StatusOK); err != nil {
		return nil, err
	}
	return &jwks, nil
}
