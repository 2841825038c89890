package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/heraldhq/herald/internal/domain"
)

// Branding fetch errors.
var (
	ErrTenantNotFound = errors.New("tenant not found")
)

const defaultTimeout = 10 * time.Second

// maxFetchRetries bounds retries after the first attempt on 429/5xx and
// transport errors.
const maxFetchRetries = 3

// Client fetches tenant branding from the identity service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxElapsed time.Duration
}

// NewClient creates an identity service client. baseURL has no trailing
// slash, e.g. "http://identity:8000".
func NewClient(baseURL string, timeout, retryMaxElapsed time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxElapsed: retryMaxElapsed,
	}
}

// brandingResponse is the identity service wire format.
type brandingResponse struct {
	Name           string `json:"name"`
	LogoURL        string `json:"logo_url"`
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	EmailFrom      string `json:"email_from"`
	About          string `json:"about"`
}

// FetchBranding returns the branding for a tenant. 404 yields
// ErrTenantNotFound so callers can cache the negative result; 429 and
// 5xx responses are retried with exponential backoff.
func (c *Client) FetchBranding(ctx context.Context, tenantID string) (*domain.TenantBranding, error) {
	url := fmt.Sprintf("%s/api/tenants/%s/", c.baseURL, tenantID)

	var branding *domain.TenantBranding

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetch branding: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var body brandingResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return backoff.Permanent(fmt.Errorf("decode branding: %w", err))
			}
			branding = brandingFromResponse(tenantID, body)
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrTenantNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			drainBody(resp.Body)
			return fmt.Errorf("identity service responded %d", resp.StatusCode)
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("identity service responded %d: %s", resp.StatusCode, body))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.maxElapsed

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxFetchRetries), ctx))
	if err != nil {
		return nil, err
	}
	return branding, nil
}

func brandingFromResponse(tenantID string, body brandingResponse) *domain.TenantBranding {
	b := domain.DefaultBranding(tenantID)
	if body.Name != "" {
		b.Name = body.Name
	}
	if body.PrimaryColor != "" {
		b.PrimaryColor = body.PrimaryColor
	}
	if body.SecondaryColor != "" {
		b.SecondaryColor = body.SecondaryColor
	}
	b.LogoURL = body.LogoURL
	b.EmailFrom = body.EmailFrom
	b.About = body.About
	return &b
}

func drainBody(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
}
