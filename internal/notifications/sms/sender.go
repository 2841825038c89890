// Package sms provides SMS delivery through the Twilio Messages API.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

const (
	defaultBaseURL   = "https://api.twilio.com"
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 10
	defaultRateBurst = 10

	// Twilio error codes that need dedicated handling.
	codeInvalidNumber = 21211
	codeAuthFailure   = 20003

	maxResponseBytes = 64 << 10
)

// e164Pattern matches a leading + followed by 8 to 15 digits.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// Config holds SMS sender configuration. The account settings act as a
// fallback for tenants without their own Twilio credentials.
type Config struct {
	Enabled    bool
	AccountSID string
	AuthToken  string
	From       string        // sender number in E.164 format
	BaseURL    string        // overridable for tests
	Timeout    time.Duration // request timeout
	RateLimit  float64       // messages per second per account
	RateBurst  int
}

// Sender implements SMS delivery via Twilio-compatible form POSTs.
// Outbound volume is throttled per account SID so one tenant cannot
// exhaust another tenant's provider quota.
type Sender struct {
	config     Config
	httpClient *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSender creates a new SMS sender.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled && config.AccountSID != "" && config.AuthToken == "" {
		return nil, fmt.Errorf("sms sender: auth token is required when a fallback account SID is configured")
	}

	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.RateBurst <= 0 {
		config.RateBurst = defaultRateBurst
	}

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiters:   make(map[string]*rate.Limiter),
	}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeSMS
}

// Send delivers a single SMS. Tenant credentials take precedence over the
// fallback account; the recipient must be an E.164 phone number.
func (s *Sender) Send(ctx context.Context, credentials map[string]string, rendered *notifications.Rendered, recipient string) (string, error) {
	accountSID := firstNonEmpty(credentials["account_sid"], s.config.AccountSID)
	authToken := firstNonEmpty(credentials["auth_token"], s.config.AuthToken)
	from := firstNonEmpty(credentials["from_number"], s.config.From)

	if accountSID == "" || authToken == "" {
		return "", notifications.NewPermanentSendError(domain.FailureReasonAuth, "",
			errors.New("no twilio account configured"))
	}
	if from == "" {
		return "", notifications.NewPermanentSendError(domain.FailureReasonAuth, "",
			errors.New("no sender number configured"))
	}
	if !e164Pattern.MatchString(recipient) {
		return "", notifications.NewPermanentSendError(domain.FailureReasonContent,
			fmt.Sprintf("recipient %q is not a valid E.164 number", recipient), nil)
	}

	if err := s.limiter(accountSID).Wait(ctx); err != nil {
		return "", notifications.AsSendError(fmt.Errorf("rate limit wait: %w", err))
	}

	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", from)
	form.Set("Body", rendered.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.config.BaseURL, accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", notifications.NewSendError(domain.FailureReasonInternal, "",
			fmt.Errorf("create request: %w", err))
	}
	req.SetBasicAuth(accountSID, authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", notifications.AsSendError(fmt.Errorf("post message: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp)
}

// messageResponse is the subset of the Twilio message resource we keep.
type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// apiError is the Twilio error envelope returned on non-2xx responses.
type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func handleResponse(resp *http.Response) (string, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", notifications.AsSendError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var msg messageResponse
		if err := json.Unmarshal(body, &msg); err == nil && msg.SID != "" {
			slog.Debug("sms queued", "sid", msg.SID, "status", msg.Status)
			return fmt.Sprintf("sid=%s status=%s", msg.SID, msg.Status), nil
		}
		return strings.TrimSpace(string(body)), nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	response := strings.TrimSpace(string(body))

	switch {
	case apiErr.Code == codeInvalidNumber:
		return "", notifications.NewPermanentSendError(domain.FailureReasonContent, response,
			fmt.Errorf("invalid recipient number: %s", apiErr.Message))

	case apiErr.Code == codeAuthFailure,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return "", notifications.NewSendError(domain.FailureReasonAuth, response,
			fmt.Errorf("authentication failed: %s", apiErr.Message))

	case resp.StatusCode == http.StatusTooManyRequests:
		return "", notifications.NewSendError(domain.FailureReasonProvider, response,
			errors.New("rate limited by provider"))

	case resp.StatusCode >= 500:
		return "", notifications.NewSendError(domain.FailureReasonProvider, response,
			fmt.Errorf("provider error %d", resp.StatusCode))

	default:
		return "", notifications.NewPermanentSendError(domain.FailureReasonProvider, response,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiErr.Message))
	}
}

// limiter returns the rate limiter for an account, creating it on first use.
func (s *Sender) limiter(accountSID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	lim, ok := s.limiters[accountSID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.config.RateLimit), s.config.RateBurst)
		s.limiters[accountSID] = lim
	}
	return lim
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
