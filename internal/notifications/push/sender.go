// Package push provides push delivery through the FCM HTTP v1 API.
package push

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

const (
	defaultEndpoint = "https://fcm.googleapis.com"
	defaultTimeout  = 15 * time.Second

	messagingScope = "https://www.googleapis.com/auth/firebase.messaging"
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// Access tokens are refreshed this long before they actually expire
	// so an in-flight send never carries a stale bearer.
	tokenRefreshMargin = 5 * time.Minute

	topicPrefix      = "topic_"
	broadcastTarget  = "all"
	maxResponseBytes = 64 << 10
)

// errUnregisteredToken marks a device token FCM no longer recognizes.
var errUnregisteredToken = errors.New("device token unregistered")

// TokenSource resolves the active device tokens of a user and records
// tokens the provider reports as dead.
type TokenSource interface {
	ActiveTokens(ctx context.Context, tenantID, userID string) ([]string, error)
	MarkTokenInactive(ctx context.Context, tenantID, token string) error
}

// Config holds push sender configuration. The service account acts as a
// fallback for tenants without their own Firebase project.
type Config struct {
	Enabled            bool
	ServiceAccountJSON string
	Endpoint           string // overridable for tests
	TokenEndpoint      string // overrides the account token_uri, for tests
	Timeout            time.Duration
}

// Sender implements push delivery via FCM HTTP v1. One authenticated
// client is kept per service account so tenants never share OAuth state.
type Sender struct {
	config     Config
	httpClient *http.Client
	tokens     TokenSource // nil disables registry lookups

	mu      sync.Mutex
	clients map[string]*fcmClient
}

// NewSender creates a new push sender. tokens may be nil, in which case
// non-topic recipients are treated as literal device tokens.
func NewSender(config Config, tokens TokenSource) (*Sender, error) {
	if config.Enabled && config.ServiceAccountJSON != "" {
		if _, err := parseServiceAccount(config.ServiceAccountJSON); err != nil {
			return nil, fmt.Errorf("push sender: invalid fallback service account: %w", err)
		}
	}

	if config.Endpoint == "" {
		config.Endpoint = defaultEndpoint
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		tokens:     tokens,
		clients:    make(map[string]*fcmClient),
	}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypePush
}

// Send delivers a push notification. Recipients starting with "topic_"
// address a topic, "all" addresses the tenant broadcast topic, anything
// else resolves to the user's registered device tokens.
func (s *Sender) Send(ctx context.Context, credentials map[string]string, rendered *notifications.Rendered, recipient string) (string, error) {
	accountJSON := credentials["service_account_json"]
	if accountJSON == "" {
		accountJSON = s.config.ServiceAccountJSON
	}
	if accountJSON == "" {
		return "", notifications.NewPermanentSendError(domain.FailureReasonAuth, "",
			errors.New("no firebase service account configured"))
	}

	client, err := s.clientFor(accountJSON)
	if err != nil {
		return "", notifications.NewPermanentSendError(domain.FailureReasonAuth, "",
			fmt.Errorf("parse service account: %w", err))
	}

	bearer, err := client.bearer(ctx, s.httpClient, s.config.TokenEndpoint)
	if err != nil {
		return "", notifications.NewSendError(domain.FailureReasonAuth, "",
			fmt.Errorf("obtain access token: %w", err))
	}

	switch {
	case strings.HasPrefix(recipient, topicPrefix):
		return s.sendOne(ctx, client, bearer, s.message(rendered, "", strings.TrimPrefix(recipient, topicPrefix)))

	case recipient == broadcastTarget:
		return s.sendOne(ctx, client, bearer, s.message(rendered, "", "tenant_"+rendered.TenantID))

	default:
		return s.sendToDevices(ctx, client, bearer, rendered, recipient)
	}
}

// sendToDevices fans a message out to every registered device of the
// recipient, falling back to the recipient string as a literal token.
func (s *Sender) sendToDevices(ctx context.Context, client *fcmClient, bearer string, rendered *notifications.Rendered, recipient string) (string, error) {
	tokens := []string{recipient}
	if s.tokens != nil {
		registered, err := s.tokens.ActiveTokens(ctx, rendered.TenantID, recipient)
		if err != nil {
			return "", notifications.NewSendError(domain.FailureReasonInternal, "",
				fmt.Errorf("resolve device tokens: %w", err))
		}
		if len(registered) > 0 {
			tokens = registered
		}
	}

	if len(tokens) == 1 {
		response, err := s.sendOne(ctx, client, bearer, s.message(rendered, tokens[0], ""))
		if errors.Is(err, errUnregisteredToken) {
			s.markInactive(ctx, rendered.TenantID, tokens[0])
		}
		return response, err
	}

	var delivered int
	var lastErr error
	for _, token := range tokens {
		if _, err := s.sendOne(ctx, client, bearer, s.message(rendered, token, "")); err != nil {
			if errors.Is(err, errUnregisteredToken) {
				s.markInactive(ctx, rendered.TenantID, token)
			}
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return "", lastErr
	}
	return fmt.Sprintf("delivered to %d/%d devices", delivered, len(tokens)), nil
}

func (s *Sender) markInactive(ctx context.Context, tenantID, token string) {
	if s.tokens == nil {
		return
	}
	if err := s.tokens.MarkTokenInactive(ctx, tenantID, token); err != nil {
		slog.Error("failed to mark device token inactive", "tenant_id", tenantID, "error", err)
	}
}

// sendOne posts a single message and returns the FCM message name.
func (s *Sender) sendOne(ctx context.Context, client *fcmClient, bearer string, msg fcmMessage) (string, error) {
	body, err := json.Marshal(fcmRequest{Message: msg})
	if err != nil {
		return "", notifications.NewSendError(domain.FailureReasonInternal, "",
			fmt.Errorf("marshal message: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/messages:send", s.config.Endpoint, client.account.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", notifications.NewSendError(domain.FailureReasonInternal, "",
			fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", notifications.AsSendError(fmt.Errorf("post message: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp)
}

// message builds the FCM payload with platform overrides. Exactly one of
// token and topic must be set.
func (s *Sender) message(rendered *notifications.Rendered, token, topic string) fcmMessage {
	high := rendered.Priority == domain.PriorityHigh || rendered.Priority == domain.PriorityUrgent

	androidPriority := "NORMAL"
	apnsPriority := "5"
	urgency := "normal"
	if high {
		androidPriority = "HIGH"
		apnsPriority = "10"
		urgency = "high"
	}

	data := rendered.Data
	msg := fcmMessage{
		Token: token,
		Topic: topic,
		Notification: &fcmNotification{
			Title: rendered.Subject,
			Body:  rendered.Body,
		},
		Data: data,
		Android: &androidConfig{
			Priority: androidPriority,
			Notification: &androidNotification{
				Icon:        dataOr(data, "icon", "ic_notification"),
				Color:       data["color"],
				Sound:       dataOr(data, "sound", "default"),
				ClickAction: data["click_action"],
			},
		},
		APNS: &apnsConfig{
			Headers: map[string]string{"apns-priority": apnsPriority},
			Payload: apnsPayload{
				APS: apsDictionary{
					Alert:    apsAlert{Title: rendered.Subject, Body: rendered.Body},
					Badge:    1,
					Sound:    dataOr(data, "sound", "default"),
					ThreadID: data["thread_id"],
				},
			},
		},
		Webpush: &webpushConfig{
			Headers: map[string]string{"Urgency": urgency},
			Notification: &webpushNotification{
				Icon:  data["icon"],
				Image: data["image_url"],
			},
		},
	}
	return msg
}

// clientFor returns the cached client for a service account, keyed by a
// digest of the raw JSON so rotated keys get fresh OAuth state.
func (s *Sender) clientFor(accountJSON string) (*fcmClient, error) {
	digest := sha256.Sum256([]byte(accountJSON))
	key := hex.EncodeToString(digest[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[key]; ok {
		return client, nil
	}

	account, err := parseServiceAccount(accountJSON)
	if err != nil {
		return nil, err
	}
	signingKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	client := &fcmClient{account: account, signingKey: signingKey}
	s.clients[key] = client
	return client, nil
}

// serviceAccount is the subset of a Firebase service account key we use.
type serviceAccount struct {
	ProjectID   string `json:"project_id"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
	TokenURI    string `json:"token_uri"`
}

func parseServiceAccount(raw string) (serviceAccount, error) {
	var account serviceAccount
	if err := json.Unmarshal([]byte(raw), &account); err != nil {
		return serviceAccount{}, fmt.Errorf("decode service account: %w", err)
	}
	if account.ProjectID == "" || account.PrivateKey == "" || account.ClientEmail == "" {
		return serviceAccount{}, errors.New("service account is missing project_id, private_key or client_email")
	}
	if account.TokenURI == "" {
		account.TokenURI = "https://oauth2.googleapis.com/token"
	}
	return account, nil
}

// fcmClient holds per-account OAuth state.
type fcmClient struct {
	account    serviceAccount
	signingKey *rsa.PrivateKey

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// bearer returns a valid access token, exchanging a signed JWT assertion
// when the cached one is missing or close to expiry.
func (c *fcmClient) bearer(ctx context.Context, httpClient *http.Client, endpointOverride string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	endpoint := c.account.TokenURI
	if endpointOverride != "" {
		endpoint = endpointOverride
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   c.account.ClientEmail,
		"scope": messagingScope,
		"aud":   endpoint,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange assertion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if grant.AccessToken == "" {
		return "", errors.New("token endpoint returned an empty access token")
	}

	c.accessToken = grant.AccessToken
	c.tokenExpiry = now.Add(time.Duration(grant.ExpiresIn) * time.Second).Add(-tokenRefreshMargin)
	return c.accessToken, nil
}

func handleResponse(resp *http.Response) (string, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", notifications.AsSendError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusOK {
		var ok struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(body, &ok); err == nil && ok.Name != "" {
			slog.Debug("push message sent", "name", ok.Name)
			return ok.Name, nil
		}
		return strings.TrimSpace(string(body)), nil
	}

	var fcmErr fcmErrorResponse
	_ = json.Unmarshal(body, &fcmErr)
	response := strings.TrimSpace(string(body))
	errorCode := fcmErr.errorCode()

	switch {
	case errorCode == "UNREGISTERED":
		return "", notifications.NewPermanentSendError(domain.FailureReasonProvider, response, errUnregisteredToken)

	case errorCode == "SENDER_ID_MISMATCH":
		return "", notifications.NewPermanentSendError(domain.FailureReasonAuth, response,
			errors.New("token belongs to a different sender"))

	case errorCode == "QUOTA_EXCEEDED", resp.StatusCode == http.StatusTooManyRequests:
		return "", notifications.NewSendError(domain.FailureReasonProvider, response,
			errors.New("messaging quota exceeded"))

	case errorCode == "UNAUTHENTICATED", errorCode == "PERMISSION_DENIED",
		resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", notifications.NewSendError(domain.FailureReasonAuth, response,
			fmt.Errorf("authentication rejected: %s", fcmErr.Error.Message))

	case errorCode == "INVALID_ARGUMENT", resp.StatusCode == http.StatusBadRequest:
		return "", notifications.NewPermanentSendError(domain.FailureReasonContent, response,
			fmt.Errorf("invalid message: %s", fcmErr.Error.Message))

	case resp.StatusCode >= 500:
		return "", notifications.NewSendError(domain.FailureReasonProvider, response,
			fmt.Errorf("provider error %d", resp.StatusCode))

	default:
		return "", notifications.NewPermanentSendError(domain.FailureReasonProvider, response,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, fcmErr.Error.Message))
	}
}

// fcmErrorResponse is the FCM v1 error envelope.
type fcmErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// errorCode extracts the FCM error code from the details, falling back
// to the gRPC status name.
func (e fcmErrorResponse) errorCode() string {
	for _, d := range e.Error.Details {
		if d.ErrorCode != "" {
			return d.ErrorCode
		}
	}
	return e.Error.Status
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token,omitempty"`
	Topic        string            `json:"topic,omitempty"`
	Notification *fcmNotification  `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *androidConfig    `json:"android,omitempty"`
	APNS         *apnsConfig       `json:"apns,omitempty"`
	Webpush      *webpushConfig    `json:"webpush,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type androidConfig struct {
	Priority     string               `json:"priority,omitempty"`
	Notification *androidNotification `json:"notification,omitempty"`
}

type androidNotification struct {
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
	Sound       string `json:"sound,omitempty"`
	ClickAction string `json:"click_action,omitempty"`
}

type apnsConfig struct {
	Headers map[string]string `json:"headers,omitempty"`
	Payload apnsPayload       `json:"payload"`
}

type apnsPayload struct {
	APS apsDictionary `json:"aps"`
}

type apsDictionary struct {
	Alert    apsAlert `json:"alert"`
	Badge    int      `json:"badge,omitempty"`
	Sound    string   `json:"sound,omitempty"`
	ThreadID string   `json:"thread-id,omitempty"`
}

type apsAlert struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type webpushConfig struct {
	Headers      map[string]string    `json:"headers,omitempty"`
	Notification *webpushNotification `json:"notification,omitempty"`
}

type webpushNotification struct {
	Icon  string `json:"icon,omitempty"`
	Image string `json:"image,omitempty"`
}

func dataOr(data map[string]string, key, fallback string) string {
	if v, ok := data[key]; ok && v != "" {
		return v
	}
	return fallback
}
