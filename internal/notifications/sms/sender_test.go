package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

func TestNewSender_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "enabled with SID but no token",
			config: Config{
				Enabled:    true,
				AccountSID: "ACfallback",
			},
			wantErr: "auth token is required",
		},
		{
			name: "enabled without fallback account",
			config: Config{
				Enabled: true,
			},
			wantErr: "",
		},
		{
			name: "valid fallback account",
			config: Config{
				Enabled:    true,
				AccountSID: "ACfallback",
				AuthToken:  "secret",
				From:       "+12025550100",
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewSender(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, sender)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, sender)
			}
		})
	}
}

func TestNewSender_Defaults(t *testing.T) {
	sender, err := NewSender(Config{})
	require.NoError(t, err)

	assert.Equal(t, defaultBaseURL, sender.config.BaseURL)
	assert.Equal(t, defaultTimeout, sender.config.Timeout)
	assert.Equal(t, float64(defaultRateLimit), sender.config.RateLimit)
	assert.Equal(t, defaultRateBurst, sender.config.RateBurst)
	assert.NotNil(t, sender.httpClient)
}

func TestSender_Type(t *testing.T) {
	sender, err := NewSender(Config{})
	require.NoError(t, err)

	assert.Equal(t, domain.ChannelTypeSMS, sender.Type())
}

func TestSend_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/2010-04-01/Accounts/ACtenant/Messages.json", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "ACtenant", user)
		assert.Equal(t, "token-secret", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+12025550147", r.PostForm.Get("To"))
		assert.Equal(t, "+12025550100", r.PostForm.Get("From"))
		assert.Equal(t, "Your code is 123456", r.PostForm.Get("Body"))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid": "SM123", "status": "queued"}`))
	}))
	defer server.Close()

	sender, err := NewSender(Config{BaseURL: server.URL})
	require.NoError(t, err)

	creds := map[string]string{
		"account_sid": "ACtenant",
		"auth_token":  "token-secret",
		"from_number": "+12025550100",
	}
	rendered := &notifications.Rendered{Body: "Your code is 123456"}

	response, err := sender.Send(context.Background(), creds, rendered, "+12025550147")
	require.NoError(t, err)
	assert.Equal(t, "sid=SM123 status=queued", response)
}

func TestSend_FallbackAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/ACfallback/Messages.json", r.URL.Path)

		user, _, _ := r.BasicAuth()
		assert.Equal(t, "ACfallback", user)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid": "SM456", "status": "queued"}`))
	}))
	defer server.Close()

	sender, err := NewSender(Config{
		Enabled:    true,
		AccountSID: "ACfallback",
		AuthToken:  "fallback-token",
		From:       "+12025550100",
		BaseURL:    server.URL,
	})
	require.NoError(t, err)

	rendered := &notifications.Rendered{Body: "hello"}
	_, err = sender.Send(context.Background(), map[string]string{}, rendered, "+12025550147")
	require.NoError(t, err)
}

func TestSend_NoCredentials(t *testing.T) {
	sender, err := NewSender(Config{})
	require.NoError(t, err)

	rendered := &notifications.Rendered{Body: "hello"}
	_, err = sender.Send(context.Background(), map[string]string{}, rendered, "+12025550147")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonAuth, sendErr.Reason)
	assert.False(t, sendErr.IsRetryable())
}

func TestSend_NoFromNumber(t *testing.T) {
	sender, err := NewSender(Config{})
	require.NoError(t, err)

	creds := map[string]string{"account_sid": "ACtenant", "auth_token": "secret"}
	rendered := &notifications.Rendered{Body: "hello"}
	_, err = sender.Send(context.Background(), creds, rendered, "+12025550147")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonAuth, sendErr.Reason)
	assert.Contains(t, sendErr.Error(), "no sender number")
}

func TestSend_InvalidRecipient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("provider must not be called for an invalid recipient")
	}))
	defer server.Close()

	sender, err := NewSender(Config{BaseURL: server.URL})
	require.NoError(t, err)

	creds := map[string]string{
		"account_sid": "ACtenant",
		"auth_token":  "secret",
		"from_number": "+12025550100",
	}
	rendered := &notifications.Rendered{Body: "hello"}
	_, err = sender.Send(context.Background(), creds, rendered, "202-555-0147")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonContent, sendErr.Reason)
	assert.False(t, sendErr.IsRetryable())
	assert.Contains(t, sendErr.ProviderResponse, "E.164")
}

func TestSend_InvalidNumberCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": 21211, "message": "The 'To' number is not a valid phone number.", "status": 400}`))
	}))
	defer server.Close()

	sender, err := NewSender(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), testCreds(), &notifications.Rendered{Body: "x"}, "+12025550147")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonContent, sendErr.Reason)
	assert.False(t, sendErr.IsRetryable())
	assert.Contains(t, sendErr.ProviderResponse, "21211")
}

func TestSend_AuthFailureCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code": 20003, "message": "Authentication Error - invalid username", "status": 401}`))
	}))
	defer server.Close()

	sender, err := NewSender(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), testCreds(), &notifications.Rendered{Body: "x"}, "+12025550147")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonAuth, sendErr.Reason)
	assert.False(t, sendErr.IsRetryable())
}

func TestSend_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code": 20429, "message": "Too Many Requests", "status": 429}`))
	}))
	defer server.Close()

	sender, err := NewSender(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), testCreds(), &notifications.Rendered{Body: "x"}, "+12025550147")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonProvider, sendErr.Reason)
	assert.True(t, sendErr.IsRetryable())
}

func TestSend_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer server.Close()

	sender, err := NewSender(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), testCreds(), &notifications.Rendered{Body: "x"}, "+12025550147")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonProvider, sendErr.Reason)
	assert.True(t, sendErr.IsRetryable())
}

func TestSend_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": 21602, "message": "Message body is required.", "status": 400}`))
	}))
	defer server.Close()

	sender, err := NewSender(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), testCreds(), &notifications.Rendered{Body: ""}, "+12025550147")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonProvider, sendErr.Reason)
	assert.False(t, sendErr.IsRetryable())
}

func TestSend_NetworkError(t *testing.T) {
	sender, err := NewSender(Config{
		BaseURL: "http://localhost:59999",
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), testCreds(), &notifications.Rendered{Body: "x"}, "+12025550147")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonNetwork, sendErr.Reason)
	assert.True(t, sendErr.IsRetryable())
}

func TestSend_LimiterSharedPerAccount(t *testing.T) {
	sender, err := NewSender(Config{})
	require.NoError(t, err)

	first := sender.limiter("ACone")
	second := sender.limiter("ACone")
	other := sender.limiter("ACtwo")

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
}

func TestE164Pattern(t *testing.T) {
	tests := []struct {
		number string
		valid  bool
	}{
		{"+12025550147", true},
		{"+442071838750", true},
		{"+861012345678", true},
		// 8 digits is the shortest accepted, 15 the longest.
		{"+12345678", true},
		{"+123456789012345", true},
		{"+1234567", false},
		{"+1234567890123456", false},
		{"12025550147", false},
		{"+02025550147", false},
		{"+1 202 555 0147", false},
		{"+1-202-555-0147", false},
		{"user@example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			assert.Equal(t, tt.valid, e164Pattern.MatchString(tt.number))
		})
	}
}

func testCreds() map[string]string {
	return map[string]string{
		"account_sid": "ACtenant",
		"auth_token":  "secret",
		"from_number": "+12025550100",
	}
}
