package push

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

var (
	testKeyOnce sync.Once
	testKeyPEM  string
)

// testPrivateKeyPEM returns a PEM-encoded RSA key shared across tests.
func testPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate test key: %v", err)
		}
		testKeyPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	})
	return testKeyPEM
}

func testAccountJSON(t *testing.T, tokenURI string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"project_id":   "test-project",
		"private_key":  testPrivateKeyPEM(t),
		"client_email": "herald@test-project.iam.gserviceaccount.com",
		"token_uri":    tokenURI,
	})
	require.NoError(t, err)
	return string(raw)
}

// newTokenServer serves the OAuth assertion exchange and counts hits.
func newTokenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, jwtBearerGrant, r.PostForm.Get("grant_type"))
		assert.Len(t, strings.Split(r.PostForm.Get("assertion"), "."), 3)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "test-bearer", "expires_in": 3600, "token_type": "Bearer"}`))
	}))
}

type fakeTokenSource struct {
	tokens   []string
	err      error
	inactive []string
}

func (f *fakeTokenSource) ActiveTokens(_ context.Context, _, _ string) ([]string, error) {
	return f.tokens, f.err
}

func (f *fakeTokenSource) MarkTokenInactive(_ context.Context, _, token string) error {
	f.inactive = append(f.inactive, token)
	return nil
}

func unregisteredBody() string {
	return `{"error": {"code": 404, "message": "Requested entity was not found.", "status": "NOT_FOUND",
		"details": [{"@type": "type.googleapis.com/google.firebase.fcm.v1.FcmError", "errorCode": "UNREGISTERED"}]}}`
}

func TestNewSender_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "enabled with malformed fallback account",
			config: Config{
				Enabled:            true,
				ServiceAccountJSON: "{not json",
			},
			wantErr: "invalid fallback service account",
		},
		{
			name: "enabled with incomplete account",
			config: Config{
				Enabled:            true,
				ServiceAccountJSON: `{"project_id": "p"}`,
			},
			wantErr: "missing project_id, private_key or client_email",
		},
		{
			name:    "disabled - no validation",
			config:  Config{Enabled: false, ServiceAccountJSON: "{not json"},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewSender(tt.config, nil)
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
	sender, err := NewSender(Config{}, nil)
	require.NoError(t, err)

	assert.Equal(t, defaultEndpoint, sender.config.Endpoint)
	assert.Equal(t, defaultTimeout, sender.config.Timeout)
}

func TestSender_Type(t *testing.T) {
	sender, err := NewSender(Config{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.ChannelTypePush, sender.Type())
}

func TestSend_NoServiceAccount(t *testing.T) {
	sender, err := NewSender(Config{}, nil)
	require.NoError(t, err)

	rendered := &notifications.Rendered{Subject: "Hi", Body: "there"}
	_, err = sender.Send(context.Background(), map[string]string{}, rendered, "device-token")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonAuth, sendErr.Reason)
	assert.False(t, sendErr.IsRetryable())
}

func TestSend_TokenMessage(t *testing.T) {
	var tokenHits atomic.Int32
	tokenServer := newTokenServer(t, &tokenHits)
	defer tokenServer.Close()

	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/test-project/messages:send", r.URL.Path)
		assert.Equal(t, "Bearer test-bearer", r.Header.Get("Authorization"))

		var req fcmRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "device-token", req.Message.Token)
		assert.Empty(t, req.Message.Topic)
		assert.Equal(t, "Build finished", req.Message.Notification.Title)
		assert.Equal(t, "All checks passed", req.Message.Notification.Body)
		assert.Equal(t, "NORMAL", req.Message.Android.Priority)
		assert.Equal(t, "ic_notification", req.Message.Android.Notification.Icon)
		assert.Equal(t, "default", req.Message.Android.Notification.Sound)
		assert.Equal(t, "5", req.Message.APNS.Headers["apns-priority"])
		assert.Equal(t, 1, req.Message.APNS.Payload.APS.Badge)
		assert.Equal(t, "normal", req.Message.Webpush.Headers["Urgency"])

		_, _ = w.Write([]byte(`{"name": "projects/test-project/messages/0:123"}`))
	}))
	defer fcmServer.Close()

	sender, err := NewSender(Config{Endpoint: fcmServer.URL}, nil)
	require.NoError(t, err)

	creds := map[string]string{"service_account_json": testAccountJSON(t, tokenServer.URL)}
	rendered := &notifications.Rendered{
		TenantID: "tenant-1",
		Priority: domain.PriorityNormal,
		Subject:  "Build finished",
		Body:     "All checks passed",
	}

	response, err := sender.Send(context.Background(), creds, rendered, "device-token")
	require.NoError(t, err)
	assert.Equal(t, "projects/test-project/messages/0:123", response)
	assert.Equal(t, int32(1), tokenHits.Load())
}

func TestSend_HighPriorityOverrides(t *testing.T) {
	var tokenHits atomic.Int32
	tokenServer := newTokenServer(t, &tokenHits)
	defer tokenServer.Close()

	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req fcmRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "HIGH", req.Message.Android.Priority)
		assert.Equal(t, "10", req.Message.APNS.Headers["apns-priority"])
		assert.Equal(t, "high", req.Message.Webpush.Headers["Urgency"])

		_, _ = w.Write([]byte(`{"name": "projects/test-project/messages/0:456"}`))
	}))
	defer fcmServer.Close()

	sender, err := NewSender(Config{Endpoint: fcmServer.URL}, nil)
	require.NoError(t, err)

	creds := map[string]string{"service_account_json": testAccountJSON(t, tokenServer.URL)}
	rendered := &notifications.Rendered{
		TenantID: "tenant-1",
		Priority: domain.PriorityUrgent,
		Subject:  "Security alert",
		Body:     "New login detected",
	}

	_, err = sender.Send(context.Background(), creds, rendered, "device-token")
	require.NoError(t, err)
}

func TestSend_TopicRecipient(t *testing.T) {
	var tokenHits atomic.Int32
	tokenServer := newTokenServer(t, &tokenHits)
	defer tokenServer.Close()

	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req fcmRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "billing", req.Message.Topic)
		assert.Empty(t, req.Message.Token)

		_, _ = w.Write([]byte(`{"name": "projects/test-project/messages/topic:1"}`))
	}))
	defer fcmServer.Close()

	sender, err := NewSender(Config{Endpoint: fcmServer.URL}, nil)
	require.NoError(t, err)

	creds := map[string]string{"service_account_json": testAccountJSON(t, tokenServer.URL)}
	rendered := &notifications.Rendered{TenantID: "tenant-1", Subject: "Invoice", Body: "ready"}

	_, err = sender.Send(context.Background(), creds, rendered, "topic_billing")
	require.NoError(t, err)
}

func TestSend_BroadcastRecipient(t *testing.T) {
	var tokenHits atomic.Int32
	tokenServer := newTokenServer(t, &tokenHits)
	defer tokenServer.Close()

	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req fcmRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tenant_tenant-1", req.Message.Topic)

		_, _ = w.Write([]byte(`{"name": "projects/test-project/messages/topic:2"}`))
	}))
	defer fcmServer.Close()

	sender, err := NewSender(Config{Endpoint: fcmServer.URL}, nil)
	require.NoError(t, err)

	creds := map[string]string{"service_account_json": testAccountJSON(t, tokenServer.URL)}
	rendered := &notifications.Rendered{TenantID: "tenant-1", Subject: "Maintenance", Body: "tonight"}

	_, err = sender.Send(context.Background(), creds, rendered, "all")
	require.NoError(t, err)
}

func TestSend_DeviceRegistryFanout(t *testing.T) {
	var tokenHits atomic.Int32
	tokenServer := newTokenServer(t, &tokenHits)
	defer tokenServer.Close()

	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req fcmRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Message.Token == "dead-token" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(unregisteredBody()))
			return
		}
		_, _ = w.Write([]byte(`{"name": "projects/test-project/messages/0:` + req.Message.Token + `"}`))
	}))
	defer fcmServer.Close()

	registry := &fakeTokenSource{tokens: []string{"token-a", "dead-token", "token-b"}}
	sender, err := NewSender(Config{Endpoint: fcmServer.URL}, registry)
	require.NoError(t, err)

	creds := map[string]string{"service_account_json": testAccountJSON(t, tokenServer.URL)}
	rendered := &notifications.Rendered{TenantID: "tenant-1", Subject: "Hi", Body: "there"}

	response, err := sender.Send(context.Background(), creds, rendered, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "delivered to 2/3 devices", response)
	assert.Equal(t, []string{"dead-token"}, registry.inactive)
}

func TestSend_UnregisteredLiteralToken(t *testing.T) {
	var tokenHits atomic.Int32
	tokenServer := newTokenServer(t, &tokenHits)
	defer tokenServer.Close()

	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(unregisteredBody()))
	}))
	defer fcmServer.Close()

	registry := &fakeTokenSource{}
	sender, err := NewSender(Config{Endpoint: fcmServer.URL}, registry)
	require.NoError(t, err)

	creds := map[string]string{"service_account_json": testAccountJSON(t, tokenServer.URL)}
	rendered := &notifications.Rendered{TenantID: "tenant-1", Subject: "Hi", Body: "there"}

	_, err = sender.Send(context.Background(), creds, rendered, "stale-token")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonProvider, sendErr.Reason)
	assert.False(t, sendErr.IsRetryable())
	assert.Equal(t, []string{"stale-token"}, registry.inactive)
}

func TestSend_QuotaExceeded(t *testing.T) {
	var tokenHits atomic.Int32
	tokenServer := newTokenServer(t, &tokenHits)
	defer tokenServer.Close()

	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"code": 429, "message": "Quota exceeded.", "status": "RESOURCE_EXHAUSTED",
			"details": [{"@type": "type.googleapis.com/google.firebase.fcm.v1.FcmError", "errorCode": "QUOTA_EXCEEDED"}]}}`))
	}))
	defer fcmServer.Close()

	sender, err := NewSender(Config{Endpoint: fcmServer.URL}, nil)
	require.NoError(t, err)

	creds := map[string]string{"service_account_json": testAccountJSON(t, tokenServer.URL)}
	rendered := &notifications.Rendered{TenantID: "tenant-1", Subject: "Hi", Body: "there"}

	_, err = sender.Send(context.Background(), creds, rendered, "device-token")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonProvider, sendErr.Reason)
	assert.True(t, sendErr.IsRetryable())
}

func TestSend_Unauthenticated(t *testing.T) {
	var tokenHits atomic.Int32
	tokenServer := newTokenServer(t, &tokenHits)
	defer tokenServer.Close()

	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"code": 401, "message": "Request had invalid authentication credentials.", "status": "UNAUTHENTICATED"}}`))
	}))
	defer fcmServer.Close()

	sender, err := NewSender(Config{Endpoint: fcmServer.URL}, nil)
	require.NoError(t, err)

	creds := map[string]string{"service_account_json": testAccountJSON(t, tokenServer.URL)}
	rendered := &notifications.Rendered{TenantID: "tenant-1", Subject: "Hi", Body: "there"}

	_, err = sender.Send(context.Background(), creds, rendered, "device-token")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonAuth, sendErr.Reason)
}

func TestSend_InvalidArgument(t *testing.T) {
	var tokenHits atomic.Int32
	tokenServer := newTokenServer(t, &tokenHits)
	defer tokenServer.Close()

	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"code": 400, "message": "The registration token is not a valid FCM registration token", "status": "INVALID_ARGUMENT"}}`))
	}))
	defer fcmServer.Close()

	sender, err := NewSender(Config{Endpoint: fcmServer.URL}, nil)
	require.NoError(t, err)

	creds := map[string]string{"service_account_json": testAccountJSON(t, tokenServer.URL)}
	rendered := &notifications.Rendered{TenantID: "tenant-1", Subject: "Hi", Body: "there"}

	_, err = sender.Send(context.Background(), creds, rendered, "not-a-token")

	var sendErr *notifications.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, domain.FailureReasonContent, sendErr.Reason)
	assert.False(t, sendErr.IsRetryable())
}

func TestSend_BearerCachedAcrossSends(t *testing.T) {
	var tokenHits atomic.Int32
	tokenServer := newTokenServer(t, &tokenHits)
	defer tokenServer.Close()

	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name": "projects/test-project/messages/0:1"}`))
	}))
	defer fcmServer.Close()

	sender, err := NewSender(Config{Endpoint: fcmServer.URL}, nil)
	require.NoError(t, err)

	creds := map[string]string{"service_account_json": testAccountJSON(t, tokenServer.URL)}
	rendered := &notifications.Rendered{TenantID: "tenant-1", Subject: "Hi", Body: "there"}

	_, err = sender.Send(context.Background(), creds, rendered, "device-token")
	require.NoError(t, err)
	_, err = sender.Send(context.Background(), creds, rendered, "device-token")
	require.NoError(t, err)

	assert.Equal(t, int32(1), tokenHits.Load())
}

func TestParseServiceAccount(t *testing.T) {
	t.Run("defaults token_uri", func(t *testing.T) {
		account, err := parseServiceAccount(`{"project_id": "p", "private_key": "k", "client_email": "e@p.iam"}`)
		require.NoError(t, err)
		assert.Equal(t, "https://oauth2.googleapis.com/token", account.TokenURI)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := parseServiceAccount(`{"project_id": "p"}`)
		require.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := parseServiceAccount(`{`)
		require.Error(t, err)
	})
}
