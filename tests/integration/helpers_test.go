//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/identity"
	"github.com/heraldhq/herald/internal/testutil"
)

// frameWait bounds every single websocket read or write in tests.
const frameWait = 5 * time.Second

// mintToken signs an HS256 token carrying the tenant and user claims the
// app's verifier expects.
func mintToken(t *testing.T, tenantID, userID string) string {
	t.Helper()

	claims := identity.Claims{
		UserID:   userID,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

// newTenantID returns a fresh tenant identifier. Tenants materialize on
// first use, so a new ID is all the isolation a test needs.
func newTenantID() string {
	return "tenant-" + uuid.NewString()
}

// newTenantClient returns a validating client authenticated as
// (tenantID, userID).
func newTenantClient(t *testing.T, tenantID, userID string) *testutil.Client {
	t.Helper()

	client := testutil.NewClientWithValidator(testServer.URL, testValidator)
	client.Token = mintToken(t, tenantID, userID)
	client.SetT(t)
	return client
}

// Wire shapes the tests assert on. Mirrors of the JSON the API returns,
// trimmed to the fields worth checking.

type credentialResponse struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Channel   string            `json:"channel"`
	Data      map[string]string `json:"data"`
	Custom    bool              `json:"custom"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type templateResponse struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Name         string            `json:"name"`
	Channel      string            `json:"channel"`
	Subject      string            `json:"subject"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data"`
	Placeholders []string          `json:"placeholders"`
	Version      int               `json:"version"`
	Active       bool              `json:"active"`
}

type recordResponse struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	EventType     string            `json:"event_type"`
	Channel       string            `json:"channel"`
	Recipient     string            `json:"recipient"`
	Subject       string            `json:"subject"`
	Body          string            `json:"body"`
	Data          map[string]string `json:"data"`
	Priority      string            `json:"priority"`
	State         string            `json:"state"`
	RetryCount    int               `json:"retry_count"`
	MaxRetries    int               `json:"max_retries"`
	FailureReason string            `json:"failure_reason"`
	SentAt        *time.Time        `json:"sent_at"`
	ReadAt        *time.Time        `json:"read_at"`
	CreatedAt     time.Time         `json:"created_at"`
}

type deviceResponse struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
	Platform string `json:"platform"`
	Language string `json:"language"`
	Active   bool   `json:"active"`
}

type conversationResponse struct {
	ID               string `json:"id"`
	TenantID         string `json:"tenant_id"`
	Type             string `json:"type"`
	Name             string `json:"name"`
	CreatedBy        string `json:"created_by"`
	ParticipantCount int    `json:"participant_count"`
}

type messageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Type           string `json:"type"`
	Content        string `json:"content"`
	Reactions      []struct {
		UserID string `json:"user_id"`
		Emoji  string `json:"emoji"`
	} `json:"reactions"`
}

func decodeCredential(t *testing.T, resp *http.Response) credentialResponse {
	t.Helper()
	var envelope struct {
		Data credentialResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

func decodeCredentials(t *testing.T, resp *http.Response) []credentialResponse {
	t.Helper()
	var envelope struct {
		Data []credentialResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

func decodeTemplate(t *testing.T, resp *http.Response) templateResponse {
	t.Helper()
	var envelope struct {
		Data templateResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

func decodeTemplates(t *testing.T, resp *http.Response) []templateResponse {
	t.Helper()
	var envelope struct {
		Data []templateResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

func decodeRecord(t *testing.T, resp *http.Response) recordResponse {
	t.Helper()
	var envelope struct {
		Data recordResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

func decodeRecords(t *testing.T, resp *http.Response) []recordResponse {
	t.Helper()
	var envelope struct {
		Data []recordResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

func decodeDevice(t *testing.T, resp *http.Response) deviceResponse {
	t.Helper()
	var envelope struct {
		Data deviceResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

func decodeDevices(t *testing.T, resp *http.Response) []deviceResponse {
	t.Helper()
	var envelope struct {
		Data []deviceResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

func decodeConversation(t *testing.T, resp *http.Response) conversationResponse {
	t.Helper()
	var envelope struct {
		Data conversationResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

func decodeConversations(t *testing.T, resp *http.Response) []conversationResponse {
	t.Helper()
	var envelope struct {
		Data []conversationResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

func decodeMessages(t *testing.T, resp *http.Response) []messageResponse {
	t.Helper()
	var envelope struct {
		Data []messageResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data
}

func decodeErrorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Error.Message
}

// createCredential provisions a channel credential and expects success.
func createCredential(t *testing.T, client *testutil.Client, channel string, data map[string]string) credentialResponse {
	t.Helper()

	resp, err := client.POST("/api/v1/credentials", map[string]any{
		"channel": channel,
		"data":    data,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeCredential(t, resp)
}

// mailpitCredential returns SMTP settings pointing at the shared Mailpit
// container. Mailpit accepts unauthenticated submission, so no username
// or password is needed.
func mailpitCredential(fromEmail string) map[string]string {
	return map[string]string{
		"smtp_host":  mailpit.SMTPHost,
		"smtp_port":  strconv.Itoa(mailpit.SMTPPort),
		"from_email": fromEmail,
		"from_name":  "Herald Test",
	}
}

func createTemplate(t *testing.T, client *testutil.Client, body map[string]any) templateResponse {
	t.Helper()

	resp, err := client.POST("/api/v1/templates", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeTemplate(t, resp)
}

func createRecord(t *testing.T, client *testutil.Client, body map[string]any) recordResponse {
	t.Helper()

	resp, err := client.POST("/api/v1/records", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeRecord(t, resp)
}

func getRecord(t *testing.T, client *testutil.Client, id string) recordResponse {
	t.Helper()

	resp, err := client.GET("/api/v1/records/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeRecord(t, resp)
}

// waitForRecordState polls a record until it reaches one of the wanted
// states. The worker runs with a 100ms poll interval, so terminal states
// arrive well inside the deadline.
func waitForRecordState(t *testing.T, client *testutil.Client, id string, want ...string) recordResponse {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	var last recordResponse
	for time.Now().Before(deadline) {
		last = getRecord(t, client, id)
		for _, state := range want {
			if last.State == state {
				return last
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("record %s is %s, wanted one of %v", id, last.State, want)
	return last
}

func unreadCount(t *testing.T, client *testutil.Client) int {
	t.Helper()

	resp, err := client.GET("/api/v1/records-unread-count")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data struct {
			UnreadCount int `json:"unread_count"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	return envelope.Data.UnreadCount
}

func createConversation(t *testing.T, client *testutil.Client, body map[string]any) conversationResponse {
	t.Helper()

	resp, err := client.POST("/api/v1/chat/conversations", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeConversation(t, resp)
}

// Socket paths. The hub mounts all three outside the REST prefix.

func notificationsSocketPath(tenantID string) string {
	return "/ws/notifications/" + tenantID + "/"
}

func chatSocketPath(tenantID string) string {
	return "/ws/chat/" + tenantID + "/"
}

func broadcastSocketPath(tenantID string) string {
	return "/ws/tenant/" + tenantID + "/broadcast/"
}

// wsConnect opens a websocket against the test server, passing the token
// as a query parameter. The connection is closed on test cleanup.
func wsConnect(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), frameWait)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, testServer.URL+path+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	})
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), frameWait)
	defer cancel()

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// awaitFrame reads frames until one of the wanted type arrives. Unrelated
// traffic (typing expiry, presence noise) is skipped.
func awaitFrame(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), frameWait)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		require.NoErrorf(t, err, "waiting for %q frame", frameType)

		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame["type"] == frameType {
			return frame
		}
	}
}

// nextFrame reads the next frame whatever its type. Use it where the
// ordering or absence of frames matters; awaitFrame hides both.
func nextFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), frameWait)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// awaitClose reads until the server closes the connection and returns the
// close status code.
func awaitClose(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), frameWait)
	defer cancel()

	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

// frameString digs a string out of a nested frame, e.g.
// frameString(frame, "message", "content").
func frameString(frame map[string]any, keys ...string) string {
	var current any = frame
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[key]
	}
	s, _ := current.(string)
	return s
}
