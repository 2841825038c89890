//go:build integration

package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniqueRecipient returns a mailbox no other test writes to, so Mailpit
// searches stay unambiguous.
func uniqueRecipient() string {
	return "rcpt-" + uuid.NewString()[:8] + "@example.test"
}

func TestDelivery_EmailEndToEnd(t *testing.T) {
	client := newTenantClient(t, newTenantID(), "admin-1")

	createCredential(t, client, "email", mailpitCredential("noreply@herald.test"))

	tmpl := createTemplate(t, client, map[string]any{
		"name":         "signup",
		"channel":      "email",
		"subject":      "Welcome {user_name}!",
		"body":         "Hi {user_name}, your workspace {workspace} is ready.",
		"placeholders": []string{"user_name", "workspace"},
	})

	recipient := uniqueRecipient()
	record := createRecord(t, client, map[string]any{
		"channel":       "email",
		"recipient":     recipient,
		"template_name": tmpl.Name,
		"context": map[string]any{
			"user_name": "Ada",
			"workspace": "atelier",
		},
	})

	final := waitForRecordState(t, client, record.ID, "SUCCESS")
	require.NotNil(t, final.SentAt)

	messages, err := mailpitAPI.WaitForRecipient(recipient, 1, 10*time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	detail, err := mailpitAPI.GetMessageByID(messages[0].ID)
	require.NoError(t, err)

	assert.Equal(t, "Welcome Ada!", detail.Subject)
	assert.Contains(t, detail.Text, "Hi Ada, your workspace atelier is ready.")
	assert.Equal(t, "noreply@herald.test", detail.From.Address)
	assert.Equal(t, "Herald Test", detail.From.Name)
	require.Len(t, detail.To, 1)
	assert.Equal(t, recipient, detail.To[0].Address)
}

func TestDelivery_InlineEmail(t *testing.T) {
	client := newTenantClient(t, newTenantID(), "admin-1")

	createCredential(t, client, "email", mailpitCredential("alerts@herald.test"))

	recipient := uniqueRecipient()
	record := createRecord(t, client, map[string]any{
		"channel":   "email",
		"recipient": recipient,
		"subject":   "Disk almost full",
		"body":      "Volume /data is at 91% capacity.",
	})

	waitForRecordState(t, client, record.ID, "SUCCESS")

	messages, err := mailpitAPI.WaitForRecipient(recipient, 1, 10*time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Disk almost full", messages[0].Subject)
}

func TestDelivery_RecordPinsContentAtEnqueue(t *testing.T) {
	client := newTenantClient(t, newTenantID(), "admin-1")

	createCredential(t, client, "email", mailpitCredential("noreply@herald.test"))

	tmpl := createTemplate(t, client, map[string]any{
		"name":    "status",
		"channel": "email",
		"subject": "Status: all good",
		"body":    "Everything is fine.",
	})

	recipient := uniqueRecipient()
	record := createRecord(t, client, map[string]any{
		"channel":       "email",
		"recipient":     recipient,
		"template_name": tmpl.Name,
	})

	// A template edit after enqueue must not rewrite queued content.
	resp, err := client.PUT("/api/v1/templates/"+tmpl.ID, map[string]any{
		"subject": "Status: degraded",
		"body":    "Everything is on fire.",
	})
	require.NoError(t, err)
	_ = resp.Body.Close()

	waitForRecordState(t, client, record.ID, "SUCCESS")

	messages, err := mailpitAPI.WaitForRecipient(recipient, 1, 10*time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Status: all good", messages[0].Subject)
}

func TestDelivery_UnconfiguredChannelFailsPermanently(t *testing.T) {
	client := newTenantClient(t, newTenantID(), "user-1")

	record := createRecord(t, client, map[string]any{
		"channel":   "sms",
		"recipient": "+15550100",
		"body":      "your code is 424242",
	})

	final := waitForRecordState(t, client, record.ID, "FAILED")
	assert.Equal(t, "AUTH_ERROR", final.FailureReason)
	assert.Equal(t, 0, final.RetryCount, "configuration errors are not retried")
	assert.Nil(t, final.SentAt)
}

func TestDelivery_NetworkFailureExhaustsRetries(t *testing.T) {
	client := newTenantClient(t, newTenantID(), "admin-1")

	// Nothing listens on port 1, so every attempt fails at dial.
	createCredential(t, client, "email", map[string]string{
		"smtp_host":  "127.0.0.1",
		"smtp_port":  "1",
		"from_email": "noreply@dead.test",
	})

	record := createRecord(t, client, map[string]any{
		"channel":   "email",
		"recipient": uniqueRecipient(),
		"subject":   "doomed",
		"body":      "this will never arrive",
	})

	final := waitForRecordState(t, client, record.ID, "FAILED")
	assert.Equal(t, "NETWORK_ERROR", final.FailureReason)
	assert.Equal(t, final.MaxRetries, final.RetryCount, "retry budget is spent before giving up")
	assert.Nil(t, final.SentAt)
}

func TestDelivery_RetryingStateObservable(t *testing.T) {
	client := newTenantClient(t, newTenantID(), "admin-1")

	createCredential(t, client, "email", map[string]string{
		"smtp_host":  "127.0.0.1",
		"smtp_port":  "1",
		"from_email": "noreply@dead.test",
	})

	record := createRecord(t, client, map[string]any{
		"channel":   "email",
		"recipient": uniqueRecipient(),
		"subject":   "slow burn",
		"body":      "watching the state machine",
	})

	// The record passes through RETRYING before the budget runs out.
	intermediate := waitForRecordState(t, client, record.ID, "RETRYING", "FAILED")
	if intermediate.State == "RETRYING" {
		assert.Greater(t, intermediate.RetryCount, 0)
	}
	final := waitForRecordState(t, client, record.ID, "FAILED")
	assert.Equal(t, "NETWORK_ERROR", final.FailureReason)
}
