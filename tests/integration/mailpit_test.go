//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// MailpitClient drives the Mailpit REST API to inspect mail the SMTP
// sender delivered. Tests address each message to a unique recipient, so
// the shared container needs no cleanup between tests.
type MailpitClient struct {
	baseURL string
	client  *http.Client
}

// NewMailpitClient creates a client for a Mailpit API endpoint.
func NewMailpitClient(host string, port int) *MailpitClient {
	return &MailpitClient{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// MailpitAddress is one address in a message envelope.
type MailpitAddress struct {
	Name    string `json:"Name"`
	Address string `json:"Address"`
}

// MailpitMessage is a message summary as returned by list and search.
type MailpitMessage struct {
	ID      string           `json:"ID"`
	From    MailpitAddress   `json:"From"`
	To      []MailpitAddress `json:"To"`
	Subject string           `json:"Subject"`
	Snippet string           `json:"Snippet"`
}

// MailpitMessageDetail is a full message with decoded bodies.
type MailpitMessageDetail struct {
	ID      string           `json:"ID"`
	From    MailpitAddress   `json:"From"`
	To      []MailpitAddress `json:"To"`
	Subject string           `json:"Subject"`
	Text    string           `json:"Text"`
	HTML    string           `json:"HTML"`
}

// SearchByRecipient returns messages addressed to the given address.
func (c *MailpitClient) SearchByRecipient(recipient string) ([]MailpitMessage, error) {
	query := url.QueryEscape(`to:"` + recipient + `"`)

	resp, err := c.client.Get(c.baseURL + "/api/v1/search?query=" + query)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search messages: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		Messages []MailpitMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return result.Messages, nil
}

// GetMessageByID fetches one message including its text and HTML bodies.
func (c *MailpitClient) GetMessageByID(id string) (*MailpitMessageDetail, error) {
	resp, err := c.client.Get(c.baseURL + "/api/v1/message/" + id)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get message %s: unexpected status %d", id, resp.StatusCode)
	}

	var detail MailpitMessageDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("decode message response: %w", err)
	}
	return &detail, nil
}

// WaitForRecipient polls until at least count messages exist for the
// recipient and returns them.
func (c *MailpitClient) WaitForRecipient(recipient string, count int, timeout time.Duration) ([]MailpitMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		messages, err := c.SearchByRecipient(recipient)
		if err != nil {
			return nil, err
		}
		if len(messages) >= count {
			return messages, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for %d message(s) to %s, have %d", count, recipient, len(messages))
		}
		time.Sleep(100 * time.Millisecond)
	}
}
