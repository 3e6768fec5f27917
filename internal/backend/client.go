package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the helpdesk REST API. It carries the configured bearer
// token on every request; acquiring the token is outside this core.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a backend client for the given base URL and token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// RealtimeURL returns the websocket endpoint for a chat's live channel.
func (c *Client) RealtimeURL(chatID string) string {
	u := c.baseURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/chats/" + url.PathEscape(chatID) + "/stream?token=" + url.QueryEscape(c.token)
}

// FetchSince returns the chat's messages after the given sequence. Used for
// fallback polling and for resync after a reconnect.
func (c *Client) FetchSince(ctx context.Context, chatID string, since int64) ([]Message, error) {
	path := "/chats/" + url.PathEscape(chatID) + "/messages?since=" + strconv.FormatInt(since, 10)
	var msgs []Message
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return msgs, nil
}

// SendMessage posts a composed message. The temp id in req lets the server
// deduplicate retries.
func (c *Client) SendMessage(ctx context.Context, chatID string, req SendRequest) (*SendResponse, error) {
	path := "/chats/" + url.PathEscape(chatID) + "/messages"
	var resp SendResponse
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &resp, nil
}

// MarkRead acknowledges everything up to lastMessageID as read.
func (c *Client) MarkRead(ctx context.Context, chatID, lastMessageID string) error {
	path := "/chats/" + url.PathEscape(chatID) + "/read"
	body := map[string]string{"lastMessageId": lastMessageID}
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// UploadAttachment streams a file to the attachment endpoint and returns its
// stable reference.
func (c *Client) UploadAttachment(ctx context.Context, name, mimeType string, r io.Reader) (*UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copy file: %w", err)
	}
	if err := mw.WriteField("mimeType", mimeType); err != nil {
		return nil, fmt.Errorf("write mime field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/attachments", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload attachment: HTTP %d", resp.StatusCode)
	}
	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
