// Package backend is the REST client for the remote parenting-app backend.
// The backend owns persistence, auth and moderation; this package only maps
// its messaging contract onto Go calls.
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
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/limeechian/parenting-app-sub004/internal/models"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}

// Client talks to the backend's messaging REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a backend client. token is the session bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StreamURL returns the websocket URL of the push stream.
func (c *Client) StreamURL() string {
	u := c.baseURL + "/stream"
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u
}

// AuthHeader returns the headers the stream dial must carry.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// FetchConversations returns the user's conversations, most recent first.
func (c *Client) FetchConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &convs); err != nil {
		return nil, errors.Wrap(err, "fetch conversations")
	}
	return convs, nil
}

// FetchMessages returns one page of messages, oldest first within the page.
// Page 1 is the most recent window. The backend marks the returned messages
// as read for the calling user as a side effect.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error) {
	path := fmt.Sprintf("/conversations/%s/messages?page=%d&page_size=%d",
		url.PathEscape(conversationID), page, pageSize)
	var msgs []models.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, errors.Wrapf(err, "fetch messages for %s", conversationID)
	}
	return msgs, nil
}

// SendMessage sends a message and returns the server-confirmed copy.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, attachmentIDs []string) (*models.Message, error) {
	body := map[string]interface{}{"content": content}
	if len(attachmentIDs) > 0 {
		body["attachment_ids"] = attachmentIDs
	}
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return nil, errors.Wrapf(err, "send message to %s", conversationID)
	}
	return &msg, nil
}

// CreateConversation opens (or returns the existing) conversation with the
// given user.
func (c *Client) CreateConversation(ctx context.Context, otherUserID string) (*models.Conversation, error) {
	body := map[string]string{"user_id": otherUserID}
	var conv models.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", body, &conv); err != nil {
		return nil, errors.Wrapf(err, "create conversation with %s", otherUserID)
	}
	return &conv, nil
}

// MarkConversationRead acknowledges all messages in the conversation.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/conversations/%s/read", url.PathEscape(conversationID))
	return errors.Wrapf(c.do(ctx, http.MethodPost, path, nil, nil),
		"mark conversation %s read", conversationID)
}

// DeleteConversation removes the conversation for the calling user.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID)
	return errors.Wrapf(c.do(ctx, http.MethodDelete, path, nil, nil),
		"delete conversation %s", conversationID)
}

// DeleteMessage soft-deletes a message for the calling user only.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	path := "/messages/" + url.PathEscape(messageID)
	return errors.Wrapf(c.do(ctx, http.MethodDelete, path, nil, nil),
		"delete message %s", messageID)
}

// AddReaction adds a reaction to a message. Adding an existing reaction type
// is idempotent on the backend.
func (c *Client) AddReaction(ctx context.Context, messageID, reactionType string) error {
	path := fmt.Sprintf("/messages/%s/reactions", url.PathEscape(messageID))
	body := map[string]string{"type": reactionType}
	return errors.Wrapf(c.do(ctx, http.MethodPost, path, body, nil),
		"add reaction to %s", messageID)
}

// RemoveReaction removes the calling user's reaction of the given type.
func (c *Client) RemoveReaction(ctx context.Context, messageID, reactionType string) error {
	path := fmt.Sprintf("/messages/%s/reactions/%s",
		url.PathEscape(messageID), url.PathEscape(reactionType))
	return errors.Wrapf(c.do(ctx, http.MethodDelete, path, nil, nil),
		"remove reaction from %s", messageID)
}

// UploadAttachment uploads a file for a message and returns its metadata.
func (c *Client) UploadAttachment(ctx context.Context, messageID, fileName string, r io.Reader) (*models.Attachment, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, errors.Wrap(err, "build multipart body")
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, errors.Wrap(err, "copy attachment data")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "finish multipart body")
	}

	path := fmt.Sprintf("/messages/%s/attachments", url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	var att models.Attachment
	if err := c.send(req, &att); err != nil {
		return nil, errors.Wrapf(err, "upload attachment to %s", messageID)
	}
	return &att, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Cap the body so a misbehaving backend can't blow up the error.
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
