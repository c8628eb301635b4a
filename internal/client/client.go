package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sprache-backend/internal/models"
)

const quotaExceededCode = "QUOTA_EXCEEDED"

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s (%s)", e.Status, e.Code, e.Message, e.Detail)
	}
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// QuotaExceeded reports whether the server rejected the call because an
// oracle ran out of quota. Speech failures carry no code.
func (e *APIError) QuotaExceeded() bool {
	if e.Status != http.StatusTooManyRequests {
		return false
	}
	return e.Code == quotaExceededCode || e.Code == ""
}

// Client talks to the chat API under baseURL (e.g. http://localhost:8080).
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) Send(ctx context.Context, prompt string, conversationID *int64) (*models.ChatResponse, error) {
	var resp models.ChatResponse
	req := models.ChatRequest{Prompt: prompt, ConversationID: conversationID}
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) List(ctx context.Context) ([]*models.Conversation, error) {
	var resp struct {
		Conversations []*models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/chat", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) Get(ctx context.Context, id int64) (*models.Conversation, error) {
	var resp struct {
		Conversation *models.Conversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/chat/"+strconv.FormatInt(id, 10), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversation, nil
}

func (c *Client) Rename(ctx context.Context, id int64, title string) (*models.Conversation, error) {
	var resp struct {
		Conversation *models.Conversation `json:"conversation"`
	}
	req := models.RenameRequest{ConversationID: &id, Title: title}
	if err := c.do(ctx, http.MethodPatch, "/api/v1/chat", req, &resp); err != nil {
		return nil, err
	}
	return resp.Conversation, nil
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	q := url.Values{"conversationId": {strconv.FormatInt(id, 10)}}
	return c.do(ctx, http.MethodDelete, "/api/v1/chat?"+q.Encode(), nil, nil)
}

func (c *Client) History(ctx context.Context, id int64) ([]*models.HistoryEntry, error) {
	var resp struct {
		Messages []*models.HistoryEntry `json:"messages"`
	}
	q := url.Values{"id": {strconv.FormatInt(id, 10)}}
	if err := c.do(ctx, http.MethodGet, "/api/v1/chat/history?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Speak returns mp3 audio for prompt.
func (c *Client) Speak(ctx context.Context, prompt string) ([]byte, error) {
	res, err := c.send(ctx, http.MethodPost, "/api/v1/speech", models.SpeechRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return io.ReadAll(res.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	res, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if out == nil {
		io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// send performs the request and turns non-2xx responses into *APIError.
func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}
	defer res.Body.Close()
	return nil, decodeError(res)
}

func decodeError(res *http.Response) error {
	apiErr := &APIError{Status: res.StatusCode}

	// Error bodies are either {"error": {...}} or, from the speech
	// endpoint, {"message": "..."}.
	var body struct {
		Error   *models.APIError `json:"error"`
		Message string           `json:"message"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		apiErr.Message = http.StatusText(res.StatusCode)
		return apiErr
	}
	if body.Error != nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.Detail = body.Error.Detail
		return apiErr
	}
	apiErr.Message = body.Message
	return apiErr
}
