package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/modelminds/gradeboard/internal/errors"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role" binding:"required,oneof=system user assistant"`
	Content string `json:"content" binding:"required"`
}

// Client proxies conversations to an OpenAI-compatible chat completion
// endpoint. Treated as an opaque external service; failures surface as a
// visible chat error, never a crash.
type Client struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
}

// NewClient creates a chat client for the configured endpoint and model.
func NewClient(apiKey, model, url string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
		url:    url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the conversation and returns one assistant reply.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.7,
	})
	if err != nil {
		return "", apperrors.NewInternalError("encoding chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.NewInternalError("building chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewExternalAPIError("chat", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.NewExternalAPIError("chat", err)
	}

	var completion completionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", apperrors.NewExternalAPIError("chat", fmt.Errorf("decoding response: %w", err))
	}

	if completion.Error != nil {
		return "", apperrors.NewExternalAPIError("chat", fmt.Errorf("%s", completion.Error.Message))
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewExternalAPIError("chat", fmt.Errorf("status %d", resp.StatusCode))
	}
	if len(completion.Choices) == 0 {
		return "", apperrors.NewExternalAPIError("chat", fmt.Errorf("no choices in response"))
	}

	return completion.Choices[0].Message.Content, nil
}
