// Package inference turns chart text into structured facts by asking an
// OpenAI-compatible chat model and cleaning up what it answers.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
)

var (
	ErrNotConfigured = errors.New("language model not configured")
	ErrEmptyAnswer   = errors.New("no response from language model")
)

// Inferer answers instructions about a document.
type Inferer interface {
	Infer(ctx context.Context, document, instructions string) (string, error)
}

// Client calls a chat-completions endpoint.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	modelName  string
}

func NewClient(httpClient *http.Client, apiKey, baseURL, modelName string) *Client {
	return &Client{
		httpClient: httpClient,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		modelName:  modelName,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Infer sends instructions as the system message and the document as the
// user message, at temperature zero.
func (c *Client) Infer(ctx context.Context, document, instructions string) (string, error) {
	if c.baseURL == "" || c.modelName == "" {
		return "", ErrNotConfigured
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.modelName,
		Messages: []chatMessage{
			{Role: "system", Content: instructions},
			{Role: "user", Content: document},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		logger.Log.WithField("status", resp.StatusCode).Warn("chat completion rejected")
		return "", fmt.Errorf("chat completion returned %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", ErrEmptyAnswer
	}
	return result.Choices[0].Message.Content, nil
}
