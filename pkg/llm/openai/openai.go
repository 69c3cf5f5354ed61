// Package openai provides an OpenAI-compatible summarizer implementation.
//
// Example usage:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "os"
//
//	    "github.com/entrhq/recall/pkg/llm"
//	    "github.com/entrhq/recall/pkg/llm/openai"
//	)
//
//	func main() {
//	    client, err := openai.NewClient(
//	        os.Getenv("OPENAI_API_KEY"),
//	        openai.WithModel("gpt-4o-mini"),
//	    )
//	    if err != nil {
//	        panic(err)
//	    }
//
//	    out, err := client.Complete(context.Background(), llm.Request{
//	        User:     `Classify this work: edited store.go three times after a failing test.`,
//	        JSONMode: false,
//	    })
//	    if err != nil {
//	        panic(err)
//	    }
//	    fmt.Println(out)
//	}
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/entrhq/recall/pkg/llm"
	"github.com/openai/openai-go"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// defaultModel is used when no model is configured
	defaultModel = "gpt-4o-mini"
)

// Client implements the llm.Summarizer interface for OpenAI-compatible APIs.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithModel sets the model to use for completions.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using Azure OpenAI, local models, or other compatible services.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new OpenAI-compatible client with the given API key.
//
// If apiKey is empty, it will attempt to read from the OPENAI_API_KEY
// environment variable. If baseURL is not provided via WithBaseURL, it will
// check the OPENAI_BASE_URL environment variable.
//
// Example:
//
//	// Standard OpenAI
//	client, _ := openai.NewClient("sk-...", openai.WithModel("gpt-4o-mini"))
//
//	// Local OpenAI-compatible API
//	client, _ := openai.NewClient("local",
//	    openai.WithBaseURL("http://localhost:8080/v1"))
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	// Use environment variable if no API key provided
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	// Create client with defaults
	c := &Client{
		model:      defaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
	}

	// Apply options (may override baseURL via WithBaseURL)
	for _, opt := range opts {
		opt(c)
	}

	// If baseURL wasn't set by options, check environment variable
	if c.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			c.baseURL = envBaseURL
		}
	}

	return c, nil
}

// CloneWithModel returns a shallow copy of c configured to use the given
// model. The clone shares the same HTTP client, API key, and base URL as the
// original, making it very cheap to create. It implements llm.ModelCloner.
func (c *Client) CloneWithModel(model string) llm.Summarizer {
	clone := *c // shallow copy shares httpClient (connection pool), apiKey, baseURL
	clone.model = model
	return &clone
}

// Complete sends one request to the API and returns the response text.
//
// JSON mode maps to the response_format json_object contract; requests in
// JSON mode must mention JSON in the prompt per the API's rules, which the
// pipeline's templates do.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	messages := buildMessages(req)

	reqBody := map[string]interface{}{
		"model":    c.model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		reqBody["max_tokens"] = req.MaxTokens
	}
	if req.JSONMode {
		reqBody["response_format"] = map[string]string{"type": "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return "", fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, readErr)
		}
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("API response contained no choices")
	}

	return completion.Choices[0].Message.Content, nil
}

// GetModel returns the model name being used.
func (c *Client) GetModel() string {
	return c.model
}

// GetBaseURL returns the base URL being used.
func (c *Client) GetBaseURL() string {
	return c.baseURL
}

// GetAPIKey returns the API key being used.
func (c *Client) GetAPIKey() string {
	return c.apiKey
}

// buildMessages converts a Request to OpenAI's ChatCompletionMessageParamUnion format.
func buildMessages(req llm.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))
	return messages
}
