// Package vertex issues single text completions against Gemini models,
// either on Vertex AI (project, region and service-account credentials) or
// on the Gemini API with an API key.
package vertex

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"google.golang.org/genai"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Config holds the provider settings resolved from the deployment
// environment.
type Config struct {
	Project         string
	Location        string
	CredentialsFile string
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	// BaseURL overrides the service endpoint, e.g. for a private gateway.
	BaseURL string
}

// Validate reports missing settings before any client is created.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("vertex: model is required")
	}
	if c.APIKey != "" {
		return nil
	}
	if c.Project == "" {
		return fmt.Errorf("vertex: project is required when no API key is configured")
	}
	if c.Location == "" {
		return fmt.Errorf("vertex: location is required when no API key is configured")
	}
	return nil
}

// Client is safe for concurrent use and is meant to be created once per
// process.
type Client struct {
	client *genai.Client
	cfg    Config
}

// NewClient authenticates and builds the underlying genai client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cc := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	}
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	} else {
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{cloudPlatformScope},
			CredentialsFile: cfg.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("vertex: load credentials: %w", err)
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Credentials = creds
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("vertex: create client: %w", err)
	}
	return &Client{client: client, cfg: cfg}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete sends one system/user prompt pair and returns the completion
// text. There is no retry and no streaming.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	gc := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(c.cfg.Temperature),
	}
	if c.cfg.MaxOutputTokens > 0 {
		gc.MaxOutputTokens = c.cfg.MaxOutputTokens
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(userPrompt), gc)
	if err != nil {
		return "", fmt.Errorf("vertex: generate content with %s: %w", c.cfg.Model, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("vertex: empty completion from %s (%s)", c.cfg.Model, finishReason(resp))
	}
	return text, nil
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "prompt blocked: " + string(resp.PromptFeedback.BlockReason)
		}
		return "no candidates"
	}
	if r := resp.Candidates[0].FinishReason; r != "" {
		return "finish reason " + string(r)
	}
	return "no text"
}
