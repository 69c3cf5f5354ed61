package config

import (
	"fmt"
	"os"

	"github.com/entrhq/recall/pkg/llm/openai"
)

// BuildSummarizer creates an LLM client based on configuration precedence:
// CLI flags > Environment variables > Config file > Defaults
func BuildSummarizer(cliModel, cliBaseURL, cliAPIKey, defaultModel string) (*openai.Client, error) {
	// Start with CLI values (empty strings if not provided)
	finalModel := cliModel
	finalBaseURL := cliBaseURL
	finalAPIKey := cliAPIKey

	// Fall back to environment variables if CLI values are empty
	if finalAPIKey == "" {
		finalAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if finalBaseURL == "" {
		finalBaseURL = os.Getenv("OPENAI_BASE_URL")
	}

	// Get config file settings
	llmConfigFromFile := GetLLM()

	// Fall back to config file if still empty
	if llmConfigFromFile != nil {
		// Model: Use config file only if CLI didn't set a non-default value
		if cliModel == "" || cliModel == defaultModel {
			if configFileModel := llmConfigFromFile.GetModel(); configFileModel != "" {
				finalModel = configFileModel
			}
		}
		// BaseURL: Use config file if still empty after env check
		if finalBaseURL == "" {
			if configFileBaseURL := llmConfigFromFile.GetBaseURL(); configFileBaseURL != "" {
				finalBaseURL = configFileBaseURL
			}
		}
		// APIKey: Use config file if still empty after env check
		if finalAPIKey == "" {
			if configFileAPIKey := llmConfigFromFile.GetAPIKey(); configFileAPIKey != "" {
				finalAPIKey = configFileAPIKey
			}
		}
	}

	// Use default model if still not set
	if finalModel == "" {
		finalModel = defaultModel
	}

	// Validate that API key was resolved
	if finalAPIKey == "" {
		return nil, fmt.Errorf("API key is required. Set OPENAI_API_KEY environment variable, use --api-key flag, or configure in ~/.recall/config.json")
	}

	// Create the client with the final, resolved configuration
	clientOpts := []openai.ClientOption{
		openai.WithModel(finalModel),
	}
	if finalBaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(finalBaseURL))
	}

	client, err := openai.NewClient(finalAPIKey, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	return client, nil
}
