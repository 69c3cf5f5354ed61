// Package llm provides abstractions for LLM summarizer integration.
//
// Example usage:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//	    "os"
//
//	    "github.com/entrhq/recall/pkg/llm"
//	    "github.com/entrhq/recall/pkg/llm/openai"
//	)
//
//	func main() {
//	    // Create client
//	    client, err := openai.NewClient(
//	        os.Getenv("OPENAI_API_KEY"),
//	        openai.WithModel("gpt-4o-mini"),
//	    )
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    out, err := client.Complete(context.Background(), llm.Request{
//	        System:    "You summarize coding sessions.",
//	        User:      "Summarize: fixed the flaky cache test.",
//	        MaxTokens: 100,
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(out)
//	}
package llm

import "context"

// Request is a single completion request. The background pipeline only ever
// needs one blocking round trip: prompt in, text out.
type Request struct {
	// System is the system prompt, optional.
	System string

	// User is the user-turn content.
	User string

	// JSONMode asks the provider to constrain output to a single JSON
	// object. Providers that cannot honor it return prose; callers must
	// still parse defensively.
	JSONMode bool

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int
}

// ModelCloner is an optional interface that summarizers can implement to
// support lightweight per-call model overrides without constructing a full
// second client. The returned summarizer shares credentials and transport
// with the original but directs calls to the given model.
type ModelCloner interface {
	CloneWithModel(model string) Summarizer
}

// Summarizer defines the interface for LLM integrations.
//
// Summarizers handle API communication with LLM services and return plain
// text. This design keeps them focused on transport concerns without
// coupling them to the extraction pipeline.
//
// The processor layer is responsible for:
// - Building classification and extraction prompts
// - Parsing structured output and recovering from malformed JSON
// - Falling back to heuristics when the summarizer is unreachable
//
// This separation allows summarizers to be:
// - Reusable outside the pipeline (titles, session summaries, CLI tools)
// - Testable independently with stub implementations
// - Simpler to implement and maintain
type Summarizer interface {
	// Complete sends one request to the LLM and returns the full response
	// text. Implementations must honor the context deadline: a hung
	// provider stalls only the caller's phase, never the daemon.
	Complete(ctx context.Context, req Request) (string, error)

	// GetModel returns the model name being used.
	GetModel() string

	// GetBaseURL returns the base URL being used for API requests.
	GetBaseURL() string
}
