// Package occlient defines the client interface to OCServer, the host
// LLM-serving process. OCServer is treated as an opaque RPC: this package
// only declares the operations the orchestrator depends on, grounded on
// the spec's §6.2 surface. Callers inject a concrete Client: HTTPClient
// (http_client.go, JSON over HTTP) in production, a fake in tests.
package occlient

import "context"

// Session is a conversation thread hosted by OCServer.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Directory string `json:"directory"`
}

// Message is one turn in a session's history.
type Message struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// PartType enumerates the message part kinds the orchestrator inspects
// when extracting response text.
type PartType string

const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
	PartToolCall  PartType = "tool_call"
)

// Part is one fragment of a Message.
type Part struct {
	Type     PartType    `json:"type"`
	Text     string      `json:"text,omitempty"`
	ToolName string      `json:"toolName,omitempty"`
	ToolArgs interface{} `json:"toolArgs,omitempty"`
}

// PromptResult is the synchronous result of session.prompt.
type PromptResult struct {
	MessageID string
	Parts     []Part
}

// ProviderSource classifies where a provider's credentials came from.
type ProviderSource string

const (
	SourceConfig ProviderSource = "config"
	SourceCustom ProviderSource = "custom"
	SourceEnv    ProviderSource = "env"
	SourceAPI    ProviderSource = "api"
)

// ModelCapabilities describes what a model can accept/do.
type ModelCapabilities struct {
	InputImage   bool `json:"inputImage"`
	Attachment   bool `json:"attachment"`
	ToolCall     bool `json:"toolCall"`
	Reasoning    bool `json:"reasoning"`
	ContextChars int  `json:"contextChars"`
}

// Model is one model entry under a provider.
type Model struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	CostPerToken float64           `json:"costPerToken"`
	Capabilities ModelCapabilities `json:"capabilities"`
}

// Provider is one OCServer-discovered model provider.
type Provider struct {
	ID     string         `json:"id"`
	Source ProviderSource `json:"source"`
	Key    string         `json:"key,omitempty"`
	Models []Model        `json:"models"`
}

// ConfigDefaults mirrors the subset of OCServer's config the resolver reads.
type ConfigDefaults struct {
	Model      string `json:"model"`
	SmallModel string `json:"small_model"`
	Defaults   struct {
		Opencode string `json:"opencode"`
	} `json:"defaults"`
}

// ProviderSnapshot is the point-in-time provider/config state the model
// resolver operates over.
type ProviderSnapshot struct {
	Providers []Provider
	Config    ConfigDefaults
}

// Client is the subset of OCServer's RPC surface the orchestrator consumes.
type Client interface {
	BaseURL() string

	SessionCreate(ctx context.Context, title, directory string) (*Session, error)
	SessionFork(ctx context.Context, parentID, directory string) (*Session, error)
	SessionList(ctx context.Context, directory string) ([]Session, error)
	SessionGet(ctx context.Context, id, directory string) (*Session, error)
	SessionMessages(ctx context.Context, id, directory string, limit int) ([]Message, error)
	SessionMessage(ctx context.Context, id, messageID, directory string) (*Message, error)
	SessionPrompt(ctx context.Context, id, body, directory string) (*PromptResult, error)
	SessionCommand(ctx context.Context, id, command string, args []string, directory string) error

	ToolIDs(ctx context.Context, directory string) ([]string, error)
	ConfigGet(ctx context.Context, directory string) (*ConfigDefaults, error)
	ConfigProviders(ctx context.Context, directory string) (*ProviderSnapshot, error)
	ConfigModel(ctx context.Context, directory, model string) (*Model, error)
}
