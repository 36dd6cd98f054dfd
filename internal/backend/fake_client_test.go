package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kandev/nodeforge/internal/occlient"
)

// fakeClient is an in-memory occlient.Client test double. Sessions and
// messages are tracked per session id so tests can script exactly what a
// prompt call returns.
type fakeClient struct {
	mu sync.Mutex

	baseURL string
	tools   []string
	config  *occlient.ConfigDefaults

	sessions map[string]*occlient.Session
	messages map[string][]occlient.Message

	promptResult *occlient.PromptResult
	promptErr    error
	promptCalls  int
	lastBody     string

	sessionMessageFunc func(sessionID, messageID string) (*occlient.Message, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		baseURL:  "http://127.0.0.1:0",
		tools:    []string{bridgeStreamTool},
		config:   &occlient.ConfigDefaults{Model: "anthropic/claude-sonnet"},
		sessions: map[string]*occlient.Session{},
		messages: map[string][]occlient.Message{},
	}
}

func (f *fakeClient) BaseURL() string { return f.baseURL }

func (f *fakeClient) SessionCreate(ctx context.Context, title, directory string) (*occlient.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &occlient.Session{ID: uuid.NewString(), Title: title, Directory: directory}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeClient) SessionFork(ctx context.Context, parentID, directory string) (*occlient.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[parentID]; !ok {
		return nil, fmt.Errorf("fork: unknown parent session %q", parentID)
	}
	s := &occlient.Session{ID: uuid.NewString(), Title: "forked", Directory: directory}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeClient) SessionList(ctx context.Context, directory string) ([]occlient.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []occlient.Session
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeClient) SessionGet(ctx context.Context, id, directory string) (*occlient.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}
	return s, nil
}

func (f *fakeClient) SessionMessages(ctx context.Context, id, directory string, limit int) ([]occlient.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[id]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeClient) SessionMessage(ctx context.Context, id, messageID, directory string) (*occlient.Message, error) {
	if f.sessionMessageFunc != nil {
		return f.sessionMessageFunc(id, messageID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages[id] {
		if m.ID == messageID {
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeClient) SessionPrompt(ctx context.Context, id, body, directory string) (*occlient.PromptResult, error) {
	f.mu.Lock()
	f.promptCalls++
	f.lastBody = body
	f.mu.Unlock()
	if f.promptErr != nil {
		return nil, f.promptErr
	}
	if f.promptResult != nil {
		return f.promptResult, nil
	}
	return &occlient.PromptResult{MessageID: uuid.NewString()}, nil
}

func (f *fakeClient) SessionCommand(ctx context.Context, id, command string, args []string, directory string) error {
	return nil
}

func (f *fakeClient) ToolIDs(ctx context.Context, directory string) ([]string, error) {
	return f.tools, nil
}

func (f *fakeClient) ConfigGet(ctx context.Context, directory string) (*occlient.ConfigDefaults, error) {
	return f.config, nil
}

func (f *fakeClient) ConfigProviders(ctx context.Context, directory string) (*occlient.ProviderSnapshot, error) {
	return &occlient.ProviderSnapshot{
		Providers: []occlient.Provider{
			{
				ID:     "anthropic",
				Source: occlient.SourceConfig,
				Models: []occlient.Model{
					{ID: "claude-sonnet", Name: "Claude Sonnet"},
				},
			},
		},
		Config: *f.config,
	}, nil
}

func (f *fakeClient) ConfigModel(ctx context.Context, directory, model string) (*occlient.Model, error) {
	return &occlient.Model{ID: model}, nil
}
