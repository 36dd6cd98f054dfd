package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kandev/nodeforge/internal/occlient"
)

// fakeClient is a minimal occlient.Client double: enough to drive the
// agent backend's session-create + bootstrap-prompt path end to end
// without a real ocserve process.
type fakeClient struct {
	sessions map[string]*occlient.Session

	promptResponse string
	promptErr      error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sessions:       map[string]*occlient.Session{},
		promptResponse: "done",
	}
}

func (f *fakeClient) BaseURL() string { return "http://127.0.0.1:0" }

func (f *fakeClient) SessionCreate(ctx context.Context, title, directory string) (*occlient.Session, error) {
	s := &occlient.Session{ID: uuid.NewString(), Title: title, Directory: directory}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeClient) SessionFork(ctx context.Context, parentID, directory string) (*occlient.Session, error) {
	s := &occlient.Session{ID: uuid.NewString(), Title: "fork of " + parentID, Directory: directory}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeClient) SessionList(ctx context.Context, directory string) ([]occlient.Session, error) {
	out := make([]occlient.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeClient) SessionGet(ctx context.Context, id, directory string) (*occlient.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}
	return s, nil
}

func (f *fakeClient) SessionMessages(ctx context.Context, id, directory string, limit int) ([]occlient.Message, error) {
	return nil, nil
}

func (f *fakeClient) SessionMessage(ctx context.Context, id, messageID, directory string) (*occlient.Message, error) {
	return nil, fmt.Errorf("no messages")
}

func (f *fakeClient) SessionPrompt(ctx context.Context, id, body, directory string) (*occlient.PromptResult, error) {
	if f.promptErr != nil {
		return nil, f.promptErr
	}
	return &occlient.PromptResult{
		MessageID: uuid.NewString(),
		Parts:     []occlient.Part{{Type: occlient.PartText, Text: f.promptResponse}},
	}, nil
}

func (f *fakeClient) SessionCommand(ctx context.Context, id, command string, args []string, directory string) error {
	return nil
}

func (f *fakeClient) ToolIDs(ctx context.Context, directory string) ([]string, error) {
	return nil, nil
}

func (f *fakeClient) ConfigGet(ctx context.Context, directory string) (*occlient.ConfigDefaults, error) {
	return &occlient.ConfigDefaults{}, nil
}

func (f *fakeClient) ConfigProviders(ctx context.Context, directory string) (*occlient.ProviderSnapshot, error) {
	return &occlient.ProviderSnapshot{}, nil
}

func (f *fakeClient) ConfigModel(ctx context.Context, directory, model string) (*occlient.Model, error) {
	return nil, fmt.Errorf("not found")
}
