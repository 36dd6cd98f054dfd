package occlient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/common/logger"
)

// HTTPClient is the production occlient.Client backed by OCServer's JSON
// HTTP API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewHTTPClient returns a Client bound to an OCServer instance listening
// at host:port.
func NewHTTPClient(host string, port int, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: log.WithFields(zap.String("component", "occlient")),
	}
}

func (c *HTTPClient) BaseURL() string { return c.baseURL }

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var bodyReader *bytes.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("oc request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("oc request %s %s failed with status %d", method, path, resp.StatusCode)
	}

	if respBody == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

func (c *HTTPClient) SessionCreate(ctx context.Context, title, directory string) (*Session, error) {
	var s Session
	err := c.doJSON(ctx, http.MethodPost, "/session/create", map[string]string{
		"title": title, "directory": directory,
	}, &s)
	return &s, err
}

func (c *HTTPClient) SessionFork(ctx context.Context, parentID, directory string) (*Session, error) {
	var s Session
	err := c.doJSON(ctx, http.MethodPost, "/session/fork", map[string]string{
		"parentId": parentID, "directory": directory,
	}, &s)
	return &s, err
}

func (c *HTTPClient) SessionList(ctx context.Context, directory string) ([]Session, error) {
	var sessions []Session
	path := "/session/list?directory=" + directory
	err := c.doJSON(ctx, http.MethodGet, path, nil, &sessions)
	return sessions, err
}

func (c *HTTPClient) SessionGet(ctx context.Context, id, directory string) (*Session, error) {
	var s Session
	path := "/session/" + id + "?directory=" + directory
	err := c.doJSON(ctx, http.MethodGet, path, nil, &s)
	return &s, err
}

func (c *HTTPClient) SessionMessages(ctx context.Context, id, directory string, limit int) ([]Message, error) {
	var msgs []Message
	path := "/session/" + id + "/messages?directory=" + directory + "&limit=" + strconv.Itoa(limit)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &msgs)
	return msgs, err
}

func (c *HTTPClient) SessionMessage(ctx context.Context, id, messageID, directory string) (*Message, error) {
	var m Message
	path := "/session/" + id + "/message/" + messageID + "?directory=" + directory
	err := c.doJSON(ctx, http.MethodGet, path, nil, &m)
	return &m, err
}

func (c *HTTPClient) SessionPrompt(ctx context.Context, id, body, directory string) (*PromptResult, error) {
	var result PromptResult
	err := c.doJSON(ctx, http.MethodPost, "/session/"+id+"/prompt", map[string]string{
		"body": body, "directory": directory,
	}, &result)
	return &result, err
}

func (c *HTTPClient) SessionCommand(ctx context.Context, id, command string, args []string, directory string) error {
	return c.doJSON(ctx, http.MethodPost, "/session/"+id+"/command", map[string]interface{}{
		"command": command, "arguments": args, "directory": directory,
	}, nil)
}

func (c *HTTPClient) ToolIDs(ctx context.Context, directory string) ([]string, error) {
	var ids []string
	err := c.doJSON(ctx, http.MethodGet, "/tool/ids?directory="+directory, nil, &ids)
	return ids, err
}

func (c *HTTPClient) ConfigGet(ctx context.Context, directory string) (*ConfigDefaults, error) {
	var cfg ConfigDefaults
	err := c.doJSON(ctx, http.MethodGet, "/config?directory="+directory, nil, &cfg)
	return &cfg, err
}

func (c *HTTPClient) ConfigProviders(ctx context.Context, directory string) (*ProviderSnapshot, error) {
	var snapshot ProviderSnapshot
	err := c.doJSON(ctx, http.MethodGet, "/config/providers?directory="+directory, nil, &snapshot)
	return &snapshot, err
}

func (c *HTTPClient) ConfigModel(ctx context.Context, directory, model string) (*Model, error) {
	var m Model
	err := c.doJSON(ctx, http.MethodGet, "/config/model?directory="+directory+"&model="+model, nil, &m)
	return &m, err
}
