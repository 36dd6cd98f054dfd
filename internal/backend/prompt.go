package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kandev/nodeforge/internal/common/apperr"
	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/occlient"
	"github.com/kandev/nodeforge/internal/workflow/runner"
)

const defaultPromptTimeout = 10 * time.Minute

// PromptRequest is a single sendToWorker call.
type PromptRequest struct {
	Message     string
	Attachments []domain.Attachment
	TimeoutMs   int64
	JobID       string
	From        string
}

// PromptOutcome is the structured result of a sendToWorker call: a non-nil
// error means the call itself could not be attempted (e.g. bad worker
// state); Success=false with a populated Error means the worker was
// engaged but produced no usable response.
type PromptOutcome struct {
	Success  bool
	Response string
	Warning  string
	Error    string
}

// SendToWorker implements the shared prompt-delivery path for both backend
// variants: status gating, attachment normalization, structured message
// composition, a timeout-bound session.prompt call, and the ordered
// response-extraction fallback chain.
func (f *Factory) SendToWorker(ctx context.Context, instance *domain.WorkerInstance, req PromptRequest) (*PromptOutcome, error) {
	if instance.Status != domain.StatusReady {
		return nil, apperr.Conflict(fmt.Sprintf("worker %q is not ready (status=%s)", instance.ID, instance.Status))
	}

	instance.CurrentTask = truncate(req.Message, 140)
	if f.Pool != nil {
		f.Pool.UpdateStatus(instance.ID, domain.StatusBusy, "")
	}

	attachments, cleanup, err := f.normalizeAttachments(instance.ID, req.Attachments)
	if err != nil {
		return f.fail(instance, fmt.Sprintf("attachment normalization failed: %v", err)), nil
	}
	defer cleanup()

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultPromptTimeout
	}
	promptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := composeMessage(req, instance, attachments)
	result, err := f.Client.SessionPrompt(promptCtx, instance.SessionID, body, f.BaseDir)
	if err != nil {
		return f.fail(instance, fmt.Sprintf("session.prompt failed: %v", err)), nil
	}

	response, warning, err := f.extractResponse(promptCtx, result, instance, time.Now().Add(timeout))
	if err != nil {
		return f.fail(instance, fmt.Sprintf("no response text extracted: %v", err)), nil
	}

	instance.CurrentTask = ""
	instance.Warning = warning
	instance.LastActivity = time.Now()
	instance.LastResult = &domain.LastResult{At: time.Now(), JobID: req.JobID, Response: response}
	if f.Pool != nil {
		f.Pool.UpdateStatus(instance.ID, domain.StatusReady, "")
	}
	f.upsertRegistry(instance)

	return &PromptOutcome{Success: true, Response: response, Warning: warning}, nil
}

func (f *Factory) fail(instance *domain.WorkerInstance, message string) *PromptOutcome {
	instance.CurrentTask = ""
	instance.Warning = message
	if f.Pool != nil {
		f.Pool.UpdateStatus(instance.ID, domain.StatusReady, "")
	}
	f.publishError(instance.ID, message)
	return &PromptOutcome{Success: false, Error: message}
}

// AsWorkflowSendFunc adapts SendToWorker to the workflow runner's narrower
// SendFunc, which carries no attachments/jobId of its own.
func (f *Factory) AsWorkflowSendFunc() runner.SendFunc {
	return func(ctx context.Context, instance *domain.WorkerInstance, prompt string, timeout time.Duration) (string, string, error) {
		outcome, err := f.SendToWorker(ctx, instance, PromptRequest{
			Message:   prompt,
			TimeoutMs: timeout.Milliseconds(),
			From:      "workflow-runner",
		})
		if err != nil {
			return "", "", err
		}
		if !outcome.Success {
			return "", "", errors.New(outcome.Error)
		}
		return outcome.Response, outcome.Warning, nil
	}
}

// composeMessage wraps the raw message with the structured source markers
// downstream workers use to distinguish orchestrator-issued turns from
// direct user turns in their own transcript, followed by a reference to
// each attachment's materialized on-disk copy so the worker can read it by
// path rather than needing the original upload location.
func composeMessage(req PromptRequest, instance *domain.WorkerInstance, attachments []materializedAttachment) string {
	from := req.From
	if from == "" {
		from = "orchestrator"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<message-source from=%q jobId=%q>\n", from, req.JobID)
	if req.JobID != "" {
		fmt.Fprintf(&b, "<orchestrator-job id=%q>\n", req.JobID)
	} else {
		b.WriteString("<orchestrator-sync>\n")
	}
	b.WriteString(req.Message)
	for _, a := range attachments {
		fmt.Fprintf(&b, "\n<attachment path=%q>", a.path)
	}
	b.WriteString("\n</message-source>")
	return b.String()
}

// extractResponse implements the ordered fallback chain: direct parts,
// stream_chunk tool invocations (server backend only), a handful of
// message-by-id retries, then polling recent messages until deadline.
func (f *Factory) extractResponse(ctx context.Context, result *occlient.PromptResult, instance *domain.WorkerInstance, deadline time.Time) (string, string, error) {
	isServer := instance.Kind == domain.KindServer

	if text := extractText(result.Parts); text != "" {
		return text, "", nil
	}
	if isServer {
		if text := extractStreamChunks(result.Parts); text != "" {
			return text, "", nil
		}
	}

	for _, backoff := range []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 600 * time.Millisecond} {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(backoff):
		}

		msg, err := f.Client.SessionMessage(ctx, instance.SessionID, result.MessageID, f.BaseDir)
		if err != nil || msg == nil {
			continue
		}
		if text := extractText(msg.Parts); text != "" {
			return text, "", nil
		}
		if isServer {
			if text := extractStreamChunks(msg.Parts); text != "" {
				return text, "", nil
			}
		}
	}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		messages, err := f.Client.SessionMessages(ctx, instance.SessionID, f.BaseDir, 10)
		if err != nil {
			continue
		}
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role != "assistant" {
				continue
			}
			if text := extractText(messages[i].Parts); text != "" {
				return text, "recovered via message poll", nil
			}
			if isServer {
				if text := extractStreamChunks(messages[i].Parts); text != "" {
					return text, "recovered via message poll", nil
				}
			}
			break
		}
	}

	return "", "", fmt.Errorf("worker %q returned no extractable response text", instance.ID)
}

func extractText(parts []occlient.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == occlient.PartText || p.Type == occlient.PartReasoning {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func extractStreamChunks(parts []occlient.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type != occlient.PartToolCall || p.ToolName != bridgeStreamTool {
			continue
		}
		if args, ok := p.ToolArgs.(map[string]interface{}); ok {
			if text, ok := args["text"].(string); ok {
				b.WriteString(text)
			}
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
