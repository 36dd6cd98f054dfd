package backend

import (
	"fmt"
	"strings"

	"github.com/kandev/nodeforge/internal/domain"
	"github.com/kandev/nodeforge/internal/model"
)

// bootstrapPrompt composes the no-reply identity prompt sent to a worker
// once its session exists, before it is marked ready. resolution is nil
// for agent/subagent workers, which inherit whatever model the host
// session is already configured with.
func bootstrapPrompt(profile *domain.WorkerProfile, resolution *model.Resolution) string {
	var b strings.Builder

	if profile.SystemPrompt != "" {
		b.WriteString(profile.SystemPrompt)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "You are worker %q (%s).\n", profile.ID, profile.Name)
	if profile.Purpose != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", profile.Purpose)
	}
	if resolution != nil {
		fmt.Fprintf(&b, "Resolved model: %s (%s).\n", resolution.ResolvedModel, resolution.Reason)
	}

	if profile.Kind == domain.KindServer {
		fmt.Fprintf(&b, "Stream intermediate progress using the %s tool as you work.\n", bridgeStreamTool)
	}
	b.WriteString("Always return your final answer as plain text, with no further questions.")

	return b.String()
}
