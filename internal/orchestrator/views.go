package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kandev/nodeforge/internal/common/apperr"
	"github.com/kandev/nodeforge/internal/jobs"
)

// TaskListView selects what task_list renders.
type TaskListView string

const (
	ViewTasks     TaskListView = "tasks"
	ViewWorkers   TaskListView = "workers"
	ViewProfiles  TaskListView = "profiles"
	ViewModels    TaskListView = "models"
	ViewWorkflows TaskListView = "workflows"
	ViewStatus    TaskListView = "status"
	ViewOutput    TaskListView = "output"
)

// TaskListFormat selects the rendering of task_list's result.
type TaskListFormat string

const (
	FormatMarkdown TaskListFormat = "markdown"
	FormatJSON     TaskListFormat = "json"
)

// TaskListInput is the task_list request body.
type TaskListInput struct {
	View     TaskListView
	Format   TaskListFormat
	WorkerID string
	Limit    int
}

// TaskList renders the requested view as markdown or JSON.
func (c *Context) TaskList(input TaskListInput) (string, error) {
	view := input.View
	if view == "" {
		view = ViewTasks
	}
	format := input.Format
	if format == "" {
		format = FormatMarkdown
	}

	data, err := c.collectView(view, input)
	if err != nil {
		return "", err
	}

	if format == FormatJSON {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", apperr.Internal("marshal task_list result", err)
		}
		return string(out), nil
	}
	return renderMarkdown(view, data), nil
}

func (c *Context) collectView(view TaskListView, input TaskListInput) (interface{}, error) {
	switch view {
	case ViewTasks:
		return c.Jobs.List(jobs.ListOptions{WorkerID: input.WorkerID, Limit: input.Limit}), nil
	case ViewWorkers:
		return c.Pool.List(), nil
	case ViewProfiles:
		return c.Profiles.List(), nil
	case ViewModels:
		profiles := c.Profiles.List()
		models := make([]map[string]string, 0, len(profiles))
		for _, p := range profiles {
			models = append(models, map[string]string{"profileId": p.ID, "model": p.Model})
		}
		return models, nil
	case ViewWorkflows:
		return c.Workflows.List(), nil
	case ViewStatus:
		return c.statusSummary(), nil
	case ViewOutput:
		return c.outputSnapshot(input.WorkerID), nil
	default:
		return nil, apperr.BadRequest(fmt.Sprintf("unknown task_list view %q", view))
	}
}

type statusCounts struct {
	Workers   int            `json:"workers"`
	ByStatus  map[string]int `json:"byStatus"`
	Jobs      int            `json:"jobs"`
	Workflows int            `json:"workflows"`
}

func (c *Context) statusSummary() statusCounts {
	workers := c.Pool.List()
	byStatus := make(map[string]int)
	for _, w := range workers {
		byStatus[string(w.Status)]++
	}
	return statusCounts{
		Workers:   len(workers),
		ByStatus:  byStatus,
		Jobs:      len(c.Jobs.List(jobs.ListOptions{})),
		Workflows: len(c.Workflows.List()),
	}
}

type workerOutput struct {
	WorkerID    string `json:"workerId"`
	CurrentTask string `json:"currentTask,omitempty"`
	Response    string `json:"response,omitempty"`
}

func (c *Context) outputSnapshot(workerID string) []workerOutput {
	workers := c.Pool.List()
	out := make([]workerOutput, 0, len(workers))
	for _, w := range workers {
		if workerID != "" && w.ID != workerID {
			continue
		}
		entry := workerOutput{WorkerID: w.ID, CurrentTask: w.CurrentTask}
		if w.LastResult != nil {
			entry.Response = w.LastResult.Response
		}
		out = append(out, entry)
	}
	return out
}

func renderMarkdown(view TaskListView, data interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", view)

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return b.String()
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(encoded, &rows); err != nil {
		// Not a list (e.g. the status view's single object); render as a
		// fenced code block instead of a table.
		fmt.Fprintf(&b, "```json\n%s\n```\n", string(encoded))
		return b.String()
	}

	if len(rows) == 0 {
		b.WriteString("_none_\n")
		return b.String()
	}

	columns := orderedColumns(rows)
	fmt.Fprintf(&b, "| %s |\n", strings.Join(columns, " | "))
	fmt.Fprintf(&b, "|%s|\n", strings.Repeat("---|", len(columns)))
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = fmt.Sprintf("%v", row[col])
		}
		fmt.Fprintf(&b, "| %s |\n", strings.Join(cells, " | "))
	}
	return b.String()
}

// orderedColumns collects the union of keys across rows, sorted, so every
// row in the table lines up under the same headers and repeated calls
// produce a stable column order.
func orderedColumns(rows []map[string]interface{}) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, row := range rows {
		for key := range row {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}
	sort.Strings(columns)
	return columns
}
