package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskListTasksMarkdown(t *testing.T) {
	c := newTestContext(t)
	registerAgentProfile(t, c, "test-agent")

	result, err := c.TaskStart(context.Background(), TaskStartInput{
		Kind:     KindWorker,
		WorkerID: "test-agent",
		Task:     "say hello",
	})
	require.NoError(t, err)
	_, err = c.TaskAwait(context.Background(), []string{result.TaskID}, 5000)
	require.NoError(t, err)

	out, err := c.TaskList(TaskListInput{View: ViewTasks, Format: FormatMarkdown})
	require.NoError(t, err)
	require.Contains(t, out, "## tasks")
	require.Contains(t, out, result.TaskID)
}

func TestTaskListTasksJSON(t *testing.T) {
	c := newTestContext(t)
	registerAgentProfile(t, c, "test-agent")

	result, err := c.TaskStart(context.Background(), TaskStartInput{
		Kind:     KindWorker,
		WorkerID: "test-agent",
		Task:     "say hello",
	})
	require.NoError(t, err)
	_, err = c.TaskAwait(context.Background(), []string{result.TaskID}, 5000)
	require.NoError(t, err)

	out, err := c.TaskList(TaskListInput{View: ViewTasks, Format: FormatJSON})
	require.NoError(t, err)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, result.TaskID, rows[0]["id"])
}

func TestTaskListProfilesView(t *testing.T) {
	c := newTestContext(t)

	out, err := c.TaskList(TaskListInput{View: ViewProfiles, Format: FormatMarkdown})
	require.NoError(t, err)
	require.Contains(t, out, "coder")
}

func TestTaskListStatusViewFallsBackToJSONBlock(t *testing.T) {
	c := newTestContext(t)

	out, err := c.TaskList(TaskListInput{View: ViewStatus, Format: FormatMarkdown})
	require.NoError(t, err)
	require.True(t, strings.Contains(out, "```json"))
	require.Contains(t, out, "\"workers\"")
}

func TestTaskListDefaultsToTasksView(t *testing.T) {
	c := newTestContext(t)

	out, err := c.TaskList(TaskListInput{})
	require.NoError(t, err)
	require.Contains(t, out, "## tasks")
}

func TestTaskListUnknownViewErrors(t *testing.T) {
	c := newTestContext(t)

	_, err := c.TaskList(TaskListInput{View: TaskListView("bogus")})
	require.Error(t, err)
}

func TestTaskListWorkflowsViewEmpty(t *testing.T) {
	c := newTestContext(t)

	out, err := c.TaskList(TaskListInput{View: ViewWorkflows, Format: FormatJSON})
	require.NoError(t, err)
	require.Equal(t, "[]", strings.TrimSpace(out))
}

func TestOrderedColumnsSortsAlphabetically(t *testing.T) {
	rows := []map[string]interface{}{
		{"zeta": 1, "alpha": 2},
		{"beta": 3},
	}
	columns := orderedColumns(rows)
	require.Equal(t, []string{"alpha", "beta", "zeta"}, columns)
}
