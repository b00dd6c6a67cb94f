package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

func TestShellExecutorCapturesOutput(t *testing.T) {
	e := &ShellExecutor{}
	res, err := e.Execute(context.Background(), &Request{
		WorkflowID: "w1",
		Step:       models.Step{StepID: "echo", Command: "echo hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Output)
}

func TestShellExecutorExposesUserInput(t *testing.T) {
	e := &ShellExecutor{}
	res, err := e.Execute(context.Background(), &Request{
		Step:      models.Step{StepID: "env", Command: `printf '%s' "$USER_INPUT"`},
		UserInput: "proceed carefully",
	})
	require.NoError(t, err)
	assert.Equal(t, "proceed carefully", res.Output)
}

func TestShellExecutorFailure(t *testing.T) {
	e := &ShellExecutor{}
	_, err := e.Execute(context.Background(), &Request{
		Step: models.Step{StepID: "bad", Command: "exit 3"},
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed"))
}

func TestShellExecutorRejectsEmptyCommand(t *testing.T) {
	e := &ShellExecutor{}
	_, err := e.Execute(context.Background(), &Request{Step: models.Step{StepID: "none"}})
	require.Error(t, err)
}
