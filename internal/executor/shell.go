package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ShellExecutor runs a step's command through the shell and captures its
// output. User input from the approval gate is exposed to the command as the
// USER_INPUT environment variable.
type ShellExecutor struct {
	// Dir is the working directory for commands. Empty means the process
	// working directory.
	Dir string
}

func (e *ShellExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	command := req.Step.Command
	if command == "" {
		return nil, fmt.Errorf("shell executor: no command specified for step %q", req.Step.StepID)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.Dir
	if req.UserInput != "" {
		cmd.Env = append(cmd.Environ(), "USER_INPUT="+req.UserInput)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n--- stderr ---\n" + stderr.String()
	}

	if err != nil {
		return nil, fmt.Errorf("shell command %q failed: %w\noutput: %s", command, err, output)
	}

	return &Result{
		Output:   output,
		Duration: time.Since(start),
	}, nil
}
