package sluice

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ProcHandler adapts an external command to a HandlerFunc. The task ID is
// appended to argv, the payload envelope is written to stdin, and stdout
// becomes the result bytes. Exit code 0 is success; any other exit is a
// handler failure, leaving the task pending for reclaim.
func ProcHandler(command string, args ...string) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) ([]byte, error) {
		argv := make([]string, 0, len(args)+1)
		argv = append(argv, args...)
		argv = append(argv, inv.Task.ID)

		cmd := exec.CommandContext(ctx, command, argv...)
		cmd.Stdin = bytes.NewReader(inv.Task.Data)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return nil, fmt.Errorf("proc %s: %w: %s", command, err, msg)
			}
			return nil, fmt.Errorf("proc %s: %w", command, err)
		}
		return stdout.Bytes(), nil
	}
}
