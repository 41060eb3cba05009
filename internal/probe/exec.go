package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Runner executes an opaque shell command string and returns its stdout.
// Recovery actions and notification commands run through this.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// ShellRunner runs commands through the platform shell: /bin/sh -c on
// Unix-likes, cmd /C on Windows.
type ShellRunner struct{}

func (ShellRunner) Run(ctx context.Context, command string) (string, error) {
	name, flag := shell()
	cmd := exec.CommandContext(ctx, name, flag, command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("command failed: %s", msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func shell() (string, string) {
	if runtime.GOOS == "windows" {
		return "cmd", "/C"
	}
	return "/bin/sh", "-c"
}

// Interfaces returns a human-readable listing of the host's network
// interfaces for diagnostics output.
func Interfaces(ctx context.Context, runner Runner) (string, error) {
	var commands []string
	switch runtime.GOOS {
	case "windows":
		commands = []string{"ipconfig /all"}
	case "darwin":
		commands = []string{"ifconfig"}
	default:
		commands = []string{"ip -brief addr", "ifconfig"}
	}

	var lastErr error
	for _, command := range commands {
		out, err := runner.Run(ctx, command)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("list network interfaces: %w", lastErr)
}
