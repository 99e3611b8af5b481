package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gitpress/gitpress/internal/domain"
)

// Validation status values derived from a command's exit code. The mapping
// is a compatibility contract: 0 is success, 1 is error, anything else is a
// warning.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusWarning = "warning"
)

// Runner executes build and validate commands inside a site's working tree.
type Runner struct {
	logger *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run spawns the command string as a child process rooted at dir, captures
// stdout and stderr separately, and reports exit code and elapsed time. The
// timeout forcibly terminates the process. An error is returned only when
// the command never ran (bad parse, spawn failure); a non-zero exit is a
// normal result with Success=false.
func (r *Runner) Run(ctx context.Context, command, dir string, timeout time.Duration) (domain.CommandResult, error) {
	args, err := ParseCommand(command)
	if err != nil {
		return domain.CommandResult{}, err
	}
	if len(args) == 0 {
		return domain.CommandResult{}, errors.New("empty command")
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := domain.CommandResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: elapsed.Milliseconds(),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			result.ExitCode = -1
			result.Stderr = appendLine(result.Stderr, fmt.Sprintf("command timed out after %s", timeout))
		default:
			return result, fmt.Errorf("run command %q: %w", args[0], runErr)
		}
	}
	result.Success = result.ExitCode == 0

	r.logger.Debug("command finished", "command", args[0], "dir", dir,
		"exit_code", result.ExitCode, "duration_ms", result.DurationMS)
	return result, nil
}

// Classify maps an exit code to a validation status.
func Classify(exitCode int) string {
	switch exitCode {
	case 0:
		return StatusSuccess
	case 1:
		return StatusError
	default:
		return StatusWarning
	}
}

func appendLine(text, line string) string {
	if text == "" {
		return line
	}
	if strings.HasSuffix(text, "\n") {
		return text + line
	}
	return text + "\n" + line
}

// ParseCommand splits a command string into an argument vector, honoring
// single and double quotes and backslash escapes. Commands are never handed
// to a shell.
func ParseCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, nil
	}
	var (
		tokens   []string
		current  strings.Builder
		inSingle bool
		inDouble bool
		escape   bool
	)

	for _, r := range command {
		switch {
		case escape:
			current.WriteRune(r)
			escape = false
		case r == '\\':
			escape = true
		case r == '\'':
			if !inDouble {
				inSingle = !inSingle
				continue
			}
			current.WriteRune(r)
		case r == '"':
			if !inSingle {
				inDouble = !inDouble
				continue
			}
			current.WriteRune(r)
		case (r == ' ' || r == '\t' || r == '\n' || r == '\r') && !inSingle && !inDouble:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if escape || inSingle || inDouble {
		return nil, fmt.Errorf("unterminated quoted string in command: %s", command)
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens, nil
}
