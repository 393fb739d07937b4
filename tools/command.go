package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultMaxOutputBytes = 64 * 1024

// RunCommandTool runs shell commands in a detached sh. It remembers the
// directory the last command ended in so that a later call, and the caller's
// follow-cwd logic, can pick it up.
type RunCommandTool struct {
	allowedCommands []string
	maxOutput       int64
	logger          *zap.Logger

	mu       sync.Mutex
	startDir string
	workDir  string
}

func NewRunCommandTool(allowed []string, maxOutput int64, workDir string, logger *zap.Logger) *RunCommandTool {
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunCommandTool{
		allowedCommands: allowed,
		maxOutput:       maxOutput,
		logger:          logger,
		startDir:        workDir,
		workDir:         workDir,
	}
}

func (t *RunCommandTool) Name() string { return "run_cmd" }
func (t *RunCommandTool) Description() string {
	desc := "Runs a command with sh -c in a separate process and returns its combined stdout and stderr. " +
		"There is no terminal and no stdin. The working directory carries over between calls. " +
		"It does not change the user's shell; use ADD directives for that."
	if len(t.allowedCommands) == 0 {
		return desc
	}

	allowedList := "\nAllowed command patterns:\n"
	for _, cmd := range t.allowedCommands {
		allowedList += fmt.Sprintf("- %s\n", cmd)
	}
	return desc + allowedList
}

func (t *RunCommandTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"cmd": map[string]any{"type": "string", "description": "Shell command line to run."},
		},
		"required": []string{"cmd"},
	}
}

// WorkDir is the directory the next command will start in.
func (t *RunCommandTool) WorkDir() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workDir
}

// Moved reports whether commands have left the directory the tool started in.
func (t *RunCommandTool) Moved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workDir != t.startDir
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, ok := stringArg(args, "cmd", "command")
	if !ok || strings.TrimSpace(command) == "" {
		return "", newError(KindInvalidArguments, "missing or invalid 'cmd' argument")
	}

	if !isCommandAllowed(command, t.allowedCommands, t.logger) {
		return "", newError(KindPolicyDenied, "command '%s' is not in the list of allowed commands", command)
	}

	// The final directory is reported on fd 3. A regular file is used rather
	// than a pipe so that background children holding the descriptor cannot
	// block us.
	cwdFile, err := os.CreateTemp("", "atshell-cwd-*")
	if err != nil {
		return "", newError(KindIOFailure, "could not prepare command: %v", err)
	}
	defer os.Remove(cwdFile.Name())
	defer cwdFile.Close()

	script := command + "\n__atshell_rc=$?\npwd >&3 2>/dev/null\nexit $__atshell_rc\n"
	cmd := exec.Command("sh", "-c", script)
	cmd.Dir = t.WorkDir()
	cmd.Stdin = nil // /dev/null
	cmd.ExtraFiles = []*os.File{cwdFile}
	cmd.WaitDelay = time.Second
	detach(cmd)

	var buf bytes.Buffer
	out := &limitedWriter{w: &buf, max: t.maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return "", newError(KindIOFailure, "failed to start command: %v", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err = <-waitCh:
	case <-ctx.Done():
		killGroup(cmd)
		<-waitCh
		kind := KindTimeout
		if ctx.Err() != context.DeadlineExceeded {
			kind = KindIOFailure
		}
		t.logger.Warn("command killed", zap.String("cmd", command), zap.Error(ctx.Err()))
		return out.String(), newError(kind, "command did not finish: %v", ctx.Err())
	}

	t.updateWorkDir(cwdFile)

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return out.String(), &Error{
				Kind:     KindNonZeroExit,
				Message:  fmt.Sprintf("command exited with status %d", exitErr.ExitCode()),
				ExitCode: exitErr.ExitCode(),
			}
		}
		return out.String(), newError(KindIOFailure, "command failed: %v", err)
	}
	return out.String(), nil
}

func (t *RunCommandTool) updateWorkDir(f *os.File) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return
	}
	dir := strings.TrimSpace(string(data))
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	t.mu.Lock()
	t.workDir = dir
	t.mu.Unlock()
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.discarded += int64(n)
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

// String returns the captured output with a marker when bytes were dropped.
func (lw *limitedWriter) String() string {
	var s string
	if sw, ok := lw.w.(fmt.Stringer); ok {
		s = sw.String()
	}
	if lw.discarded > 0 {
		s += fmt.Sprintf("\n[output truncated: %d bytes omitted]", lw.discarded)
	}
	return s
}
