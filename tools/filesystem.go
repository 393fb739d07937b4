package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m4xw311/atshell/config"
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
	workDir  func() string
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file and returns it as text."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path of the file to read."},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return "", newError(KindInvalidArguments, "missing or invalid 'path' argument")
	}

	target := resolvePath(path, t.workDir)
	if err := checkAccess(path, target, t.fsAccess.Hidden, "hidden"); err != nil {
		return "", err
	}

	content, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "", newError(KindNotFound, "file '%s' does not exist", path)
		}
		return "", newError(KindIOFailure, "failed to read file '%s': %v", path, err)
	}
	return string(content), nil
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
	workDir  func() string
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Missing parent directories are created."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Path of the file to write."},
			"content": map[string]any{"type": "string", "description": "Full new content of the file."},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, pathOk := stringArg(args, "path")
	content, contentOk := stringArg(args, "content")
	if !pathOk || !contentOk || path == "" {
		return "", newError(KindInvalidArguments, "missing or invalid 'path' or 'content' arguments")
	}

	target := resolvePath(path, t.workDir)
	if err := checkAccess(path, target, t.fsAccess.Hidden, "hidden"); err != nil {
		return "", err
	}
	if err := checkAccess(path, target, t.fsAccess.ReadOnly, "read-only"); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", newError(KindIOFailure, "failed to create directory for '%s': %v", path, err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return "", newError(KindIOFailure, "failed to write to file '%s': %v", path, err)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// resolvePath anchors relative paths at run_cmd's working directory so that
// a "cd" done through run_cmd also applies to the file tools.
func resolvePath(path string, workDir func() string) string {
	if filepath.IsAbs(path) || workDir == nil {
		return path
	}
	if dir := workDir(); dir != "" {
		return filepath.Join(dir, path)
	}
	return path
}

// checkAccess matches both the path as given and its resolved form.
func checkAccess(path, resolved string, patterns []string, what string) error {
	for _, p := range []string{path, resolved} {
		restricted, err := isPathRestricted(p, patterns)
		if err != nil {
			return newError(KindPolicyDenied, "%v", err)
		}
		if restricted {
			return newError(KindPolicyDenied, "access denied: path '%s' is %s", path, what)
		}
	}
	return nil
}
