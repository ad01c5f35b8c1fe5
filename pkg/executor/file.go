package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

// FileExecutor performs FILE_OP steps: read, write, append, and delete of
// local files under a configured root directory.
type FileExecutor struct {
	root string
}

// NewFileExecutor creates the file adapter rooted at dir. Paths escaping
// the root are rejected.
func NewFileExecutor(dir string) *FileExecutor {
	return &FileExecutor{root: dir}
}

// Type implements Executor.
func (e *FileExecutor) Type() saga.StepType { return saga.StepTypeFileOp }

// Execute performs the configured file operation.
func (e *FileExecutor) Execute(ctx context.Context, step *saga.Step, input map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := step.Config
	if cfg.FilePath == "" {
		return nil, Permanent(fmt.Errorf("file step %q: path cannot be empty", step.Name))
	}

	path, err := e.resolve(renderTemplate(cfg.FilePath, input))
	if err != nil {
		return nil, Permanent(fmt.Errorf("file step %q: %w", step.Name, err))
	}

	switch strings.ToLower(cfg.FileOperation) {
	case "read":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("file step %q: %w", step.Name, err)
		}
		return map[string]any{"content": string(data), "size": len(data)}, nil

	case "write", "":
		content := renderTemplate(cfg.MessageTemplate, input)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("file step %q: %w", step.Name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("file step %q: %w", step.Name, err)
		}
		return map[string]any{"path": path, "size": len(content)}, nil

	case "append":
		content := renderTemplate(cfg.MessageTemplate, input)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("file step %q: %w", step.Name, err)
		}
		_, writeErr := f.WriteString(content)
		closeErr := f.Close()
		if writeErr != nil {
			return nil, fmt.Errorf("file step %q: %w", step.Name, writeErr)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("file step %q: %w", step.Name, closeErr)
		}
		return map[string]any{"path": path, "appended": len(content)}, nil

	case "delete":
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("file step %q: %w", step.Name, err)
		}
		return map[string]any{"path": path, "deleted": true}, nil

	default:
		return nil, Permanent(fmt.Errorf("file step %q: unknown operation %q", step.Name, cfg.FileOperation))
	}
}

func (e *FileExecutor) resolve(path string) (string, error) {
	if e.root == "" {
		return path, nil
	}
	joined := filepath.Join(e.root, path)
	rel, err := filepath.Rel(e.root, joined)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes the file root", path)
	}
	return joined, nil
}
