package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

func fileStep(cfg saga.StepConfig) *saga.Step {
	s := saga.NewStep("file", saga.StepTypeFileOp)
	s.Config = cfg
	return s
}

func TestFileExecutorWriteAndRead(t *testing.T) {
	root := t.TempDir()
	e := NewFileExecutor(root)
	ctx := context.Background()

	_, err := e.Execute(ctx, fileStep(saga.StepConfig{
		FilePath:        "orders/${order_id}.json",
		FileOperation:   "write",
		MessageTemplate: `{"order":"${order_id}"}`,
	}), map[string]any{"order_id": "o-1"})
	if err != nil {
		t.Fatalf("write error = %v", err)
	}

	output, err := e.Execute(ctx, fileStep(saga.StepConfig{
		FilePath:      "orders/o-1.json",
		FileOperation: "read",
	}), nil)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if output["content"] != `{"order":"o-1"}` {
		t.Errorf("content = %v", output["content"])
	}
}

func TestFileExecutorAppend(t *testing.T) {
	root := t.TempDir()
	e := NewFileExecutor(root)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.Execute(ctx, fileStep(saga.StepConfig{
			FilePath:        "audit.log",
			FileOperation:   "append",
			MessageTemplate: "line\n",
		}), nil)
		if err != nil {
			t.Fatalf("append error = %v", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(root, "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line\nline\n" {
		t.Errorf("content = %q", data)
	}
}

func TestFileExecutorDelete(t *testing.T) {
	root := t.TempDir()
	e := NewFileExecutor(root)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(root, "victim.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := e.Execute(ctx, fileStep(saga.StepConfig{FilePath: "victim.txt", FileOperation: "delete"}), nil)
	if err != nil {
		t.Fatalf("delete error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "victim.txt")); !os.IsNotExist(err) {
		t.Error("file should be gone")
	}

	// Deleting a missing file is not an error.
	if _, err := e.Execute(ctx, fileStep(saga.StepConfig{FilePath: "victim.txt", FileOperation: "delete"}), nil); err != nil {
		t.Errorf("second delete error = %v", err)
	}
}

func TestFileExecutorRejectsEscape(t *testing.T) {
	e := NewFileExecutor(t.TempDir())
	_, err := e.Execute(context.Background(), fileStep(saga.StepConfig{
		FilePath:      "../outside.txt",
		FileOperation: "write",
	}), nil)
	if !IsPermanent(err) {
		t.Fatalf("Execute() error = %v, want permanent for escaping path", err)
	}
}

func TestFileExecutorUnknownOperation(t *testing.T) {
	e := NewFileExecutor(t.TempDir())
	_, err := e.Execute(context.Background(), fileStep(saga.StepConfig{
		FilePath:      "a.txt",
		FileOperation: "truncate",
	}), nil)
	if !IsPermanent(err) {
		t.Fatalf("Execute() error = %v, want permanent for unknown operation", err)
	}
}
