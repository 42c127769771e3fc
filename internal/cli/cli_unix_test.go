//go:build !windows

package cli

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Paintersrp/brood"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(stdcontext.Background())
	return out.String(), err
}

func decodeRecords(t *testing.T, out string) []logRecord {
	t.Helper()
	var records []logRecord
	dec := json.NewDecoder(strings.NewReader(out))
	for dec.More() {
		var rec logRecord
		if err := dec.Decode(&rec); err != nil {
			// The summary table follows the JSON stream in batch output.
			break
		}
		records = append(records, rec)
	}
	return records
}

func TestRunStreamsWorkerOutput(t *testing.T) {
	out, err := executeRoot(t, "run", "--json", "-n", "2", "--", "/bin/sh", "-c", "echo hello from $BROOD_WORKER")
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput:\n%s", err, out)
	}

	workers := map[string]bool{}
	for _, rec := range decodeRecords(t, out) {
		if strings.HasPrefix(rec.Message, "hello from ") {
			workers[strings.TrimPrefix(rec.Message, "hello from ")] = true
		}
	}
	if !workers["0"] || !workers["1"] {
		t.Fatalf("expected output from both workers, got %v\noutput:\n%s", workers, out)
	}
}

func TestRunSurfacesExitCode(t *testing.T) {
	_, err := executeRoot(t, "run", "--json", "--", "/bin/sh", "-c", "exit 3")
	var exitErr *brood.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 3 {
		t.Fatalf("expected exit code 3, got %v", err)
	}
	if exitCode(err) != 3 {
		t.Fatalf("expected process exit status 3, got %d", exitCode(err))
	}
}

func TestRunPassesParentEnv(t *testing.T) {
	out, err := executeRoot(t, "run", "--json", "--parent-env", "GREETING=hi", "--", "/bin/sh", "-c", "echo $GREETING")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, rec := range decodeRecords(t, out) {
		if rec.Message == "hi" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected injected environment in output:\n%s", out)
	}
}

func TestRunRejectsBadEnvPair(t *testing.T) {
	if _, err := executeRoot(t, "run", "--parent-env", "novalue", "--", "/bin/true"); err == nil {
		t.Fatal("expected invalid environment entry to fail")
	}
}

func TestBatchRunsTaskfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brood.yaml")
	taskfile := `
version: "1"
tasks:
  hello:
    command: ["/bin/sh", "-c", "echo from-hello"]
  tolerated:
    command: ["/bin/sh", "-c", "exit 4"]
    suppressExits: [4]
`
	if err := os.WriteFile(path, []byte(taskfile), 0o644); err != nil {
		t.Fatalf("write taskfile: %v", err)
	}

	out, err := executeRoot(t, "batch", "--json", "-f", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput:\n%s", err, out)
	}

	for _, fragment := range []string{"from-hello", "TASK", "hello", "tolerated"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in output:\n%s", fragment, out)
		}
	}
	if strings.Contains(out, "failed") {
		t.Fatalf("expected every task to succeed:\n%s", out)
	}
}

func TestBatchReportsTaskFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brood.yaml")
	taskfile := `
version: "1"
tasks:
  broken:
    command: ["/bin/sh", "-c", "exit 2"]
`
	if err := os.WriteFile(path, []byte(taskfile), 0o644); err != nil {
		t.Fatalf("write taskfile: %v", err)
	}

	out, err := executeRoot(t, "batch", "--json", "-f", path)
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected broken task to fail, got %v", err)
	}
	if !strings.Contains(out, "failed") {
		t.Fatalf("expected failed status in summary:\n%s", out)
	}
}

func TestBatchSelectsRequestedTask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brood.yaml")
	taskfile := `
version: "1"
tasks:
  wanted:
    command: ["/bin/sh", "-c", "echo wanted-ran"]
  skipped:
    command: ["/bin/sh", "-c", "echo skipped-ran"]
`
	if err := os.WriteFile(path, []byte(taskfile), 0o644); err != nil {
		t.Fatalf("write taskfile: %v", err)
	}

	out, err := executeRoot(t, "batch", "--json", "-f", path, "wanted")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "wanted-ran") {
		t.Fatalf("expected wanted task output:\n%s", out)
	}
	if strings.Contains(out, "skipped-ran") {
		t.Fatalf("expected skipped task not to run:\n%s", out)
	}
}
