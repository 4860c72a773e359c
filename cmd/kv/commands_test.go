package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

// execute runs the kv command group with args against connection and returns stdout
func execute(t *testing.T, connection string, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	KeyValueCommands.SetOut(&out)
	KeyValueCommands.SetArgs(append(args, "--connection", connection))

	if err := KeyValueCommands.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestCommands(t *testing.T) {
	// file databases are saved on close, so the data survives between commands
	connection := "file://" + filepath.Join(t.TempDir(), "cli.snapshot")

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"put", "a", "1", "-o", "text"}, "key=a, ok=true\n"},
		{[]string{"put", "b", "2", "-o", "text"}, "key=b, ok=true\n"},
		{[]string{"get", "a", "missing", "-o", "text"}, "key=a, found=true, value=1\nkey=missing, found=false\n"},
		{[]string{"has", "a", "missing", "-o", "text"}, "key=a, ok=true\nkey=missing, ok=false\n"},
		{[]string{"missing", "a", "-o", "text"}, "key=a, ok=false\n"},
		{[]string{"count", "-o", "text"}, "count=2\n"},
		{[]string{"pull", "a", "-o", "text"}, "key=a, found=true, value=1\n"},
		{[]string{"forget", "a", "b", "-o", "text"}, "key=a, ok=false\nkey=b, ok=true\n"},
		{[]string{"flush", "-o", "text"}, "ok=true, empty=true\n"},
	}

	for _, step := range steps {
		if diff := cmp.Diff(step.want, execute(t, connection, step.args...)); diff != "" {
			t.Errorf("%v: unexpected output (-want +got):\n%s", step.args, diff)
		}
	}
}

func TestStructuredOutput(t *testing.T) {
	connection := "file://" + filepath.Join(t.TempDir(), "cli.snapshot")
	execute(t, connection, "put", "k", "v", "-o", "text")

	want := []result{{Key: "k", Value: stringPtr("v")}}

	var fromJSON []result
	if err := json.Unmarshal([]byte(execute(t, connection, "all", "-o", "json")), &fromJSON); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, fromJSON); diff != "" {
		t.Errorf("unexpected json (-want +got):\n%s", diff)
	}

	var fromYAML []result
	if err := yaml.Unmarshal([]byte(execute(t, connection, "all", "-o", "yaml")), &fromYAML); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, fromYAML); diff != "" {
		t.Errorf("unexpected yaml (-want +got):\n%s", diff)
	}
}

func TestWriteResultsRejectsUnknownFormat(t *testing.T) {
	var out bytes.Buffer
	err := writeResults(&out, "xml", []result{{Key: "k"}})
	if err == nil || !strings.Contains(err.Error(), "invalid output format") {
		t.Errorf("expected an invalid format error, got %v", err)
	}
}

func TestEmptyValuesAreReported(t *testing.T) {
	connection := "file://" + filepath.Join(t.TempDir(), "cli.snapshot")
	execute(t, connection, "put", "empty", "", "-o", "text")

	if got, want := execute(t, connection, "get", "empty", "-o", "text"), "key=empty, found=true, value=\n"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	var fromJSON []map[string]any
	if err := json.Unmarshal([]byte(execute(t, connection, "get", "empty", "missing", "-o", "json")), &fromJSON); err != nil {
		t.Fatal(err)
	}
	want := []map[string]any{
		{"key": "empty", "found": true, "value": ""},
		{"key": "missing", "found": false},
	}
	if diff := cmp.Diff(want, fromJSON); diff != "" {
		t.Errorf("unexpected json (-want +got):\n%s", diff)
	}

	var fromYAML []map[string]any
	if err := yaml.Unmarshal([]byte(execute(t, connection, "all", "-o", "yaml")), &fromYAML); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]map[string]any{{"key": "empty", "value": ""}}, fromYAML); diff != "" {
		t.Errorf("unexpected yaml (-want +got):\n%s", diff)
	}
}
