package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestEchoRegistered(t *testing.T) {
	task, ok := Lookup("echo")
	if !ok {
		t.Fatal("echo task not registered")
	}
	if task.ShortDescription == "" {
		t.Error("expected non-empty short description")
	}
}

func TestListIncludesEcho(t *testing.T) {
	found := false
	for _, name := range List() {
		if name == "echo" {
			found = true
		}
	}
	if !found {
		t.Error("List() did not include \"echo\"")
	}
}

func TestParamsOfEcho(t *testing.T) {
	task, _ := Lookup("echo")
	params := ParamsOf(task)
	if len(params) != 3 {
		t.Fatalf("len(params) = %d, want 3", len(params))
	}

	byName := make(map[string]Param, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}

	if byName["prefix"].Required {
		t.Error("prefix should not be required (has a default)")
	}
	if byName["uppercase"].Type != "bool" {
		t.Errorf("uppercase type = %q, want bool", byName["uppercase"].Type)
	}
}

func TestEchoRunAppliesPrefixSuffixAndUppercase(t *testing.T) {
	task, _ := Lookup("echo")
	run, err := task.New(map[string]any{"prefix": ">> ", "suffix": " <<", "uppercase": true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(in, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := run(context.Background(), nil, in, out); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != ">> HELLO <<" {
		t.Errorf("output = %q, want %q", data, ">> HELLO <<")
	}
}
