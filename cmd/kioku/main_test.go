package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"kioku"}, "kioku"},
		{"multiple words", []string{"a", "cat", "sitting"}, "a cat sitting"},
		{"single quoted phrase", []string{"a cat sitting"}, "a cat sitting"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQuery(tt.args); got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestReadText(t *testing.T) {
	got, err := readText([]string{"hello", "world"}, strings.NewReader("ignored"))
	if err != nil || got != "hello world" {
		t.Errorf("args: got %q, %v", got, err)
	}
	got, err = readText(nil, strings.NewReader("from stdin"))
	if err != nil || got != "from stdin" {
		t.Errorf("stdin: got %q, %v", got, err)
	}
	got, err = readText([]string{"-"}, strings.NewReader("dash stdin"))
	if err != nil || got != "dash stdin" {
		t.Errorf("dash: got %q, %v", got, err)
	}
}

func TestParseMetadata(t *testing.T) {
	got, err := parseMetadata([]string{"role=user", "turn=3", "pinned=true", "note=a=b", "ver=1e400"})
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := got["role"].Str(); !ok || s != "user" {
		t.Errorf("role = %v", got["role"])
	}
	if n, ok := got["turn"].Number(); !ok || n != 3 {
		t.Errorf("turn = %v", got["turn"])
	}
	if b, ok := got["pinned"].Bool(); !ok || !b {
		t.Errorf("pinned = %v", got["pinned"])
	}
	if s, _ := got["note"].Str(); s != "a=b" {
		t.Errorf("note = %v", got["note"])
	}
	if got["ver"].Kind() != models.KindString {
		t.Errorf("overflowing number should stay a string, got kind %v", got["ver"].Kind())
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseMetadata([]string{bad}); err == nil {
			t.Errorf("parseMetadata(%q): expected error", bad)
		}
	}
	if m, err := parseMetadata(nil); err != nil || m != nil {
		t.Errorf("nil pairs: got %v, %v", m, err)
	}
}

func TestLoadConfig_explicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != path || cfg.Server.Port != 9999 {
		t.Errorf("loadConfig = port %d from %s", cfg.Server.Port, resolved)
	}
	if _, _, err := loadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestNewEmbedder(t *testing.T) {
	model := embedding.NewTFIDF()
	emb, err := newEmbedder(config.EmbeddingConfig{Provider: config.ProviderTFIDF}, model, zap.NewNop())
	if err != nil || emb.Name() != "tfidf" {
		t.Errorf("tfidf: got %v, %v", emb, err)
	}
	emb, err = newEmbedder(config.EmbeddingConfig{
		Provider: config.ProviderRemote,
		Remote:   config.RemoteConfig{Model: "text-embedding-3-small"},
	}, model, zap.NewNop())
	if err != nil || emb.Name() != "remote:text-embedding-3-small" {
		t.Errorf("remote: got %v, %v", emb, err)
	}
	if _, err := newEmbedder(config.EmbeddingConfig{Provider: "onnx"}, model, zap.NewNop()); err == nil {
		t.Error("expected error for unknown provider")
	}
}

// runCLI executes the root command with a config rooted in dir.
func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", configPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kioku.yaml")
	content := "storage:\n  base_path: \"" + filepath.Join(dir, "memory") + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLI_AddSearchGroupFlow(t *testing.T) {
	cfg := writeTestConfig(t)
	for _, text := range []string{"the cat sat", "the dog sat", "rockets launch to orbit"} {
		if out, err := runCLI(t, cfg, "add", "--group", "g1", text); err != nil {
			t.Fatalf("add %q: %v\n%s", text, err, out)
		}
	}

	out, err := runCLI(t, cfg, "--output", "json", "search", "--group", "g1", "--limit", "2", "a", "cat", "sitting")
	if err != nil {
		t.Fatalf("search: %v\n%s", err, out)
	}
	var res struct {
		Results []struct {
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("search output is not JSON: %v\n%s", err, out)
	}
	if len(res.Results) != 2 || res.Results[0].Content != "the cat sat" || res.Results[1].Content != "the dog sat" {
		t.Errorf("search results = %+v", res.Results)
	}

	out, err = runCLI(t, cfg, "group", "list", "g1")
	if err != nil || !strings.Contains(out, "3 entries") {
		t.Errorf("group list: %v\n%s", err, out)
	}
	out, err = runCLI(t, cfg, "group", "delete", "g1")
	if err != nil || !strings.Contains(out, "Deleted 3 entries") {
		t.Errorf("group delete: %v\n%s", err, out)
	}
}

func TestCLI_AddRequiresGroup(t *testing.T) {
	cfg := writeTestConfig(t)
	if _, err := runCLI(t, cfg, "add", "no group given"); err == nil {
		t.Error("expected error without --group")
	}
}

func TestCLI_GetAndDelete(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runCLI(t, cfg, "add", "-g", "notes", "-m", "source=test", "buy more coffee")
	if err != nil {
		t.Fatal(err)
	}
	id := strings.TrimSpace(out)

	out, err = runCLI(t, cfg, "get", id)
	if err != nil || !strings.Contains(out, "buy more coffee") || !strings.Contains(out, "source: test") {
		t.Errorf("get: %v\n%s", err, out)
	}
	if _, err := runCLI(t, cfg, "delete", id); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, cfg, "get", id); err == nil {
		t.Error("get after delete should fail")
	}
}

func TestCLI_ScanAndStatus(t *testing.T) {
	cfg := writeTestConfig(t)
	project := t.TempDir()
	if err := os.WriteFile(filepath.Join(project, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, cfg, "scan", project)
	if err != nil || !strings.Contains(out, "Indexed 1 files") {
		t.Errorf("scan: %v\n%s", err, out)
	}
	out, err = runCLI(t, cfg, "status")
	if err != nil || !strings.Contains(out, "Entries:     1") {
		t.Errorf("status: %v\n%s", err, out)
	}
	if _, err := runCLI(t, cfg, "clear", "--reset-model"); err != nil {
		t.Fatal(err)
	}
	out, _ = runCLI(t, cfg, "--output", "json", "status")
	var st struct {
		Entries   int `json:"entries"`
		Documents int `json:"documents"`
	}
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status json: %v\n%s", err, out)
	}
	if st.Entries != 0 || st.Documents != 0 {
		t.Errorf("after clear: %+v", st)
	}
}

func TestCLI_BadOutputFormat(t *testing.T) {
	cfg := writeTestConfig(t)
	if _, err := runCLI(t, cfg, "--output", "xml", "status"); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, writeTestConfig(t), "version")
	if err != nil || !strings.Contains(out, "kioku version") {
		t.Errorf("version: %v\n%s", err, out)
	}
}
