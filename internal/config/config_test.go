package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Port != 11438 {
		t.Fatalf("expected default port 11438, got %d", c.Port)
	}
	if c.GPUMemoryUtilization != 0.90 {
		t.Fatalf("expected default gpu_memory_utilization 0.90, got %v", c.GPUMemoryUtilization)
	}
	if c.MaxModelLen != 4096 {
		t.Fatalf("expected default max_model_len 4096, got %d", c.MaxModelLen)
	}
}

func TestResolveOverrides(t *testing.T) {
	c, err := Resolve(Default(), map[string]string{
		KeyPort:                 "12000",
		KeyServedModelName:      "qwen3-reranker-4b",
		KeyTensorParallelSize:   "2",
		KeyGPUMemoryUtilization: "0.75",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Port != 12000 || c.ServedModelName != "qwen3-reranker-4b" || c.TensorParallelSize != 2 {
		t.Fatalf("unexpected cfg: %+v", c)
	}
	if c.GPUMemoryUtilization != 0.75 {
		t.Fatalf("expected 0.75, got %v", c.GPUMemoryUtilization)
	}
	// untouched settings keep defaults
	if c.DType != "auto" {
		t.Fatalf("expected dtype auto, got %q", c.DType)
	}
}

func TestResolveRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		KeyPort:                 "not-a-port",
		KeyTensorParallelSize:   "two",
		KeyGPUMemoryUtilization: "ninety percent",
		KeyMaxModelLen:          "4k",
		"NO_SUCH_SETTING":       "1",
	}
	for k, v := range cases {
		_, err := Resolve(Default(), map[string]string{k: v})
		if err == nil {
			t.Fatalf("expected error for %s=%q", k, v)
		}
		var ce *Error
		if !errors.As(err, &ce) {
			t.Fatalf("expected *config.Error for %s, got %T", k, err)
		}
		if ce.Setting != k {
			t.Fatalf("error names setting %q, want %q", ce.Setting, k)
		}
	}
}

func TestResolveRejectsNonPositivePort(t *testing.T) {
	if _, err := Resolve(Default(), map[string]string{KeyPort: "0"}); err == nil {
		t.Fatalf("expected error for port 0")
	}
	if _, err := Resolve(Default(), map[string]string{KeyPort: "-1"}); err == nil {
		t.Fatalf("expected error for negative port")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(KeyPort, "13000")
	t.Setenv(KeyLogDir, "/tmp/rerank-logs")
	c, err := FromEnv(Default())
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if c.Port != 13000 || c.LogDir != "/tmp/rerank-logs" {
		t.Fatalf("unexpected cfg: %+v", c)
	}

	t.Setenv(KeyMaxNumSeqs, "lots")
	if _, err := FromEnv(Default()); err == nil {
		t.Fatalf("expected error for bad env value")
	}
}

func TestDerivedPaths(t *testing.T) {
	c := Default()
	c.ServedModelName = "qwen3-reranker-0.6b"
	c.Port = 11438
	c.LogDir = "/var/log/rerank"
	if got, want := c.PIDFile(), "/var/log/rerank/rerank_qwen3-reranker-0.6b_11438.pid"; got != want {
		t.Fatalf("pid file %q, want %q", got, want)
	}
	if got, want := c.LogFile(), "/var/log/rerank/rerank_qwen3-reranker-0.6b_11438.log"; got != want {
		t.Fatalf("log file %q, want %q", got, want)
	}
	if got, want := c.BaseURL(), "http://127.0.0.1:11438/v1"; got != want {
		t.Fatalf("base url %q, want %q", got, want)
	}
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadFileYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "port: 9999\nserved_model_name: m1\ngpu_memory_utilization: 0.5\n")
	c, err := LoadFile(Default(), p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port != 9999 || c.ServedModelName != "m1" || c.GPUMemoryUtilization != 0.5 {
		t.Fatalf("unexpected cfg: %+v", c)
	}
	// untouched values survive
	if c.MaxNumSeqs != 256 {
		t.Fatalf("expected max_num_seqs 256, got %d", c.MaxNumSeqs)
	}
}

func TestLoadFileJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"port":7070,"model_path":"/m","log_dir":"/l"}`)
	c, err := LoadFile(Default(), p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port != 7070 || c.ModelPath != "/m" || c.LogDir != "/l" {
		t.Fatalf("unexpected cfg: %+v", c)
	}
}

func TestLoadFileTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "port=8081\ndtype=\"float16\"\n")
	c, err := LoadFile(Default(), p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port != 8081 || c.DType != "float16" {
		t.Fatalf("unexpected cfg: %+v", c)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(Default(), ""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := LoadFile(Default(), p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	var ce *Error
	_, err := LoadFile(Default(), filepath.Join(d, "missing.yaml"))
	if !errors.As(err, &ce) {
		t.Fatalf("expected *config.Error, got %T", err)
	}
}
