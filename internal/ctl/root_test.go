package ctl

import (
	"bytes"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"rerankctl/internal/mockapi"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// mockService starts the mock reranker and points the environment-derived
// configuration at it.
func mockService(t *testing.T) {
	t.Helper()
	ts := httptest.NewServer(mockapi.NewRouter(zerolog.Nop()))
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parse %s: %v", ts.URL, err)
	}
	t.Setenv("RERANK_PORT", u.Port())
}

func TestCfgPrintsResolvedConfig(t *testing.T) {
	t.Setenv("RERANK_PORT", "12345")
	t.Setenv("SERVED_MODEL_NAME", "my-reranker")
	out, err := runCmd(t, "cfg")
	if err != nil {
		t.Fatalf("cfg: %v", err)
	}
	if !strings.Contains(out, "port: 12345") {
		t.Fatalf("output missing env-derived port:\n%s", out)
	}
	if !strings.Contains(out, "served_model_name: my-reranker") {
		t.Fatalf("output missing served model name:\n%s", out)
	}
}

func TestCfgLoadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rerank.yaml")
	if err := os.WriteFile(path, []byte("served_model_name: file-reranker\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := runCmd(t, "--config", path, "cfg")
	if err != nil {
		t.Fatalf("cfg: %v", err)
	}
	if !strings.Contains(out, "served_model_name: file-reranker") {
		t.Fatalf("config file value not applied:\n%s", out)
	}
}

func TestCfgEnvBeatsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rerank.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RERANK_PORT", "9001")
	out, err := runCmd(t, "--config", path, "cfg")
	if err != nil {
		t.Fatalf("cfg: %v", err)
	}
	if !strings.Contains(out, "port: 9001") {
		t.Fatalf("environment should override the config file:\n%s", out)
	}
}

func TestBadEnvValueFailsCommand(t *testing.T) {
	t.Setenv("RERANK_PORT", "not-a-port")
	if _, err := runCmd(t, "cfg"); err == nil {
		t.Fatal("expected an error for an unparseable port")
	}
}

func TestUnknownCommandExitsNonZero(t *testing.T) {
	if code := MainWithArgs([]string{"frobnicate"}); code == 0 {
		t.Fatal("unknown command must exit non-zero")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "rerankctl") {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestScoreCommandAgainstMock(t *testing.T) {
	mockService(t)
	out, err := runCmd(t, "score", "What is the capital of China?",
		"The capital of China is Beijing.",
		"Shanghai is a large city in China.")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if strings.Count(out, "- score=") != 2 {
		t.Fatalf("expected one line per document:\n%s", out)
	}
	if !strings.Contains(out, "idx=0") || !strings.Contains(out, "idx=1") {
		t.Fatalf("expected input-order indices:\n%s", out)
	}
}

func TestRerankCommandAgainstMock(t *testing.T) {
	mockService(t)
	out, err := runCmd(t, "rerank", "--top-n", "1", "What is the capital of China?",
		"Shanghai is a large city in China.",
		"The capital of China is Beijing.")
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if strings.Count(out, "- rank=") != 1 {
		t.Fatalf("top-n=1 should print a single result:\n%s", out)
	}
	if !strings.Contains(out, "idx=1") {
		t.Fatalf("capital sentence should win:\n%s", out)
	}
}

func TestScoreRequiresDocuments(t *testing.T) {
	if _, err := runCmd(t, "score", "just a query"); err == nil {
		t.Fatal("score without documents must fail")
	}
}

func TestBenchRejectsConflictingBounds(t *testing.T) {
	if _, err := runCmd(t, "bench", "--requests", "5", "--duration", "1s"); err == nil {
		t.Fatal("bench must reject both --requests and --duration")
	}
}

func TestBenchAgainstMock(t *testing.T) {
	mockService(t)
	out, err := runCmd(t, "bench", "--kind", "rerank", "--concurrency", "4",
		"--requests", "20", "--docs", "4", "--warmup", "1")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	if !strings.Contains(out, "ok=20/20") {
		t.Fatalf("expected all 20 requests accounted for:\n%s", out)
	}
}

func TestBenchConcurrencySweep(t *testing.T) {
	mockService(t)
	out, err := runCmd(t, "bench", "--kind", "score", "--concurrency", "1,2",
		"--requests", "5", "--docs", "2", "--warmup", "0")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	if !strings.Contains(out, "conc=1") || !strings.Contains(out, "conc=2") {
		t.Fatalf("expected one summary per concurrency level:\n%s", out)
	}
}

func TestSweepChartPath(t *testing.T) {
	if got := sweepChartPath("out/lat.html", 8); got != "out/lat-c8.html" {
		t.Fatalf("got %q", got)
	}
}

func TestStatusNotRunning(t *testing.T) {
	t.Setenv("RERANK_LOG_DIR", t.TempDir())
	// port 1 is privileged and never carries the reranker in tests
	t.Setenv("RERANK_PORT", "1")
	out, err := runCmd(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "not running") {
		t.Fatalf("unexpected status output: %q", out)
	}
}
