package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func newPredictServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeScan(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nscan"), 0o600); err != nil {
		t.Fatalf("write scan: %v", err)
	}
	return path
}

func runRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	chdir(t, t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	var stdout, stderr bytes.Buffer
	root := NewRootCommand("test")
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestAnalyzeCommandPrintsVerdict(t *testing.T) {
	srv, calls := newPredictServer(t, http.StatusOK, `{"confidence":0.92,"prediction":"Tumor Detected","status":"ok"}`)

	stdout, stderr, err := runRoot(t, "analyze", "--endpoint", srv.URL, writeScan(t, "scan.png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Tumor Detected") || !strings.Contains(stdout, "92%") || !strings.Contains(stdout, "Analysis reference: ") {
		t.Fatalf("unexpected output:\n%s", stdout)
	}
	if !strings.Contains(stderr, "Analysis Complete") {
		t.Fatalf("expected completion notice, got %q", stderr)
	}
	if *calls != 1 {
		t.Fatalf("expected one request, got %d", *calls)
	}
}

func TestAnalyzeCommandJSON(t *testing.T) {
	srv, _ := newPredictServer(t, http.StatusOK, `{"confidence":0.10,"prediction":"No Tumor","status":"ok"}`)

	stdout, _, err := runRoot(t, "analyze", "--json", "--endpoint", srv.URL, writeScan(t, "scan.png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var verdict struct {
		AnalysisID string `json:"analysis_id"`
		Percent    int    `json:"percent"`
		Tone       string `json:"tone"`
		Color      string `json:"color"`
	}
	if err := json.Unmarshal([]byte(stdout), &verdict); err != nil {
		t.Fatalf("decode: %v (%s)", err, stdout)
	}
	if verdict.Percent != 10 || verdict.Tone != "clear" || verdict.Color != "green" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
	if verdict.AnalysisID == "" {
		t.Fatal("expected the analysis id in the report")
	}
}

func TestAnalyzeCommandReportsFailure(t *testing.T) {
	srv, calls := newPredictServer(t, http.StatusInternalServerError, "internal error")

	_, stderr, err := runRoot(t, "analyze", "--endpoint", srv.URL, writeScan(t, "scan.png"))
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "internal error") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stderr, "Analysis Failed") {
		t.Fatalf("expected failure notice, got %q", stderr)
	}
	if *calls != 1 {
		t.Fatalf("failures must not be retried, got %d calls", *calls)
	}
}

func TestAnalyzeCommandRejectsNonImage(t *testing.T) {
	srv, calls := newPredictServer(t, http.StatusOK, `{}`)
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("plain text"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, _, err := runRoot(t, "analyze", "--endpoint", srv.URL, path)
	if err == nil || !strings.Contains(err.Error(), "not an image") {
		t.Fatalf("expected not-an-image error, got %v", err)
	}
	if *calls != 0 {
		t.Fatalf("expected no requests, got %d", *calls)
	}
}

// chdir changes the working directory for the duration of the test,
// restoring the previous one on cleanup (stand-in for Go 1.24 t.Chdir).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
