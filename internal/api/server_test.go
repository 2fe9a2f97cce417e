package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dgallion1/docask/internal/config"
	"github.com/dgallion1/docask/internal/llm"
	"github.com/dgallion1/docask/internal/pipeline"
	"github.com/dgallion1/docask/internal/query"
	"github.com/dgallion1/docask/internal/storage/sqlite"
	"github.com/dgallion1/docask/internal/store"
	"github.com/dgallion1/docask/internal/telemetry"
	"github.com/dgallion1/docask/internal/testutil"
	"github.com/dgallion1/docask/internal/tokencount"
)

const testKey = "test-key"

const paperMarkdown = `# Paper

## Introduction

Transformers changed language modelling.

## Results

The model reached 91 percent accuracy.
`

type testEnv struct {
	srv   *httptest.Server
	fake  *testutil.FakeCompleter
	docs  store.Store
	usage *sqlite.Store
}

func newTestEnv(t *testing.T, quota int) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Defaults()
	cfg.APIKey = testKey
	cfg.WorkerCount = 1

	usage, err := sqlite.New(t.TempDir()+"/usage.db", sqlite.WithDefaultQuota(quota))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { usage.Close() })

	fake := &testutil.FakeCompleter{
		CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: "accuracy was 91 percent"}, nil
		},
	}
	qcfg := cfg.Query()
	qcfg.RetryBackoff = time.Millisecond
	engine, err := query.New(qcfg, fake, tokencount.NewHeuristic(tokencount.DefaultMultiplier), query.WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	docs := store.NewMemory()
	orch := pipeline.NewOrchestrator(cfg, docs, log, metrics)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	s := NewServer(Deps{
		Orchestrator: orch,
		Engine:       engine,
		Documents:    docs,
		Usage:        usage,
		Metrics:      metrics,
		Gatherer:     reg,
	}, log, cfg)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, fake: fake, docs: docs, usage: usage}
}

func (e *testEnv) do(t *testing.T, method, path, client string, body io.Reader, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	if client != "" {
		req.Header.Set("X-Client-ID", client)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) postJSON(t *testing.T, path, client string, v any) *http.Response {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return e.do(t, http.MethodPost, path, client, bytes.NewReader(b), http.Header{"Content-Type": {"application/json"}})
}

func (e *testEnv) upload(t *testing.T, client, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return e.do(t, http.MethodPost, "/api/v1/documents", client, &buf, http.Header{"Content-Type": {mw.FormDataContentType()}})
}

// ingest uploads content and waits for the job to finish, returning the
// document ID.
func (e *testEnv) ingest(t *testing.T, client, filename, content string) string {
	t.Helper()
	resp := e.upload(t, client, filename, content)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var accepted struct {
		JobID      string `json:"job_id"`
		DocumentID string `json:"document_id"`
	}
	decode(t, resp, &accepted)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var snap pipeline.JobSnapshot
		decode(t, e.do(t, http.MethodGet, "/api/v1/jobs/"+accepted.JobID, client, nil, nil), &snap)
		if snap.Status.Done() {
			if snap.Status != pipeline.StatusCompleted {
				t.Fatalf("job ended %q: %v", snap.Status, snap.Progress.Errors)
			}
			return snap.DocID
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, 5)
	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, 5)
	tests := []struct {
		name string
		auth string
	}{
		{"missing", ""},
		{"wrong key", "Bearer nope"},
		{"wrong scheme", "Basic " + testKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/v1/documents", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t, 5)
	id := env.ingest(t, "alice", "paper.md", paperMarkdown)

	// Listing
	var list struct {
		Documents []store.Summary `json:"documents"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/documents", "alice", nil, nil), &list)
	if len(list.Documents) != 1 || list.Documents[0].ID != id {
		t.Fatalf("list = %+v", list.Documents)
	}

	// Rendered text
	resp := env.do(t, http.MethodGet, "/api/v1/documents/"+id, "alice", nil, http.Header{"Accept": {"text/plain"}})
	text, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(text), "## Results") || !strings.Contains(string(text), "91 percent") {
		t.Errorf("rendered = %q", text)
	}

	// Other callers cannot see it.
	if resp := env.do(t, http.MethodGet, "/api/v1/documents/"+id, "mallory", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("other identity status = %d, want 404", resp.StatusCode)
	}

	// Re-upload is a dedup hit.
	resp = env.upload(t, "alice", "again.md", paperMarkdown)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-upload status = %d, want 200", resp.StatusCode)
	}
	var dup struct {
		DocumentID string `json:"document_id"`
		Duplicate  bool   `json:"duplicate"`
	}
	decode(t, resp, &dup)
	if dup.DocumentID != id || !dup.Duplicate {
		t.Errorf("dedup = %+v", dup)
	}

	// Delete
	if resp := env.do(t, http.MethodDelete, "/api/v1/documents/"+id, "alice", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/documents/"+id, "alice", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("after delete status = %d", resp.StatusCode)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t, 5)
	if resp := env.upload(t, "alice", "slides.pptx", "x"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAskDocument(t *testing.T) {
	env := newTestEnv(t, 5)
	id := env.ingest(t, "alice", "paper.md", paperMarkdown)

	resp := env.postJSON(t, "/api/v1/documents/"+id+"/ask", "alice", map[string]any{
		"question": "What accuracy did the model reach?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var ans query.Answer
	decode(t, resp, &ans)
	if ans.Text != "accuracy was 91 percent" || ans.Chunks != 1 {
		t.Errorf("answer = %+v", ans)
	}
	prompt := testutil.LastPrompt(env.fake.Calls()[0])
	if !strings.Contains(prompt, "91 percent accuracy") {
		t.Errorf("prompt missing document text: %q", prompt)
	}

	var quota struct {
		Remaining int `json:"remaining_requests"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/quota", "alice", nil, nil), &quota)
	if quota.Remaining != 4 {
		t.Errorf("remaining = %d, want 4", quota.Remaining)
	}
}

func TestAskDocumentStream(t *testing.T) {
	env := newTestEnv(t, 5)
	id := env.ingest(t, "alice", "paper.md", paperMarkdown)

	resp := env.postJSON(t, "/api/v1/documents/"+id+"/ask", "alice", map[string]any{
		"question": "What accuracy did the model reach?",
		"stream":   true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "accuracy was 91 percent" {
		t.Errorf("body = %q", body)
	}
}

func TestAskErrors(t *testing.T) {
	env := newTestEnv(t, 5)
	id := env.ingest(t, "alice", "paper.md", paperMarkdown)

	tests := []struct {
		name   string
		path   string
		client string
		body   any
		want   int
	}{
		{"empty question", "/api/v1/documents/" + id + "/ask", "alice", map[string]any{"question": " "}, http.StatusBadRequest},
		{"bad history role", "/api/v1/documents/" + id + "/ask", "alice", map[string]any{
			"question": "q", "history": []map[string]string{{"role": "system", "content": "x"}},
		}, http.StatusBadRequest},
		{"someone else's document", "/api/v1/documents/" + id + "/ask", "mallory", map[string]any{"question": "q"}, http.StatusNotFound},
		{"missing document", "/api/v1/documents/nope/ask", "alice", map[string]any{"question": "q"}, http.StatusNotFound},
		{"empty context", "/api/v1/ask", "alice", map[string]any{"question": "q"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := env.postJSON(t, tt.path, tt.client, tt.body); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestAskContextAndQuota(t *testing.T) {
	env := newTestEnv(t, 2)
	body := map[string]any{"context": "The sky is blue.", "question": "What color is the sky?"}

	for i := range 2 {
		resp := env.postJSON(t, "/api/v1/ask", "guest", body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ask %d status = %d", i, resp.StatusCode)
		}
	}
	if resp := env.postJSON(t, "/api/v1/ask", "guest", body); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	// Quotas are per identity.
	if resp := env.postJSON(t, "/api/v1/ask", "other", body); resp.StatusCode != http.StatusOK {
		t.Errorf("other identity status = %d, want 200", resp.StatusCode)
	}
}

func TestQuotaReservedWhileAskInFlight(t *testing.T) {
	env := newTestEnv(t, 1)
	entered := make(chan struct{})
	release := make(chan struct{})
	env.fake.CompleteFunc = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		close(entered)
		<-release
		return &llm.Response{Text: "blue"}, nil
	}
	body := map[string]any{"context": "The sky is blue.", "question": "What color is the sky?"}
	b, _ := json.Marshal(body)

	first := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/v1/ask", bytes.NewReader(b))
		req.Header.Set("Authorization", "Bearer "+testKey)
		req.Header.Set("X-Client-ID", "guest")
		resp, err := env.srv.Client().Do(req)
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()

	<-entered
	if resp := env.postJSON(t, "/api/v1/ask", "guest", body); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("concurrent ask status = %d, want 429", resp.StatusCode)
	}
	close(release)
	if code := <-first; code != http.StatusOK {
		t.Fatalf("first ask status = %d", code)
	}
	if left, _ := env.usage.RemainingQuota(context.Background(), "guest"); left != 0 {
		t.Errorf("remaining = %d, want 0", left)
	}
}

func TestFailedAskDoesNotSpendQuota(t *testing.T) {
	env := newTestEnv(t, 1)
	if resp := env.postJSON(t, "/api/v1/ask", "guest", map[string]any{"question": "q"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if resp := env.postJSON(t, "/api/v1/documents/nope/ask", "guest", map[string]any{"question": "q"}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := map[string]any{"context": "The sky is blue.", "question": "What color is the sky?"}
	if resp := env.postJSON(t, "/api/v1/ask", "guest", body); resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 with the quota intact", resp.StatusCode)
	}
}

func TestLoadTestDoesNotSpendQuota(t *testing.T) {
	env := newTestEnv(t, 1)
	body := map[string]any{"context": "x", "question": "This is a load test"}
	for range 3 {
		resp := env.postJSON(t, "/api/v1/ask", "loadgen", body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}
	if n := env.fake.CallCount(); n != 0 {
		t.Errorf("completion calls = %d, want 0", n)
	}
}

func TestFeedbackAndInvocationLog(t *testing.T) {
	env := newTestEnv(t, 5)
	start := time.Now().Add(-time.Minute)

	resp := env.postJSON(t, "/api/v1/feedback", "alice", map[string]any{
		"question": "q", "answer": "a", "accurate": false, "comment": "missed a table",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp := env.postJSON(t, "/api/v1/feedback", "alice", map[string]any{"answer": "a"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing question status = %d", resp.StatusCode)
	}

	n, err := env.usage.CountInvocations(context.Background(), "alice", start)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("invocations = %d, want 2", n)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 5)
	env.do(t, http.MethodGet, "/api/v1/documents", "alice", nil, nil)

	resp, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `docask_http_requests_total{method="GET",route="/api/v1/documents"`) {
		t.Errorf("metrics missing request counter:\n%s", body)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"paper.pdf", "paper.pdf"},
		{"../../etc/passwd", "passwd"},
		{"dir/notes.md", "notes.md"},
		{"a..b.txt", "a_b.txt"},
		{"", "unnamed"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
