package executor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"regprobe/internal/shared/types"
	"regprobe/internal/store"
	"regprobe/proxypool/model"
)

// stubAllocator is a mock for the ProxyAllocator interface.
type stubAllocator struct {
	node    *model.ProxyNode
	allocs  int
	updates []bool
}

func (a *stubAllocator) Allocate(poolID int64) *model.ProxyNode {
	a.allocs++
	return a.node
}

func (a *stubAllocator) UpdateStats(nodeID int64, success bool) {
	a.updates = append(a.updates, success)
}

func baseTemplate(targetURL string) *types.ProbeTemplate {
	return &types.ProbeTemplate{
		ID:             1,
		Name:           "signup-check",
		TargetSite:     "example.com",
		RequestURL:     targetURL,
		RequestMethod:  "POST",
		RequestHeaders: map[string]string{"Content-Type": "application/json"},
		RequestBody:    `{"account":"{{account}}"}`,
		SuccessRule:    map[string]string{"code": "0"},
		FailRule:       map[string]string{"code": "1"},
		TimeoutSeconds: 5,
	}
}

func setupExecutor(t *testing.T, tpl *types.ProbeTemplate, alloc *stubAllocator) (*Executor, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	if tpl != nil {
		if err := st.SaveTemplate(context.Background(), tpl); err != nil {
			t.Fatalf("SaveTemplate() returned an error: %v", err)
		}
	}
	return New(st, alloc), st
}

func proxyNodeFor(t *testing.T, ts *httptest.Server) *model.ProxyNode {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("failed to parse test server URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("failed to split test server host: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return &model.ProxyNode{ID: 7, PoolID: 1, Host: host, Port: port, Scheme: "http", Status: model.NodeAvailable}
}

func TestExecute_Registered(t *testing.T) {
	var gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.Write([]byte(`{"code":"0","msg":"account exists"}`))
	}))
	defer ts.Close()

	exec, st := setupExecutor(t, baseTemplate(ts.URL), &stubAllocator{})
	result := exec.Execute(context.Background(), 100, 1, 0, "alice@example.com")

	if result.DetectStatus != types.StatusRegistered {
		t.Fatalf("Expected status Registered, got %s (error: %s)", result.DetectStatus.Text(), result.ErrorMessage)
	}
	if result.AccountIdentifier != "alice@example.com" {
		t.Errorf("Expected account identifier to round-trip, got %q", result.AccountIdentifier)
	}
	if !strings.Contains(gotBody, "alice@example.com") {
		t.Errorf("Expected request body to contain the account value, got %q", gotBody)
	}
	if result.ID == "" {
		t.Error("Expected a generated result id")
	}

	stored, err := st.ResultsByTask(context.Background(), 100)
	if err != nil || len(stored) != 1 {
		t.Fatalf("Expected exactly one persisted result, got %d (err: %v)", len(stored), err)
	}
}

func TestExecute_Unregistered(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"1"}`))
	}))
	defer ts.Close()

	exec, _ := setupExecutor(t, baseTemplate(ts.URL), &stubAllocator{})
	result := exec.Execute(context.Background(), 100, 1, 0, "nobody")

	if result.DetectStatus != types.StatusUnregistered {
		t.Fatalf("Expected status Unregistered, got %s", result.DetectStatus.Text())
	}
	if result.ErrorMessage != "" {
		t.Errorf("Expected no error message, got %q", result.ErrorMessage)
	}
}

func TestExecute_SuccessRuleWinsOverFailRule(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"exists":true,"blocked":true}`))
	}))
	defer ts.Close()

	tpl := baseTemplate(ts.URL)
	tpl.SuccessRule = map[string]string{"exists": "true"}
	tpl.FailRule = map[string]string{"blocked": "true"}
	exec, _ := setupExecutor(t, tpl, &stubAllocator{})

	result := exec.Execute(context.Background(), 100, 1, 0, "alice")
	if result.DetectStatus != types.StatusRegistered {
		t.Errorf("Expected success rule to win when both rules match, got %s", result.DetectStatus.Text())
	}
}

func TestExecute_NeitherRuleMatches(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"42"}`))
	}))
	defer ts.Close()

	exec, _ := setupExecutor(t, baseTemplate(ts.URL), &stubAllocator{})
	result := exec.Execute(context.Background(), 100, 1, 0, "alice")

	if result.DetectStatus != types.StatusDetectionFailed {
		t.Fatalf("Expected DetectionFailed when no rule matches, got %s", result.DetectStatus.Text())
	}
	if result.ErrorMessage != "could not determine result" {
		t.Errorf("Unexpected error message: %q", result.ErrorMessage)
	}
}

func TestExecute_MalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer ts.Close()

	exec, _ := setupExecutor(t, baseTemplate(ts.URL), &stubAllocator{})
	result := exec.Execute(context.Background(), 100, 1, 0, "alice")

	if result.DetectStatus != types.StatusDetectionFailed {
		t.Fatalf("Expected DetectionFailed on malformed JSON, got %s", result.DetectStatus.Text())
	}
	if !strings.HasPrefix(result.ErrorMessage, "malformed response") {
		t.Errorf("Unexpected error message: %q", result.ErrorMessage)
	}
}

func TestExecute_Non200IsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	exec, _ := setupExecutor(t, baseTemplate(ts.URL), &stubAllocator{})
	result := exec.Execute(context.Background(), 100, 1, 0, "alice")

	if result.DetectStatus != types.StatusDetectionFailed {
		t.Fatalf("Expected DetectionFailed on HTTP 500, got %s", result.DetectStatus.Text())
	}
	if result.ErrorMessage != "unexpected HTTP status: 500" {
		t.Errorf("Unexpected error message: %q", result.ErrorMessage)
	}
}

func TestExecute_RedirectIsNotSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer ts.Close()

	exec, _ := setupExecutor(t, baseTemplate(ts.URL), &stubAllocator{})
	result := exec.Execute(context.Background(), 100, 1, 0, "alice")

	if result.DetectStatus != types.StatusDetectionFailed {
		t.Fatalf("Expected DetectionFailed on redirect, got %s", result.DetectStatus.Text())
	}
	if result.ErrorMessage != "unexpected HTTP status: 302" {
		t.Errorf("Expected the 302 to surface unfollowed, got %q", result.ErrorMessage)
	}
}

func TestExecute_TemplateNotFound(t *testing.T) {
	alloc := &stubAllocator{}
	exec, st := setupExecutor(t, nil, alloc)

	result := exec.Execute(context.Background(), 100, 99, 0, "alice")
	if result.DetectStatus != types.StatusDetectionFailed {
		t.Fatalf("Expected DetectionFailed for missing template, got %s", result.DetectStatus.Text())
	}
	if result.ErrorMessage != "template not found" {
		t.Errorf("Unexpected error message: %q", result.ErrorMessage)
	}
	if alloc.allocs != 0 {
		t.Errorf("Expected no proxy allocation for missing template, got %d", alloc.allocs)
	}

	stored, _ := st.ResultsByTask(context.Background(), 100)
	if len(stored) != 1 {
		t.Errorf("Expected the failed attempt to be persisted, got %d results", len(stored))
	}
}

func TestExecute_ThroughProxy(t *testing.T) {
	// The test server plays the forward proxy: the client sends it the
	// absolute-URI request for the unresolvable target host.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0"}`))
	}))
	defer ts.Close()

	node := proxyNodeFor(t, ts)
	alloc := &stubAllocator{node: node}
	tpl := baseTemplate("http://target.invalid/check")
	tpl.EnableProxy = true
	exec, _ := setupExecutor(t, tpl, alloc)

	result := exec.Execute(context.Background(), 100, 1, 1, "alice")
	if result.DetectStatus != types.StatusRegistered {
		t.Fatalf("Expected Registered through proxy, got %s (error: %s)", result.DetectStatus.Text(), result.ErrorMessage)
	}
	if result.UsedProxy != node.Address() {
		t.Errorf("Expected used proxy %q recorded, got %q", node.Address(), result.UsedProxy)
	}
	if len(alloc.updates) != 1 || !alloc.updates[0] {
		t.Errorf("Expected one successful stats update, got %v", alloc.updates)
	}
}

func TestExecute_ProxyGetsBlameOnFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	alloc := &stubAllocator{node: proxyNodeFor(t, ts)}
	tpl := baseTemplate("http://target.invalid/check")
	tpl.EnableProxy = true
	exec, _ := setupExecutor(t, tpl, alloc)

	result := exec.Execute(context.Background(), 100, 1, 1, "alice")
	if result.DetectStatus != types.StatusDetectionFailed {
		t.Fatalf("Expected DetectionFailed, got %s", result.DetectStatus.Text())
	}
	if len(alloc.updates) != 1 || alloc.updates[0] {
		t.Errorf("Expected one failed stats update, got %v", alloc.updates)
	}
}

func TestExecute_EmptyPoolProceedsWithoutProxy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0"}`))
	}))
	defer ts.Close()

	alloc := &stubAllocator{node: nil}
	tpl := baseTemplate(ts.URL)
	tpl.EnableProxy = true
	exec, _ := setupExecutor(t, tpl, alloc)

	result := exec.Execute(context.Background(), 100, 1, 5, "alice")
	if alloc.allocs != 1 {
		t.Fatalf("Expected one allocation attempt, got %d", alloc.allocs)
	}
	if result.DetectStatus != types.StatusRegistered {
		t.Errorf("Expected the probe to proceed without a proxy, got %s", result.DetectStatus.Text())
	}
	if result.UsedProxy != "" {
		t.Errorf("Expected no used proxy recorded, got %q", result.UsedProxy)
	}
	if len(alloc.updates) != 0 {
		t.Errorf("Expected no stats update without an allocated node, got %v", alloc.updates)
	}
}

func TestExecute_ProxyDisabledSkipsAllocation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0"}`))
	}))
	defer ts.Close()

	alloc := &stubAllocator{node: &model.ProxyNode{ID: 1}}
	tpl := baseTemplate(ts.URL)
	tpl.EnableProxy = false
	exec, _ := setupExecutor(t, tpl, alloc)

	exec.Execute(context.Background(), 100, 1, 5, "alice")
	if alloc.allocs != 0 {
		t.Errorf("Expected no allocation when the template disables proxying, got %d", alloc.allocs)
	}
}
