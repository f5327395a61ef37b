package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/solanyn/modal-operator/internal/credentials"
)

type stubResolver struct {
	urls map[string]string
}

func (s stubResolver) ResolveFunctionURL(ctx context.Context, name string) (string, bool, error) {
	url, ok := s.urls[name]
	return url, ok, nil
}

func newTestCredentials(t *testing.T) *credentials.Loader {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "MODAL_TOKEN_ID"), []byte("op-token-id"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "MODAL_TOKEN_SECRET"), []byte("op-token-secret"), 0o600); err != nil {
		t.Fatal(err)
	}
	loader, err := credentials.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	t.Cleanup(func() { loader.Close() })
	return loader
}

// TestGatewayFunctionCallInjectsOperatorCredentials reproduces the
// gateway credential-injection scenario: the inbound Authorization
// header is discarded, the upstream sees the operator's token pair,
// and the wrapped response carries status/function/result.
func TestGatewayFunctionCallInjectsOperatorCredentials(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"answer": 42})
	}))
	defer upstream.Close()

	gw := New(Config{
		Resolver:    stubResolver{urls: map[string]string{"foo": upstream.URL}},
		Credentials: newTestCredentials(t),
	})

	req := httptest.NewRequest(http.MethodPost, "/modal-function/foo", strings.NewReader(`{"x":1}`))
	req.Header.Set("Authorization", "Bearer user-token")
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if gotAuth == "Bearer user-token" || !strings.Contains(gotAuth, "op-token-id:op-token-secret") {
		t.Fatalf("upstream authorization = %q, want operator pair substituted", gotAuth)
	}
	if gotBody["x"] != float64(1) {
		t.Fatalf("upstream body = %v, want x=1", gotBody)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "success" || resp["function"] != "foo" {
		t.Fatalf("response = %v, want status=success function=foo", resp)
	}
	result, ok := resp["result"].(map[string]interface{})
	if !ok || result["answer"] != float64(42) {
		t.Fatalf("result = %v, want answer=42", resp["result"])
	}
}

func TestGatewayFunctionCallNotFound(t *testing.T) {
	gw := New(Config{
		Resolver:    stubResolver{urls: map[string]string{}},
		Credentials: newTestCredentials(t),
	})

	req := httptest.NewRequest(http.MethodPost, "/modal-function/missing", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGatewayCatchallForwardsToBackend(t *testing.T) {
	var gotPath, gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	gw := New(Config{
		Resolver:       stubResolver{},
		Credentials:    newTestCredentials(t),
		BackendBaseURL: upstream.URL,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/apps/123", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	req.Header.Set("Connection", "keep-alive")
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if gotPath != "/v1/apps/123" {
		t.Fatalf("upstream path = %q, want /v1/apps/123", gotPath)
	}
	if !strings.Contains(gotAuth, "op-token-id") {
		t.Fatalf("upstream authorization = %q, want operator pair", gotAuth)
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418 passed through from upstream", rec.Code)
	}
}

// TestGatewayClusterProxyForwardsWithoutCredentialInjection exercises
// the reverse, cluster-bound traffic direction (a Modal-side workload
// reaching a cluster service): unlike the
// Modal-facing routes, it must NOT substitute the operator's
// credential pair, since it's relaying into the cluster, not calling
// the remote backend.
func TestGatewayClusterProxyForwardsWithoutCredentialInjection(t *testing.T) {
	var gotPath, gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("cluster-service-response"))
	}))
	defer upstream.Close()

	host, port, err := net.SplitHostPort(strings.TrimPrefix(upstream.URL, "http://"))
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}

	gw := New(Config{Resolver: stubResolver{}, Credentials: newTestCredentials(t)})

	req := httptest.NewRequest(http.MethodGet, "/proxy/"+host+"/"+port+"/v1/status", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if gotPath != "/v1/status" {
		t.Fatalf("upstream path = %q, want /v1/status", gotPath)
	}
	if gotAuth != "Bearer user-token" {
		t.Fatalf("upstream authorization = %q, want the inbound header passed through unmodified", gotAuth)
	}
	if rec.Body.String() != "cluster-service-response" {
		t.Fatalf("body = %q, want cluster-service-response", rec.Body.String())
	}
}

func TestResolveClusterDNS(t *testing.T) {
	gw := New(Config{Namespace: "workloads"})

	tests := []struct {
		service string
		want    string
	}{
		{"myservice", "myservice.workloads.svc.cluster.local"},
		{"myservice.other-ns", "myservice.other-ns.svc.cluster.local"},
		{"myservice.other-ns.svc.cluster.local", "myservice.other-ns.svc.cluster.local"},
		{"127.0.0.1", "127.0.0.1"},
	}
	for _, tt := range tests {
		if got := gw.resolveClusterDNS(tt.service); got != tt.want {
			t.Errorf("resolveClusterDNS(%q) = %q, want %q", tt.service, got, tt.want)
		}
	}
}

func TestResolveClusterDNSDefaultsNamespaceWhenUnset(t *testing.T) {
	gw := New(Config{})
	want := "myservice.default.svc.cluster.local"
	if got := gw.resolveClusterDNS("myservice"); got != want {
		t.Errorf("resolveClusterDNS(%q) = %q, want %q", "myservice", got, want)
	}
}
