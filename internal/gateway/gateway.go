// Package gateway implements the authenticated HTTP reverse proxy
// embedded in every mutated pod's proxy container: it resolves named
// Modal functions to their remote URL and forwards arbitrary calls to
// the remote backend, always overwriting inbound credentials with the
// operator's own token pair.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/cors"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/solanyn/modal-operator/internal/credentials"
)

// hopByHopHeaders are stripped from both the inbound request and the
// upstream response before forwarding, per the proxy contract.
var hopByHopHeaders = []string{
	"Connection", "Upgrade", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Host",
}

// FunctionResolver resolves a Modal function name to its deployed
// remote URL, typically backed by a ModalFunction CR lister.
type FunctionResolver interface {
	ResolveFunctionURL(ctx context.Context, name string) (string, bool, error)
}

// Config wires the gateway's dependencies.
type Config struct {
	Resolver       FunctionResolver
	Credentials    *credentials.Loader
	BackendBaseURL string
	Client         *http.Client

	// Namespace is the pod's own namespace, used to resolve a bare
	// (dot-free) {service} on the cluster-proxy route to
	// "<service>.<Namespace>.svc.cluster.local". Defaults to "default"
	// when unset.
	Namespace string
}

// Gateway serves the reverse-proxy surface: a named function-call
// endpoint, a generic backend catchall, and a cluster-service proxy
// route for the reverse, cluster-bound traffic direction (a Modal-side
// workload reaching a service inside the cluster).
type Gateway struct {
	cfg Config
}

func New(cfg Config) *Gateway {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &Gateway{cfg: cfg}
}

// Handler returns the gateway's http.Handler, wrapped with CORS for
// browser-originated calls to the sidecar.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/modal-function/", g.handleFunctionCall)
	mux.HandleFunc("/proxy/", g.handleClusterProxy)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/", g.handleCatchall)
	return cors.Default().Handler(mux)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "modal-gateway"})
}

func (g *Gateway) handleFunctionCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/modal-function/")
	if name == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "function name required"})
		return
	}

	functionURL, found, err := g.cfg.Resolver.ResolveFunctionURL(r.Context(), name)
	if err != nil {
		logging.Log.WithError(err).WithField("function", name).Error("failed to resolve function url")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("function %s not found", name)})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	upstreamResp, err := g.forward(r.Context(), http.MethodPost, functionURL, body, r.Header)
	if err != nil {
		logging.Log.WithError(err).WithField("function", name).Error("failed to call function")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	defer upstreamResp.Body.Close()

	var result interface{}
	if err := json.NewDecoder(upstreamResp.Body).Decode(&result); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "invalid upstream response"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"function": name,
		"result":   result,
	})
}

// handleClusterProxy serves /proxy/{service}/{port}/{path...}: the
// inverse traffic direction of the outbound SOCKS5 proxy, letting a
// Modal-side workload reach back into the cluster by service name.
// Unlike the Modal-facing routes, it neither strips hop-by-hop headers
// nor substitutes the operator's credential pair — it's a plain
// intra-cluster relay, not an authenticated call to the backend.
func (g *Gateway) handleClusterProxy(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/proxy/")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected /proxy/{service}/{port}/{path}"})
		return
	}
	service := g.resolveClusterDNS(parts[0])
	port := parts[1]
	path := ""
	if len(parts) == 3 {
		path = parts[2]
	}

	target := fmt.Sprintf("http://%s:%s/%s", service, port, path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, newBodyReader(body))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	upstreamResp, err := g.cfg.Client.Do(req)
	if err != nil {
		logging.Log.WithError(err).WithField("target", target).Error("cluster proxy call failed")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   fmt.Sprintf("failed to connect to %s:%s", service, port),
			"details": err.Error(),
		})
		return
	}
	defer upstreamResp.Body.Close()

	for key, values := range upstreamResp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(upstreamResp.StatusCode)
	io.Copy(w, upstreamResp.Body)
}

// resolveClusterDNS normalizes a bare service name into a fully
// qualified cluster-DNS name the way the original tunnel proxy does:
// a dot-free name is resolved against the gateway's own namespace, a
// "service.namespace" pair just gets the ".svc.cluster.local" suffix
// appended, and an already-qualified name passes through untouched.
func (g *Gateway) resolveClusterDNS(service string) string {
	if strings.HasSuffix(service, ".svc.cluster.local") {
		return service
	}
	if !strings.Contains(service, ".") {
		namespace := g.cfg.Namespace
		if namespace == "" {
			namespace = "default"
		}
		return fmt.Sprintf("%s.%s.svc.cluster.local", service, namespace)
	}
	if strings.Count(service, ".") == 1 {
		return service + ".svc.cluster.local"
	}
	return service
}

func (g *Gateway) handleCatchall(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSuffix(g.cfg.BackendBaseURL, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	upstreamResp, err := g.forward(r.Context(), r.Method, target, body, r.Header)
	if err != nil {
		logging.Log.WithError(err).WithField("target", target).Error("catchall proxy call failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	defer upstreamResp.Body.Close()

	for key, values := range upstreamResp.Header {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(upstreamResp.StatusCode)
	io.Copy(w, upstreamResp.Body)
}

// forward issues method+target with the credential pair substituted
// for any inbound Authorization header, with hop-by-hop headers
// stripped.
func (g *Gateway) forward(ctx context.Context, method, target string, body []byte, inbound http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, newBodyReader(body))
	if err != nil {
		return nil, err
	}
	for key, values := range inbound {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	pair := g.cfg.Credentials.Current()
	req.Header.Set("Authorization", pair.Bearer())
	req.Header.Set("Content-Type", "application/json")

	return g.cfg.Client.Do(req)
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return strings.NewReader(string(body))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Log.WithError(err).Error("failed to encode gateway response")
	}
}
