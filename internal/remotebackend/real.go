package remotebackend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/solanyn/modal-operator/internal/operrors"
)

// RealClient wraps the remote backend's HTTP/JSON wire protocol. No
// generated SDK exists for this private API surface, so calls are
// built by hand against documented-but-opaque endpoints.
type RealClient struct {
	cfg        *Config
	httpClient *http.Client
}

func NewRealClient(cfg *Config) (*RealClient, error) {
	if cfg.pair.TokenID == "" || cfg.pair.TokenSecret == "" {
		return nil, operrors.CredentialMissing(fmt.Errorf("remote backend requires a credential pair"))
	}
	return &RealClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.timeout},
	}, nil
}

func (c *RealClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return operrors.BackendUnavailable(fmt.Errorf("encode request: %w", err))
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.baseURL+path, &buf)
	if err != nil {
		return operrors.BackendUnavailable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", c.cfg.pair.Bearer())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return operrors.BackendUnavailable(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return operrors.NotFound(fmt.Errorf("%s %s: not found", method, path))
	}
	if resp.StatusCode >= 500 {
		return operrors.BackendUnavailable(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return operrors.BackendUnavailable(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return operrors.BackendUnavailable(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func (c *RealClient) CreateJob(ctx context.Context, spec JobSpec) (AppResult, error) {
	var out AppResult
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", spec, &out); err != nil {
		return AppResult{}, err
	}
	return out, nil
}

func (c *RealClient) CreateFunction(ctx context.Context, spec FunctionSpec) (AppResult, error) {
	var out AppResult
	if err := c.do(ctx, http.MethodPost, "/v1/functions", spec, &out); err != nil {
		return AppResult{}, err
	}
	return out, nil
}

func (c *RealClient) CreateEndpoint(ctx context.Context, spec EndpointSpec) (AppResult, error) {
	var out AppResult
	if err := c.do(ctx, http.MethodPost, "/v1/endpoints", spec, &out); err != nil {
		return AppResult{}, err
	}
	return out, nil
}

func (c *RealClient) GetAppStatus(ctx context.Context, appID string) (AppStatus, error) {
	var out AppStatus
	if err := c.do(ctx, http.MethodGet, "/v1/apps/"+appID+"/status", nil, &out); err != nil {
		return AppStatus{}, err
	}
	return out, nil
}

func (c *RealClient) CancelJob(ctx context.Context, appID string) error {
	return c.do(ctx, http.MethodPost, "/v1/apps/"+appID+"/cancel", nil, nil)
}

func (c *RealClient) DeleteApp(ctx context.Context, appID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/apps/"+appID, nil, nil)
}

func (c *RealClient) ListDeployedApps(ctx context.Context) ([]DeployedApp, error) {
	var out []DeployedApp
	if err := c.do(ctx, http.MethodGet, "/v1/apps", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamAppLogs opens the backend's log stream for appID and decodes
// it as newline-delimited JSON lines, forwarding each onto the
// returned channel. The channel is closed when the stream ends or
// the context is cancelled.
func (c *RealClient) StreamAppLogs(ctx context.Context, appID string) (<-chan LogLine, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.baseURL+"/v1/apps/"+appID+"/logs", nil)
	if err != nil {
		return nil, operrors.BackendUnavailable(fmt.Errorf("build log stream request: %w", err))
	}
	req.Header.Set("Authorization", c.cfg.pair.Bearer())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, operrors.BackendUnavailable(fmt.Errorf("log stream: %w", err))
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, operrors.NotFound(fmt.Errorf("app %s not found", appID))
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, operrors.BackendUnavailable(fmt.Errorf("log stream: status %d", resp.StatusCode))
	}

	out := make(chan LogLine)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			var line LogLine
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				line = LogLine{Message: scanner.Text()}
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *RealClient) PutRegistryEntry(ctx context.Context, entry RegistryEntry) error {
	return c.do(ctx, http.MethodPut, "/v1/registry/"+entry.Key, entry, nil)
}

func (c *RealClient) GetRegistryEntries(ctx context.Context, jobName string) ([]RegistryEntry, error) {
	var out []RegistryEntry
	if err := c.do(ctx, http.MethodGet, "/v1/registry?job="+jobName, nil, &out); err != nil {
		// Readers must tolerate missing or stale entries: the registry's
		// consistency model is external to this client.
		if operrors.IsKind(err, operrors.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}
