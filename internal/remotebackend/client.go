// Package remotebackend is a thin, typed façade over the remote
// serverless GPU execution service's app/function/endpoint
// primitives. It is deliberately narrow: the reconcilers, the status
// synchronizer and the log streamer talk to the backend only through
// this interface.
package remotebackend

import (
	"context"

	"github.com/solanyn/modal-operator/internal/operrors"
)

// JobSpec is the translated shape of a batch workload submitted to
// the backend.
type JobSpec struct {
	Name           string
	Image          string
	Command        []string
	Args           []string
	CPU            string
	MemoryMiB      int64
	GPUType        string
	GPUCount       int
	Env            map[string]string
	TimeoutSeconds int
	Retries        int
	// Rank/WorldSize are set for a distributed submission (replicas>1);
	// zero-valued WorldSize means this is not a distributed call.
	Rank      int
	WorldSize int
}

// FunctionSpec is the translated shape of a callable short-lived
// handler.
type FunctionSpec struct {
	Name           string
	Image          string
	Handler        string
	CPU            string
	MemoryMiB      int64
	GPUType        string
	GPUCount       int
	Env            map[string]string
	TimeoutSeconds int
	Concurrency    int
}

// EndpointSpec is the translated shape of a long-lived HTTP service.
type EndpointSpec struct {
	Name           string
	Image          string
	Command        []string
	Args           []string
	CPU            string
	MemoryMiB      int64
	GPUType        string
	GPUCount       int
	Env            map[string]string
	TimeoutSeconds int
	MinReplicas    int
	MaxReplicas    int
}

// AppResult is the success record returned by a create call.
type AppResult struct {
	AppID      string
	FunctionID string
	URL        string
	TunnelURL  string
}

// AppStatus describes the backend-observed state of an app.
type AppStatus struct {
	AppID         string
	Phase         string // Pending, Running, Deployed, Ready, Succeeded, Failed
	ExitCode      int
	Reason        string
	Message       string
	ReadyReplicas int
}

// DeployedApp is a summary entry returned by ListDeployedApps, used
// by the Endpoint reconciler's orphan scan.
type DeployedApp struct {
	Name  string
	AppID string
}

// LogLine is one line of the backend's app log stream.
type LogLine struct {
	Timestamp string
	Message   string
}

// RegistryEntry is one row of the cluster registry used for
// distributed-job coordination: a key-value store keyed by
// "<jobName>-replica-<rank>" holding per-replica network addresses.
type RegistryEntry struct {
	Key     string
	Address string
}

// Client is the narrow capability set every reconciler, the status
// synchronizer, and the log streamer depend on. Two implementations exist: RealClient
// (wire protocol) and MockClient (deterministic, I/O-free).
type Client interface {
	CreateJob(ctx context.Context, spec JobSpec) (AppResult, error)
	CreateFunction(ctx context.Context, spec FunctionSpec) (AppResult, error)
	CreateEndpoint(ctx context.Context, spec EndpointSpec) (AppResult, error)
	GetAppStatus(ctx context.Context, appID string) (AppStatus, error)
	CancelJob(ctx context.Context, appID string) error
	DeleteApp(ctx context.Context, appID string) error
	ListDeployedApps(ctx context.Context) ([]DeployedApp, error)
	StreamAppLogs(ctx context.Context, appID string) (<-chan LogLine, error)

	// PutRegistryEntry and GetRegistryEntries expose the cluster
	// registry's network-coordinate store for distributed jobs.
	PutRegistryEntry(ctx context.Context, entry RegistryEntry) error
	GetRegistryEntries(ctx context.Context, jobName string) ([]RegistryEntry, error)
}

// Backend selects which Client implementation NewClient constructs.
type Backend string

const (
	BackendMock Backend = "mock"
	BackendReal Backend = "real"
	BackendAuto Backend = "auto"
)

// NewClient builds a Client for the named backend. "auto" resolves to
// "mock" unless MODAL_TOKEN_ID/MODAL_TOKEN_SECRET are loadable, mirroring
// the "mock is the default in test environments" rule.
func NewClient(backend Backend, opts ...Option) (Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	switch backend {
	case BackendMock, "":
		return NewMockClient(), nil
	case BackendReal:
		return NewRealClient(cfg)
	case BackendAuto:
		if cfg.pair.TokenID != "" && cfg.pair.TokenSecret != "" {
			return NewRealClient(cfg)
		}
		return NewMockClient(), nil
	default:
		return nil, operrors.BackendUnavailable(errUnsupportedBackend(backend))
	}
}

func errUnsupportedBackend(b Backend) error {
	return &unsupportedBackendError{backend: b}
}

type unsupportedBackendError struct{ backend Backend }

func (e *unsupportedBackendError) Error() string {
	return "unsupported remote backend: " + string(e.backend)
}
