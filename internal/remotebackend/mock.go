package remotebackend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/solanyn/modal-operator/internal/operrors"
)

// MockClient returns deterministic synthetic responses and never
// performs I/O. It is the default client in test environments and
// whenever no credential pair is configured.
type MockClient struct {
	mu       sync.Mutex
	apps     map[string]*mockApp
	registry map[string][]RegistryEntry
}

type mockApp struct {
	name   string
	result AppResult
	phase  string
}

func NewMockClient() *MockClient {
	return &MockClient{
		apps:     map[string]*mockApp{},
		registry: map[string][]RegistryEntry{},
	}
}

func (m *MockClient) CreateJob(_ context.Context, spec JobSpec) (AppResult, error) {
	return m.create(spec.Name, "Running")
}

func (m *MockClient) CreateFunction(_ context.Context, spec FunctionSpec) (AppResult, error) {
	res, err := m.create(spec.Name, "Deployed")
	if err != nil {
		return AppResult{}, err
	}
	res.URL = fmt.Sprintf("https://func-%s.modal.run", spec.Name)
	m.mu.Lock()
	m.apps[res.AppID].result = res
	m.mu.Unlock()
	return res, nil
}

func (m *MockClient) CreateEndpoint(_ context.Context, spec EndpointSpec) (AppResult, error) {
	res, err := m.create(spec.Name, "Ready")
	if err != nil {
		return AppResult{}, err
	}
	res.URL = fmt.Sprintf("https://%s.modal.run", spec.Name)
	m.mu.Lock()
	m.apps[res.AppID].result = res
	m.mu.Unlock()
	return res, nil
}

func (m *MockClient) create(name, phase string) (AppResult, error) {
	appID := "mock-app-" + name
	res := AppResult{AppID: appID, FunctionID: "mock-fn-" + name}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[appID] = &mockApp{name: name, result: res, phase: phase}
	return res, nil
}

func (m *MockClient) GetAppStatus(_ context.Context, appID string) (AppStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[appID]
	if !ok {
		return AppStatus{}, operrors.NotFound(fmt.Errorf("mock app %s not found", appID))
	}
	return AppStatus{AppID: appID, Phase: app.phase, ReadyReplicas: 1}, nil
}

func (m *MockClient) CancelJob(_ context.Context, appID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[appID]
	if !ok {
		return operrors.NotFound(fmt.Errorf("mock app %s not found", appID))
	}
	app.phase = "Failed"
	return nil
}

func (m *MockClient) DeleteApp(_ context.Context, appID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[appID]; !ok {
		return operrors.NotFound(fmt.Errorf("mock app %s not found", appID))
	}
	delete(m.apps, appID)
	return nil
}

func (m *MockClient) ListDeployedApps(_ context.Context) ([]DeployedApp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeployedApp, 0, len(m.apps))
	for id, app := range m.apps {
		out = append(out, DeployedApp{Name: app.name, AppID: id})
	}
	return out, nil
}

// StreamAppLogs returns a small deterministic burst of synthetic log
// lines and then closes the channel, mirroring a short-lived mock
// stream rather than a real, indefinite one.
func (m *MockClient) StreamAppLogs(ctx context.Context, appID string) (<-chan LogLine, error) {
	m.mu.Lock()
	_, ok := m.apps[appID]
	m.mu.Unlock()
	if !ok {
		return nil, operrors.NotFound(fmt.Errorf("mock app %s not found", appID))
	}

	out := make(chan LogLine, 2)
	out <- LogLine{Message: "mock: app started"}
	out <- LogLine{Message: "mock: app completed"}
	close(out)
	return out, nil
}

func (m *MockClient) PutRegistryEntry(_ context.Context, entry RegistryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[entry.Key] = append(m.registry[entry.Key], entry)
	return nil
}

func (m *MockClient) GetRegistryEntries(_ context.Context, jobName string) ([]RegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RegistryEntry
	for key, entries := range m.registry {
		if strings.HasPrefix(key, jobName+"-replica-") {
			out = append(out, entries...)
		}
	}
	return out, nil
}
