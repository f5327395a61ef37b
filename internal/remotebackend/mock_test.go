package remotebackend

import (
	"context"
	"testing"

	"github.com/solanyn/modal-operator/internal/operrors"
)

func TestMockClientCreateJobDeterministic(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	res, err := m.CreateJob(ctx, JobSpec{Name: "train-1"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if res.AppID != "mock-app-train-1" {
		t.Errorf("AppID = %q, want mock-app-train-1", res.AppID)
	}

	status, err := m.GetAppStatus(ctx, res.AppID)
	if err != nil {
		t.Fatalf("GetAppStatus: %v", err)
	}
	if status.Phase != "Running" {
		t.Errorf("Phase = %q, want Running", status.Phase)
	}
}

func TestMockClientDeleteThenNotFound(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	res, _ := m.CreateJob(ctx, JobSpec{Name: "job-a"})
	if err := m.DeleteApp(ctx, res.AppID); err != nil {
		t.Fatalf("DeleteApp: %v", err)
	}
	_, err := m.GetAppStatus(ctx, res.AppID)
	if !operrors.IsKind(err, operrors.KindNotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
}

func TestMockClientRegistryRoundTrip(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	if err := m.PutRegistryEntry(ctx, RegistryEntry{Key: "train-replica-0", Address: "10.0.0.1:1234"}); err != nil {
		t.Fatalf("PutRegistryEntry: %v", err)
	}
	if err := m.PutRegistryEntry(ctx, RegistryEntry{Key: "train-replica-1", Address: "10.0.0.2:1234"}); err != nil {
		t.Fatalf("PutRegistryEntry: %v", err)
	}

	entries, err := m.GetRegistryEntries(ctx, "train")
	if err != nil {
		t.Fatalf("GetRegistryEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}

func TestMockClientListDeployedAppsReturnsLogicalName(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	if _, err := m.CreateEndpoint(ctx, EndpointSpec{Name: "infer-endpoint"}); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	apps, err := m.ListDeployedApps(ctx)
	if err != nil {
		t.Fatalf("ListDeployedApps: %v", err)
	}
	if len(apps) != 1 || apps[0].Name != "infer-endpoint" {
		t.Fatalf("apps = %+v, want one app named infer-endpoint", apps)
	}
	if apps[0].AppID != "mock-app-infer-endpoint" {
		t.Fatalf("AppID = %q, want mock-app-infer-endpoint", apps[0].AppID)
	}
}

func TestNewClientDefaultsToMock(t *testing.T) {
	c, err := NewClient(BackendMock)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := c.(*MockClient); !ok {
		t.Errorf("got %T, want *MockClient", c)
	}
}

func TestNewClientAutoWithoutCredentialsFallsBackToMock(t *testing.T) {
	c, err := NewClient(BackendAuto)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := c.(*MockClient); !ok {
		t.Errorf("got %T, want *MockClient (no credentials configured)", c)
	}
}

func TestNewClientRealRequiresCredentials(t *testing.T) {
	_, err := NewClient(BackendReal)
	if !operrors.IsKind(err, operrors.KindCredentialMissing) {
		t.Errorf("got %v, want CredentialMissing", err)
	}
}
