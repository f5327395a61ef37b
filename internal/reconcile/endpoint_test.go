package reconcile

import (
	"context"
	"testing"

	v1alpha1 "github.com/solanyn/modal-operator/internal/apis/modaloperator/v1alpha1"
	"github.com/solanyn/modal-operator/internal/remotebackend"
)

func TestEndpointReconcilerDeploySuccess(t *testing.T) {
	store := newFakeEndpointStore()
	services := newFakeServiceManager()
	r := &EndpointReconciler{Backend: remotebackend.NewMockClient(), Store: store, Services: services}

	spec := v1alpha1.ModalEndpointSpec{
		Image:       "python:3.11-slim",
		Command:     []string{"python", "serve.py"},
		CPU:         "1",
		Memory:      "2Gi",
		MinReplicas: 1,
		MaxReplicas: 3,
	}
	if err := r.Reconcile(context.Background(), "default", "infer", spec, EventCreate); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	status := store.get("default", "infer")
	if status.Phase != v1alpha1.EndpointReady {
		t.Fatalf("phase = %q, want Ready", status.Phase)
	}
	if status.EndpointURL == "" {
		t.Fatal("expected an endpoint url")
	}
	if _, ok := services.ensured["default/infer"]; !ok {
		t.Fatal("expected an ExternalName service to be ensured")
	}
}

func TestEndpointReconcilerCleansUpOrphanBeforeDeploy(t *testing.T) {
	store := newFakeEndpointStore()
	services := newFakeServiceManager()
	backend := remotebackend.NewMockClient()
	r := &EndpointReconciler{Backend: backend, Store: store, Services: services}

	spec := v1alpha1.ModalEndpointSpec{Image: "x", CPU: "100m", Memory: "1Gi", MinReplicas: 1, MaxReplicas: 1}

	if err := r.Reconcile(context.Background(), "default", "infer", spec, EventCreate); err != nil {
		t.Fatalf("Reconcile first deploy: %v", err)
	}
	firstStatus := store.get("default", "infer")

	if err := r.Reconcile(context.Background(), "default", "infer", spec, EventCreate); err != nil {
		t.Fatalf("Reconcile redeploy: %v", err)
	}
	secondStatus := store.get("default", "infer")

	if firstStatus.RemoteAppID == "" || secondStatus.RemoteAppID == "" {
		t.Fatal("expected both deploys to produce a remote app id")
	}

	apps, err := backend.ListDeployedApps(context.Background())
	if err != nil {
		t.Fatalf("ListDeployedApps: %v", err)
	}
	count := 0
	for _, app := range apps {
		if app.Name == "infer-endpoint" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one surviving infer-endpoint app after orphan cleanup, got %d", count)
	}
}

func TestEndpointReconcilerTranslationFailurePatchesFailedCondition(t *testing.T) {
	store := newFakeEndpointStore()
	services := newFakeServiceManager()
	r := &EndpointReconciler{Backend: remotebackend.NewMockClient(), Store: store, Services: services}

	spec := v1alpha1.ModalEndpointSpec{Image: "x", CPU: "1", Memory: "not-a-memory-value"}
	if err := r.Reconcile(context.Background(), "default", "bad-endpoint", spec, EventCreate); err == nil {
		t.Fatal("expected a translation error")
	}

	status := store.get("default", "bad-endpoint")
	if status.Phase != v1alpha1.EndpointFailed {
		t.Fatalf("phase = %q, want Failed", status.Phase)
	}
}

func TestEndpointReconcilerDeleteRemovesAppAndService(t *testing.T) {
	store := newFakeEndpointStore()
	services := newFakeServiceManager()
	backend := remotebackend.NewMockClient()
	r := &EndpointReconciler{Backend: backend, Store: store, Services: services}

	spec := v1alpha1.ModalEndpointSpec{Image: "x", CPU: "100m", Memory: "1Gi", MinReplicas: 1, MaxReplicas: 1}
	if err := r.Reconcile(context.Background(), "default", "infer", spec, EventCreate); err != nil {
		t.Fatalf("Reconcile create: %v", err)
	}
	if err := r.Reconcile(context.Background(), "default", "infer", spec, EventDelete); err != nil {
		t.Fatalf("Reconcile delete: %v", err)
	}

	apps, err := backend.ListDeployedApps(context.Background())
	if err != nil {
		t.Fatalf("ListDeployedApps: %v", err)
	}
	for _, app := range apps {
		if app.Name == "infer-endpoint" {
			t.Fatalf("expected infer-endpoint to be removed, still present: %+v", app)
		}
	}
	if !services.deleted["default/infer"] {
		t.Fatal("expected ExternalName service to be deleted")
	}
}
