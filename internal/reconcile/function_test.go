package reconcile

import (
	"context"
	"testing"

	v1alpha1 "github.com/solanyn/modal-operator/internal/apis/modaloperator/v1alpha1"
	"github.com/solanyn/modal-operator/internal/remotebackend"
)

func TestFunctionReconcilerDeploySuccess(t *testing.T) {
	store := newFakeFunctionStore()
	services := newFakeServiceManager()
	r := &FunctionReconciler{Backend: remotebackend.NewMockClient(), Store: store, Services: services}

	spec := v1alpha1.ModalFunctionSpec{
		Image:   "python:3.11-slim",
		Handler: "handler.predict",
		CPU:     "500m",
		Memory:  "1Gi",
	}
	if err := r.Reconcile(context.Background(), "default", "predict-fn", spec, EventCreate); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	status := store.get("default", "predict-fn")
	if status.Phase != v1alpha1.FunctionDeployed {
		t.Fatalf("phase = %q, want Deployed", status.Phase)
	}
	if status.FunctionURL == "" {
		t.Fatal("expected a function url")
	}
	if _, ok := services.ensured["default/predict-fn"]; !ok {
		t.Fatal("expected an ExternalName service to be ensured")
	}
}

func TestFunctionReconcilerTranslationFailurePatchesFailedCondition(t *testing.T) {
	store := newFakeFunctionStore()
	services := newFakeServiceManager()
	r := &FunctionReconciler{Backend: remotebackend.NewMockClient(), Store: store, Services: services}

	spec := v1alpha1.ModalFunctionSpec{Image: "x", CPU: "bogus-cpu", Memory: "1Gi"}
	if err := r.Reconcile(context.Background(), "default", "bad-fn", spec, EventCreate); err == nil {
		t.Fatal("expected a translation error")
	}

	status := store.get("default", "bad-fn")
	if status.Phase != v1alpha1.FunctionFailed {
		t.Fatalf("phase = %q, want Failed", status.Phase)
	}
	if len(status.Conditions) == 0 || status.Conditions[0].Status != "False" {
		t.Fatalf("conditions = %+v, want a False Ready condition", status.Conditions)
	}
}

func TestFunctionReconcilerDeleteRemovesAppAndService(t *testing.T) {
	store := newFakeFunctionStore()
	services := newFakeServiceManager()
	backend := remotebackend.NewMockClient()
	r := &FunctionReconciler{Backend: backend, Store: store, Services: services}

	spec := v1alpha1.ModalFunctionSpec{Image: "x", Handler: "h", CPU: "100m", Memory: "1Gi"}
	if err := r.Reconcile(context.Background(), "default", "to-delete-fn", spec, EventCreate); err != nil {
		t.Fatalf("Reconcile create: %v", err)
	}
	if err := r.Reconcile(context.Background(), "default", "to-delete-fn", spec, EventDelete); err != nil {
		t.Fatalf("Reconcile delete: %v", err)
	}

	apps, err := backend.ListDeployedApps(context.Background())
	if err != nil {
		t.Fatalf("ListDeployedApps: %v", err)
	}
	for _, app := range apps {
		if app.Name == "to-delete-fn" {
			t.Fatalf("expected app to-delete-fn to be removed, still present: %+v", app)
		}
	}
	if !services.deleted["default/to-delete-fn"] {
		t.Fatal("expected ExternalName service to be deleted")
	}
}
