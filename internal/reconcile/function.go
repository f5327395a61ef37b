package reconcile

import (
	"context"

	"github.com/catalystcommunity/app-utils-go/logging"

	v1alpha1 "github.com/solanyn/modal-operator/internal/apis/modaloperator/v1alpha1"
	"github.com/solanyn/modal-operator/internal/metrics"
	"github.com/solanyn/modal-operator/internal/operrors"
	"github.com/solanyn/modal-operator/internal/remotebackend"
	"github.com/solanyn/modal-operator/internal/translate"
)

// FunctionReconciler deploys a ModalFunction and stores its
// functionUrl. On delete, removes the remote app and the associated
// ExternalName Service (404 tolerated on both).
type FunctionReconciler struct {
	Backend  remotebackend.Client
	Store    FunctionStore
	Services ServiceManager
}

func (r *FunctionReconciler) Reconcile(ctx context.Context, namespace, name string, spec v1alpha1.ModalFunctionSpec, event EventType) error {
	log := logging.Log.WithField("function", name).WithField("namespace", namespace)

	switch event {
	case EventUpdate:
		log.Info("modalfunction update observed; no mutable fields, logging only")
		return nil
	case EventDelete:
		return r.reconcileDelete(ctx, namespace, name)
	}

	cpu, err := translate.ParseCPU(spec.CPU)
	if err != nil {
		return r.fail(ctx, namespace, name, err)
	}
	memoryMiB, err := translate.ParseMemory(spec.Memory)
	if err != nil {
		return r.fail(ctx, namespace, name, err)
	}
	var gpuType string
	var gpuCount int
	if spec.GPU != "" {
		gpuType, gpuCount, err = translate.ParseGPU(spec.GPU)
		if err != nil {
			return r.fail(ctx, namespace, name, err)
		}
	}

	result, err := r.Backend.CreateFunction(ctx, remotebackend.FunctionSpec{
		Name:           name,
		Image:          spec.Image,
		Handler:        spec.Handler,
		CPU:            cpu,
		MemoryMiB:      memoryMiB,
		GPUType:        gpuType,
		GPUCount:       gpuCount,
		Env:            spec.Env,
		TimeoutSeconds: spec.TimeoutSeconds,
		Concurrency:    spec.Concurrency,
	})
	if err != nil {
		return r.fail(ctx, namespace, name, err)
	}

	if err := r.Services.EnsureExternalName(ctx, namespace, name, hostOf(result.URL)); err != nil {
		log.WithError(err).Warn("failed to ensure externalname service for function")
	}

	metrics.RecordJobEvent("created", gpuType, 1)
	status := v1alpha1.ModalFunctionStatus{
		Phase:       v1alpha1.FunctionDeployed,
		RemoteAppID: result.AppID,
		FunctionURL: result.URL,
		Conditions:  []v1alpha1.Condition{condition("Ready", "True", "FunctionDeployed", "function deployed to remote backend")},
	}
	if err := r.Store.UpdateFunctionStatus(ctx, namespace, name, status); err != nil {
		return operrors.StatusUpdateFailed(err)
	}
	return nil
}

func (r *FunctionReconciler) reconcileDelete(ctx context.Context, namespace, name string) error {
	apps, err := r.Backend.ListDeployedApps(ctx)
	if err == nil {
		for _, app := range apps {
			if app.Name == name {
				if err := r.Backend.DeleteApp(ctx, app.AppID); err != nil && !operrors.IsKind(err, operrors.KindNotFound) {
					logging.Log.WithError(err).WithField("function", name).Warn("failed to delete remote function app")
				}
			}
		}
	}
	if err := r.Services.DeleteExternalName(ctx, namespace, name); err != nil {
		logging.Log.WithError(err).WithField("function", name).Warn("failed to delete externalname service")
	}
	return nil
}

func (r *FunctionReconciler) fail(ctx context.Context, namespace, name string, err error) error {
	reason := operrors.ReasonFor(err)
	metrics.RecordError(reason, "reconcile.function")
	status := v1alpha1.ModalFunctionStatus{
		Phase:      v1alpha1.FunctionFailed,
		Conditions: []v1alpha1.Condition{condition("Ready", "False", reason, err.Error())},
	}
	if updateErr := r.Store.UpdateFunctionStatus(ctx, namespace, name, status); updateErr != nil {
		logging.Log.WithError(updateErr).WithField("function", name).Error("failed to patch failure status")
	}
	return err
}
