package reconcile

import (
	"fmt"
	"strings"

	"context"

	"github.com/catalystcommunity/app-utils-go/logging"

	v1alpha1 "github.com/solanyn/modal-operator/internal/apis/modaloperator/v1alpha1"
	"github.com/solanyn/modal-operator/internal/metrics"
	"github.com/solanyn/modal-operator/internal/operrors"
	"github.com/solanyn/modal-operator/internal/remotebackend"
	"github.com/solanyn/modal-operator/internal/translate"
)

// EndpointReconciler deploys a ModalEndpoint persistently, so the
// deployment survives reconciler restarts. Before deploying, it
// cleans up any orphaned prior deployment under the conventional
// "<cr>-endpoint" name.
type EndpointReconciler struct {
	Backend  remotebackend.Client
	Store    EndpointStore
	Services ServiceManager
}

func (r *EndpointReconciler) Reconcile(ctx context.Context, namespace, name string, spec v1alpha1.ModalEndpointSpec, event EventType) error {
	log := logging.Log.WithField("endpoint", name).WithField("namespace", namespace)

	switch event {
	case EventUpdate:
		log.Info("modalendpoint update observed; no mutable fields, logging only")
		return nil
	case EventDelete:
		return r.reconcileDelete(ctx, namespace, name)
	}

	if err := r.cleanupOrphan(ctx, name); err != nil {
		log.WithError(err).Warn("orphan cleanup before endpoint deploy failed, proceeding anyway")
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

	result, err := r.Backend.CreateEndpoint(ctx, remotebackend.EndpointSpec{
		Name:           endpointAppName(name),
		Image:          spec.Image,
		Command:        spec.Command,
		Args:           spec.Args,
		CPU:            cpu,
		MemoryMiB:      memoryMiB,
		GPUType:        gpuType,
		GPUCount:       gpuCount,
		Env:            spec.Env,
		TimeoutSeconds: spec.TimeoutSeconds,
		MinReplicas:    spec.MinReplicas,
		MaxReplicas:    spec.MaxReplicas,
	})
	if err != nil {
		return r.fail(ctx, namespace, name, err)
	}

	if err := r.Services.EnsureExternalName(ctx, namespace, name, hostOf(result.URL)); err != nil {
		log.WithError(err).Warn("failed to ensure externalname service for endpoint")
	}

	metrics.RecordJobEvent("created", gpuType, spec.MaxReplicas)
	status := v1alpha1.ModalEndpointStatus{
		Phase:       v1alpha1.EndpointReady,
		RemoteAppID: result.AppID,
		EndpointURL: result.URL,
		Conditions:  []v1alpha1.Condition{condition("Ready", "True", "EndpointDeployed", "endpoint deployed to remote backend")},
	}
	if err := r.Store.UpdateEndpointStatus(ctx, namespace, name, status); err != nil {
		return operrors.StatusUpdateFailed(err)
	}
	return nil
}

// cleanupOrphan stops any prior deployment whose name matches
// "<cr>-endpoint" before deploying a fresh one.
func (r *EndpointReconciler) cleanupOrphan(ctx context.Context, name string) error {
	apps, err := r.Backend.ListDeployedApps(ctx)
	if err != nil {
		return err
	}
	target := endpointAppName(name)
	for _, app := range apps {
		if app.Name == target {
			if err := r.Backend.DeleteApp(ctx, app.AppID); err != nil && !operrors.IsKind(err, operrors.KindNotFound) {
				return err
			}
		}
	}
	return nil
}

func (r *EndpointReconciler) reconcileDelete(ctx context.Context, namespace, name string) error {
	apps, err := r.Backend.ListDeployedApps(ctx)
	if err == nil {
		target := endpointAppName(name)
		for _, app := range apps {
			if app.Name == target {
				if err := r.Backend.DeleteApp(ctx, app.AppID); err != nil && !operrors.IsKind(err, operrors.KindNotFound) {
					logging.Log.WithError(err).WithField("endpoint", name).Warn("failed to delete remote endpoint app")
				}
			}
		}
	}
	if err := r.Services.DeleteExternalName(ctx, namespace, name); err != nil {
		logging.Log.WithError(err).WithField("endpoint", name).Warn("failed to delete externalname service")
	}
	return nil
}

func (r *EndpointReconciler) fail(ctx context.Context, namespace, name string, err error) error {
	reason := operrors.ReasonFor(err)
	metrics.RecordError(reason, "reconcile.endpoint")
	status := v1alpha1.ModalEndpointStatus{
		Phase:      v1alpha1.EndpointFailed,
		Conditions: []v1alpha1.Condition{condition("Ready", "False", reason, err.Error())},
	}
	if updateErr := r.Store.UpdateEndpointStatus(ctx, namespace, name, status); updateErr != nil {
		logging.Log.WithError(updateErr).WithField("endpoint", name).Error("failed to patch failure status")
	}
	return err
}

func endpointAppName(crName string) string {
	return fmt.Sprintf("%s-endpoint", crName)
}

// hostOf strips the scheme from a URL so it can be used as an
// ExternalName Service's target host.
func hostOf(url string) string {
	host := strings.TrimPrefix(url, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}
