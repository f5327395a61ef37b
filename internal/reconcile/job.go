package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/catalystcommunity/app-utils-go/logging"

	v1alpha1 "github.com/solanyn/modal-operator/internal/apis/modaloperator/v1alpha1"
	"github.com/solanyn/modal-operator/internal/metrics"
	"github.com/solanyn/modal-operator/internal/operrors"
	"github.com/solanyn/modal-operator/internal/remotebackend"
	"github.com/solanyn/modal-operator/internal/translate"
)

// JobReconciler drives a ModalJob to its remote-backed running state:
// translate the spec, call the backend, patch status. Replicated jobs
// fan out one remote call per rank, substituting {rank}/{worldSize}
// tokens into argv and setting RANK/WORLD_SIZE in env.
type JobReconciler struct {
	Backend remotebackend.Client
	Store   JobStore
}

// Reconcile runs a single reconcile pass to completion. Failures
// patch a Ready=False condition with reason=<ErrorKind> and do not
// requeue — per spec, CR errors here are terminal; the user deletes
// and recreates.
func (r *JobReconciler) Reconcile(ctx context.Context, namespace, name string, spec v1alpha1.ModalJobSpec, event EventType) error {
	log := logging.Log.WithField("job", name).WithField("namespace", namespace)

	switch event {
	case EventUpdate:
		log.Info("modaljob update observed; no mutable fields, logging only")
		return nil
	case EventDelete:
		return r.reconcileDelete(ctx, namespace, name, spec)
	}

	metrics.RecordJobEvent("queued", spec.GPU, spec.Replicas)

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

	env := map[string]string{}
	for k, v := range spec.Env {
		env[k] = v
	}
	distributed := spec.Replicas > 1 || spec.EnableClusterNetworking
	if distributed {
		env["TUNNEL_ENABLED"] = "true"
		env["TUNNEL_PORT"] = "8000"
	}

	metrics.RecordJobEvent("started", gpuType, spec.Replicas)

	var status v1alpha1.ModalJobStatus
	if distributed {
		status, err = r.reconcileDistributed(ctx, name, spec, cpu, memoryMiB, gpuType, gpuCount, env)
	} else {
		status, err = r.reconcileSingle(ctx, name, spec, cpu, memoryMiB, gpuType, gpuCount, env)
	}
	if err != nil {
		return r.fail(ctx, namespace, name, err)
	}

	metrics.RecordJobEvent("created", gpuType, spec.Replicas)
	status.Conditions = []v1alpha1.Condition{condition("Ready", "True", "JobCreated", "job accepted by remote backend")}
	if err := r.Store.UpdateJobStatus(ctx, namespace, name, status); err != nil {
		return operrors.StatusUpdateFailed(err)
	}
	return nil
}

func (r *JobReconciler) reconcileSingle(ctx context.Context, name string, spec v1alpha1.ModalJobSpec, cpu string, memoryMiB int64, gpuType string, gpuCount int, env map[string]string) (v1alpha1.ModalJobStatus, error) {
	result, err := r.Backend.CreateJob(ctx, remotebackend.JobSpec{
		Name:           name,
		Image:          spec.Image,
		Command:        spec.Command,
		Args:           spec.Args,
		CPU:            cpu,
		MemoryMiB:      memoryMiB,
		GPUType:        gpuType,
		GPUCount:       gpuCount,
		Env:            env,
		TimeoutSeconds: spec.TimeoutSeconds,
	})
	if err != nil {
		return v1alpha1.ModalJobStatus{}, err
	}
	return v1alpha1.ModalJobStatus{
		Phase:            v1alpha1.JobRunning,
		RemoteAppID:      result.AppID,
		RemoteFunctionID: result.FunctionID,
		TunnelURL:        result.TunnelURL,
	}, nil
}

// reconcileDistributed fans out one remote call per replica, each
// carrying rank/worldSize in env and substituted into argv, and
// records each replica's registry entry for peer discovery.
func (r *JobReconciler) reconcileDistributed(ctx context.Context, name string, spec v1alpha1.ModalJobSpec, cpu string, memoryMiB int64, gpuType string, gpuCount int, env map[string]string) (v1alpha1.ModalJobStatus, error) {
	worldSize := spec.Replicas
	if worldSize < 1 {
		worldSize = 1
	}

	results := make([]remotebackend.AppResult, worldSize)
	group, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < worldSize; rank++ {
		rank := rank
		group.Go(func() error {
			rankEnv := map[string]string{}
			for k, v := range env {
				rankEnv[k] = v
			}
			rankEnv["RANK"] = strconv.Itoa(rank)
			rankEnv["WORLD_SIZE"] = strconv.Itoa(worldSize)

			result, err := r.Backend.CreateJob(gctx, remotebackend.JobSpec{
				Name:           fmt.Sprintf("%s-replica-%d", name, rank),
				Image:          spec.Image,
				Command:        substituteTokens(spec.Command, rank, worldSize),
				Args:           substituteTokens(spec.Args, rank, worldSize),
				CPU:            cpu,
				MemoryMiB:      memoryMiB,
				GPUType:        gpuType,
				GPUCount:       gpuCount,
				Env:            rankEnv,
				TimeoutSeconds: spec.TimeoutSeconds,
				Rank:           rank,
				WorldSize:      worldSize,
			})
			if err != nil {
				return err
			}
			results[rank] = result

			return r.Backend.PutRegistryEntry(gctx, remotebackend.RegistryEntry{
				Key:     fmt.Sprintf("%s-replica-%d", name, rank),
				Address: result.TunnelURL,
			})
		})
	}
	if err := group.Wait(); err != nil {
		return v1alpha1.ModalJobStatus{}, err
	}

	return v1alpha1.ModalJobStatus{
		Phase:       v1alpha1.JobRunning,
		RemoteAppID: results[0].AppID,
		TunnelURL:   results[0].TunnelURL,
	}, nil
}

func substituteTokens(tokens []string, rank, worldSize int) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		t = strings.ReplaceAll(t, "{rank}", strconv.Itoa(rank))
		t = strings.ReplaceAll(t, "{worldSize}", strconv.Itoa(worldSize))
		out[i] = t
	}
	return out
}

func (r *JobReconciler) reconcileDelete(ctx context.Context, namespace, name string, spec v1alpha1.ModalJobSpec) error {
	status, err := r.Store.GetJobStatus(ctx, namespace, name)
	if err != nil {
		logging.Log.WithError(err).WithField("job", name).Warn("failed to read job status on delete, nothing to cancel")
		return nil
	}
	if status.RemoteAppID == "" {
		return nil
	}
	if err := r.Backend.CancelJob(ctx, status.RemoteAppID); err != nil && !operrors.IsKind(err, operrors.KindNotFound) {
		logging.Log.WithError(err).WithField("job", name).Warn("failed to cancel remote job on delete")
		return err
	}
	metrics.RecordJobEvent("completed", spec.GPU, spec.Replicas)
	return nil
}

func (r *JobReconciler) fail(ctx context.Context, namespace, name string, err error) error {
	reason := operrors.ReasonFor(err)
	metrics.RecordError(reason, "reconcile.job")
	status := v1alpha1.ModalJobStatus{
		Phase:      v1alpha1.JobFailed,
		Conditions: []v1alpha1.Condition{condition("Ready", "False", reason, err.Error())},
	}
	if updateErr := r.Store.UpdateJobStatus(ctx, namespace, name, status); updateErr != nil {
		logging.Log.WithError(updateErr).WithField("job", name).Error("failed to patch failure status")
	}
	return err
}
