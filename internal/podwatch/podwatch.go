// Package podwatch implements the two entry points by which a pod
// turns into a CR: the primary path for pods the admission mutator
// already rewrote, and a legacy fallback for GPU-requesting or
// offload-annotated pods in clusters where the webhook isn't wired
// in.
package podwatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/catalystcommunity/app-utils-go/logging"

	v1alpha1 "github.com/solanyn/modal-operator/internal/apis/modaloperator/v1alpha1"
	"github.com/solanyn/modal-operator/internal/capsule"
	"github.com/solanyn/modal-operator/internal/classify"
	"github.com/solanyn/modal-operator/internal/crclient"
)

const (
	annotationMutated  = "modal-operator.io/mutated"
	annotationOffload  = "modal-operator.io/offload"
	annotationUseModal = "modal-operator.io/use-modal"
	annotationCPU      = "modal-operator.io/cpu"
	annotationMemory   = "modal-operator.io/memory"
	annotationGPU      = "modal-operator.io/gpu"
	annotationTimeout  = "modal-operator.io/timeout"
	labelOriginalPod   = "modal-operator.io/original-pod"

	defaultCPU     = "1.0"
	defaultMemory  = "1Gi"
	defaultTimeout = 600
)

// ContainerInfo is the minimal shape of a raw (non-mutated) pod's
// first container this package needs.
type ContainerInfo struct {
	Name      string
	Image     string
	Command   []string
	Args      []string
	Env       map[string]string
	GPURequest string
}

// PodInfo is the minimal shape of a pod this package acts on,
// decoupled from any specific Kubernetes API type.
type PodInfo struct {
	Name        string
	Namespace   string
	UID         string
	Annotations map[string]string
	Labels      map[string]string
	Containers  []ContainerInfo
}

// CRCreator creates the sibling CR for an intercepted pod and checks
// whether one already exists. Implemented in production by
// *crclient.Client.
type CRCreator interface {
	Exists(ctx context.Context, namespace, resource, name string) (bool, error)
	CreateModalJob(ctx context.Context, namespace, name string, spec v1alpha1.ModalJobSpec, owner crclient.Owner, labels map[string]string) error
	CreateModalFunction(ctx context.Context, namespace, name string, spec v1alpha1.ModalFunctionSpec, owner crclient.Owner, labels map[string]string) error
	CreateModalEndpoint(ctx context.Context, namespace, name string, spec v1alpha1.ModalEndpointSpec, owner crclient.Owner, labels map[string]string) error
}

// Watcher drives both entry points from pod-created/pod-updated
// events. It holds no pod-watch machinery itself — that lives in the
// caller's `clientset.CoreV1().Pods(ns).Watch` loop, matching the
// rest of this module's plain-clientset style — only the
// classification and CR-creation logic.
type Watcher struct {
	CRs CRCreator
}

func New(crs CRCreator) *Watcher {
	return &Watcher{CRs: crs}
}

// HandlePod is the primary path: a pod the admission mutator already
// annotated with modal-operator.io/mutated=true. It decodes the
// capsule carried on the pod's containers, classifies the workload,
// and creates the sibling "<pod>-modal" CR if one doesn't exist yet.
func (w *Watcher) HandlePod(ctx context.Context, pod PodInfo) error {
	if pod.Annotations[annotationMutated] != "true" {
		return nil
	}

	resourceName := pod.Name + "-modal"
	caps, err := capsuleFromContainers(pod.Containers)
	if err != nil {
		return fmt.Errorf("decode capsule: %w", err)
	}
	classification := classify.Classify(classify.Input{
		Images:      caps.Images,
		Commands:    caps.Commands,
		Args:        caps.Args,
		Annotations: pod.Annotations,
	})
	workloadType := classification.Type

	resource := resourceForType(workloadType)
	exists, err := w.CRs.Exists(ctx, pod.Namespace, resource, resourceName)
	if err != nil {
		return fmt.Errorf("check existing %s: %w", resource, err)
	}
	if exists {
		logging.Log.WithField("pod", pod.Name).Debug("sibling CR already exists, skipping creation")
		return nil
	}

	labels := map[string]string{labelOriginalPod: pod.Name}
	owner := crclient.Owner{Name: pod.Name, UID: pod.UID}

	cpu := valueOr(pod.Annotations[annotationCPU], defaultCPU)
	memory := valueOr(pod.Annotations[annotationMemory], defaultMemory)
	gpu := pod.Annotations[annotationGPU]

	switch workloadType {
	case classify.Endpoint:
		return w.createEndpoint(ctx, pod.Namespace, resourceName, caps, cpu, memory, gpu, owner, labels)
	case classify.Function:
		spec := v1alpha1.ModalFunctionSpec{
			Image:   valueOr(caps.CanonicalImage(), "python:3.11-slim"),
			Handler: "serve",
			CPU:     cpu,
			Memory:  memory,
			GPU:     gpu,
			Env:     caps.Env,
		}
		return w.CRs.CreateModalFunction(ctx, pod.Namespace, resourceName, spec, owner, labels)
	default:
		spec := v1alpha1.ModalJobSpec{
			Image:          valueOr(caps.CanonicalImage(), "python:3.11-slim"),
			Command:        caps.CanonicalCommand(),
			Args:           caps.CanonicalArgs(),
			CPU:            cpu,
			Memory:         memory,
			GPU:            gpu,
			Env:            caps.Env,
			TimeoutSeconds: intValueOr(pod.Annotations[annotationTimeout], defaultTimeout),
		}
		return w.CRs.CreateModalJob(ctx, pod.Namespace, resourceName, spec, owner, labels)
	}
}

func (w *Watcher) createEndpoint(ctx context.Context, namespace, name string, caps capsule.Capsule, cpu, memory, gpu string, owner crclient.Owner, labels map[string]string) error {
	spec := v1alpha1.ModalEndpointSpec{
		Image:   valueOr(caps.CanonicalImage(), "python:3.11-slim"),
		Handler: "serve",
		Command: caps.CanonicalCommand(),
		Args:    caps.CanonicalArgs(),
		CPU:     cpu,
		Memory:  memory,
		GPU:     gpu,
		Env:     caps.Env,
	}
	return w.CRs.CreateModalEndpoint(ctx, namespace, name, spec, owner, labels)
}

// HandleLegacyPod is the second, pre-webhook entry point: a raw pod
// that was never mutated but requests a GPU or carries
// modal-operator.io/offload=true. It must skip anything the primary
// path already claimed.
func (w *Watcher) HandleLegacyPod(ctx context.Context, pod PodInfo) error {
	if pod.Annotations[annotationMutated] == "true" {
		return nil
	}

	shouldOffload := pod.Annotations[annotationOffload] == "true" ||
		pod.Annotations[annotationUseModal] == "true" ||
		hasGPURequest(pod.Containers)
	if !shouldOffload {
		return nil
	}

	resourceName := pod.Name + "-modal"
	exists, err := w.CRs.Exists(ctx, pod.Namespace, "modaljobs", resourceName)
	if err != nil {
		return fmt.Errorf("check existing modaljob: %w", err)
	}
	if exists {
		return nil
	}

	if len(pod.Containers) == 0 {
		return fmt.Errorf("pod %s has no containers", pod.Name)
	}
	container := pod.Containers[0]

	gpu := pod.Annotations[annotationGPU]
	if gpu == "" && container.GPURequest != "" {
		gpuType := valueOr(pod.Annotations["modal-operator.io/gpu-type"], "T4")
		gpu = fmt.Sprintf("%s:%s", gpuType, container.GPURequest)
	}

	env := map[string]string{}
	for k, v := range pod.Annotations {
		if strings.HasPrefix(k, "modal-operator.io/env-") {
			env[strings.TrimPrefix(k, "modal-operator.io/env-")] = v
		}
	}
	for k, v := range container.Env {
		env[k] = v
	}

	spec := v1alpha1.ModalJobSpec{
		Image:          valueOr(pod.Annotations["modal-operator.io/image"], container.Image),
		Command:        container.Command,
		Args:           container.Args,
		CPU:            valueOr(pod.Annotations[annotationCPU], defaultCPU),
		Memory:         valueOr(pod.Annotations[annotationMemory], "512Mi"),
		GPU:            gpu,
		Env:            env,
		TimeoutSeconds: intValueOr(pod.Annotations[annotationTimeout], 300),
	}

	labels := map[string]string{labelOriginalPod: pod.Name}
	owner := crclient.Owner{Name: pod.Name, UID: pod.UID}
	return w.CRs.CreateModalJob(ctx, pod.Namespace, resourceName, spec, owner, labels)
}

func hasGPURequest(containers []ContainerInfo) bool {
	for _, c := range containers {
		if c.GPURequest != "" {
			return true
		}
	}
	return false
}

// capsuleFromContainers decodes the capsule from the env of the first
// container carrying it (the logger container on a mutated pod). A pod
// with no such container yields an empty capsule.
func capsuleFromContainers(containers []ContainerInfo) (capsule.Capsule, error) {
	for _, c := range containers {
		if _, ok := c.Env[capsule.EnvImages]; ok {
			return capsule.Decode(c.Env)
		}
	}
	return capsule.Capsule{}, nil
}

func resourceForType(t classify.WorkloadType) string {
	switch t {
	case classify.Endpoint:
		return "modalendpoints"
	case classify.Function:
		return "modalfunctions"
	default:
		return "modaljobs"
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func intValueOr(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
