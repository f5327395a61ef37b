// Package statussync projects the remote backend's execution state
// onto the mutated pod's status subresource, so downstream workload
// controllers (Jobs, Deployments, ...) observe the pod as healthy
// while the real work runs on the remote backend. Triggered both
// periodically (every 30s, per pod) and on pod-update events.
package statussync

import (
	"context"
	"fmt"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
)

const annotationMutated = "modal-operator.io/mutated"
const annotationOriginalImage = "modal-operator.io/original-image"

// PodPhase mirrors the small subset of corev1.PodPhase values this
// package reasons about.
type PodPhase string

const (
	PodPending   PodPhase = "Pending"
	PodRunning   PodPhase = "Running"
	PodSucceeded PodPhase = "Succeeded"
	PodFailed    PodPhase = "Failed"
)

// PodInfo is the minimal shape of a pod's current status this
// package needs to decide whether (and how) to patch it.
type PodInfo struct {
	Name           string
	Namespace      string
	Annotations    map[string]string
	Phase          PodPhase
	ContainerName  string
	ContainerImage string
	StartTime      *time.Time
}

// RemoteState is the backend-observed execution state of a mutated
// pod's sibling CR.
type RemoteState struct {
	Phase    PodPhase
	Terminal *TerminalState
}

// TerminalState is the terminal container state to project once the
// remote app has finished.
type TerminalState struct {
	ExitCode   int
	Reason     string
	FinishedAt time.Time
	Message    string
}

// RunningPatch is the synthetic running status projected onto a
// still-Pending mutated pod.
type RunningPatch struct {
	ContainerName  string
	ContainerImage string
	ImageID        string
	StartedAt      time.Time
}

// StatusSource resolves a mutated pod's sibling CR (Job or Endpoint
// kind) to its current remote execution state.
type StatusSource interface {
	GetSiblingState(ctx context.Context, namespace, podName string) (RemoteState, error)
}

// PodPatcher applies the two status-subresource patches this package
// issues. Sync decides when a patch is due (it skips unmutated pods,
// pods already in a terminal phase, and non-terminal remote states);
// implementations apply the patch they are given without re-reading
// the pod.
type PodPatcher interface {
	PatchRunning(ctx context.Context, namespace, podName string, patch RunningPatch) error
	PatchTerminated(ctx context.Context, namespace, podName string, state TerminalState, phase PodPhase) error
}

// Syncer drives both the periodic and on-update sync triggers.
type Syncer struct {
	Pods   PodPatcher
	Remote StatusSource
}

func New(pods PodPatcher, remote StatusSource) *Syncer {
	return &Syncer{Pods: pods, Remote: remote}
}

// Sync runs one sync pass for a single pod. It is safe to call from
// both the 30s ticker and the pod-update watch handler; no-ops for
// non-mutated pods and for pods already in their desired state.
func (s *Syncer) Sync(ctx context.Context, pod PodInfo) error {
	if pod.Annotations[annotationMutated] != "true" {
		return nil
	}

	if pod.Phase == PodPending {
		startedAt := time.Now()
		if pod.StartTime != nil {
			startedAt = *pod.StartTime
		}
		originalImage := pod.Annotations[annotationOriginalImage]
		if originalImage == "" {
			originalImage = pod.ContainerImage
		}
		if err := s.Pods.PatchRunning(ctx, pod.Namespace, pod.Name, RunningPatch{
			ContainerName:  pod.ContainerName,
			ContainerImage: pod.ContainerImage,
			ImageID:        fmt.Sprintf("modal.com/%s", originalImage),
			StartedAt:      startedAt,
		}); err != nil {
			return fmt.Errorf("patch pod %s/%s to running: %w", pod.Namespace, pod.Name, err)
		}
		logging.Log.WithField("pod", pod.Name).Info("projected synthetic running status onto mutated pod")
		return nil
	}

	if pod.Phase == PodSucceeded || pod.Phase == PodFailed {
		return nil
	}

	remote, err := s.Remote.GetSiblingState(ctx, pod.Namespace, pod.Name)
	if err != nil {
		return fmt.Errorf("get remote state for pod %s/%s: %w", pod.Namespace, pod.Name, err)
	}
	if remote.Terminal == nil {
		return nil
	}

	if err := s.Pods.PatchTerminated(ctx, pod.Namespace, pod.Name, *remote.Terminal, remote.Phase); err != nil {
		return fmt.Errorf("patch pod %s/%s to terminated: %w", pod.Namespace, pod.Name, err)
	}
	logging.Log.WithField("pod", pod.Name).WithField("reason", remote.Terminal.Reason).Info("projected terminal remote state onto mutated pod")
	return nil
}
