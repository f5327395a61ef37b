package statussync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/solanyn/modal-operator/internal/crclient"
	"github.com/solanyn/modal-operator/internal/remotebackend"
)

// CRStatusSource resolves a mutated pod's sibling CR — Job or
// Endpoint kind, tried in that order — to its remoteAppId, then asks
// the backend directly for that app's live phase/exit code. The CR
// only ever carries the app id; the backend is the source of truth
// for execution state.
type CRStatusSource struct {
	CRs     *crclient.Client
	Backend remotebackend.Client
}

func NewCRStatusSource(crs *crclient.Client, backend remotebackend.Client) *CRStatusSource {
	return &CRStatusSource{CRs: crs, Backend: backend}
}

func (s *CRStatusSource) GetSiblingState(ctx context.Context, namespace, podName string) (RemoteState, error) {
	siblingName := podName + "-modal"

	appID, err := s.siblingAppID(ctx, namespace, siblingName)
	if err != nil {
		return RemoteState{}, err
	}
	if appID == "" {
		return RemoteState{}, nil
	}

	status, err := s.Backend.GetAppStatus(ctx, appID)
	if err != nil {
		return RemoteState{}, err
	}

	phase := normalizePhase(status.Phase)
	state := RemoteState{Phase: phase}
	if phase == PodSucceeded || phase == PodFailed {
		state.Terminal = &TerminalState{
			ExitCode:   status.ExitCode,
			Reason:     orDefault(status.Reason, "Completed"),
			FinishedAt: time.Now(),
			Message:    status.Message,
		}
	}
	return state, nil
}

func (s *CRStatusSource) siblingAppID(ctx context.Context, namespace, name string) (string, error) {
	jobStatus, err := s.CRs.GetJobStatus(ctx, namespace, name)
	if err != nil {
		return "", err
	}
	if jobStatus.RemoteAppID != "" {
		return jobStatus.RemoteAppID, nil
	}
	endpointStatus, err := s.CRs.GetEndpointStatus(ctx, namespace, name)
	if err != nil {
		return "", err
	}
	return endpointStatus.RemoteAppID, nil
}

// normalizePhase maps the backend's broader phase vocabulary
// (Deployed, Ready, ...) onto the four pod phases this package acts on.
func normalizePhase(backendPhase string) PodPhase {
	switch backendPhase {
	case "Succeeded":
		return PodSucceeded
	case "Failed":
		return PodFailed
	case "Pending":
		return PodPending
	default:
		return PodRunning
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// KubernetesPodPatcher applies the two status-subresource patches
// through a plain clientset, mirroring the original
// patch_namespaced_pod_status calls.
type KubernetesPodPatcher struct {
	Clientset *kubernetes.Clientset
}

func NewKubernetesPodPatcher(clientset *kubernetes.Clientset) *KubernetesPodPatcher {
	return &KubernetesPodPatcher{Clientset: clientset}
}

func (p *KubernetesPodPatcher) PatchRunning(ctx context.Context, namespace, podName string, patch RunningPatch) error {
	body := map[string]interface{}{
		"status": map[string]interface{}{
			"phase":  string(PodRunning),
			"hostIP": "modal.com",
			"podIP":  "10.0.0.1",
			"containerStatuses": []map[string]interface{}{
				{
					"name":         patch.ContainerName,
					"image":        patch.ContainerImage,
					"imageID":      patch.ImageID,
					"ready":        true,
					"started":      true,
					"restartCount": 0,
					"state": map[string]interface{}{
						"running": map[string]interface{}{
							"startedAt": patch.StartedAt.UTC().Format(time.RFC3339),
						},
					},
				},
			},
		},
	}
	return p.patchStatus(ctx, namespace, podName, body)
}

func (p *KubernetesPodPatcher) PatchTerminated(ctx context.Context, namespace, podName string, state TerminalState, phase PodPhase) error {
	body := map[string]interface{}{
		"status": map[string]interface{}{
			"phase": string(phase),
			"containerStatuses": []map[string]interface{}{
				{
					"state": map[string]interface{}{
						"terminated": map[string]interface{}{
							"exitCode":   state.ExitCode,
							"reason":     state.Reason,
							"finishedAt": state.FinishedAt.UTC().Format(time.RFC3339),
							"message":    state.Message,
						},
					},
				},
			},
		},
	}
	return p.patchStatus(ctx, namespace, podName, body)
}

func (p *KubernetesPodPatcher) patchStatus(ctx context.Context, namespace, podName string, body map[string]interface{}) error {
	patchBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal pod status patch: %w", err)
	}
	_, err = p.Clientset.CoreV1().Pods(namespace).Patch(ctx, podName, types.StrategicMergePatchType, patchBytes, metav1.PatchOptions{}, "status")
	return err
}
