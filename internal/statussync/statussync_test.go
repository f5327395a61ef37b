package statussync

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePodPatcher struct {
	mu         sync.Mutex
	running    map[string]RunningPatch
	terminated map[string]TerminalState
	phases     map[string]PodPhase
}

func newFakePodPatcher() *fakePodPatcher {
	return &fakePodPatcher{
		running:    map[string]RunningPatch{},
		terminated: map[string]TerminalState{},
		phases:     map[string]PodPhase{},
	}
}

func (f *fakePodPatcher) PatchRunning(ctx context.Context, namespace, podName string, patch RunningPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[namespace+"/"+podName] = patch
	return nil
}

func (f *fakePodPatcher) PatchTerminated(ctx context.Context, namespace, podName string, state TerminalState, phase PodPhase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated[namespace+"/"+podName] = state
	f.phases[namespace+"/"+podName] = phase
	return nil
}

type fakeStatusSource struct {
	states map[string]RemoteState
	err    error
}

func (f *fakeStatusSource) GetSiblingState(ctx context.Context, namespace, podName string) (RemoteState, error) {
	if f.err != nil {
		return RemoteState{}, f.err
	}
	return f.states[namespace+"/"+podName], nil
}

func TestSyncSkipsUnmutatedPods(t *testing.T) {
	pods := newFakePodPatcher()
	remote := &fakeStatusSource{}
	s := New(pods, remote)

	pod := PodInfo{Name: "plain", Namespace: "default", Phase: PodPending}
	if err := s.Sync(context.Background(), pod); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(pods.running) != 0 {
		t.Fatal("expected no patch for an unmutated pod")
	}
}

func TestSyncProjectsRunningOnPendingMutatedPod(t *testing.T) {
	pods := newFakePodPatcher()
	remote := &fakeStatusSource{}
	s := New(pods, remote)

	start := time.Now()
	pod := PodInfo{
		Name:           "train",
		Namespace:      "default",
		Annotations:    map[string]string{annotationMutated: "true", annotationOriginalImage: "pytorch/pytorch"},
		Phase:          PodPending,
		ContainerName:  "modal",
		ContainerImage: "modal-operator/tunnel:latest",
		StartTime:      &start,
	}
	if err := s.Sync(context.Background(), pod); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	patch, ok := pods.running["default/train"]
	if !ok {
		t.Fatal("expected a running patch to be applied")
	}
	if patch.ImageID != "modal.com/pytorch/pytorch" {
		t.Fatalf("ImageID = %q, want modal.com/pytorch/pytorch", patch.ImageID)
	}
	if patch.StartedAt != start {
		t.Fatalf("StartedAt = %v, want %v", patch.StartedAt, start)
	}
}

func TestSyncFallsBackToContainerImageWhenOriginalImageAnnotationAbsent(t *testing.T) {
	pods := newFakePodPatcher()
	remote := &fakeStatusSource{}
	s := New(pods, remote)

	pod := PodInfo{
		Name:           "train",
		Namespace:      "default",
		Annotations:    map[string]string{annotationMutated: "true"},
		Phase:          PodPending,
		ContainerImage: "modal-operator/tunnel:latest",
	}
	if err := s.Sync(context.Background(), pod); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if pods.running["default/train"].ImageID != "modal.com/modal-operator/tunnel:latest" {
		t.Fatalf("ImageID = %q", pods.running["default/train"].ImageID)
	}
}

func TestSyncIsNoOpForAlreadyTerminalPods(t *testing.T) {
	pods := newFakePodPatcher()
	remote := &fakeStatusSource{}
	s := New(pods, remote)

	pod := PodInfo{
		Name:        "train",
		Namespace:   "default",
		Annotations: map[string]string{annotationMutated: "true"},
		Phase:       PodSucceeded,
	}
	if err := s.Sync(context.Background(), pod); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(pods.terminated) != 0 {
		t.Fatal("expected no patch for a pod already in a terminal phase")
	}
}

func TestSyncProjectsTerminalStateFromRemote(t *testing.T) {
	pods := newFakePodPatcher()
	remote := &fakeStatusSource{
		states: map[string]RemoteState{
			"default/train": {
				Phase: PodFailed,
				Terminal: &TerminalState{
					ExitCode: 1,
					Reason:   "Error",
					Message:  "training script exited non-zero",
				},
			},
		},
	}
	s := New(pods, remote)

	pod := PodInfo{
		Name:        "train",
		Namespace:   "default",
		Annotations: map[string]string{annotationMutated: "true"},
		Phase:       PodRunning,
	}
	if err := s.Sync(context.Background(), pod); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	state, ok := pods.terminated["default/train"]
	if !ok {
		t.Fatal("expected a terminated patch to be applied")
	}
	if state.ExitCode != 1 || state.Reason != "Error" {
		t.Fatalf("state = %+v, want ExitCode=1 Reason=Error", state)
	}
	if pods.phases["default/train"] != PodFailed {
		t.Fatalf("phase = %q, want Failed", pods.phases["default/train"])
	}
}

func TestSyncIsNoOpWhenRemoteHasNotTerminated(t *testing.T) {
	pods := newFakePodPatcher()
	remote := &fakeStatusSource{
		states: map[string]RemoteState{
			"default/train": {Phase: PodRunning},
		},
	}
	s := New(pods, remote)

	pod := PodInfo{
		Name:        "train",
		Namespace:   "default",
		Annotations: map[string]string{annotationMutated: "true"},
		Phase:       PodRunning,
	}
	if err := s.Sync(context.Background(), pod); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(pods.terminated) != 0 {
		t.Fatal("expected no patch while the remote app is still running")
	}
}
