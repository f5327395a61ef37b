package webhook

import (
	"encoding/json"
	"testing"

	"github.com/solanyn/modal-operator/internal/capsule"
)

func TestBuildPatchRejectsEmptyContainers(t *testing.T) {
	m := NewMutator("")
	_, err := m.BuildPatch(PodInput{Name: "p"})
	if err == nil {
		t.Fatal("expected error for zero containers")
	}
}

func TestBuildPatchRejectsMissingNameOrImage(t *testing.T) {
	m := NewMutator("")
	_, err := m.BuildPatch(PodInput{
		Name:       "p",
		Containers: []capsule.Container{{Image: "x"}},
	})
	if err == nil {
		t.Fatal("expected error for missing container name")
	}

	_, err = m.BuildPatch(PodInput{
		Name:       "p",
		Containers: []capsule.Container{{Name: "app"}},
	})
	if err == nil {
		t.Fatal("expected error for missing container image")
	}
}

// TestBuildPatchScenario reproduces the concrete admission-mutation
// scenario: single container python:3.11-slim, command printing
// "test", annotation offload=true.
func TestBuildPatchScenario(t *testing.T) {
	m := NewMutator("")
	patches, err := m.BuildPatch(PodInput{
		Name:        "test-pod",
		Namespace:   "default",
		Annotations: map[string]string{"modal-operator.io/offload": "true"},
		Containers: []capsule.Container{
			{
				Name:    "app",
				Image:   "python:3.11-slim",
				Command: []string{"python", "-c", "print('test')"},
			},
		},
	})
	if err != nil {
		t.Fatalf("BuildPatch: %v", err)
	}

	if patches[0].Op != "replace" || patches[0].Path != "/spec/containers" {
		t.Fatalf("patches[0] = %+v, want replace /spec/containers", patches[0])
	}

	containersJSON, err := json.Marshal(patches[0].Value)
	if err != nil {
		t.Fatalf("marshal containers value: %v", err)
	}
	var containers []map[string]interface{}
	if err := json.Unmarshal(containersJSON, &containers); err != nil {
		t.Fatalf("unmarshal containers: %v", err)
	}
	if len(containers) != 2 {
		t.Fatalf("got %d containers, want 2 (logger, proxy)", len(containers))
	}
	if containers[0]["name"] != "app" {
		t.Errorf("logger container name = %v, want app (original container's name)", containers[0]["name"])
	}
	if containers[1]["name"] != "proxy" {
		t.Errorf("proxy container name = %v, want proxy", containers[1]["name"])
	}

	loggerEnv, ok := containers[0]["env"].([]interface{})
	if !ok {
		t.Fatalf("logger env not a list: %T", containers[0]["env"])
	}
	var foundImages, foundExecution bool
	for _, e := range loggerEnv {
		env := e.(map[string]interface{})
		switch env["name"] {
		case capsule.EnvImages:
			foundImages = true
			if env["value"] != `["python:3.11-slim"]` {
				t.Errorf("ORIGINAL_IMAGES = %v, want [\"python:3.11-slim\"]", env["value"])
			}
		case "MODAL_EXECUTION":
			foundExecution = true
			if env["value"] != "true" {
				t.Errorf("MODAL_EXECUTION = %v, want true", env["value"])
			}
		}
	}
	if !foundImages || !foundExecution {
		t.Fatal("logger env missing ORIGINAL_IMAGES or MODAL_EXECUTION")
	}

	var foundMutatedAnnotation bool
	for _, p := range patches {
		if p.Path == "/metadata/annotations/modal-operator.io~1mutated" {
			foundMutatedAnnotation = true
			if p.Value != "true" {
				t.Errorf("mutated annotation value = %v, want true", p.Value)
			}
		}
	}
	if !foundMutatedAnnotation {
		t.Fatal("expected a mutated=true annotation patch")
	}
}

func TestBuildPatchIdempotentAcrossCalls(t *testing.T) {
	m := NewMutator("")
	input := PodInput{
		Name: "p",
		Containers: []capsule.Container{
			{Name: "app", Image: "img:1", Command: []string{"run"}},
		},
	}
	p1, err := m.BuildPatch(input)
	if err != nil {
		t.Fatalf("BuildPatch: %v", err)
	}
	p2, err := m.BuildPatch(input)
	if err != nil {
		t.Fatalf("BuildPatch: %v", err)
	}
	b1, _ := json.Marshal(p1)
	b2, _ := json.Marshal(p2)
	if string(b1) != string(b2) {
		t.Fatal("applying the mutator twice to the same payload produced different patches")
	}
}

func TestBuildPatchForcesHostNetworkFalse(t *testing.T) {
	m := NewMutator("")
	patches, err := m.BuildPatch(PodInput{
		Name:        "p",
		HostNetwork: true,
		Containers:  []capsule.Container{{Name: "app", Image: "img:1"}},
	})
	if err != nil {
		t.Fatalf("BuildPatch: %v", err)
	}
	var found bool
	for _, p := range patches {
		if p.Path == "/spec/hostNetwork" {
			found = true
			if p.Value != false {
				t.Errorf("hostNetwork patch value = %v, want false", p.Value)
			}
		}
	}
	if !found {
		t.Fatal("expected a /spec/hostNetwork patch when original hostNetwork was true")
	}
}

func TestBuildPatchLabelsCreatedWhenAbsent(t *testing.T) {
	m := NewMutator("")
	patches, err := m.BuildPatch(PodInput{
		Name:       "p",
		Containers: []capsule.Container{{Name: "app", Image: "img:1"}},
	})
	if err != nil {
		t.Fatalf("BuildPatch: %v", err)
	}
	last := patches[len(patches)-1]
	if last.Path != "/metadata/labels" {
		t.Fatalf("last patch path = %q, want /metadata/labels (no existing labels)", last.Path)
	}
}

func TestBuildPatchLabelsAppendedWhenPresent(t *testing.T) {
	m := NewMutator("")
	patches, err := m.BuildPatch(PodInput{
		Name:       "p",
		Labels:     map[string]string{"existing": "label"},
		Containers: []capsule.Container{{Name: "app", Image: "img:1"}},
	})
	if err != nil {
		t.Fatalf("BuildPatch: %v", err)
	}
	last := patches[len(patches)-1]
	if last.Path != "/metadata/labels/modal-operator.io~1tunnel-pod" {
		t.Fatalf("last patch path = %q, want the tunnel-pod label path", last.Path)
	}
}
