package translate

import (
	"testing"

	"github.com/solanyn/modal-operator/internal/operrors"
)

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"2Gi", 2048, false},
		{"4G", 4096, false},
		{"512Mi", 512, false},
		{"256M", 256, false},
		{"512", 512, false},
		{"invalid", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseMemory(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMemory(%q) expected error, got nil", tc.in)
			}
			if !operrors.IsKind(err, operrors.KindTranslationError) {
				t.Errorf("ParseMemory(%q) error kind = %v, want TranslationError", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMemory(%q) unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseMemory(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseCPU(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{"250m", "0.25", false},
		{"1.0", "1.0", false},
		{"1000m", "1.0", false},
		{"2", "2.0", false},
		{"bogus", "", true},
	}
	for _, tc := range cases {
		got, err := ParseCPU(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseCPU(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCPU(%q) unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseCPU(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseGPU(t *testing.T) {
	gpuType, count, err := ParseGPU("T4:1")
	if err != nil || gpuType != "T4" || count != 1 {
		t.Errorf("ParseGPU(T4:1) = (%q, %d, %v)", gpuType, count, err)
	}
	gpuType, count, err = ParseGPU("A100")
	if err != nil || gpuType != "A100" || count != 1 {
		t.Errorf("ParseGPU(A100) = (%q, %d, %v), want default count 1", gpuType, count, err)
	}
	if _, _, err := ParseGPU(""); err == nil {
		t.Error("ParseGPU(\"\") expected error")
	}
}

func TestGPUFromAnnotation(t *testing.T) {
	if got := GPUFromAnnotation("", 1); got != "T4:1" {
		t.Errorf("GPUFromAnnotation(\"\", 1) = %q, want T4:1", got)
	}
	if got := GPUFromAnnotation("A100", 2); got != "A100:2" {
		t.Errorf("GPUFromAnnotation(A100, 2) = %q, want A100:2", got)
	}
}

func TestMergeEnvAnnotationWins(t *testing.T) {
	containers := []ContainerEnv{
		{Env: map[string]string{"A": "container-a", "B": "container-b"}},
		{Env: map[string]string{"B": "container-b-2", "C": "container-c"}},
	}
	annotations := map[string]string{"B": "annotation-b"}

	merged := MergeEnv(containers, annotations)
	if merged["A"] != "container-a" {
		t.Errorf("merged[A] = %q, want container-a", merged["A"])
	}
	if merged["B"] != "annotation-b" {
		t.Errorf("merged[B] = %q, want annotation-b (annotation must win)", merged["B"])
	}
	if merged["C"] != "container-c" {
		t.Errorf("merged[C] = %q, want container-c", merged["C"])
	}
}

func TestEnvFromAnnotations(t *testing.T) {
	annotations := map[string]string{
		"modal-operator.io/env-FOO": "bar",
		"modal-operator.io/gpu":     "T4:1",
	}
	env := EnvFromAnnotations(annotations)
	if len(env) != 1 || env["FOO"] != "bar" {
		t.Errorf("EnvFromAnnotations = %#v, want {FOO: bar}", env)
	}
}
