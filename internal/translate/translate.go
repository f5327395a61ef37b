// Package translate implements the pure, no-I/O functions that
// convert pod-shaped input into the remote backend's call shapes:
// memory and CPU quantities, GPU specs, and merged environments.
package translate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/solanyn/modal-operator/internal/operrors"
)

// ParseMemory parses a Kubernetes-style quantity into whole MiB.
// "<n>Gi" or "<n>G" -> n*1024 MiB; "<n>Mi" or "<n>M" -> n MiB; a bare
// integer is already MiB. Anything else is a translation error.
func ParseMemory(s string) (int64, error) {
	switch {
	case strings.HasSuffix(s, "Gi"):
		return parseIntFactor(s, "Gi", 1024)
	case strings.HasSuffix(s, "G"):
		return parseIntFactor(s, "G", 1024)
	case strings.HasSuffix(s, "Mi"):
		return parseIntFactor(s, "Mi", 1)
	case strings.HasSuffix(s, "M"):
		return parseIntFactor(s, "M", 1)
	default:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, operrors.Translation("memory", fmt.Errorf("invalid memory quantity %q: %w", s, err))
		}
		return n, nil
	}
}

func parseIntFactor(s, suffix string, factor int64) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSuffix(s, suffix), 10, 64)
	if err != nil {
		return 0, operrors.Translation("memory", fmt.Errorf("invalid memory quantity %q: %w", s, err))
	}
	return n * factor, nil
}

// ParseCPU parses a decimal string or an "m"-suffixed millicore value
// into a decimal string preserved for the backend call, e.g.
// "250m" -> "0.25", "1.0" -> "1.0".
func ParseCPU(s string) (string, error) {
	if strings.HasSuffix(s, "m") {
		milli, err := strconv.ParseInt(strings.TrimSuffix(s, "m"), 10, 64)
		if err != nil {
			return "", operrors.Translation("cpu", fmt.Errorf("invalid cpu quantity %q: %w", s, err))
		}
		return formatDecimal(float64(milli) / 1000.0), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", operrors.Translation("cpu", fmt.Errorf("invalid cpu quantity %q: %w", s, err))
	}
	return formatDecimal(f), nil
}

func formatDecimal(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// DefaultGPUType is substituted when a GPU spec omits (or an
// annotated request omits) an explicit type.
const DefaultGPUType = "T4"

// ParseGPU parses a "<type>:<count>" spec, defaulting count to 1 if
// absent.
func ParseGPU(spec string) (gpuType string, count int, err error) {
	if spec == "" {
		return "", 0, operrors.Translation("gpu", fmt.Errorf("empty gpu spec"))
	}
	if idx := strings.Index(spec, ":"); idx >= 0 {
		gpuType = spec[:idx]
		n, convErr := strconv.Atoi(spec[idx+1:])
		if convErr != nil {
			return "", 0, operrors.Translation("gpu", fmt.Errorf("invalid gpu count in %q: %w", spec, convErr))
		}
		return gpuType, n, nil
	}
	return spec, 1, nil
}

// GPUFromAnnotation maps an nvidia.com/gpu container resource request
// onto a "<type>:<count>" spec, using annotatedType if non-empty or
// DefaultGPUType otherwise.
func GPUFromAnnotation(annotatedType string, count int) string {
	t := annotatedType
	if t == "" {
		t = DefaultGPUType
	}
	return fmt.Sprintf("%s:%d", t, count)
}

// ContainerEnv is the minimal per-container env shape the merge rule
// operates over.
type ContainerEnv struct {
	Env map[string]string
}

// MergeEnv merges container envs (last writer wins, in container
// order) and then merges annotation-sourced envs on top — annotations
// always win on collision, per the translator's ordering rule.
func MergeEnv(containers []ContainerEnv, annotationEnv map[string]string) map[string]string {
	merged := map[string]string{}
	for _, c := range containers {
		for k, v := range c.Env {
			merged[k] = v
		}
	}
	for k, v := range annotationEnv {
		merged[k] = v
	}
	return merged
}

// AnnotationEnvPrefix is the annotation prefix carrying per-key env
// overrides: modal-operator.io/env-<KEY>.
const AnnotationEnvPrefix = "modal-operator.io/env-"

// EnvFromAnnotations extracts env overrides from a pod's annotation
// map, stripping the common prefix.
func EnvFromAnnotations(annotations map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range annotations {
		if strings.HasPrefix(k, AnnotationEnvPrefix) {
			out[strings.TrimPrefix(k, AnnotationEnvPrefix)] = v
		}
	}
	return out
}

// SortedKeys returns env map keys sorted, useful for deterministic
// iteration order when building argv substitutions or JSON output.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
