// Package webhook implements the admission mutator: a synchronous
// HTTP service that rewrites a pod's containers into a logger+proxy
// pair, preserving the original spec in env vars so the workload can
// be reconstituted on the remote backend.
package webhook

import (
	"encoding/json"
	"fmt"

	jsonpatch "gopkg.in/evanphx/json-patch.v4"

	"github.com/solanyn/modal-operator/internal/capsule"
	"github.com/solanyn/modal-operator/internal/operrors"
)

// DefaultOperatorImage is the sidecar image used for both the logger
// and proxy containers when none is configured.
const DefaultOperatorImage = "ghcr.io/solanyn/modal-operator:latest"

// PatchOp is one RFC 6902 JSON Patch operation.
type PatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// PodInput is the minimal shape of the admitted pod the mutator
// needs; decoupled from any particular Kubernetes API type so it can
// be built directly from the admission request's raw JSON.
type PodInput struct {
	Name        string
	Namespace   string
	Annotations map[string]string
	Labels      map[string]string
	Containers  []capsule.Container
	HostNetwork bool
	DNSPolicy   string
	Subdomain   string
	Hostname    string
	DNSConfig   interface{}
}

// Mutator builds the ordered JSON patch for a pod admission.
type Mutator struct {
	OperatorImage string
}

func NewMutator(operatorImage string) *Mutator {
	if operatorImage == "" {
		operatorImage = DefaultOperatorImage
	}
	return &Mutator{OperatorImage: operatorImage}
}

// BuildPatch validates pod and returns the ordered list of patch
// operations per the mutation contract. Validation failures are
// returned as operrors.PodStructureInvalid — the caller must deny
// admission rather than return a malformed patch.
func (m *Mutator) BuildPatch(pod PodInput) ([]PatchOp, error) {
	if len(pod.Containers) == 0 {
		return nil, operrors.PodStructureInvalid(fmt.Errorf("pod must have at least one container"))
	}
	first := pod.Containers[0]
	if first.Name == "" {
		return nil, operrors.PodStructureInvalid(fmt.Errorf("container must have a name"))
	}
	if first.Image == "" {
		return nil, operrors.PodStructureInvalid(fmt.Errorf("container must have an image"))
	}

	var patches []PatchOp

	containerPatch, err := m.buildContainerPatch(pod)
	if err != nil {
		return nil, err
	}
	patches = append(patches, containerPatch)

	networkingPatch, err := buildNetworkingPatch(pod)
	if err != nil {
		return nil, err
	}
	patches = append(patches, networkingPatch)

	if pod.HostNetwork {
		patches = append(patches, PatchOp{Op: "replace", Path: "/spec/hostNetwork", Value: false})
	}

	dnsOp := "add"
	if pod.DNSPolicy != "" {
		dnsOp = "replace"
	}
	patches = append(patches, PatchOp{Op: dnsOp, Path: "/spec/dnsPolicy", Value: "ClusterFirst"})

	patches = append(patches, PatchOp{
		Op:   "add",
		Path: "/spec/volumes/-",
		Value: map[string]interface{}{
			"name": "modal-secret",
			"secret": map[string]interface{}{
				"secretName": "modal-token",
				"optional":   false,
			},
		},
	})

	patches = append(patches, PatchOp{
		Op:    "add",
		Path:  "/metadata/annotations/modal-operator.io~1mutated",
		Value: "true",
	})
	patches = append(patches, PatchOp{
		Op:    "add",
		Path:  "/metadata/annotations/modal-operator.io~1tunnel-enabled",
		Value: "true",
	})

	if len(pod.Labels) == 0 {
		patches = append(patches, PatchOp{
			Op:    "add",
			Path:  "/metadata/labels",
			Value: map[string]string{"modal-operator.io/tunnel-pod": pod.Name},
		})
	} else {
		patches = append(patches, PatchOp{
			Op:    "add",
			Path:  "/metadata/labels/modal-operator.io~1tunnel-pod",
			Value: pod.Name,
		})
	}

	if err := validatePatch(patches); err != nil {
		return nil, operrors.PodStructureInvalid(fmt.Errorf("built an invalid JSON patch: %w", err))
	}

	return patches, nil
}

// validatePatch round-trips the built operations through
// evanphx/json-patch's decoder as a structural sanity check, so a
// programming error here can never surface as a malformed patch on
// the wire — it is caught and turned into a deny response instead.
func validatePatch(patches []PatchOp) error {
	b, err := json.Marshal(patches)
	if err != nil {
		return err
	}
	_, err = jsonpatch.DecodePatch(b)
	return err
}

func (m *Mutator) buildContainerPatch(pod PodInput) (PatchOp, error) {
	caps := capsule.Encode(pod.Containers)
	envVars, err := capsule.EncodeEnv(caps)
	if err != nil {
		return PatchOp{}, operrors.PodStructureInvalid(fmt.Errorf("encode capsule: %w", err))
	}

	loggerName := pod.Containers[0].Name
	if loggerName == "" {
		loggerName = "logger"
	}

	logger := map[string]interface{}{
		"name":            loggerName,
		"image":           m.OperatorImage,
		"imagePullPolicy": "IfNotPresent",
		"command":         []string{"modal-logger"},
		"env": []map[string]interface{}{
			{"name": "POD_NAME", "value": pod.Name},
			{"name": "POD_NAMESPACE", "valueFrom": map[string]interface{}{
				"fieldRef": map[string]interface{}{"fieldPath": "metadata.namespace"},
			}},
			{"name": "MODAL_EXECUTION", "value": "true"},
			{"name": capsule.EnvImages, "value": envVars[capsule.EnvImages]},
			{"name": capsule.EnvNames, "value": envVars[capsule.EnvNames]},
			{"name": capsule.EnvCommands, "value": envVars[capsule.EnvCommands]},
			{"name": capsule.EnvArgs, "value": envVars[capsule.EnvArgs]},
			{"name": capsule.EnvEnv, "value": envVars[capsule.EnvEnv]},
			{"name": "HTTP_PROXY", "value": "socks5://localhost:1080"},
			{"name": "HTTPS_PROXY", "value": "socks5://localhost:1080"},
			{"name": "MODAL_OPERATOR_PROXY", "value": "localhost:1080"},
		},
		"ports": []map[string]interface{}{
			{"containerPort": 8000, "name": "placeholder", "protocol": "TCP"},
		},
		"resources": map[string]interface{}{},
		"volumeMounts": []map[string]interface{}{
			{"name": "modal-secret", "mountPath": "/etc/modal-secret", "readOnly": true},
		},
	}

	proxy := map[string]interface{}{
		"name":            "proxy",
		"image":           m.OperatorImage,
		"imagePullPolicy": "IfNotPresent",
		"command":         []string{"modal-proxy"},
		"ports": []map[string]interface{}{
			{"containerPort": 1080, "name": "proxy", "protocol": "TCP"},
		},
		"env": []map[string]interface{}{
			{"name": "PROXY_PORT", "value": "1080"},
			{"name": "POD_NAME", "value": pod.Name},
		},
		"resources": map[string]interface{}{
			"requests": map[string]interface{}{"memory": "64Mi", "cpu": "50m"},
			"limits":   map[string]interface{}{"memory": "128Mi", "cpu": "100m"},
		},
		"volumeMounts": []map[string]interface{}{
			{"name": "modal-secret", "mountPath": "/etc/modal-secret", "readOnly": true},
		},
	}

	return PatchOp{
		Op:    "replace",
		Path:  "/spec/containers",
		Value: []map[string]interface{}{logger, proxy},
	}, nil
}

func buildNetworkingPatch(pod PodInput) (PatchOp, error) {
	dnsPolicy := pod.DNSPolicy
	if dnsPolicy == "" {
		dnsPolicy = "ClusterFirst"
	}
	networking := map[string]interface{}{
		"hostNetwork": pod.HostNetwork,
		"dnsPolicy":   dnsPolicy,
		"subdomain":   pod.Subdomain,
		"hostname":    pod.Hostname,
		"dnsConfig":   pod.DNSConfig,
	}
	encoded, err := json.Marshal(networking)
	if err != nil {
		return PatchOp{}, operrors.PodStructureInvalid(fmt.Errorf("encode networking annotation: %w", err))
	}
	return PatchOp{
		Op:    "add",
		Path:  "/metadata/annotations/modal-operator.io~1original-networking",
		Value: string(encoded),
	}, nil
}
