package v1alpha1

import "fmt"

// ValidateJobSpec enforces the invariants the API server's schema
// cannot express on its own: replicas>1 requires cluster networking,
// since a distributed job's replicas must reach each other directly.
func ValidateJobSpec(spec ModalJobSpec) error {
	if spec.Replicas > 1 && !spec.EnableClusterNetworking {
		return fmt.Errorf("replicas=%d requires enableClusterNetworking=true", spec.Replicas)
	}
	if spec.Image == "" {
		return fmt.Errorf("image is required")
	}
	return nil
}

// ValidateFunctionSpec checks the minimal required fields on a
// ModalFunction.
func ValidateFunctionSpec(spec ModalFunctionSpec) error {
	if spec.Image == "" {
		return fmt.Errorf("image is required")
	}
	if spec.Handler == "" {
		return fmt.Errorf("handler is required")
	}
	if spec.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0")
	}
	return nil
}

// ValidateEndpointSpec checks the minimal required fields and the
// min/max replica ordering on a ModalEndpoint.
func ValidateEndpointSpec(spec ModalEndpointSpec) error {
	if spec.Image == "" {
		return fmt.Errorf("image is required")
	}
	if spec.MaxReplicas < spec.MinReplicas {
		return fmt.Errorf("maxReplicas (%d) must be >= minReplicas (%d)", spec.MaxReplicas, spec.MinReplicas)
	}
	return nil
}
