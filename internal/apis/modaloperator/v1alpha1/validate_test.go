package v1alpha1

import "testing"

func TestValidateJobSpecReplicasRequireClusterNetworking(t *testing.T) {
	spec := ModalJobSpec{Image: "pytorch/pytorch:latest", Replicas: 3}
	if err := ValidateJobSpec(spec); err == nil {
		t.Fatal("expected error for replicas>1 without enableClusterNetworking")
	}
	spec.EnableClusterNetworking = true
	if err := ValidateJobSpec(spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateEndpointSpecReplicaOrdering(t *testing.T) {
	spec := ModalEndpointSpec{Image: "tensorflow/serving:latest", MinReplicas: 2, MaxReplicas: 1}
	if err := ValidateEndpointSpec(spec); err == nil {
		t.Fatal("expected error for maxReplicas < minReplicas")
	}
}
