package reconcile

import (
	"context"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1alpha1 "github.com/solanyn/modal-operator/internal/apis/modaloperator/v1alpha1"
)

// EventType distinguishes the three triggers a reconciler reacts to.
// Update carries no mutable fields in this version of the CRs — it is
// only logged, per spec.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// JobStore reads and persists ModalJob status subresource patches.
// Backed in production by a typed or unstructured client against the
// apiserver; backed in tests by an in-memory fake. GetJobStatus lets a
// delete-event reconcile recover the RemoteAppID it needs to cancel
// the remote job without re-translating the (possibly already
// removed) spec.
type JobStore interface {
	GetJobStatus(ctx context.Context, namespace, name string) (v1alpha1.ModalJobStatus, error)
	UpdateJobStatus(ctx context.Context, namespace, name string, status v1alpha1.ModalJobStatus) error
}

// FunctionStore reads and persists ModalFunction status patches.
type FunctionStore interface {
	GetFunctionStatus(ctx context.Context, namespace, name string) (v1alpha1.ModalFunctionStatus, error)
	UpdateFunctionStatus(ctx context.Context, namespace, name string, status v1alpha1.ModalFunctionStatus) error
}

// EndpointStore reads and persists ModalEndpoint status patches.
type EndpointStore interface {
	GetEndpointStatus(ctx context.Context, namespace, name string) (v1alpha1.ModalEndpointStatus, error)
	UpdateEndpointStatus(ctx context.Context, namespace, name string, status v1alpha1.ModalEndpointStatus) error
}

// ServiceManager creates/deletes the ExternalName Services that let
// in-cluster clients resolve a Function/Endpoint's remote hostname
// through normal DNS.
type ServiceManager interface {
	EnsureExternalName(ctx context.Context, namespace, name, externalHost string) error
	DeleteExternalName(ctx context.Context, namespace, name string) error
}

func condition(condType, status, reason, message string) v1alpha1.Condition {
	return v1alpha1.Condition{
		Type:               condType,
		Status:             status,
		Reason:             reason,
		Message:            message,
		LastTransitionTime: metav1.NewTime(time.Now()),
	}
}
