// Package v1alpha1 defines the typed custom resources for the
// modal-operator.io/v1alpha1 API group: ModalJob, ModalFunction, and
// ModalEndpoint. The permissive admission-time schema lives only at
// the wire boundary (the webhook's raw JSON patch construction); once
// a pod's workload is handed to a reconciler it is a strongly typed
// record validated by a pre-serialization check, never a loose dict.
package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	GroupName = "modal-operator.io"
	Version   = "v1alpha1"
)

// SchemeGroupVersion is the group/version used to register these
// types with a runtime.Scheme.
var SchemeGroupVersion = schema.GroupVersion{Group: GroupName, Version: Version}

// Phase values shared by the three CR kinds' lifecycles.
type JobPhase string

const (
	JobPending   JobPhase = "Pending"
	JobRunning   JobPhase = "Running"
	JobSucceeded JobPhase = "Succeeded"
	JobFailed    JobPhase = "Failed"
)

type FunctionPhase string

const (
	FunctionPending  FunctionPhase = "Pending"
	FunctionDeployed FunctionPhase = "Deployed"
	FunctionFailed   FunctionPhase = "Failed"
)

type EndpointPhase string

const (
	EndpointPending EndpointPhase = "Pending"
	EndpointReady   EndpointPhase = "Ready"
	EndpointFailed  EndpointPhase = "Failed"
)

// Condition mirrors the standard Kubernetes condition shape used on
// every CR's status.
type Condition struct {
	Type               string      `json:"type"`
	Status             string      `json:"status"`
	Reason             string      `json:"reason,omitempty"`
	Message            string      `json:"message,omitempty"`
	LastTransitionTime metav1.Time `json:"lastTransitionTime,omitempty"`
}

// ---- ModalJob ----

type ModalJobSpec struct {
	Image                   string            `json:"image"`
	Command                 []string          `json:"command,omitempty"`
	Args                    []string          `json:"args,omitempty"`
	CPU                     string            `json:"cpu,omitempty"`
	Memory                  string            `json:"memory,omitempty"`
	GPU                     string            `json:"gpu,omitempty"`
	Env                     map[string]string `json:"env,omitempty"`
	TimeoutSeconds          int               `json:"timeoutSeconds,omitempty"`
	Retries                 int               `json:"retries,omitempty"`
	Replicas                int               `json:"replicas,omitempty"`
	EnableClusterNetworking bool              `json:"enableClusterNetworking,omitempty"`
}

type ModalJobStatus struct {
	Phase            JobPhase    `json:"phase,omitempty"`
	RemoteAppID      string      `json:"remoteAppId,omitempty"`
	RemoteFunctionID string      `json:"remoteFunctionId,omitempty"`
	TunnelURL        string      `json:"tunnelUrl,omitempty"`
	LogURL           string      `json:"logUrl,omitempty"`
	Conditions       []Condition `json:"conditions,omitempty"`
}

// +k8s:deepcopy-gen=true
type ModalJob struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ModalJobSpec   `json:"spec,omitempty"`
	Status ModalJobStatus `json:"status,omitempty"`
}

type ModalJobList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ModalJob `json:"items"`
}

// ---- ModalFunction ----

type ModalFunctionSpec struct {
	Image          string            `json:"image"`
	Handler        string            `json:"handler"`
	CPU            string            `json:"cpu,omitempty"`
	Memory         string            `json:"memory,omitempty"`
	GPU            string            `json:"gpu,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	Concurrency    int               `json:"concurrency,omitempty"`
}

type ModalFunctionStatus struct {
	Phase       FunctionPhase `json:"phase,omitempty"`
	RemoteAppID string        `json:"remoteAppId,omitempty"`
	FunctionURL string        `json:"functionUrl,omitempty"`
	Conditions  []Condition   `json:"conditions,omitempty"`
}

// +k8s:deepcopy-gen=true
type ModalFunction struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ModalFunctionSpec   `json:"spec,omitempty"`
	Status ModalFunctionStatus `json:"status,omitempty"`
}

type ModalFunctionList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ModalFunction `json:"items"`
}

// ---- ModalEndpoint ----

type ModalEndpointSpec struct {
	Image          string            `json:"image"`
	Handler        string            `json:"handler"`
	Command        []string          `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	CPU            string            `json:"cpu,omitempty"`
	Memory         string            `json:"memory,omitempty"`
	GPU            string            `json:"gpu,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	MinReplicas    int               `json:"minReplicas,omitempty"`
	MaxReplicas    int               `json:"maxReplicas,omitempty"`
}

type ModalEndpointStatus struct {
	Phase         EndpointPhase `json:"phase,omitempty"`
	RemoteAppID   string        `json:"remoteAppId,omitempty"`
	EndpointURL   string        `json:"endpointUrl,omitempty"`
	ReadyReplicas int           `json:"readyReplicas,omitempty"`
	Conditions    []Condition   `json:"conditions,omitempty"`
}

// +k8s:deepcopy-gen=true
type ModalEndpoint struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ModalEndpointSpec   `json:"spec,omitempty"`
	Status ModalEndpointStatus `json:"status,omitempty"`
}

type ModalEndpointList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ModalEndpoint `json:"items"`
}

// DeepCopyObject implementations satisfy runtime.Object so these
// types can be used directly with client-go's dynamic/typed clients.

func (in *ModalJob) DeepCopyObject() runtime.Object {
	out := *in
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	out.Spec = in.Spec.deepCopy()
	out.Status = in.Status.deepCopy()
	return &out
}

func (in *ModalJobList) DeepCopyObject() runtime.Object {
	out := *in
	out.Items = make([]ModalJob, len(in.Items))
	for i := range in.Items {
		out.Items[i] = *in.Items[i].DeepCopyObject().(*ModalJob)
	}
	return &out
}

func (in *ModalFunction) DeepCopyObject() runtime.Object {
	out := *in
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	out.Spec = in.Spec.deepCopy()
	out.Status = in.Status.deepCopy()
	return &out
}

func (in *ModalFunctionList) DeepCopyObject() runtime.Object {
	out := *in
	out.Items = make([]ModalFunction, len(in.Items))
	for i := range in.Items {
		out.Items[i] = *in.Items[i].DeepCopyObject().(*ModalFunction)
	}
	return &out
}

func (in *ModalEndpoint) DeepCopyObject() runtime.Object {
	out := *in
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	out.Spec = in.Spec.deepCopy()
	out.Status = in.Status.deepCopy()
	return &out
}

func (in *ModalEndpointList) DeepCopyObject() runtime.Object {
	out := *in
	out.Items = make([]ModalEndpoint, len(in.Items))
	for i := range in.Items {
		out.Items[i] = *in.Items[i].DeepCopyObject().(*ModalEndpoint)
	}
	return &out
}

func (s ModalJobSpec) deepCopy() ModalJobSpec {
	out := s
	out.Command = append([]string(nil), s.Command...)
	out.Args = append([]string(nil), s.Args...)
	out.Env = copyMap(s.Env)
	return out
}

func (s ModalJobStatus) deepCopy() ModalJobStatus {
	out := s
	out.Conditions = append([]Condition(nil), s.Conditions...)
	return out
}

func (s ModalFunctionSpec) deepCopy() ModalFunctionSpec {
	out := s
	out.Env = copyMap(s.Env)
	return out
}

func (s ModalFunctionStatus) deepCopy() ModalFunctionStatus {
	out := s
	out.Conditions = append([]Condition(nil), s.Conditions...)
	return out
}

func (s ModalEndpointSpec) deepCopy() ModalEndpointSpec {
	out := s
	out.Command = append([]string(nil), s.Command...)
	out.Args = append([]string(nil), s.Args...)
	out.Env = copyMap(s.Env)
	return out
}

func (s ModalEndpointStatus) deepCopy() ModalEndpointStatus {
	out := s
	out.Conditions = append([]Condition(nil), s.Conditions...)
	return out
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
