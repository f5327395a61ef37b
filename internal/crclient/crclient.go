// Package crclient reads and writes ModalJob/ModalFunction/ModalEndpoint
// custom resources through a dynamic client. No code-generated
// clientset exists for these types, so status patches and CR creation
// go through unstructured.Unstructured the way client-go recommends
// for CRDs without generated clients.
package crclient

import (
	"context"
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1alpha1 "github.com/solanyn/modal-operator/internal/apis/modaloperator/v1alpha1"
)

var (
	jobsGVR      = schema.GroupVersionResource{Group: v1alpha1.GroupName, Version: v1alpha1.Version, Resource: "modaljobs"}
	functionsGVR = schema.GroupVersionResource{Group: v1alpha1.GroupName, Version: v1alpha1.Version, Resource: "modalfunctions"}
	endpointsGVR = schema.GroupVersionResource{Group: v1alpha1.GroupName, Version: v1alpha1.Version, Resource: "modalendpoints"}
)

// Client wraps a dynamic.Interface with the three CR kinds'
// create/get/status-patch operations. It satisfies
// internal/reconcile's JobStore/FunctionStore/EndpointStore
// interfaces and internal/podwatch's CRCreator interface.
type Client struct {
	Dynamic dynamic.Interface
}

func New(d dynamic.Interface) *Client {
	return &Client{Dynamic: d}
}

func (c *Client) GetJobStatus(ctx context.Context, namespace, name string) (v1alpha1.ModalJobStatus, error) {
	var status v1alpha1.ModalJobStatus
	u, err := c.Dynamic.Resource(jobsGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return status, nil
		}
		return status, err
	}
	return status, decodeStatus(u, &status)
}

func (c *Client) UpdateJobStatus(ctx context.Context, namespace, name string, status v1alpha1.ModalJobStatus) error {
	return c.patchStatus(ctx, jobsGVR, namespace, name, status)
}

func (c *Client) GetFunctionStatus(ctx context.Context, namespace, name string) (v1alpha1.ModalFunctionStatus, error) {
	var status v1alpha1.ModalFunctionStatus
	u, err := c.Dynamic.Resource(functionsGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return status, nil
		}
		return status, err
	}
	return status, decodeStatus(u, &status)
}

func (c *Client) UpdateFunctionStatus(ctx context.Context, namespace, name string, status v1alpha1.ModalFunctionStatus) error {
	return c.patchStatus(ctx, functionsGVR, namespace, name, status)
}

func (c *Client) GetEndpointStatus(ctx context.Context, namespace, name string) (v1alpha1.ModalEndpointStatus, error) {
	var status v1alpha1.ModalEndpointStatus
	u, err := c.Dynamic.Resource(endpointsGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return status, nil
		}
		return status, err
	}
	return status, decodeStatus(u, &status)
}

func (c *Client) UpdateEndpointStatus(ctx context.Context, namespace, name string, status v1alpha1.ModalEndpointStatus) error {
	return c.patchStatus(ctx, endpointsGVR, namespace, name, status)
}

// ResolveAppID satisfies internal/logstream's AppIDResolver: it
// resolves podName's sibling "<podName>-modal" CR (Job kind tried
// first, then Endpoint) to its remoteAppId, returning "" without error
// while the CR hasn't been assigned one yet.
func (c *Client) ResolveAppID(ctx context.Context, namespace, podName string) (string, error) {
	siblingName := podName + "-modal"

	jobStatus, err := c.GetJobStatus(ctx, namespace, siblingName)
	if err != nil {
		return "", err
	}
	if jobStatus.RemoteAppID != "" {
		return jobStatus.RemoteAppID, nil
	}

	endpointStatus, err := c.GetEndpointStatus(ctx, namespace, siblingName)
	if err != nil {
		return "", err
	}
	return endpointStatus.RemoteAppID, nil
}

// patchStatus applies status as a status-subresource merge patch,
// mirroring the original operator's patch_namespaced_custom_object_status calls.
func (c *Client) patchStatus(ctx context.Context, gvr schema.GroupVersionResource, namespace, name string, status interface{}) error {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	patch := []byte(fmt.Sprintf(`{"status":%s}`, statusJSON))
	_, err = c.Dynamic.Resource(gvr).Namespace(namespace).Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{}, "status")
	return err
}

func decodeStatus(u *unstructured.Unstructured, out interface{}) error {
	status, found, err := unstructured.NestedMap(u.Object, "status")
	if err != nil || !found {
		return err
	}
	b, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// DecodeSpec decodes an unstructured CR's spec field into out. Used
// by the operator's CR informer event handlers, which receive
// *unstructured.Unstructured from the dynamic informer factory and
// need the typed ModalJobSpec/ModalFunctionSpec/ModalEndpointSpec a
// reconciler expects.
func DecodeSpec(u *unstructured.Unstructured, out interface{}) error {
	spec, found, err := unstructured.NestedMap(u.Object, "spec")
	if err != nil || !found {
		return err
	}
	b, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Exists reports whether the named CR of the given resource kind
// already exists, used by podwatch to avoid double-submission.
func (c *Client) Exists(ctx context.Context, namespace, resource, name string) (bool, error) {
	gvr, err := gvrFor(resource)
	if err != nil {
		return false, err
	}
	_, err = c.Dynamic.Resource(gvr).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Owner identifies the pod a created CR is owned by, decoupled from
// any specific Kubernetes API type the way PodInfo is. CreateModalJob/
// Function/Endpoint translate it into a single ownerReferences entry
// so deleting the pod cascades to the CR, per the CR-is-owned-by-pod
// invariant.
type Owner struct {
	Name string
	UID  string
}

// CreateModalJob creates a ModalJob CR owned by owner.
func (c *Client) CreateModalJob(ctx context.Context, namespace, name string, spec v1alpha1.ModalJobSpec, owner Owner, labels map[string]string) error {
	return c.create(ctx, jobsGVR, "ModalJob", namespace, name, spec, owner, labels)
}

// CreateModalFunction creates a ModalFunction CR owned by owner.
func (c *Client) CreateModalFunction(ctx context.Context, namespace, name string, spec v1alpha1.ModalFunctionSpec, owner Owner, labels map[string]string) error {
	return c.create(ctx, functionsGVR, "ModalFunction", namespace, name, spec, owner, labels)
}

// CreateModalEndpoint creates a ModalEndpoint CR owned by owner.
func (c *Client) CreateModalEndpoint(ctx context.Context, namespace, name string, spec v1alpha1.ModalEndpointSpec, owner Owner, labels map[string]string) error {
	return c.create(ctx, endpointsGVR, "ModalEndpoint", namespace, name, spec, owner, labels)
}

func (c *Client) create(ctx context.Context, gvr schema.GroupVersionResource, kind, namespace, name string, spec interface{}, owner Owner, labels map[string]string) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal %s spec: %w", kind, err)
	}
	var specMap map[string]interface{}
	if err := json.Unmarshal(specJSON, &specMap); err != nil {
		return err
	}

	metadata := map[string]interface{}{
		"name":      name,
		"namespace": namespace,
		"labels":    toInterfaceMap(labels),
	}
	if owner.Name != "" && owner.UID != "" {
		metadata["ownerReferences"] = []interface{}{ownerReference(owner)}
	}

	obj := &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": v1alpha1.SchemeGroupVersion.String(),
			"kind":       kind,
			"metadata":   metadata,
			"spec":       specMap,
		},
	}
	_, err = c.Dynamic.Resource(gvr).Namespace(namespace).Create(ctx, obj, metav1.CreateOptions{})
	if err != nil && apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

// ownerReference builds the metadata.ownerReferences entry pointing at
// the mutated pod, the same api_version/kind/name/uid shape the
// original operator sets on its generated ConfigMap/Secret. Unlike
// those, the CR doesn't share the pod's lifecycle management (nothing
// here recreates or supersedes the pod), so controller stays false;
// blockOwnerDeletion is true so the CR can't outlive garbage
// collection racing the pod's own deletion.
func ownerReference(owner Owner) map[string]interface{} {
	return map[string]interface{}{
		"apiVersion":         "v1",
		"kind":               "Pod",
		"name":               owner.Name,
		"uid":                owner.UID,
		"controller":         false,
		"blockOwnerDeletion": true,
	}
}

func gvrFor(resource string) (schema.GroupVersionResource, error) {
	switch resource {
	case "modaljobs":
		return jobsGVR, nil
	case "modalfunctions":
		return functionsGVR, nil
	case "modalendpoints":
		return endpointsGVR, nil
	default:
		return schema.GroupVersionResource{}, fmt.Errorf("unknown CR resource %q", resource)
	}
}

func toInterfaceMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
