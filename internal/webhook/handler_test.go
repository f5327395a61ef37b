package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	admissionv1 "k8s.io/api/admission/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

func newReview(t *testing.T, pod *corev1.Pod) admissionv1.AdmissionReview {
	t.Helper()
	raw, err := json.Marshal(pod)
	require.NoError(t, err)
	return admissionv1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{APIVersion: "admission.k8s.io/v1", Kind: "AdmissionReview"},
		Request: &admissionv1.AdmissionRequest{
			UID:    "test-uid-123",
			Object: runtime.RawExtension{Raw: raw},
		},
	}
}

func postReview(t *testing.T, h *Handler, review admissionv1.AdmissionReview) admissionv1.AdmissionReview {
	t.Helper()
	body, err := json.Marshal(review)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mutate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp admissionv1.AdmissionReview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandlerAllowsValidPodWithJSONPatch(t *testing.T) {
	h := NewHandler(NewMutator(""))
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "test-pod", Namespace: "default"},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{
				{Name: "app", Image: "python:3.11-slim", Command: []string{"python", "-c", "print('test')"}},
			},
		},
	}
	review := newReview(t, pod)
	resp := postReview(t, h, review)

	require.NotNil(t, resp.Response)
	assert.True(t, resp.Response.Allowed)
	assert.EqualValues(t, "test-uid-123", resp.Response.UID)
	require.NotNil(t, resp.Response.PatchType)
	assert.Equal(t, admissionv1.PatchTypeJSONPatch, *resp.Response.PatchType)
	assert.NotEmpty(t, resp.Response.Patch)

	var patches []PatchOp
	require.NoError(t, json.Unmarshal(resp.Response.Patch, &patches))
	assert.Equal(t, "replace", patches[0].Op)
	assert.Equal(t, "/spec/containers", patches[0].Path)
}

func TestHandlerDeniesPodWithoutContainers(t *testing.T) {
	h := NewHandler(NewMutator(""))
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "empty-pod"},
		Spec:       corev1.PodSpec{},
	}
	review := newReview(t, pod)
	resp := postReview(t, h, review)

	require.NotNil(t, resp.Response)
	assert.False(t, resp.Response.Allowed)
	assert.EqualValues(t, "test-uid-123", resp.Response.UID)
	require.NotNil(t, resp.Response.Result)
	assert.NotEmpty(t, resp.Response.Result.Message)
}

func TestHandlerRejectsMissingRequest(t *testing.T) {
	h := NewHandler(NewMutator(""))
	review := admissionv1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{APIVersion: "admission.k8s.io/v1", Kind: "AdmissionReview"},
	}
	body, err := json.Marshal(review)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mutate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRejectsUndecodablePod(t *testing.T) {
	h := NewHandler(NewMutator(""))
	review := admissionv1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{APIVersion: "admission.k8s.io/v1", Kind: "AdmissionReview"},
		Request: &admissionv1.AdmissionRequest{
			UID:    "test-uid-456",
			Object: runtime.RawExtension{Raw: []byte(`{"spec": "not-an-object"}`)},
		},
	}
	resp := postReview(t, h, review)

	require.NotNil(t, resp.Response)
	assert.False(t, resp.Response.Allowed)
}
