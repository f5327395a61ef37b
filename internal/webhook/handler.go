package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	admissionv1 "k8s.io/api/admission/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8stypes "k8s.io/apimachinery/pkg/types"

	"github.com/google/uuid"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/solanyn/modal-operator/internal/capsule"
	"github.com/solanyn/modal-operator/internal/metrics"
)

// Handler serves POST /mutate with the cluster's admission review
// envelope. Scoping to pods needing mutation happens at webhook
// registration (objectSelector); this handler unconditionally
// mutates whatever it receives.
type Handler struct {
	mutator *Mutator
}

func NewHandler(mutator *Mutator) *Handler {
	return &Handler{mutator: mutator}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.NewString()
	log := logging.Log.WithField("correlation_id", correlationID)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.WithError(err).Error("failed to read admission request body")
		metrics.RecordWebhookRequest(r.Method, http.StatusBadRequest)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var review admissionv1.AdmissionReview
	if err := json.Unmarshal(body, &review); err != nil {
		log.WithError(err).Error("failed to decode admission review")
		metrics.RecordWebhookRequest(r.Method, http.StatusBadRequest)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if review.Request == nil {
		log.Error("admission review missing request")
		metrics.RecordWebhookRequest(r.Method, http.StatusBadRequest)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	uid := review.Request.UID
	log = log.WithField("uid", string(uid))
	log.Info("mutating admission request")

	var pod corev1.Pod
	if err := json.Unmarshal(review.Request.Object.Raw, &pod); err != nil {
		log.WithError(err).Warn("denying pod admission: failed to decode pod")
		h.respondDeny(w, review, uid, err.Error())
		metrics.RecordWebhookRequest(r.Method, http.StatusOK)
		return
	}

	input := toPodInput(&pod)
	patches, err := h.mutator.BuildPatch(input)
	if err != nil {
		log.WithError(err).Warn("denying pod admission")
		h.respondDeny(w, review, uid, err.Error())
		metrics.RecordWebhookRequest(r.Method, http.StatusOK)
		return
	}

	h.respondAllow(w, review, uid, patches)
	metrics.RecordWebhookRequest(r.Method, http.StatusOK)
}

func toPodInput(pod *corev1.Pod) PodInput {
	containers := make([]capsule.Container, 0, len(pod.Spec.Containers))
	for _, c := range pod.Spec.Containers {
		env := map[string]string{}
		for _, e := range c.Env {
			env[e.Name] = e.Value
		}
		containers = append(containers, capsule.Container{
			Name:    c.Name,
			Image:   c.Image,
			Command: c.Command,
			Args:    c.Args,
			Env:     env,
		})
	}

	var dnsConfig interface{}
	if pod.Spec.DNSConfig != nil {
		dnsConfig = pod.Spec.DNSConfig
	}

	return PodInput{
		Name:        pod.Name,
		Namespace:   pod.Namespace,
		Annotations: pod.Annotations,
		Labels:      pod.Labels,
		Containers:  containers,
		HostNetwork: pod.Spec.HostNetwork,
		DNSPolicy:   string(pod.Spec.DNSPolicy),
		Subdomain:   pod.Spec.Subdomain,
		Hostname:    pod.Spec.Hostname,
		DNSConfig:   dnsConfig,
	}
}

func (h *Handler) respondAllow(w http.ResponseWriter, review admissionv1.AdmissionReview, uid k8stypes.UID, patches []PatchOp) {
	patchBytes, err := json.Marshal(patches)
	if err != nil {
		// Never return a malformed patch: fall back to a deny response.
		h.respondDeny(w, review, uid, err.Error())
		return
	}
	patchType := admissionv1.PatchTypeJSONPatch
	resp := admissionv1.AdmissionReview{
		TypeMeta: review.TypeMeta,
		Response: &admissionv1.AdmissionResponse{
			UID:       uid,
			Allowed:   true,
			PatchType: &patchType,
			Patch:     patchBytes,
			Result:    &metav1.Status{Message: "Mutated pod for Modal execution"},
		},
	}
	writeJSON(w, resp)
}

func (h *Handler) respondDeny(w http.ResponseWriter, review admissionv1.AdmissionReview, uid k8stypes.UID, message string) {
	resp := admissionv1.AdmissionReview{
		TypeMeta: review.TypeMeta,
		Response: &admissionv1.AdmissionResponse{
			UID:     uid,
			Allowed: false,
			Result:  &metav1.Status{Message: message},
		},
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Log.WithError(err).Error("failed to encode admission response")
	}
}
