package reconcile

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"github.com/solanyn/modal-operator/internal/operrors"
)

// KubernetesServiceManager implements ServiceManager against the
// cluster's core/v1 Service API directly (no CR involved, so no
// code-generated clientset is needed here).
type KubernetesServiceManager struct {
	Clientset *kubernetes.Clientset
}

func serviceName(crName string) string {
	return crName + "-tunnel"
}

func (s *KubernetesServiceManager) EnsureExternalName(ctx context.Context, namespace, name, externalHost string) error {
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      serviceName(name),
			Namespace: namespace,
			Labels: map[string]string{
				"modal-operator.io/type": "tunnel-service",
				"modal-operator.io/cr":   name,
			},
		},
		Spec: corev1.ServiceSpec{
			Type:         corev1.ServiceTypeExternalName,
			ExternalName: externalHost,
			Ports: []corev1.ServicePort{
				{Port: 443, TargetPort: intstr.FromInt(443), Protocol: corev1.ProtocolTCP},
			},
		},
	}

	_, err := s.Clientset.CoreV1().Services(namespace).Create(ctx, svc, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if apierrors.IsAlreadyExists(err) {
		existing, getErr := s.Clientset.CoreV1().Services(namespace).Get(ctx, serviceName(name), metav1.GetOptions{})
		if getErr != nil {
			return operrors.New(operrors.KindStatusUpdateFailed, "service", getErr)
		}
		existing.Spec.ExternalName = externalHost
		_, updateErr := s.Clientset.CoreV1().Services(namespace).Update(ctx, existing, metav1.UpdateOptions{})
		return updateErr
	}
	return err
}

func (s *KubernetesServiceManager) DeleteExternalName(ctx context.Context, namespace, name string) error {
	err := s.Clientset.CoreV1().Services(namespace).Delete(ctx, serviceName(name), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}
