package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/catalystcommunity/app-utils-go/logging"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/dynamic/dynamicinformer"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"

	v1alpha1 "github.com/solanyn/modal-operator/internal/apis/modaloperator/v1alpha1"
	"github.com/solanyn/modal-operator/internal/config"
	"github.com/solanyn/modal-operator/internal/crclient"
	"github.com/solanyn/modal-operator/internal/credentials"
	"github.com/solanyn/modal-operator/internal/metrics"
	"github.com/solanyn/modal-operator/internal/podwatch"
	"github.com/solanyn/modal-operator/internal/reconcile"
	"github.com/solanyn/modal-operator/internal/remotebackend"
	"github.com/solanyn/modal-operator/internal/statussync"
	"github.com/solanyn/modal-operator/internal/webhook"
)

// OperatorCommand runs the control plane: the three CR reconcilers,
// the pod-watch CR-creation loop, the periodic+on-update status
// syncer, and the admission mutator's HTTPS server — each an
// independent loop sharing one process, per spec §5's "multiple
// processes, each internally cooperative-single-threaded" model.
var OperatorCommand = &cli.Command{
	Name:  "operator",
	Usage: "Run the modal-operator control plane",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:        "webhook-port",
			Value:       8443,
			Usage:       "Admission webhook HTTPS listen port",
			EnvVars:     []string{"MODAL_OPERATOR_WEBHOOK_PORT"},
			Destination: &config.WebhookPort,
		},
		&cli.StringFlag{
			Name:        "webhook-tls-cert",
			Value:       "/etc/modal-operator/tls/tls.crt",
			EnvVars:     []string{"MODAL_OPERATOR_WEBHOOK_TLS_CERT"},
			Destination: &config.WebhookTLSCertFile,
		},
		&cli.StringFlag{
			Name:        "webhook-tls-key",
			Value:       "/etc/modal-operator/tls/tls.key",
			EnvVars:     []string{"MODAL_OPERATOR_WEBHOOK_TLS_KEY"},
			Destination: &config.WebhookTLSKeyFile,
		},
		&cli.IntFlag{
			Name:        "metrics-port",
			Value:       8081,
			EnvVars:     []string{"MODAL_OPERATOR_METRICS_PORT"},
			Destination: &config.MetricsPort,
		},
		&cli.StringFlag{
			Name:        "namespace",
			Usage:       "Restrict reconcile/pod-watch/status-sync to a single namespace; empty means all namespaces",
			EnvVars:     []string{"MODAL_OPERATOR_NAMESPACE"},
			Destination: &config.PodWatchNamespace,
		},
	},
	Action: func(ctx *cli.Context) error {
		return RunOperator(ctx)
	},
}

func buildKubeClients() (*kubernetes.Clientset, dynamic.Interface, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("get in-cluster config (is this running in Kubernetes?): %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("build kubernetes clientset: %w", err)
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("build dynamic client: %w", err)
	}
	return clientset, dyn, nil
}

func currentNamespace() string {
	if config.PodWatchNamespace != "" {
		return config.PodWatchNamespace
	}
	nsBytes, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace")
	if err != nil {
		return metav1.NamespaceAll
	}
	return strings.TrimSpace(string(nsBytes))
}

// RunOperator wires every control-plane loop and blocks until a
// shutdown signal arrives.
func RunOperator(cliCtx *cli.Context) error {
	pair, err := credentials.Load(config.CredentialMountPath)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	backend, err := remotebackend.NewClient(
		remotebackend.Backend(config.Backend),
		remotebackend.WithBaseURL(config.BackendBaseURL),
		remotebackend.WithCredentials(pair),
	)
	if err != nil {
		return fmt.Errorf("build remote backend client: %w", err)
	}

	clientset, dyn, err := buildKubeClients()
	if err != nil {
		return err
	}

	crs := crclient.New(dyn)
	services := &reconcile.KubernetesServiceManager{Clientset: clientset}
	executor := reconcile.NewKeyedExecutor()

	jobReconciler := &reconcile.JobReconciler{Backend: backend, Store: crs}
	functionReconciler := &reconcile.FunctionReconciler{Backend: backend, Store: crs, Services: services}
	endpointReconciler := &reconcile.EndpointReconciler{Backend: backend, Store: crs, Services: services}

	namespace := currentNamespace()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dynFactory := dynamicinformer.NewFilteredDynamicSharedInformerFactory(dyn, 5*time.Minute, namespace, nil)
	registerCRInformer(dynFactory, jobsGVR, executor, func(ictx context.Context, ns, name string, u *unstructured.Unstructured, event reconcile.EventType) {
		var spec v1alpha1.ModalJobSpec
		if err := crclient.DecodeSpec(u, &spec); err != nil {
			logging.Log.WithError(err).WithField("job", name).Error("failed to decode modaljob spec")
			return
		}
		if err := jobReconciler.Reconcile(ictx, ns, name, spec, event); err != nil {
			logging.Log.WithError(err).WithField("job", name).Error("job reconcile failed")
		}
	})
	registerCRInformer(dynFactory, functionsGVR, executor, func(ictx context.Context, ns, name string, u *unstructured.Unstructured, event reconcile.EventType) {
		var spec v1alpha1.ModalFunctionSpec
		if err := crclient.DecodeSpec(u, &spec); err != nil {
			logging.Log.WithError(err).WithField("function", name).Error("failed to decode modalfunction spec")
			return
		}
		if err := functionReconciler.Reconcile(ictx, ns, name, spec, event); err != nil {
			logging.Log.WithError(err).WithField("function", name).Error("function reconcile failed")
		}
	})
	registerCRInformer(dynFactory, endpointsGVR, executor, func(ictx context.Context, ns, name string, u *unstructured.Unstructured, event reconcile.EventType) {
		var spec v1alpha1.ModalEndpointSpec
		if err := crclient.DecodeSpec(u, &spec); err != nil {
			logging.Log.WithError(err).WithField("endpoint", name).Error("failed to decode modalendpoint spec")
			return
		}
		if err := endpointReconciler.Reconcile(ictx, ns, name, spec, event); err != nil {
			logging.Log.WithError(err).WithField("endpoint", name).Error("endpoint reconcile failed")
		}
	})
	dynFactory.Start(ctx.Done())
	dynFactory.WaitForCacheSync(ctx.Done())

	watcher := podwatch.New(crs)
	syncer := statussync.New(statussync.NewKubernetesPodPatcher(clientset), statussync.NewCRStatusSource(crs, backend))

	podFactory := informers.NewFilteredSharedInformerFactory(clientset, 30*time.Second, namespace, nil)
	podInformer := podFactory.Core().V1().Pods().Informer()
	podInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			pod, ok := obj.(*corev1.Pod)
			if !ok {
				return
			}
			handlePodEvent(ctx, watcher, syncer, pod)
		},
		UpdateFunc: func(_, newObj interface{}) {
			pod, ok := newObj.(*corev1.Pod)
			if !ok {
				return
			}
			handlePodEvent(ctx, watcher, syncer, pod)
		},
	})
	podFactory.Start(ctx.Done())
	podFactory.WaitForCacheSync(ctx.Done())

	go runPeriodicStatusSync(ctx, podInformer, syncer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", config.MetricsPort), Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Error("metrics server exited")
		}
	}()

	mutator := webhook.NewMutator(config.OperatorImage)
	handler := webhook.NewHandler(mutator)
	webhookServer := &http.Server{
		Addr:      fmt.Sprintf(":%d", config.WebhookPort),
		Handler:   handler,
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	webhookErrCh := make(chan error, 1)
	go func() {
		logging.Log.Infof("admission webhook listening on %s", webhookServer.Addr)
		webhookErrCh <- webhookServer.ListenAndServeTLS(config.WebhookTLSCertFile, config.WebhookTLSKeyFile)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Log.Infof("received signal %v, shutting down gracefully", sig)
	case err := <-webhookErrCh:
		if err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Error("admission webhook server exited unexpectedly")
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = webhookServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

var (
	jobsGVR      = schema.GroupVersionResource{Group: v1alpha1.GroupName, Version: v1alpha1.Version, Resource: "modaljobs"}
	functionsGVR = schema.GroupVersionResource{Group: v1alpha1.GroupName, Version: v1alpha1.Version, Resource: "modalfunctions"}
	endpointsGVR = schema.GroupVersionResource{Group: v1alpha1.GroupName, Version: v1alpha1.Version, Resource: "modalendpoints"}
)

// registerCRInformer wires one CR kind's add/update/delete events to
// executor.Submit, keyed by "<namespace>/<name>" so two events for
// the same CR never race each other while distinct CRs reconcile
// concurrently.
func registerCRInformer(
	factory dynamicinformer.DynamicSharedInformerFactory,
	gvr schema.GroupVersionResource,
	executor *reconcile.KeyedExecutor,
	handle func(ctx context.Context, namespace, name string, u *unstructured.Unstructured, event reconcile.EventType),
) {
	informer := factory.ForResource(gvr).Informer()
	submit := func(obj interface{}, event reconcile.EventType) {
		u, ok := obj.(*unstructured.Unstructured)
		if !ok {
			return
		}
		namespace := u.GetNamespace()
		name := u.GetName()
		key := namespace + "/" + name
		executor.Submit(context.Background(), key, func(ctx context.Context) {
			handle(ctx, namespace, name, u, event)
		})
	}
	informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) { submit(obj, reconcile.EventCreate) },
		UpdateFunc: func(_, newObj interface{}) {
			submit(newObj, reconcile.EventUpdate)
		},
		DeleteFunc: func(obj interface{}) {
			if tomb, ok := obj.(cache.DeletedFinalStateUnknown); ok {
				obj = tomb.Obj
			}
			submit(obj, reconcile.EventDelete)
		},
	})
}

func handlePodEvent(ctx context.Context, watcher *podwatch.Watcher, syncer *statussync.Syncer, pod *corev1.Pod) {
	info := podInfoFromCoreV1(pod)
	if err := watcher.HandlePod(ctx, info); err != nil {
		logging.Log.WithError(err).WithField("pod", pod.Name).Error("HandlePod failed")
	}
	if err := watcher.HandleLegacyPod(ctx, info); err != nil {
		logging.Log.WithError(err).WithField("pod", pod.Name).Error("HandleLegacyPod failed")
	}
	if err := syncer.Sync(ctx, podStatusInfoFromCoreV1(pod)); err != nil {
		logging.Log.WithError(err).WithField("pod", pod.Name).Error("status sync failed")
	}
}

// runPeriodicStatusSync re-syncs every mutated pod in the informer's
// local cache on config.StatusSyncInterval, so a pod whose sibling app
// finished without triggering a pod-update event still gets its
// terminal status projected promptly.
func runPeriodicStatusSync(ctx context.Context, podInformer cache.SharedIndexInformer, syncer *statussync.Syncer) {
	ticker := time.NewTicker(time.Duration(config.StatusSyncInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, obj := range podInformer.GetStore().List() {
				pod, ok := obj.(*corev1.Pod)
				if !ok {
					continue
				}
				if err := syncer.Sync(ctx, podStatusInfoFromCoreV1(pod)); err != nil {
					logging.Log.WithError(err).WithField("pod", pod.Name).Error("periodic status sync failed")
				}
			}
		}
	}
}

func podInfoFromCoreV1(pod *corev1.Pod) podwatch.PodInfo {
	containers := make([]podwatch.ContainerInfo, 0, len(pod.Spec.Containers))
	for _, c := range pod.Spec.Containers {
		env := map[string]string{}
		for _, e := range c.Env {
			env[e.Name] = e.Value
		}
		gpuRequest := ""
		if qty, ok := c.Resources.Requests["nvidia.com/gpu"]; ok {
			gpuRequest = qty.String()
		}
		containers = append(containers, podwatch.ContainerInfo{
			Name:       c.Name,
			Image:      c.Image,
			Command:    c.Command,
			Args:       c.Args,
			Env:        env,
			GPURequest: gpuRequest,
		})
	}
	return podwatch.PodInfo{
		Name:        pod.Name,
		Namespace:   pod.Namespace,
		UID:         string(pod.UID),
		Annotations: pod.Annotations,
		Labels:      pod.Labels,
		Containers:  containers,
	}
}

func podStatusInfoFromCoreV1(pod *corev1.Pod) statussync.PodInfo {
	info := statussync.PodInfo{
		Name:        pod.Name,
		Namespace:   pod.Namespace,
		Annotations: pod.Annotations,
		Phase:       statussync.PodPhase(pod.Status.Phase),
	}
	if pod.Status.StartTime != nil {
		t := pod.Status.StartTime.Time
		info.StartTime = &t
	}
	if len(pod.Spec.Containers) > 0 {
		info.ContainerName = pod.Spec.Containers[0].Name
		info.ContainerImage = pod.Spec.Containers[0].Image
	}
	return info
}
