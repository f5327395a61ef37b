package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/catalystcommunity/app-utils-go/logging"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"

	"github.com/solanyn/modal-operator/internal/config"
	"github.com/solanyn/modal-operator/internal/crclient"
	"github.com/solanyn/modal-operator/internal/credentials"
	"github.com/solanyn/modal-operator/internal/logmask"
	"github.com/solanyn/modal-operator/internal/logstream"
	"github.com/solanyn/modal-operator/internal/metrics"
	"github.com/solanyn/modal-operator/internal/remotebackend"
)

// LoggerCommand runs the log-streamer sidecar per spec §4.I: it waits
// for its own pod's sibling CR to report a remoteAppId, then relays
// the backend's app log stream to stdout for the life of the pod.
var LoggerCommand = &cli.Command{
	Name:  "logger",
	Usage: "Run the log-streamer sidecar",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "pod-name",
			Usage:    "Name of the pod this sidecar is streaming logs for",
			EnvVars:  []string{"MODAL_POD_NAME"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "namespace",
			Usage:   "Namespace of the pod this sidecar is streaming logs for (defaults to this pod's own namespace)",
			EnvVars: []string{"MODAL_OPERATOR_NAMESPACE"},
		},
	},
	Action: func(ctx *cli.Context) error {
		return RunLogger(ctx)
	},
}

func RunLogger(cliCtx *cli.Context) error {
	podName := cliCtx.String("pod-name")
	namespace := cliCtx.String("namespace")
	if namespace == "" {
		namespace = currentNamespace()
	}

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

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return fmt.Errorf("get in-cluster config: %w", err)
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("build dynamic client: %w", err)
	}
	crs := crclient.New(dyn)

	masker := logmask.NewMasker()
	masker.RegisterSecrets(pair.TokenID, pair.TokenSecret)

	streamer := logstream.New(crs, backend, os.Stdout, time.Duration(config.LogStreamPollInterval)*time.Second).
		WithMasker(masker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Log.Infof("received signal %v, shutting down log streamer", sig)
		cancel()
	}()

	go metrics.StartHostResourceSampler(ctx, "logger", 30*time.Second)

	logging.Log.WithField("pod", podName).Info("log streamer starting, waiting for remote app id")
	err = streamer.Run(ctx, namespace, podName)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
