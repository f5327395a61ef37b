package cmd

import (
	"context"
	"fmt"
	"net/http"
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
	"github.com/solanyn/modal-operator/internal/gateway"
	"github.com/solanyn/modal-operator/internal/metrics"
	"github.com/solanyn/modal-operator/internal/socksproxy"
)

// ProxyCommand runs the proxy sidecar: the authenticated HTTP gateway
// (resolves modal-function calls, forwards everything else to the
// backend) and the loopback SOCKS5 outbound proxy, injected into
// every intercepted pod per spec §4.D/§4.E.
var ProxyCommand = &cli.Command{
	Name:  "proxy",
	Usage: "Run the proxy sidecar (HTTP gateway + SOCKS5 outbound proxy)",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:        "port",
			Value:       8080,
			EnvVars:     []string{"MODAL_PROXY_PORT"},
			Destination: &config.ProxyPort,
		},
		&cli.IntFlag{
			Name:        "socks-port",
			Value:       socksproxy.DefaultPort,
			EnvVars:     []string{"MODAL_SOCKS_PORT"},
			Destination: &config.SocksPort,
		},
		&cli.IntFlag{
			Name:        "socks-concurrency",
			Value:       64,
			EnvVars:     []string{"MODAL_SOCKS_CONCURRENCY"},
			Destination: &config.SocksConcurrency,
		},
		&cli.StringFlag{
			Name:    "namespace",
			Usage:   "Namespace to resolve ModalFunction CRs in (defaults to this pod's own namespace)",
			EnvVars: []string{"MODAL_OPERATOR_NAMESPACE"},
		},
	},
	Action: func(ctx *cli.Context) error {
		return RunProxy(ctx)
	},
}

// functionResolver adapts *crclient.Client to gateway.FunctionResolver,
// fixing the namespace at construction since a sidecar only ever
// resolves functions in its own pod's namespace.
type functionResolver struct {
	crs       *crclient.Client
	namespace string
}

func (r *functionResolver) ResolveFunctionURL(ctx context.Context, name string) (string, bool, error) {
	status, err := r.crs.GetFunctionStatus(ctx, r.namespace, name)
	if err != nil {
		return "", false, err
	}
	return status.FunctionURL, status.FunctionURL != "", nil
}

func RunProxy(cliCtx *cli.Context) error {
	namespace := cliCtx.String("namespace")
	if namespace == "" {
		namespace = currentNamespace()
	}

	loader, err := credentials.NewLoader(config.CredentialMountPath)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	defer loader.Close()

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return fmt.Errorf("get in-cluster config: %w", err)
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("build dynamic client: %w", err)
	}
	crs := crclient.New(dyn)

	gw := gateway.New(gateway.Config{
		Resolver:       &functionResolver{crs: crs, namespace: namespace},
		Credentials:    loader,
		BackendBaseURL: config.BackendBaseURL,
		Namespace:      namespace,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.ProxyPort),
		Handler: gw.Handler(),
	}
	httpErrCh := make(chan error, 1)
	go func() {
		logging.Log.Infof("gateway listening on %s", httpServer.Addr)
		httpErrCh <- httpServer.ListenAndServe()
	}()

	socks := socksproxy.New(
		socksproxy.WithPort(config.SocksPort),
		socksproxy.WithConcurrency(config.SocksConcurrency),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	socksErrCh := make(chan error, 1)
	go func() {
		logging.Log.Infof("socks5 proxy listening on 127.0.0.1:%d", config.SocksPort)
		socksErrCh <- socks.ListenAndServe(ctx)
	}()

	go metrics.StartHostResourceSampler(ctx, "proxy", 30*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Log.Infof("received signal %v, shutting down gracefully", sig)
	case err := <-httpErrCh:
		if err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Error("gateway server exited unexpectedly")
		}
	case err := <-socksErrCh:
		if err != nil {
			logging.Log.WithError(err).Error("socks5 proxy exited unexpectedly")
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
