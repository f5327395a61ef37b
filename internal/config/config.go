// Package config holds the process-wide settings each binary reads
// from flags/env vars at startup, following the teacher's
// package-level-var convention so every command shares one source of
// truth without threading a struct through every constructor.
package config

import (
	"github.com/catalystcommunity/app-utils-go/env"
)

var (
	// WebhookPort is the admission mutator's HTTPS listen port.
	WebhookPort int

	// WebhookTLSCertFile and WebhookTLSKeyFile locate the serving
	// certificate the apiserver's webhook client trusts.
	WebhookTLSCertFile string
	WebhookTLSKeyFile  string

	// OperatorImage is the image reference stamped onto the proxy and
	// logger sidecars this operator injects.
	OperatorImage = env.GetEnvOrDefault("MODAL_OPERATOR_IMAGE", "modal-operator:latest")

	// ProxyPort is the gateway HTTP listen port inside the sidecar.
	ProxyPort int

	// SocksPort is the loopback SOCKS5 outbound proxy port inside the
	// sidecar.
	SocksPort int

	// SocksConcurrency bounds the SOCKS5 accept loop's worker pool.
	SocksConcurrency int

	// BackendBaseURL is the remote backend's API base URL.
	BackendBaseURL = env.GetEnvOrDefault("MODAL_BACKEND_BASE_URL", "https://api.modal.com")

	// Backend selects which remotebackend.Client implementation is
	// constructed: "mock", "real", or "auto" (real when credentials are
	// present, mock otherwise).
	Backend = env.GetEnvOrDefault("MODAL_BACKEND", "auto")

	// CredentialMountPath is the secret mount holding the token
	// id/secret pair, with legacy fallback filenames handled by
	// internal/credentials itself.
	CredentialMountPath = env.GetEnvOrDefault("MODAL_SECRET_MOUNT_PATH", "/etc/modal-secret")

	// MetricsPort exposes the Prometheus /metrics endpoint alongside
	// the webhook server and the gateway.
	MetricsPort int

	// PodWatchNamespace restricts the pod-watch and status-sync loops
	// to a single namespace; empty means all namespaces.
	PodWatchNamespace = env.GetEnvOrDefault("MODAL_OPERATOR_NAMESPACE", "")

	// StatusSyncInterval is the periodic pod status re-sync period.
	StatusSyncInterval = env.GetEnvAsIntOrDefault("MODAL_STATUS_SYNC_INTERVAL_SECONDS", "30")

	// LogStreamPollInterval is the backoff between sibling-CR polls
	// while the log streamer waits for remoteAppId to be set.
	LogStreamPollInterval = env.GetEnvAsIntOrDefault("MODAL_LOG_STREAM_POLL_SECONDS", "2")
)
