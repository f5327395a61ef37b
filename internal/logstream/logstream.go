// Package logstream implements the sidecar log-streamer: it waits
// for the intercepted pod's sibling CR to report a remoteAppId, then
// relays the backend's app log stream to stdout as one JSON line per
// message, the same shape `kubectl logs` readers expect from any
// other container.
package logstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"

	"github.com/solanyn/modal-operator/internal/logmask"
	"github.com/solanyn/modal-operator/internal/remotebackend"
)

// entry is one emitted line's shape.
type entry struct {
	Timestamp string `json:"timestamp"`
	Pod       string `json:"pod"`
	Container string `json:"container"`
	Message   string `json:"message"`
}

// AppIDResolver finds the remoteAppId off the pod's sibling CR (Job
// or Endpoint kind, tried in that order). Implemented in production
// by *crclient.Client; returns "" with a nil error while the CR
// hasn't been assigned an app id yet.
type AppIDResolver interface {
	ResolveAppID(ctx context.Context, namespace, podName string) (string, error)
}

// Streamer drives one pod's entire log-streamer sidecar lifecycle.
type Streamer struct {
	CRs     AppIDResolver
	Backend remotebackend.Client
	Out     io.Writer

	PollInterval time.Duration

	// Masker redacts the operator's own credential pair out of
	// relayed log messages, if set. Nil disables masking.
	Masker *logmask.Masker
}

func New(crs AppIDResolver, backend remotebackend.Client, out io.Writer, pollInterval time.Duration) *Streamer {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Streamer{CRs: crs, Backend: backend, Out: out, PollInterval: pollInterval}
}

// WithMasker sets the credential masker applied to every relayed
// message and returns s for chaining.
func (s *Streamer) WithMasker(m *logmask.Masker) *Streamer {
	s.Masker = m
	return s
}

// Run blocks for the sidecar's lifetime: it polls for remoteAppId,
// streams logs once available, and sleeps indefinitely once the
// stream ends so the pod stays alive for the workload controller that
// owns it.
func (s *Streamer) Run(ctx context.Context, namespace, podName string) error {
	appID, err := s.waitForAppID(ctx, namespace, podName)
	if err != nil {
		return fmt.Errorf("wait for remote app id: %w", err)
	}

	lines, err := s.Backend.StreamAppLogs(ctx, appID)
	if err != nil {
		return fmt.Errorf("stream app logs for %s: %w", appID, err)
	}

	w := bufio.NewWriter(s.Out)
	for line := range lines {
		if err := s.emit(w, podName, line); err != nil {
			logging.Log.WithError(err).Warn("failed to emit log line")
		}
	}

	logging.Log.WithField("pod", podName).Info("backend log stream ended, sleeping to keep sidecar alive")
	<-ctx.Done()
	return ctx.Err()
}

func (s *Streamer) emit(w *bufio.Writer, podName string, line remotebackend.LogLine) error {
	ts := line.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339)
	}
	message := line.Message
	if s.Masker != nil {
		message = s.Masker.MaskString(message)
	}
	e := entry{Timestamp: ts, Pod: podName, Container: "modal", Message: message}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Streamer) waitForAppID(ctx context.Context, namespace, podName string) (string, error) {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		appID, err := s.CRs.ResolveAppID(ctx, namespace, podName)
		if err != nil {
			return "", err
		}
		if appID != "" {
			return appID, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
