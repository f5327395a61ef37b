// Package credentials loads the (tokenId, tokenSecret) pair used to
// authenticate every call to the remote backend, and keeps it fresh
// across secret-mount rotations.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/fsnotify/fsnotify"

	"github.com/solanyn/modal-operator/internal/operrors"
)

// DefaultMountPath is the well-known secret mount for credential
// material.
const DefaultMountPath = "/etc/modal-secret"

const (
	preferredIDFile     = "MODAL_TOKEN_ID"
	preferredSecretFile = "MODAL_TOKEN_SECRET"
	legacyIDFile        = "token-id"
	legacySecretFile    = "token-secret"
)

// Pair is the credential pair injected into every backend call.
type Pair struct {
	TokenID     string
	TokenSecret string
}

// Bearer renders the pair as the gateway's Authorization header
// value.
func (p Pair) Bearer() string {
	return fmt.Sprintf("Bearer %s:%s", p.TokenID, p.TokenSecret)
}

// Loader reads the credential pair from a mounted secret directory
// and watches it for rotation, exposing the latest pair under a
// read-mostly lock.
type Loader struct {
	mountPath string
	mu        sync.RWMutex
	pair      Pair
	watcher   *fsnotify.Watcher
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// Load reads the credential pair once from mountPath. It tries the
// preferred filenames first, then the legacy ones, per the secret
// contract. Returns CredentialMissing if neither pair is present —
// this is fatal at process start per the error-handling design.
func Load(mountPath string) (Pair, error) {
	if mountPath == "" {
		mountPath = DefaultMountPath
	}
	pair, err := readPair(mountPath)
	if err != nil {
		return Pair{}, operrors.CredentialMissing(err)
	}
	return pair, nil
}

func readPair(mountPath string) (Pair, error) {
	id, idErr := readFirst(mountPath, preferredIDFile, legacyIDFile)
	secret, secretErr := readFirst(mountPath, preferredSecretFile, legacySecretFile)
	if idErr != nil {
		return Pair{}, idErr
	}
	if secretErr != nil {
		return Pair{}, secretErr
	}
	return Pair{TokenID: id, TokenSecret: secret}, nil
}

func readFirst(mountPath string, names ...string) (string, error) {
	var lastErr error
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(mountPath, name))
		if err == nil {
			return strings.TrimSpace(string(b)), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("no credential file found under %s (tried %s): %w", mountPath, strings.Join(names, ", "), lastErr)
}

// NewLoader loads the pair once and starts an fsnotify watch on
// mountPath so subsequent rotations (the mount being replaced,
// typically via a Kubernetes projected secret update) are picked up
// without a process restart.
func NewLoader(mountPath string) (*Loader, error) {
	if mountPath == "" {
		mountPath = DefaultMountPath
	}
	pair, err := Load(mountPath)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, operrors.CredentialMissing(fmt.Errorf("fsnotify watcher: %w", err))
	}
	if err := watcher.Add(mountPath); err != nil {
		_ = watcher.Close()
		return nil, operrors.CredentialMissing(fmt.Errorf("watch %s: %w", mountPath, err))
	}

	l := &Loader{
		mountPath: mountPath,
		pair:      pair,
		watcher:   watcher,
		stopCh:    make(chan struct{}),
	}
	go l.watch()
	return l, nil
}

// Current returns the most recently loaded credential pair.
func (l *Loader) Current() Pair {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pair
}

func (l *Loader) watch() {
	for {
		select {
		case <-l.stopCh:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			// Kubernetes secret mounts rotate via a symlink swap, which
			// surfaces as a Create/Remove on the mount directory rather
			// than a Write on the individual file; reload unconditionally
			// on any event instead of filtering by op.
			l.reload(event.Name)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logging.Log.WithError(err).Warn("credential watcher error")
		}
	}
}

func (l *Loader) reload(trigger string) {
	pair, err := Load(l.mountPath)
	if err != nil {
		logging.Log.WithError(err).WithField("trigger", trigger).
			Warn("credential reload failed, keeping previous pair")
		return
	}
	l.mu.Lock()
	l.pair = pair
	l.mu.Unlock()
	logging.Log.Info("credential pair reloaded")
}

// Close stops the rotation watch.
func (l *Loader) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return l.watcher.Close()
}
