package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/solanyn/modal-operator/internal/operrors"
)

func TestLoadPreferredFilenames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, preferredIDFile, "id-123")
	writeFile(t, dir, preferredSecretFile, "secret-456")

	pair, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pair.TokenID != "id-123" || pair.TokenSecret != "secret-456" {
		t.Errorf("got %+v, want id-123/secret-456", pair)
	}
	if pair.Bearer() != "Bearer id-123:secret-456" {
		t.Errorf("Bearer() = %q", pair.Bearer())
	}
}

func TestLoadLegacyFilenames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, legacyIDFile, "legacy-id")
	writeFile(t, dir, legacySecretFile, "legacy-secret")

	pair, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pair.TokenID != "legacy-id" || pair.TokenSecret != "legacy-secret" {
		t.Errorf("got %+v, want legacy-id/legacy-secret", pair)
	}
}

func TestLoadMissingIsCredentialMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for empty mount")
	}
	if !operrors.IsKind(err, operrors.KindCredentialMissing) {
		t.Errorf("error kind = %v, want CredentialMissing", err)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
