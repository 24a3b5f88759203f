package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCheckValidConfig(t *testing.T) {
	path := writeConfig(t, "boxwatch.hcl", `
msp {
  domain       = "acme.firewalla.net"
  access_token = "test-token-0123456789"
  box_gid      = "gid-1"
}
`)
	if err := RunCheck(path, false); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestRunCheckMissingToken(t *testing.T) {
	path := writeConfig(t, "boxwatch.hcl", `
msp {
  domain  = "acme.firewalla.net"
  box_gid = "gid-1"
}
`)
	if err := RunCheck(path, false); err == nil {
		t.Fatal("expected error for missing access_token")
	}
}

func TestRunCheckMissingFile(t *testing.T) {
	if err := RunCheck(filepath.Join(t.TempDir(), "nope.hcl"), false); err == nil {
		t.Fatal("expected error for missing file")
	}
}
