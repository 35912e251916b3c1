package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relayfront.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateCommandAcceptsGoodConfig(t *testing.T) {
	path := writeTempConfig(t, `
listen_addr: "127.0.0.1:8080"
routes:
  /api:
    type: proxy
    target: "http://127.0.0.1:9000"
`)

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"validate", "--config", path})

	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() == "" {
		t.Error("expected a success message on stdout")
	}
}

func TestValidateCommandRejectsBadConfig(t *testing.T) {
	path := writeTempConfig(t, `
listen_addr: "not-valid"
routes: {}
`)

	root := newRootCommand()
	var errOut bytes.Buffer
	root.SetErr(&errOut)
	root.SetArgs([]string{"validate", "--config", path})

	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for an invalid listen_addr")
	}
	if errOut.String() == "" {
		t.Error("expected validation errors printed to stderr")
	}
}
