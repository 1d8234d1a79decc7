package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/pslog"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(pslog.NewStructured(io.Discard))
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "pkt.systems/s3ferry") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestUnknownFlagFails(t *testing.T) {
	if _, err := runCommand(t, "ls", "--definitely-not-a-flag"); err == nil {
		t.Fatal("expected unknown flag to fail")
	}
}

func TestUploadRejectsBadURI(t *testing.T) {
	if _, err := runCommand(t, "upload", "local.bin", "http://not-s3/key"); err == nil {
		t.Fatal("expected non-s3 destination to fail")
	}
}

func TestKeygenCreatesKeyPair(t *testing.T) {
	dir := t.TempDir()
	out, err := runCommand(t, "keygen", "deploy", "--key-dir", dir, "--bits", "1024")
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if !strings.Contains(out, "deploy") {
		t.Fatalf("unexpected keygen output %q", out)
	}
	for _, name := range []string{"deploy.pem", "deploy.pub.pem"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
}

func TestChunkSizeParsing(t *testing.T) {
	// An unparsable chunk size must fail before any network traffic.
	if _, err := runCommand(t, "exists", "s3://bucket/key", "--chunk-size", "lots-of-bytes"); err == nil {
		t.Fatal("expected bad chunk size to fail")
	}
}
