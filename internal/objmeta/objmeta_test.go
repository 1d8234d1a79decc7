package objmeta_test

import (
	"errors"
	"testing"

	"pkt.systems/s3ferry/internal/objmeta"
)

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	raw := map[string]string{
		"s3tool-version":       "0.0",
		"s3tool-key-name":      "alice,bob",
		"s3tool-symmetric-key": "d3JhcHBlZC1h,d3JhcHBlZC1i",
		"s3tool-chunk-size":    "4194304",
		"s3tool-file-length":   "12582912",
		"x-custom":             "kept",
	}
	m, err := objmeta.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !m.Written() || !m.Encrypted() {
		t.Fatalf("expected written encrypted metadata, got %+v", m)
	}
	if err := m.CheckVersion(); err != nil {
		t.Fatalf("check version: %v", err)
	}
	if m.ChunkSize != 4194304 || m.FileLength != 12582912 {
		t.Fatalf("unexpected sizes: %+v", m)
	}
	if len(m.KeyNames) != 2 || m.KeyNames[0] != "alice" || m.KeyNames[1] != "bob" {
		t.Fatalf("unexpected key names: %v", m.KeyNames)
	}
	if w, ok := m.WrappingFor("bob"); !ok || w != "d3JhcHBlZC1i" {
		t.Fatalf("wrapping for bob: %q, %v", w, ok)
	}
	if m.Extra["x-custom"] != "kept" {
		t.Fatalf("extra metadata dropped: %v", m.Extra)
	}

	out := m.Map()
	for k, v := range raw {
		if out[k] != v {
			t.Fatalf("round trip lost %s: %q != %q", k, out[k], v)
		}
	}
}

func TestParseIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	m, err := objmeta.Parse(map[string]string{
		"S3Tool-Version":     "0.0",
		"S3TOOL-FILE-LENGTH": "42",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Version != "0.0" || m.FileLength != 42 {
		t.Fatalf("case-insensitive parse failed: %+v", m)
	}
}

func TestParseForeignObject(t *testing.T) {
	t.Parallel()

	m, err := objmeta.Parse(map[string]string{"content-something": "x"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Written() || m.Encrypted() {
		t.Fatalf("foreign object should not look written: %+v", m)
	}
	if err := m.CheckVersion(); !errors.Is(err, objmeta.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestParseRejectsMismatchedLists(t *testing.T) {
	t.Parallel()

	_, err := objmeta.Parse(map[string]string{
		"s3tool-version":       "0.0",
		"s3tool-key-name":      "alice,bob",
		"s3tool-symmetric-key": "b25seW9uZQ==",
	})
	if err == nil {
		t.Fatal("expected error for mismatched key-name and wrapping lists")
	}
}

func TestParseRejectsBadNumbers(t *testing.T) {
	t.Parallel()

	if _, err := objmeta.Parse(map[string]string{"s3tool-chunk-size": "lots"}); err == nil {
		t.Fatal("expected error for non-numeric chunk size")
	}
	if _, err := objmeta.Parse(map[string]string{"s3tool-file-length": "1.5"}); err == nil {
		t.Fatal("expected error for non-integer file length")
	}
}

func TestAddRemoveWrapping(t *testing.T) {
	t.Parallel()

	m := objmeta.Metadata{
		Version:     objmeta.CurrentVersion,
		KeyNames:    []string{"alice"},
		WrappedKeys: []string{"d3JhcHBlZC1h"},
	}
	if err := m.AddWrapping("bob", "d3JhcHBlZC1i"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.AddWrapping("bob", "ZHVwZQ=="); err == nil {
		t.Fatal("expected error adding duplicate key name")
	}
	if err := m.RemoveWrapping("alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := m.WrappingFor("alice"); ok {
		t.Fatal("alice wrapping still present after removal")
	}
	if err := m.RemoveWrapping("carol"); err == nil {
		t.Fatal("expected error removing unknown key name")
	}
	if err := m.RemoveWrapping("bob"); !errors.Is(err, objmeta.ErrLastKeyRemoval) {
		t.Fatalf("expected ErrLastKeyRemoval, got %v", err)
	}
}

func TestMapWritesZeroFileLengthWhenWritten(t *testing.T) {
	t.Parallel()

	m := objmeta.Metadata{Version: objmeta.CurrentVersion, ChunkSize: 5 << 20}
	out := m.Map()
	if out[objmeta.KeyFileLength] != "0" {
		t.Fatalf("zero-byte object must still record its length, got %q", out[objmeta.KeyFileLength])
	}
}
