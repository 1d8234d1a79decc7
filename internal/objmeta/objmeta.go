// Package objmeta reads and writes the metadata fields stamped on every
// object the tool uploads. The field names are a compatibility contract:
// any future reader interprets a transferred object purely from these keys.
package objmeta

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Metadata key names, verbatim. S3 returns user metadata with arbitrary
// header casing, so parsing is case-insensitive; writing always uses these
// lowercase forms.
const (
	KeyVersion      = "s3tool-version"
	KeyKeyName      = "s3tool-key-name"
	KeySymmetricKey = "s3tool-symmetric-key"
	KeyChunkSize    = "s3tool-chunk-size"
	KeyFileLength   = "s3tool-file-length"
)

// CurrentVersion is the metadata format version written by this build.
const CurrentVersion = "0.0"

var (
	// ErrUnsupportedVersion reports an object written by an incompatible
	// tool version.
	ErrUnsupportedVersion = errors.New("objmeta: unsupported format version")
	// ErrLastKeyRemoval reports an attempt to strip the only remaining key
	// wrapping from an encrypted object.
	ErrLastKeyRemoval = errors.New("objmeta: cannot remove the last key wrapping")
)

// Metadata is the parsed form of the object metadata contract. KeyNames and
// WrappedKeys are parallel lists: entry i of WrappedKeys is the symmetric
// key wrapped under the key pair named by entry i of KeyNames. All wrappings
// on one object decrypt to the same 32-byte symmetric key.
type Metadata struct {
	Version     string
	KeyNames    []string
	WrappedKeys []string
	ChunkSize   int64
	FileLength  int64

	// Extra holds unrecognised user metadata, passed through untouched.
	Extra map[string]string
}

// listSeparator joins multiple wrappings inside one metadata value. Base64
// never contains a comma, so the split is unambiguous.
const listSeparator = ","

// Parse extracts the tool metadata from an object's user metadata map.
// Unknown keys are preserved in Extra. An object without KeyVersion was not
// written by this tool; Parse returns a zero-version Metadata for it.
func Parse(raw map[string]string) (Metadata, error) {
	m := Metadata{Extra: make(map[string]string)}
	for k, v := range raw {
		switch strings.ToLower(k) {
		case KeyVersion:
			m.Version = v
		case KeyKeyName:
			m.KeyNames = splitList(v)
		case KeySymmetricKey:
			m.WrappedKeys = splitList(v)
		case KeyChunkSize:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Metadata{}, fmt.Errorf("objmeta: parse %s: %w", KeyChunkSize, err)
			}
			m.ChunkSize = n
		case KeyFileLength:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Metadata{}, fmt.Errorf("objmeta: parse %s: %w", KeyFileLength, err)
			}
			m.FileLength = n
		default:
			m.Extra[k] = v
		}
	}
	if len(m.KeyNames) != len(m.WrappedKeys) {
		return Metadata{}, fmt.Errorf("objmeta: %d key names but %d wrapped keys", len(m.KeyNames), len(m.WrappedKeys))
	}
	return m, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, listSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Written reports whether the object carries this tool's metadata at all.
func (m Metadata) Written() bool { return m.Version != "" }

// Encrypted reports whether the object payload is encrypted.
func (m Metadata) Encrypted() bool { return len(m.KeyNames) > 0 }

// CheckVersion fails unless the object was written with the current format
// version.
func (m Metadata) CheckVersion() error {
	if m.Version != CurrentVersion {
		return fmt.Errorf("%w: object has %q, this tool writes %q", ErrUnsupportedVersion, m.Version, CurrentVersion)
	}
	return nil
}

// WrappingFor returns the wrapped symmetric key stored under the named key
// pair.
func (m Metadata) WrappingFor(name string) (string, bool) {
	for i, n := range m.KeyNames {
		if n == name {
			return m.WrappedKeys[i], true
		}
	}
	return "", false
}

// AddWrapping appends a wrapping of the symmetric key under a new key-pair
// name. The name must not already be present.
func (m *Metadata) AddWrapping(name, wrapped string) error {
	if _, ok := m.WrappingFor(name); ok {
		return fmt.Errorf("objmeta: key %q already wraps this object", name)
	}
	m.KeyNames = append(m.KeyNames, name)
	m.WrappedKeys = append(m.WrappedKeys, wrapped)
	return nil
}

// RemoveWrapping drops the wrapping stored under name. Removing the last
// wrapping would make the object undecryptable and fails with
// ErrLastKeyRemoval.
func (m *Metadata) RemoveWrapping(name string) error {
	idx := -1
	for i, n := range m.KeyNames {
		if n == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("objmeta: object has no wrapping under key %q", name)
	}
	if len(m.KeyNames) == 1 {
		return ErrLastKeyRemoval
	}
	m.KeyNames = append(m.KeyNames[:idx], m.KeyNames[idx+1:]...)
	m.WrappedKeys = append(m.WrappedKeys[:idx], m.WrappedKeys[idx+1:]...)
	return nil
}

// Map renders the metadata back into the user-metadata form sent to the
// store. Extra keys are emitted unchanged.
func (m Metadata) Map() map[string]string {
	out := make(map[string]string, len(m.Extra)+5)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Version != "" {
		out[KeyVersion] = m.Version
	}
	if len(m.KeyNames) > 0 {
		out[KeyKeyName] = strings.Join(m.KeyNames, listSeparator)
		out[KeySymmetricKey] = strings.Join(m.WrappedKeys, listSeparator)
	}
	if m.ChunkSize > 0 {
		out[KeyChunkSize] = strconv.FormatInt(m.ChunkSize, 10)
	}
	if m.FileLength > 0 || m.Written() {
		out[KeyFileLength] = strconv.FormatInt(m.FileLength, 10)
	}
	return out
}
