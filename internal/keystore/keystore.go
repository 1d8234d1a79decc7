// Package keystore resolves named RSA key pairs from a directory of PEM
// files. A key pair called "alice" lives in alice.pem (private) and
// alice.pub.pem (public); encryption only needs the public half, so the two
// files can be distributed independently.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultDirName is the key directory under the user's home directory.
const DefaultDirName = ".s3lib-keys"

// ErrMissingKey reports that no key pair with the requested name exists in
// the store.
var ErrMissingKey = errors.New("keystore: no such key")

const (
	privateSuffix = ".pem"
	publicSuffix  = ".pub.pem"
)

// DefaultDir returns the conventional key directory, ~/.s3lib-keys.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("keystore: resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Store loads RSA key pairs by name from a single directory. Loaded keys are
// cached; the store is safe for concurrent use.
type Store struct {
	dir string

	mu      sync.Mutex
	private map[string]*rsa.PrivateKey
	public  map[string]*rsa.PublicKey
}

// New returns a store rooted at dir. The directory does not need to exist
// until a key is requested or generated.
func New(dir string) *Store {
	return &Store{
		dir:     dir,
		private: make(map[string]*rsa.PrivateKey),
		public:  make(map[string]*rsa.PublicKey),
	}
}

// Dir returns the directory the store reads from.
func (s *Store) Dir() string { return s.dir }

// PublicKey returns the public half of the named key pair. It falls back to
// the private key file when no standalone public file exists.
func (s *Store) PublicKey(name string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pub, ok := s.public[name]; ok {
		return pub, nil
	}
	pub, err := s.loadPublic(name)
	if err == nil {
		s.public[name] = pub
		return pub, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	priv, err := s.loadPrivate(name)
	if err != nil {
		return nil, err
	}
	s.private[name] = priv
	s.public[name] = &priv.PublicKey
	return &priv.PublicKey, nil
}

// PrivateKey returns the private half of the named key pair.
func (s *Store) PrivateKey(name string) (*rsa.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if priv, ok := s.private[name]; ok {
		return priv, nil
	}
	priv, err := s.loadPrivate(name)
	if err != nil {
		return nil, err
	}
	s.private[name] = priv
	s.public[name] = &priv.PublicKey
	return priv, nil
}

func (s *Store) loadPrivate(name string) (*rsa.PrivateKey, error) {
	path := filepath.Join(s.dir, name+privateSuffix)
	block, err := readPEM(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (looked for %s)", ErrMissingKey, name, path)
		}
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keystore: parse private key %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keystore: %s is not an RSA private key", path)
	}
	return key, nil
}

func (s *Store) loadPublic(name string) (*rsa.PublicKey, error) {
	path := filepath.Join(s.dir, name+publicSuffix)
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keystore: parse public key %s: %w", path, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keystore: %s is not an RSA public key", path)
	}
	return pub, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("keystore: %s contains no PEM block", path)
	}
	return block, nil
}

// Generate creates a new key pair under name and writes both PEM files. The
// private file is created with owner-only permissions. Generation fails if
// either file already exists.
func (s *Store) Generate(name string, bits int) (*rsa.PrivateKey, error) {
	privPath := filepath.Join(s.dir, name+privateSuffix)
	pubPath := filepath.Join(s.dir, name+publicSuffix)
	for _, p := range []string{privPath, pubPath} {
		if _, err := os.Stat(p); err == nil {
			return nil, fmt.Errorf("keystore: %s already exists", p)
		}
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create %s: %w", s.dir, err)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate key pair: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keystore: encode public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return nil, fmt.Errorf("keystore: write %s: %w", privPath, err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return nil, fmt.Errorf("keystore: write %s: %w", pubPath, err)
	}
	s.mu.Lock()
	s.private[name] = priv
	s.public[name] = &priv.PublicKey
	s.mu.Unlock()
	return priv, nil
}
