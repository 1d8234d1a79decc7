// Package envelope implements the hybrid encryption scheme stamped on
// transferred objects: a per-object 32-byte AES key wrapped with a named RSA
// key pair, and per-part AES-CBC streams that carry their IV as the first
// cipher block.
package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
)

// KeySize is the symmetric key length in bytes.
const KeySize = 32

// GenerateKey returns a fresh random symmetric key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("envelope: generate key: %w", err)
	}
	return key, nil
}

// WrapKey encrypts the symmetric key with the recipient's public key and
// returns the base64 form stored in object metadata. PKCS#1 v1.5 padding is
// the compatibility baseline for objects written by earlier tool versions.
func WrapKey(pub *rsa.PublicKey, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("envelope: wrap: key is %d bytes, expected %d", len(key), KeySize)
	}
	wrapped, err := rsa.EncryptPKCS1v15(rand.Reader, pub, key)
	if err != nil {
		return "", fmt.Errorf("envelope: wrap key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}

// UnwrapKey decodes and decrypts a wrapped symmetric key. The result must be
// exactly KeySize bytes; anything else means the wrong private key or a
// corrupted wrapping.
func UnwrapKey(priv *rsa.PrivateKey, wrapped string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("envelope: unwrap: decode base64: %w", err)
	}
	key, err := rsa.DecryptPKCS1v15(rand.Reader, priv, raw)
	if err != nil {
		return nil, fmt.Errorf("envelope: unwrap key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("envelope: unwrap: key is %d bytes, expected %d", len(key), KeySize)
	}
	return key, nil
}
