package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// BlockSize is the AES block size. Part ciphertext is always a whole number
// of blocks: IV, payload blocks, and a final PKCS#7 padding block when the
// plaintext is block-aligned.
const BlockSize = aes.BlockSize

const readChunk = 8 * 1024

// ErrBadPadding reports a ciphertext whose final block does not carry valid
// PKCS#7 padding, which almost always means the wrong symmetric key.
var ErrBadPadding = errors.New("envelope: invalid padding")

// NewEncryptReader wraps src so that reading from the result yields
// IV || AES-CBC(PKCS#7(plaintext)). The IV is freshly generated per call, so
// every part is an independent CBC session. Encryption happens lazily as the
// consumer pulls bytes.
func NewEncryptReader(src io.Reader, key []byte) (io.Reader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: encrypt: %w", err)
	}
	iv := make([]byte, BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("envelope: encrypt: generate iv: %w", err)
	}
	r := &encryptReader{
		src: src,
		enc: cipher.NewCBCEncrypter(block, iv),
	}
	r.out.Write(iv)
	return r, nil
}

type encryptReader struct {
	src  io.Reader
	enc  cipher.BlockMode
	out  bytes.Buffer
	tail []byte
	done bool
}

func (r *encryptReader) Read(p []byte) (int, error) {
	for r.out.Len() == 0 && !r.done {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	if r.out.Len() > 0 {
		return r.out.Read(p)
	}
	return 0, io.EOF
}

func (r *encryptReader) fill() error {
	buf := make([]byte, readChunk)
	n, err := r.src.Read(buf)
	if n > 0 {
		r.tail = append(r.tail, buf[:n]...)
	}
	if err != nil && err != io.EOF {
		return err
	}
	if err == io.EOF {
		// Pad the remainder to a full block; PKCS#7 always adds 1..16 bytes.
		pad := BlockSize - len(r.tail)%BlockSize
		for i := 0; i < pad; i++ {
			r.tail = append(r.tail, byte(pad))
		}
		r.enc.CryptBlocks(r.tail, r.tail)
		r.out.Write(r.tail)
		r.tail = nil
		r.done = true
		return nil
	}
	if whole := len(r.tail) - len(r.tail)%BlockSize; whole > 0 {
		r.enc.CryptBlocks(r.tail[:whole], r.tail[:whole])
		r.out.Write(r.tail[:whole])
		r.tail = append(r.tail[:0], r.tail[whole:]...)
	}
	return nil
}

// NewDecryptReader wraps a part ciphertext stream produced by
// NewEncryptReader. The first block is consumed as the IV; the remainder is
// decrypted and unpadded as it is read.
func NewDecryptReader(src io.Reader, key []byte) (io.Reader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: decrypt: %w", err)
	}
	return &decryptReader{src: src, block: block}, nil
}

type decryptReader struct {
	src     io.Reader
	block   cipher.Block
	dec     cipher.BlockMode
	out     bytes.Buffer
	carry   []byte // ciphertext not yet forming a whole block
	pending []byte // last decrypted block, held back for padding removal
	done    bool
}

func (r *decryptReader) Read(p []byte) (int, error) {
	for r.out.Len() == 0 && !r.done {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	if r.out.Len() > 0 {
		return r.out.Read(p)
	}
	return 0, io.EOF
}

func (r *decryptReader) fill() error {
	buf := make([]byte, readChunk)
	n, err := r.src.Read(buf)
	if n > 0 {
		r.carry = append(r.carry, buf[:n]...)
	}
	if err != nil && err != io.EOF {
		return err
	}
	atEOF := err == io.EOF

	if r.dec == nil {
		if len(r.carry) < BlockSize {
			if atEOF {
				return fmt.Errorf("envelope: decrypt: ciphertext shorter than one block")
			}
			return nil
		}
		r.dec = cipher.NewCBCDecrypter(r.block, r.carry[:BlockSize])
		r.carry = append(r.carry[:0], r.carry[BlockSize:]...)
	}

	if whole := len(r.carry) - len(r.carry)%BlockSize; whole > 0 {
		if r.pending != nil {
			r.out.Write(r.pending)
			r.pending = nil
		}
		decrypted := make([]byte, whole)
		r.dec.CryptBlocks(decrypted, r.carry[:whole])
		r.carry = append(r.carry[:0], r.carry[whole:]...)
		r.out.Write(decrypted[:whole-BlockSize])
		r.pending = decrypted[whole-BlockSize:]
	}

	if atEOF {
		if len(r.carry) != 0 {
			return fmt.Errorf("envelope: decrypt: ciphertext is not a multiple of the block size")
		}
		if r.pending == nil {
			return fmt.Errorf("envelope: decrypt: missing padding block")
		}
		unpadded, err := stripPadding(r.pending)
		if err != nil {
			return err
		}
		r.out.Write(unpadded)
		r.pending = nil
		r.done = true
	}
	return nil
}

func stripPadding(block []byte) ([]byte, error) {
	if len(block) != BlockSize {
		return nil, ErrBadPadding
	}
	pad := int(block[BlockSize-1])
	if pad < 1 || pad > BlockSize {
		return nil, ErrBadPadding
	}
	for _, b := range block[BlockSize-pad:] {
		if int(b) != pad {
			return nil, ErrBadPadding
		}
	}
	return block[:BlockSize-pad], nil
}
