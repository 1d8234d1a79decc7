// Package chunk plans how an object is split into multipart ranges.
//
// The planner is pure: upload, download, and copy all call it with the same
// inputs and must agree byte-for-byte on every offset. When encryption is on,
// each plaintext chunk of capacity C (a multiple of the AES block size B)
// becomes at most C/B+1 cipher blocks after PKCS#7 padding, plus one leading
// IV block. The fixed stride of B*(C/B+2) between parts makes ciphertext
// offsets computable without reading the object, which is what allows
// parallel range reads and server-side part copies of encrypted data.
package chunk

import "fmt"

// BlockSize is the AES block size in bytes.
const BlockSize = 16

// Part describes one multipart range in both the plaintext and the
// ciphertext dimension. N is zero-based; the S3 part number is N+1.
type Part struct {
	N           int
	PlainStart  int64
	PlainLen    int64
	CipherStart int64
	CipherLen   int64
}

// PartNumber returns the one-based part number used on the wire.
func (p Part) PartNumber() int { return p.N + 1 }

// Stride returns the ciphertext distance between consecutive encrypted
// parts for the given chunk size.
func Stride(chunkSize int64) int64 {
	return BlockSize * (chunkSize/BlockSize + 2)
}

// CipherLen returns the ciphertext length of an encrypted part holding
// plainLen plaintext bytes: one IV block plus the padded payload.
func CipherLen(plainLen int64) int64 {
	return BlockSize * (plainLen/BlockSize + 2)
}

// Count returns the number of parts for an object of the given length.
// A zero-length object still occupies exactly one (empty) part.
func Count(length, chunkSize int64) int64 {
	if length == 0 {
		return 1
	}
	return (length + chunkSize - 1) / chunkSize
}

// Plan computes the full part list for an object. chunkSize must be
// positive, and a multiple of BlockSize when encrypted is set; otherwise
// the ciphertext offset arithmetic would not hold.
func Plan(length, chunkSize int64, encrypted bool) ([]Part, error) {
	if length < 0 {
		return nil, fmt.Errorf("chunk: negative length %d", length)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk: chunk size must be positive, got %d", chunkSize)
	}
	if encrypted && chunkSize%BlockSize != 0 {
		return nil, fmt.Errorf("chunk: chunk size %d is not a multiple of the AES block size", chunkSize)
	}
	n := Count(length, chunkSize)
	parts := make([]Part, 0, n)
	for i := int64(0); i < n; i++ {
		start := i * chunkSize
		plainLen := length - start
		if plainLen > chunkSize {
			plainLen = chunkSize
		}
		p := Part{
			N:          int(i),
			PlainStart: start,
			PlainLen:   plainLen,
		}
		if encrypted {
			p.CipherStart = i * Stride(chunkSize)
			p.CipherLen = CipherLen(plainLen)
		} else {
			p.CipherStart = start
			p.CipherLen = plainLen
		}
		parts = append(parts, p)
	}
	return parts, nil
}
