package s3ferry

import (
	"fmt"

	"pkt.systems/s3ferry/internal/chunk"
)

// UploadOptions tunes one upload.
type UploadOptions struct {
	// EncryptKeyName names the RSA key pair used to wrap the symmetric
	// key. Empty means a plaintext upload.
	EncryptKeyName string
	// ChunkSize overrides the client default. Encrypted uploads require a
	// multiple of the AES block size.
	ChunkSize int64
	// CannedACL applied to the object; empty means DefaultCannedACL.
	CannedACL string
	// Progress, when set, receives per-part progress updates.
	Progress ProgressFunc
}

func (o UploadOptions) chunkSize(fallback int64) (int64, error) {
	size := o.ChunkSize
	if size == 0 {
		size = fallback
	}
	if size <= 0 {
		return 0, fmt.Errorf("%w: chunk size %d must be positive", ErrUsage, size)
	}
	if o.EncryptKeyName != "" && size%chunk.BlockSize != 0 {
		return 0, fmt.Errorf("%w: encrypted chunk size %d must be a multiple of %d", ErrUsage, size, chunk.BlockSize)
	}
	return size, nil
}

// DownloadOptions tunes one download.
type DownloadOptions struct {
	// Overwrite replaces an existing target file instead of failing.
	Overwrite bool
	// Progress, when set, receives per-part progress updates.
	Progress ProgressFunc
}

// CopyOptions tunes one server-side copy.
type CopyOptions struct {
	// CannedACL applied to the destination; empty means DefaultCannedACL.
	CannedACL string
	// UserMetadata adds or overrides non-transfer user metadata on the
	// destination object.
	UserMetadata map[string]string
}

// ListOptions tunes object listings.
type ListOptions struct {
	// Recursive descends past the first path delimiter below the prefix.
	Recursive bool
}
