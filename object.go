package s3ferry

import (
	"context"
	"time"

	"pkt.systems/s3ferry/internal/objmeta"
	"pkt.systems/s3ferry/internal/s3api"
)

// ObjectInfo describes one stored object, with the transfer metadata already
// parsed when present.
type ObjectInfo struct {
	URI          URI
	Size         int64
	ETag         string
	LastModified time.Time

	// Tool reports whether the object carries transfer metadata at all.
	Tool bool
	// Encrypted reports whether the payload is encrypted.
	Encrypted bool
	// KeyNames lists the key pairs able to decrypt the object.
	KeyNames []string
	// ChunkSize is the plaintext chunk size the object was written with.
	ChunkSize int64
	// FileLength is the plaintext length. For encrypted objects this is
	// smaller than Size.
	FileLength int64
}

// BucketInfo describes one bucket.
type BucketInfo struct {
	Name    string
	Created time.Time
}

// PendingUpload identifies an initiated multipart upload that was never
// completed or aborted. Its parts still occupy storage.
type PendingUpload struct {
	URI       URI
	UploadID  string
	Initiated time.Time
}

func objectInfoFrom(uri URI, info s3api.ObjectInfo, meta objmeta.Metadata) ObjectInfo {
	out := ObjectInfo{
		URI:          URI{Bucket: info.Bucket, Key: info.Key, VersionID: info.VersionID},
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
		Tool:         meta.Written(),
		Encrypted:    meta.Encrypted(),
		KeyNames:     meta.KeyNames,
		ChunkSize:    meta.ChunkSize,
		FileLength:   meta.FileLength,
	}
	if out.URI.Bucket == "" {
		out.URI = uri
	}
	if !meta.Written() {
		out.FileLength = info.Size
	}
	return out
}

// head stats the object under the retry policy and parses its metadata.
func (c *Client) head(ctx context.Context, uri URI) (s3api.ObjectInfo, objmeta.Metadata, error) {
	var info s3api.ObjectInfo
	err := c.exec.Do(ctx, "head "+uri.String(), func(ctx context.Context) error {
		var err error
		return c.withHTTPSlot(ctx, func() error {
			info, err = c.store.Head(ctx, uri.Bucket, uri.Key, uri.VersionID)
			return err
		})
	})
	if err != nil {
		return s3api.ObjectInfo{}, objmeta.Metadata{}, err
	}
	meta, err := objmeta.Parse(info.UserMetadata)
	if err != nil {
		return s3api.ObjectInfo{}, objmeta.Metadata{}, err
	}
	return info, meta, nil
}

// Stat returns object details, including parsed transfer metadata.
func (c *Client) Stat(ctx context.Context, uri URI) (ObjectInfo, error) {
	ctx, _ = c.opCtx(ctx, "stat", "uri", uri.String())
	info, meta, err := c.head(ctx, uri)
	if err != nil {
		return ObjectInfo{}, err
	}
	return objectInfoFrom(uri, info, meta), nil
}
