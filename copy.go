package s3ferry

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"pkt.systems/s3ferry/internal/chunk"
	"pkt.systems/s3ferry/internal/objmeta"
	"pkt.systems/s3ferry/internal/s3api"
)

// copyRange is one server-side part copy over the stored byte stream. A
// negative length copies the whole source object.
type copyRange struct {
	partNumber int
	start      int64
	length     int64
}

// Copy duplicates a stored object server-side, part by part, without the
// bytes passing through this machine. Encrypted payloads stay encrypted; the
// metadata travels along. Objects not written by this tool pick up transfer
// metadata on the way, so the destination always downloads like a native
// upload.
func (c *Client) Copy(ctx context.Context, src, dst URI, opts CopyOptions) (ObjectInfo, error) {
	if src.Key == "" || dst.Key == "" {
		return ObjectInfo{}, fmt.Errorf("%w: copy needs full source and destination keys", ErrUsage)
	}
	if src.VersionID != "" {
		return ObjectInfo{}, fmt.Errorf("%w: copy from a pinned object version is not supported", ErrUsage)
	}
	if dst.VersionID != "" {
		return ObjectInfo{}, fmt.Errorf("%w: cannot copy to a pinned object version", ErrUsage)
	}
	acl, err := resolveACL(opts.CannedACL)
	if err != nil {
		return ObjectInfo{}, err
	}
	ctx, logger := c.opCtx(ctx, "copy", "src", src.String(), "dst", dst.String())

	info, meta, err := c.head(ctx, src)
	if err != nil {
		return ObjectInfo{}, err
	}
	if meta.Written() {
		if err := meta.CheckVersion(); err != nil {
			return ObjectInfo{}, err
		}
	} else {
		// Foreign object: stamp it on the way through so the copy
		// downloads like a native upload.
		meta.Version = objmeta.CurrentVersion
		meta.FileLength = info.Size
		meta.ChunkSize = c.chunkSize
	}
	if len(opts.UserMetadata) > 0 {
		if meta.Extra == nil {
			meta.Extra = make(map[string]string, len(opts.UserMetadata))
		}
		for k, v := range opts.UserMetadata {
			meta.Extra[k] = v
		}
	}

	ranges := planCopyRanges(info.Size, meta)
	logger.Info("copy.begin", "stored_size", info.Size, "parts", len(ranges), "encrypted", meta.Encrypted())

	var uploadID string
	err = c.exec.Do(ctx, "initiate copy "+dst.String(), func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			var err error
			uploadID, err = c.store.InitiateMultipart(ctx, dst.Bucket, dst.Key, meta.Map(), acl)
			return err
		})
	})
	if err != nil {
		return ObjectInfo{}, err
	}

	completed := make([]s3api.CompletedPart, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			err := c.exec.Do(gctx, fmt.Sprintf("copy part %d of %s", r.partNumber, dst.String()), func(ctx context.Context) error {
				return c.withHTTPSlot(ctx, func() error {
					done, err := c.store.CopyPart(ctx, src.Bucket, src.Key, dst.Bucket, dst.Key, uploadID, r.partNumber, r.start, r.length)
					if err != nil {
						return err
					}
					completed[i] = done
					return nil
				})
			})
			if err != nil {
				return err
			}
			logger.Debug("copy.part_done", "part", r.partNumber)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.abortUpload(ctx, dst, uploadID, logger)
		return ObjectInfo{}, err
	}

	err = c.exec.Do(ctx, "complete copy "+dst.String(), func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			return c.store.CompleteMultipart(ctx, dst.Bucket, dst.Key, uploadID, completed)
		})
	})
	if err != nil {
		c.abortUpload(ctx, dst, uploadID, logger)
		return ObjectInfo{}, err
	}
	logger.Info("copy.done", "parts", len(ranges))

	dstInfo, dstMeta, err := c.head(ctx, URI{Bucket: dst.Bucket, Key: dst.Key})
	if err != nil {
		return ObjectInfo{}, err
	}
	return objectInfoFrom(dst, dstInfo, dstMeta), nil
}

// planCopyRanges splits the stored byte stream at the stride the object was
// written with: the chunk size for plain payloads, the per-part ciphertext
// stride for encrypted ones. A zero-byte object copies as a single
// unbounded part.
func planCopyRanges(storedSize int64, meta objmeta.Metadata) []copyRange {
	if storedSize == 0 {
		return []copyRange{{partNumber: 1, start: 0, length: -1}}
	}
	stride := meta.ChunkSize
	if meta.Encrypted() {
		stride = chunk.Stride(meta.ChunkSize)
	}
	if stride <= 0 {
		stride = storedSize
	}
	var ranges []copyRange
	for start := int64(0); start < storedSize; start += stride {
		length := stride
		if start+length > storedSize {
			length = storedSize - start
		}
		ranges = append(ranges, copyRange{partNumber: len(ranges) + 1, start: start, length: length})
	}
	return ranges
}
