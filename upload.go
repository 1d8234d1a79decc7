package s3ferry

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"pkt.systems/pslog"
	"pkt.systems/s3ferry/internal/chunk"
	"pkt.systems/s3ferry/internal/envelope"
	"pkt.systems/s3ferry/internal/objmeta"
	"pkt.systems/s3ferry/internal/s3api"
)

// Upload transfers the local file at src to dst as a multipart upload, in
// parallel chunks. With opts.EncryptKeyName set, each chunk is encrypted
// client-side before it leaves the machine. On any failure the pending
// upload is aborted so no partial object remains.
func (c *Client) Upload(ctx context.Context, src string, dst URI, opts UploadOptions) (ObjectInfo, error) {
	if dst.Key == "" {
		return ObjectInfo{}, fmt.Errorf("%w: upload destination %q has no key", ErrUsage, dst.String())
	}
	if dst.VersionID != "" {
		return ObjectInfo{}, fmt.Errorf("%w: cannot upload to a pinned object version", ErrUsage)
	}
	chunkSize, err := opts.chunkSize(c.chunkSize)
	if err != nil {
		return ObjectInfo{}, err
	}
	acl, err := resolveACL(opts.CannedACL)
	if err != nil {
		return ObjectInfo{}, err
	}
	ctx, logger := c.opCtx(ctx, "upload", "src", src, "dst", dst.String())

	f, size, err := openLocalForRead(src)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer f.Close()

	encrypted := opts.EncryptKeyName != ""
	meta := objmeta.Metadata{
		Version:    objmeta.CurrentVersion,
		ChunkSize:  chunkSize,
		FileLength: size,
	}
	var symKey []byte
	if encrypted {
		pub, err := c.keys.PublicKey(opts.EncryptKeyName)
		if err != nil {
			return ObjectInfo{}, err
		}
		symKey, err = envelope.GenerateKey()
		if err != nil {
			return ObjectInfo{}, err
		}
		wrapped, err := envelope.WrapKey(pub, symKey)
		if err != nil {
			return ObjectInfo{}, err
		}
		meta.KeyNames = []string{opts.EncryptKeyName}
		meta.WrappedKeys = []string{wrapped}
	}

	parts, err := chunk.Plan(size, chunkSize, encrypted)
	if err != nil {
		return ObjectInfo{}, err
	}
	logger.Info("upload.begin", "size", size, "chunk_size", chunkSize, "parts", len(parts), "encrypted", encrypted)

	var uploadID string
	err = c.exec.Do(ctx, "initiate upload "+dst.String(), func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			var err error
			uploadID, err = c.store.InitiateMultipart(ctx, dst.Bucket, dst.Key, meta.Map(), acl)
			return err
		})
	})
	if err != nil {
		return ObjectInfo{}, err
	}

	progress := newProgressTracker(size, opts.Progress)
	completed := make([]s3api.CompletedPart, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, p := range parts {
		p := p
		g.Go(func() error {
			err := c.exec.Do(gctx, fmt.Sprintf("upload part %d of %s", p.PartNumber(), dst.String()), func(ctx context.Context) error {
				var body io.Reader = io.NewSectionReader(f, p.PlainStart, p.PlainLen)
				sendLen := p.PlainLen
				if encrypted {
					enc, err := envelope.NewEncryptReader(body, symKey)
					if err != nil {
						return err
					}
					body = enc
					sendLen = p.CipherLen
				}
				return c.withHTTPSlot(ctx, func() error {
					done, err := c.store.UploadPart(ctx, dst.Bucket, dst.Key, uploadID, p.PartNumber(), body, sendLen)
					if err != nil {
						return err
					}
					completed[p.N] = done
					return nil
				})
			})
			if err != nil {
				return err
			}
			logger.Debug("upload.part_done", "part", p.PartNumber(), "plain_len", p.PlainLen)
			progress.add(p.PlainLen)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.abortUpload(ctx, dst, uploadID, logger)
		return ObjectInfo{}, err
	}

	err = c.exec.Do(ctx, "complete upload "+dst.String(), func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			return c.store.CompleteMultipart(ctx, dst.Bucket, dst.Key, uploadID, completed)
		})
	})
	if err != nil {
		c.abortUpload(ctx, dst, uploadID, logger)
		return ObjectInfo{}, err
	}
	logger.Info("upload.done", "parts", len(parts), "size", size)

	info, parsed, err := c.head(ctx, URI{Bucket: dst.Bucket, Key: dst.Key})
	if err != nil {
		return ObjectInfo{}, err
	}
	return objectInfoFrom(dst, info, parsed), nil
}

// abortUpload discards a pending upload after a failed transfer. It runs
// detached from the transfer's context so cancellation cannot strand parts.
func (c *Client) abortUpload(ctx context.Context, dst URI, uploadID string, logger pslog.Logger) {
	abortCtx := context.WithoutCancel(ctx)
	err := c.exec.Do(abortCtx, "abort upload "+dst.String(), func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			return c.store.AbortMultipart(ctx, dst.Bucket, dst.Key, uploadID)
		})
	})
	if err != nil {
		logger.Warn("upload.abort_failed", "upload_id", uploadID, "error", err)
	}
}
