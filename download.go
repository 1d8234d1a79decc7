package s3ferry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"pkt.systems/s3ferry/internal/chunk"
	"pkt.systems/s3ferry/internal/envelope"
	"pkt.systems/s3ferry/internal/objmeta"
	"pkt.systems/s3ferry/internal/retry"
)

// Download transfers the object at src into the local file dst, fetching
// chunks in parallel with ranged reads and assembling them with positional
// writes. Objects uploaded by this tool are reassembled from their recorded
// chunk size and decrypted when a matching private key is available locally;
// foreign objects are fetched in default-size chunks.
func (c *Client) Download(ctx context.Context, src URI, dst string, opts DownloadOptions) error {
	if src.Key == "" {
		return fmt.Errorf("%w: download source %q has no key", ErrUsage, src.String())
	}
	ctx, logger := c.opCtx(ctx, "download", "src", src.String(), "dst", dst)

	info, meta, err := c.head(ctx, src)
	if err != nil {
		return err
	}
	if meta.Written() {
		if err := meta.CheckVersion(); err != nil {
			return err
		}
	}
	chunkSize := meta.ChunkSize
	if chunkSize <= 0 {
		chunkSize = c.chunkSize
	}
	fileLength := info.Size
	if meta.Written() {
		fileLength = meta.FileLength
	}

	var symKey []byte
	if meta.Encrypted() {
		symKey, err = c.unwrapSymmetricKey(meta)
		if err != nil {
			return err
		}
	}

	parts, err := chunk.Plan(fileLength, chunkSize, meta.Encrypted())
	if err != nil {
		return err
	}
	logger.Info("download.begin", "size", fileLength, "chunk_size", chunkSize, "parts", len(parts), "encrypted", meta.Encrypted())

	if !opts.Overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return fmt.Errorf("%w: %s already exists", ErrUsage, dst)
		}
	}
	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("s3ferry: create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("s3ferry: create %s: %w", dst, err)
	}
	if err := f.Truncate(fileLength); err != nil {
		f.Close()
		return fmt.Errorf("s3ferry: truncate %s: %w", dst, err)
	}

	progress := newProgressTracker(fileLength, opts.Progress)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, p := range parts {
		p := p
		if p.PlainLen == 0 && !meta.Encrypted() {
			continue
		}
		g.Go(func() error {
			err := c.exec.Do(gctx, fmt.Sprintf("download part %d of %s", p.PartNumber(), src.String()), func(ctx context.Context) error {
				return c.fetchPart(ctx, src, f, p, meta, symKey)
			})
			if err != nil {
				return err
			}
			logger.Debug("download.part_done", "part", p.PartNumber(), "plain_len", p.PlainLen)
			progress.add(p.PlainLen)
			return nil
		})
	}
	err = g.Wait()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return err
	}
	logger.Info("download.done", "parts", len(parts), "size", fileLength)
	return nil
}

// fetchPart reads one part's stored byte range and writes the plaintext at
// its offset in the target file.
func (c *Client) fetchPart(ctx context.Context, src URI, f *os.File, p chunk.Part, meta objmeta.Metadata, symKey []byte) error {
	start, length := p.PlainStart, p.PlainLen
	if meta.Encrypted() {
		start, length = p.CipherStart, p.CipherLen
	}
	return c.withHTTPSlot(ctx, func() error {
		body, err := c.store.GetRange(ctx, src.Bucket, src.Key, src.VersionID, start, length)
		if err != nil {
			return err
		}
		defer body.Close()
		var r io.Reader = io.LimitReader(body, length)
		if meta.Encrypted() {
			r, err = envelope.NewDecryptReader(r, symKey)
			if err != nil {
				return err
			}
		}
		n, err := io.Copy(io.NewOffsetWriter(f, p.PlainStart), r)
		if err != nil {
			// Bad padding means the wrong key; another attempt decrypts the
			// same bytes the same way. Everything else, notably a connection
			// dropped mid-body, is left unmarked and retried.
			if errors.Is(err, envelope.ErrBadPadding) {
				return retry.MarkClient(err)
			}
			return err
		}
		if n != p.PlainLen {
			return fmt.Errorf("%w: part %d yielded %d bytes, expected %d", ErrShortObject, p.PartNumber(), n, p.PlainLen)
		}
		return nil
	})
}

// unwrapSymmetricKey recovers the object's symmetric key with the first
// named key pair whose private half exists locally.
func (c *Client) unwrapSymmetricKey(meta objmeta.Metadata) ([]byte, error) {
	var lastErr error
	for i, name := range meta.KeyNames {
		priv, err := c.keys.PrivateKey(name)
		if err != nil {
			if errors.Is(err, ErrMissingKey) {
				lastErr = err
				continue
			}
			return nil, err
		}
		key, err := envelope.UnwrapKey(priv, meta.WrappedKeys[i])
		if err != nil {
			return nil, err
		}
		return key, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("object needs one of keys %v: %w", meta.KeyNames, lastErr)
	}
	return nil, fmt.Errorf("%w: object names no decryption keys", ErrUsage)
}
