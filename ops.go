package s3ferry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/s3ferry/internal/objmeta"
	"pkt.systems/s3ferry/internal/s3api"
)

// Exists reports whether the object at uri exists.
func (c *Client) Exists(ctx context.Context, uri URI) (bool, error) {
	ctx, _ = c.opCtx(ctx, "exists", "uri", uri.String())
	_, _, err := c.head(ctx, uri)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the object at uri, or one version of it when the URI pins
// a versionId.
func (c *Client) Delete(ctx context.Context, uri URI) error {
	if uri.Key == "" {
		return fmt.Errorf("%w: delete target %q has no key", ErrUsage, uri.String())
	}
	ctx, logger := c.opCtx(ctx, "delete", "uri", uri.String())
	// S3 deletes are idempotent and report success for absent keys, so
	// check first to surface typos.
	if _, _, err := c.head(ctx, uri); err != nil {
		return err
	}
	err := c.exec.Do(ctx, "delete "+uri.String(), func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			return c.store.Delete(ctx, uri.Bucket, uri.Key, uri.VersionID)
		})
	})
	if err != nil {
		return err
	}
	logger.Info("delete.done")
	return nil
}

// List returns the objects under uri's key prefix. Transfer metadata is not
// fetched per object; use Stat for that.
func (c *Client) List(ctx context.Context, uri URI, opts ListOptions) ([]ObjectInfo, error) {
	ctx, _ = c.opCtx(ctx, "list", "uri", uri.String())
	var out []ObjectInfo
	err := c.exec.Do(ctx, "list "+uri.String(), func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			out = out[:0]
			return c.store.List(ctx, uri.Bucket, uri.Key, opts.Recursive, func(info s3api.ObjectInfo) error {
				out = append(out, objectInfoFrom(uri, info, objmeta.Metadata{}))
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListBuckets returns the buckets visible to the configured credentials.
func (c *Client) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	ctx, _ = c.opCtx(ctx, "list_buckets")
	var out []BucketInfo
	err := c.exec.Do(ctx, "list buckets", func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			raw, err := c.store.ListBuckets(ctx)
			if err != nil {
				return err
			}
			out = out[:0]
			for _, b := range raw {
				out = append(out, BucketInfo{Name: b.Name, Created: b.Created})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPendingUploads returns multipart uploads under uri's prefix that were
// initiated but never completed or aborted.
func (c *Client) ListPendingUploads(ctx context.Context, uri URI) ([]PendingUpload, error) {
	ctx, _ = c.opCtx(ctx, "list_pending_uploads", "uri", uri.String())
	var out []PendingUpload
	err := c.exec.Do(ctx, "list pending uploads "+uri.String(), func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			raw, err := c.store.ListMultipart(ctx, uri.Bucket, uri.Key)
			if err != nil {
				return err
			}
			out = out[:0]
			for _, u := range raw {
				out = append(out, PendingUpload{
					URI:       URI{Bucket: u.Bucket, Key: u.Key},
					UploadID:  u.UploadID,
					Initiated: u.Initiated,
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AbortPendingUpload discards one pending multipart upload and frees its
// stored parts.
func (c *Client) AbortPendingUpload(ctx context.Context, uri URI, uploadID string) error {
	if uri.Key == "" || uploadID == "" {
		return fmt.Errorf("%w: abort needs an object key and upload id", ErrUsage)
	}
	ctx, logger := c.opCtx(ctx, "abort_pending_upload", "uri", uri.String(), "upload_id", uploadID)
	err := c.exec.Do(ctx, "abort pending upload "+uploadID, func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			return c.store.AbortMultipart(ctx, uri.Bucket, uri.Key, uploadID)
		})
	})
	if err != nil {
		return err
	}
	logger.Info("abort.done")
	return nil
}

// AbortOldPendingUploads aborts every pending upload under uri's prefix
// initiated before cutoff and reports how many were discarded. Useful as a
// periodic janitor against crashed transfers.
func (c *Client) AbortOldPendingUploads(ctx context.Context, uri URI, cutoff time.Time) (int, error) {
	pending, err := c.ListPendingUploads(ctx, uri)
	if err != nil {
		return 0, err
	}
	ctx, logger := c.opCtx(ctx, "abort_old_pending_uploads", "uri", uri.String())
	aborted := 0
	for _, u := range pending {
		if !u.Initiated.Before(cutoff) {
			continue
		}
		err := c.exec.Do(ctx, "abort pending upload "+u.UploadID, func(ctx context.Context) error {
			return c.withHTTPSlot(ctx, func() error {
				return c.store.AbortMultipart(ctx, u.URI.Bucket, u.URI.Key, u.UploadID)
			})
		})
		if err != nil {
			return aborted, err
		}
		logger.Info("abort.done", "key", u.URI.Key, "upload_id", u.UploadID, "initiated", u.Initiated)
		aborted++
	}
	return aborted, nil
}
