package s3ferry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// dirTransferConcurrency bounds whole-file transfers running at once during
// directory fan-out. Parts within each file still parallelize on their own.
const dirTransferConcurrency = 4

// UploadDirectory walks the local directory at src and uploads every
// regular file beneath it, mirroring the relative layout under dst's key
// prefix. Symlinks are skipped.
func (c *Client) UploadDirectory(ctx context.Context, src string, dst URI, opts UploadOptions) ([]ObjectInfo, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("s3ferry: stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory, use Upload", ErrUsage, src)
	}
	var files []string
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("s3ferry: walk %s: %w", src, err)
	}

	results := make([]ObjectInfo, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dirTransferConcurrency)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			rel, err := filepath.Rel(src, file)
			if err != nil {
				return err
			}
			key := path.Join(dst.Key, filepath.ToSlash(rel))
			uploaded, err := c.Upload(gctx, file, dst.WithKey(key), opts)
			if err != nil {
				return err
			}
			results[i] = uploaded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// DownloadDirectory fetches every object under src's key prefix into the
// local directory dst, recreating the relative layout.
func (c *Client) DownloadDirectory(ctx context.Context, src URI, dst string, opts DownloadOptions) (int, error) {
	prefix := src.Key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	objects, err := c.List(ctx, src.WithKey(prefix), ListOptions{Recursive: true})
	if err != nil {
		return 0, err
	}
	// Folder-marker objects carry no payload and would shadow their own
	// directory; only real keys count as downloads.
	var keys []string
	for _, obj := range objects {
		if strings.HasSuffix(obj.URI.Key, "/") {
			continue
		}
		keys = append(keys, obj.URI.Key)
	}
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: no objects under %s", ErrNotFound, src.String())
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dirTransferConcurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			rel := strings.TrimPrefix(key, prefix)
			target := filepath.Join(dst, filepath.FromSlash(rel))
			return c.Download(gctx, src.WithKey(key), target, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(keys), nil
}
