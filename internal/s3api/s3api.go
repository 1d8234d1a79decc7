// Package s3api wraps the MinIO client behind the narrow surface the
// transfer orchestrator needs: head/list/get-range plus the explicit
// multipart primitives (initiate, part upload, part copy, complete, abort).
// Errors come back classified so the retry executor can tell a flaky network
// from a hopeless request.
package s3api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/pslog"
	"pkt.systems/s3ferry/internal/retry"
)

// ErrNotFound reports a missing bucket, object, or multipart upload.
var ErrNotFound = errors.New("s3api: not found")

// ACLHeader is the canned-ACL request header. MinIO passes it through to the
// store when it appears among the user metadata keys.
const ACLHeader = "x-amz-acl"

// Config controls endpoint selection and transport for the S3 client.
type Config struct {
	// Endpoint is the S3 host. Empty means AWS, derived from Region.
	Endpoint string
	Region   string
	// Insecure disables TLS, for local test endpoints.
	Insecure bool
	// ForcePathStyle addresses buckets as path segments instead of
	// subdomains. Required by most non-AWS endpoints.
	ForcePathStyle bool
	// CustomCreds overrides the default environment/file/IAM chain.
	CustomCreds *credentials.Credentials
	Transport   http.RoundTripper
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Bucket       string
	Key          string
	Size         int64
	ETag         string
	VersionID    string
	LastModified time.Time
	UserMetadata map[string]string
}

// BucketInfo describes one bucket.
type BucketInfo struct {
	Name    string
	Created time.Time
}

// CompletedPart identifies a finished part within a multipart upload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// MultipartUpload identifies a pending multipart upload.
type MultipartUpload struct {
	Bucket    string
	Key       string
	UploadID  string
	Initiated time.Time
}

// Client is the store adapter. Safe for concurrent use.
type Client struct {
	core *minio.Core
	cfg  Config
}

// New constructs a client. Credentials default to the usual chain:
// environment, shared credentials file, then instance metadata.
func New(cfg Config) (*Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultTransport()
	}
	creds := cfg.CustomCreds
	if creds == nil {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	core, err := minio.NewCore(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3api: create client: %w", err)
	}
	return &Client{core: core, cfg: cfg}, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	if clone.MaxIdleConns == 0 {
		clone.MaxIdleConns = 256
	}
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 64
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	if clone.TLSHandshakeTimeout == 0 {
		clone.TLSHandshakeTimeout = 10 * time.Second
	}
	if clone.ExpectContinueTimeout == 0 {
		clone.ExpectContinueTimeout = 1 * time.Second
	}
	return clone
}

// Head stats one object, including its user metadata.
func (c *Client) Head(ctx context.Context, bucket, key, versionID string) (ObjectInfo, error) {
	logFrom(ctx).Trace("s3.head.begin", "bucket", bucket, "key", key, "version_id", versionID)
	info, err := c.core.Client.StatObject(ctx, bucket, key, minio.StatObjectOptions{VersionID: versionID})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, retry.MarkClient(fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key))
		}
		return ObjectInfo{}, c.wrapError(err, "s3: head object")
	}
	meta := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		meta[k] = v
	}
	return ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		VersionID:    info.VersionID,
		LastModified: info.LastModified,
		UserMetadata: meta,
	}, nil
}

// List walks all objects under prefix and invokes fn for each. Returning an
// error from fn stops the walk.
func (c *Client) List(ctx context.Context, bucket, prefix string, recursive bool, fn func(ObjectInfo) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range c.core.Client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
		if obj.Err != nil {
			return c.wrapError(obj.Err, "s3: list objects")
		}
		err := fn(ObjectInfo{
			Bucket:       bucket,
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			VersionID:    obj.VersionID,
			LastModified: obj.LastModified,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ListBuckets returns all buckets visible to the credentials.
func (c *Client) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	raw, err := c.core.Client.ListBuckets(ctx)
	if err != nil {
		return nil, c.wrapError(err, "s3: list buckets")
	}
	out := make([]BucketInfo, 0, len(raw))
	for _, b := range raw {
		out = append(out, BucketInfo{Name: b.Name, Created: b.CreationDate})
	}
	return out, nil
}

// InitiateMultipart starts a multipart upload carrying meta as user
// metadata. A non-empty acl is applied as a canned ACL.
func (c *Client) InitiateMultipart(ctx context.Context, bucket, key string, meta map[string]string, acl string) (string, error) {
	logFrom(ctx).Trace("s3.multipart.initiate", "bucket", bucket, "key", key)
	userMeta := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		userMeta[k] = v
	}
	if acl != "" {
		userMeta[ACLHeader] = acl
	}
	uploadID, err := c.core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{UserMetadata: userMeta})
	if err != nil {
		return "", c.wrapError(err, "s3: initiate multipart")
	}
	return uploadID, nil
}

// UploadPart streams size bytes from r as one part.
func (c *Client) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, r io.Reader, size int64) (CompletedPart, error) {
	part, err := c.core.PutObjectPart(ctx, bucket, key, uploadID, partNumber, r, size, minio.PutObjectPartOptions{})
	if err != nil {
		return CompletedPart{}, c.wrapError(err, fmt.Sprintf("s3: upload part %d", partNumber))
	}
	return CompletedPart{PartNumber: part.PartNumber, ETag: part.ETag}, nil
}

// CopyPart copies a byte range of a stored object into one part of the
// destination upload. A negative length copies the whole source object,
// which is how zero-byte objects are carried across.
func (c *Client) CopyPart(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey, uploadID string, partNumber int, start, length int64) (CompletedPart, error) {
	part, err := c.core.CopyObjectPart(ctx, srcBucket, srcKey, dstBucket, dstKey, uploadID, partNumber, start, length, nil)
	if err != nil {
		return CompletedPart{}, c.wrapError(err, fmt.Sprintf("s3: copy part %d", partNumber))
	}
	return CompletedPart{PartNumber: part.PartNumber, ETag: part.ETag}, nil
}

// CompleteMultipart finishes the upload from its recorded parts.
func (c *Client) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error {
	logFrom(ctx).Trace("s3.multipart.complete", "bucket", bucket, "key", key, "parts", len(parts))
	complete := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		complete = append(complete, minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag})
	}
	_, err := c.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, complete, minio.PutObjectOptions{})
	if err != nil {
		return c.wrapError(err, "s3: complete multipart")
	}
	return nil
}

// AbortMultipart discards a pending upload and its stored parts.
func (c *Client) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	logFrom(ctx).Trace("s3.multipart.abort", "bucket", bucket, "key", key, "upload_id", uploadID)
	if err := c.core.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		if isNotFound(err) {
			return retry.MarkClient(fmt.Errorf("%w: upload %s", ErrNotFound, uploadID))
		}
		return c.wrapError(err, "s3: abort multipart")
	}
	return nil
}

// ListMultipart returns all pending multipart uploads under prefix.
func (c *Client) ListMultipart(ctx context.Context, bucket, prefix string) ([]MultipartUpload, error) {
	var out []MultipartUpload
	keyMarker, uploadIDMarker := "", ""
	for {
		result, err := c.core.ListMultipartUploads(ctx, bucket, prefix, keyMarker, uploadIDMarker, "", 1000)
		if err != nil {
			return nil, c.wrapError(err, "s3: list multipart uploads")
		}
		for _, u := range result.Uploads {
			out = append(out, MultipartUpload{
				Bucket:    bucket,
				Key:       u.Key,
				UploadID:  u.UploadID,
				Initiated: u.Initiated,
			})
		}
		if !result.IsTruncated {
			return out, nil
		}
		keyMarker = result.NextKeyMarker
		uploadIDMarker = result.NextUploadIDMarker
	}
}

// GetRange opens a reader over length bytes starting at start. A
// non-positive length reads the whole object.
func (c *Client) GetRange(ctx context.Context, bucket, key, versionID string, start, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{VersionID: versionID}
	if length > 0 {
		if err := opts.SetRange(start, start+length-1); err != nil {
			return nil, fmt.Errorf("s3api: range [%d,%d): %w", start, start+length, err)
		}
	}
	body, _, _, err := c.core.GetObject(ctx, bucket, key, opts)
	if err != nil {
		if isNotFound(err) {
			return nil, retry.MarkClient(fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key))
		}
		return nil, c.wrapError(err, "s3: get object")
	}
	return body, nil
}

// Delete removes one object or, with versionID, one object version.
func (c *Client) Delete(ctx context.Context, bucket, key, versionID string) error {
	err := c.core.Client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{VersionID: versionID})
	if err != nil {
		if isNotFound(err) {
			return retry.MarkClient(fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key))
		}
		return c.wrapError(err, "s3: delete object")
	}
	return nil
}

// RewriteMetadata replaces an object's user metadata in place via a
// self-copy. Keys carrying request-header names, like ACLHeader, are sent as
// headers instead of metadata.
func (c *Client) RewriteMetadata(ctx context.Context, bucket, key string, meta map[string]string) error {
	logFrom(ctx).Trace("s3.rewrite_metadata", "bucket", bucket, "key", key)
	_, err := c.core.Client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          bucket,
			Object:          key,
			UserMetadata:    meta,
			ReplaceMetadata: true,
		},
		minio.CopySrcOptions{Bucket: bucket, Object: key},
	)
	if err != nil {
		if isNotFound(err) {
			return retry.MarkClient(fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key))
		}
		return c.wrapError(err, "s3: rewrite metadata")
	}
	return nil
}

// Close drops idle connections kept alive by the transport.
func (c *Client) Close() error {
	if t, ok := c.cfg.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

func logFrom(ctx context.Context) pslog.Logger {
	if logger := pslog.LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return pslog.NoopLogger()
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}

func (c *Client) wrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	transient := isRetryable(err)
	clientSide := false
	if !transient {
		resp := minio.ToErrorResponse(err)
		clientSide = resp.StatusCode >= 400 && resp.StatusCode < 500
	}
	if msg != "" {
		err = fmt.Errorf("%s: %w", msg, err)
	}
	if transient {
		return retry.MarkTransient(err)
	}
	if clientSide {
		return retry.MarkClient(err)
	}
	return err
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if isNetworkConnectionError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return true
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode >= http.StatusInternalServerError {
		return true
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}
	return false
}

func isNetworkConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return isNetworkConnectionError(opErr.Err)
	}
	return false
}
