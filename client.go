package s3ferry

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"pkt.systems/pslog"
	"pkt.systems/s3ferry/internal/clock"
	"pkt.systems/s3ferry/internal/keystore"
	"pkt.systems/s3ferry/internal/retry"
	"pkt.systems/s3ferry/internal/s3api"
)

const (
	// DefaultChunkSize splits transfers into 5 MiB parts, the S3 minimum
	// part size.
	DefaultChunkSize = 5 << 20
	// DefaultHTTPConcurrency bounds simultaneous requests to the store.
	DefaultHTTPConcurrency = 10
	// DefaultWorkerConcurrency bounds part tasks in flight, including
	// those blocked on an HTTP slot.
	DefaultWorkerConcurrency = 50
)

// Config controls a Client. The zero value works against AWS with
// credentials from the environment and keys from the default key directory.
type Config struct {
	// S3 selects endpoint, region, and credentials.
	S3 s3api.Config
	// KeyDir is the RSA key-pair directory. Empty means ~/.s3lib-keys.
	KeyDir string
	// ChunkSize is the default transfer chunk size in bytes.
	ChunkSize int64
	// HTTPConcurrency bounds simultaneous store requests.
	HTTPConcurrency int
	// WorkerConcurrency bounds part tasks in flight.
	WorkerConcurrency int
	// Retry tunes the per-operation retry policy.
	Retry retry.Config
	// Logger receives structured transfer logs. Nil disables logging.
	Logger pslog.Logger
	// Clock overrides time for tests.
	Clock clock.Clock
}

// objectStore is the store surface the orchestrator runs against. s3api
// implements it against real endpoints; tests substitute fakes.
type objectStore interface {
	Head(ctx context.Context, bucket, key, versionID string) (s3api.ObjectInfo, error)
	List(ctx context.Context, bucket, prefix string, recursive bool, fn func(s3api.ObjectInfo) error) error
	ListBuckets(ctx context.Context) ([]s3api.BucketInfo, error)
	InitiateMultipart(ctx context.Context, bucket, key string, meta map[string]string, acl string) (string, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, r io.Reader, size int64) (s3api.CompletedPart, error)
	CopyPart(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey, uploadID string, partNumber int, start, length int64) (s3api.CompletedPart, error)
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []s3api.CompletedPart) error
	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error
	ListMultipart(ctx context.Context, bucket, prefix string) ([]s3api.MultipartUpload, error)
	GetRange(ctx context.Context, bucket, key, versionID string, start, length int64) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key, versionID string) error
	RewriteMetadata(ctx context.Context, bucket, key string, meta map[string]string) error
}

// Client orchestrates transfers against one store endpoint. Safe for
// concurrent use.
type Client struct {
	store     objectStore
	keys      *keystore.Store
	exec      *retry.Executor
	httpSlots *semaphore.Weighted
	workers   int
	chunkSize int64
	logger    pslog.Logger
	clock     clock.Clock
}

// New constructs a Client from cfg, filling gaps with defaults.
func New(cfg Config) (*Client, error) {
	store, err := s3api.New(cfg.S3)
	if err != nil {
		return nil, err
	}
	return newClient(cfg, store)
}

func newClient(cfg Config, store objectStore) (*Client, error) {
	keyDir := cfg.KeyDir
	if keyDir == "" {
		dir, err := keystore.DefaultDir()
		if err != nil {
			return nil, err
		}
		keyDir = dir
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrUsage, cfg.ChunkSize)
	}
	if cfg.HTTPConcurrency <= 0 {
		cfg.HTTPConcurrency = DefaultHTTPConcurrency
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = DefaultWorkerConcurrency
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	return &Client{
		store:     store,
		keys:      keystore.New(keyDir),
		exec:      retry.New(cfg.Retry, cfg.Clock),
		httpSlots: semaphore.NewWeighted(int64(cfg.HTTPConcurrency)),
		workers:   cfg.WorkerConcurrency,
		chunkSize: cfg.ChunkSize,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
	}, nil
}

// KeyDir returns the key directory the client resolves key names against.
func (c *Client) KeyDir() string { return c.keys.Dir() }

// Close releases idle connections held by the store transport. The client
// must not be used afterwards.
func (c *Client) Close() error {
	if closer, ok := c.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// opCtx attaches an operation-scoped logger carrying a transfer id, so every
// log line from one transfer correlates.
func (c *Client) opCtx(ctx context.Context, op string, kv ...any) (context.Context, pslog.Logger) {
	logger := c.logger.With("op", op, "transfer_id", uuid.NewString())
	if len(kv) > 0 {
		logger = logger.With(kv...)
	}
	return pslog.ContextWithLogger(ctx, logger), logger
}

// withHTTPSlot runs fn holding one HTTP concurrency slot.
func (c *Client) withHTTPSlot(ctx context.Context, fn func() error) error {
	if err := c.httpSlots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.httpSlots.Release(1)
	return fn()
}

// openLocalForRead opens a regular file for upload and reports its size.
func openLocalForRead(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("s3ferry: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("s3ferry: stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s is a directory, use UploadDirectory", ErrUsage, path)
	}
	return f, info.Size(), nil
}
