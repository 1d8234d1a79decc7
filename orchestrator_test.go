package s3ferry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"pkt.systems/s3ferry/internal/keystore"
	"pkt.systems/s3ferry/internal/retry"
	"pkt.systems/s3ferry/internal/s3api"
)

// fakeStore is an in-memory objectStore with failure injection, for driving
// the orchestrator through paths a real endpoint will not produce on cue.
type fakeStore struct {
	mu         sync.Mutex
	objects    map[string]*fakeObject
	uploads    map[string]*fakeUpload
	nextUpload int
	aborts     []string
	partCalls  map[int]int
	rangeCalls int

	// failPart, when set, is consulted on every UploadPart call with the
	// part number and 1-based attempt count for that part.
	failPart func(partNumber, attempt int) error
	// blockPart names a part whose upload parks until ctx is cancelled.
	blockPart int
	// flakyRanges makes the next N GetRange bodies drop the connection
	// halfway through the read.
	flakyRanges int
}

type fakeObject struct {
	data []byte
	meta map[string]string
}

type fakeUpload struct {
	bucket    string
	key       string
	meta      map[string]string
	acl       string
	parts     map[int][]byte
	initiated time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:   make(map[string]*fakeObject),
		uploads:   make(map[string]*fakeUpload),
		partCalls: make(map[int]int),
	}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func copyMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func (f *fakeStore) seed(bucket, key string, data []byte, meta map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objKey(bucket, key)] = &fakeObject{data: append([]byte{}, data...), meta: copyMeta(meta)}
}

func (f *fakeStore) Head(ctx context.Context, bucket, key, versionID string) (s3api.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objKey(bucket, key)]
	if !ok {
		return s3api.ObjectInfo{}, retry.MarkClient(fmt.Errorf("%w: s3://%s/%s", s3api.ErrNotFound, bucket, key))
	}
	return s3api.ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         "fake-etag",
		UserMetadata: copyMeta(obj.meta),
	}, nil
}

func (f *fakeStore) List(ctx context.Context, bucket, prefix string, recursive bool, fn func(s3api.ObjectInfo) error) error {
	f.mu.Lock()
	var infos []s3api.ObjectInfo
	for k, obj := range f.objects {
		if len(k) > len(bucket) && k[:len(bucket)] == bucket {
			key := k[len(bucket)+1:]
			if len(prefix) == 0 || (len(key) >= len(prefix) && key[:len(prefix)] == prefix) {
				infos = append(infos, s3api.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(obj.data))})
			}
		}
	}
	f.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	for _, info := range infos {
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) ListBuckets(ctx context.Context) ([]s3api.BucketInfo, error) {
	return []s3api.BucketInfo{{Name: "fake"}}, nil
}

func (f *fakeStore) InitiateMultipart(ctx context.Context, bucket, key string, meta map[string]string, acl string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUpload++
	id := "upload-" + strconv.Itoa(f.nextUpload)
	f.uploads[id] = &fakeUpload{
		bucket:    bucket,
		key:       key,
		meta:      copyMeta(meta),
		acl:       acl,
		parts:     make(map[int][]byte),
		initiated: time.Now(),
	}
	return id, nil
}

func (f *fakeStore) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, r io.Reader, size int64) (s3api.CompletedPart, error) {
	f.mu.Lock()
	f.partCalls[partNumber]++
	attempt := f.partCalls[partNumber]
	failPart := f.failPart
	blockPart := f.blockPart
	up, ok := f.uploads[uploadID]
	f.mu.Unlock()
	if !ok {
		return s3api.CompletedPart{}, retry.MarkClient(fmt.Errorf("%w: upload %s", s3api.ErrNotFound, uploadID))
	}
	if blockPart == partNumber {
		<-ctx.Done()
		return s3api.CompletedPart{}, ctx.Err()
	}
	if failPart != nil {
		if err := failPart(partNumber, attempt); err != nil {
			return s3api.CompletedPart{}, err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return s3api.CompletedPart{}, err
	}
	if int64(len(data)) != size {
		return s3api.CompletedPart{}, fmt.Errorf("part %d: read %d bytes, declared %d", partNumber, len(data), size)
	}
	f.mu.Lock()
	up.parts[partNumber] = data
	f.mu.Unlock()
	return s3api.CompletedPart{PartNumber: partNumber, ETag: "etag-" + strconv.Itoa(partNumber)}, nil
}

func (f *fakeStore) CopyPart(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey, uploadID string, partNumber int, start, length int64) (s3api.CompletedPart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.objects[objKey(srcBucket, srcKey)]
	if !ok {
		return s3api.CompletedPart{}, retry.MarkClient(fmt.Errorf("%w: s3://%s/%s", s3api.ErrNotFound, srcBucket, srcKey))
	}
	up, ok := f.uploads[uploadID]
	if !ok {
		return s3api.CompletedPart{}, retry.MarkClient(fmt.Errorf("%w: upload %s", s3api.ErrNotFound, uploadID))
	}
	data := src.data
	if length >= 0 {
		if start < 0 || start+length > int64(len(data)) {
			return s3api.CompletedPart{}, fmt.Errorf("copy range [%d,%d) outside object of %d bytes", start, start+length, len(data))
		}
		data = data[start : start+length]
	}
	up.parts[partNumber] = append([]byte{}, data...)
	return s3api.CompletedPart{PartNumber: partNumber, ETag: "etag-" + strconv.Itoa(partNumber)}, nil
}

func (f *fakeStore) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []s3api.CompletedPart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	up, ok := f.uploads[uploadID]
	if !ok {
		return retry.MarkClient(fmt.Errorf("%w: upload %s", s3api.ErrNotFound, uploadID))
	}
	numbers := make([]int, 0, len(parts))
	for _, p := range parts {
		if _, ok := up.parts[p.PartNumber]; !ok {
			return fmt.Errorf("complete names missing part %d", p.PartNumber)
		}
		numbers = append(numbers, p.PartNumber)
	}
	sort.Ints(numbers)
	var data []byte
	for _, n := range numbers {
		data = append(data, up.parts[n]...)
	}
	f.objects[objKey(bucket, key)] = &fakeObject{data: data, meta: copyMeta(up.meta)}
	delete(f.uploads, uploadID)
	return nil
}

func (f *fakeStore) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.uploads[uploadID]; !ok {
		return retry.MarkClient(fmt.Errorf("%w: upload %s", s3api.ErrNotFound, uploadID))
	}
	delete(f.uploads, uploadID)
	f.aborts = append(f.aborts, uploadID)
	return nil
}

func (f *fakeStore) ListMultipart(ctx context.Context, bucket, prefix string) ([]s3api.MultipartUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []s3api.MultipartUpload
	for id, up := range f.uploads {
		out = append(out, s3api.MultipartUpload{Bucket: up.bucket, Key: up.key, UploadID: id, Initiated: up.initiated})
	}
	return out, nil
}

func (f *fakeStore) GetRange(ctx context.Context, bucket, key, versionID string, start, length int64) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeCalls++
	obj, ok := f.objects[objKey(bucket, key)]
	if !ok {
		return nil, retry.MarkClient(fmt.Errorf("%w: s3://%s/%s", s3api.ErrNotFound, bucket, key))
	}
	data := obj.data
	if length > 0 {
		if start < 0 || start+length > int64(len(data)) {
			return nil, fmt.Errorf("range [%d,%d) outside object of %d bytes", start, start+length, len(data))
		}
		data = data[start : start+length]
	}
	if f.flakyRanges > 0 {
		f.flakyRanges--
		return io.NopCloser(&droppedConnReader{data: append([]byte{}, data...)}), nil
	}
	return io.NopCloser(bytes.NewReader(append([]byte{}, data...))), nil
}

// droppedConnReader yields half its bytes, then fails the way a reset TCP
// connection surfaces from a response body: an unwrapped *net.OpError.
type droppedConnReader struct {
	data []byte
	off  int
}

func (r *droppedConnReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data)/2 {
		return 0, &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
	}
	n := copy(p, r.data[r.off:len(r.data)/2])
	r.off += n
	return n, nil
}

func (f *fakeStore) Delete(ctx context.Context, bucket, key, versionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[objKey(bucket, key)]; !ok {
		return retry.MarkClient(fmt.Errorf("%w: s3://%s/%s", s3api.ErrNotFound, bucket, key))
	}
	delete(f.objects, objKey(bucket, key))
	return nil
}

func (f *fakeStore) RewriteMetadata(ctx context.Context, bucket, key string, meta map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objKey(bucket, key)]
	if !ok {
		return retry.MarkClient(fmt.Errorf("%w: s3://%s/%s", s3api.ErrNotFound, bucket, key))
	}
	obj.meta = copyMeta(meta)
	return nil
}

func newFakeClient(t *testing.T, store *fakeStore, chunkSize int64, keyDir string) *Client {
	t.Helper()
	if keyDir == "" {
		keyDir = t.TempDir()
	}
	client, err := newClient(Config{
		KeyDir:    keyDir,
		ChunkSize: chunkSize,
		Retry:     fastRetry(),
	}, store)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestPartRetriesAreCountedPerPart(t *testing.T) {
	fake := newFakeStore()
	boom := errors.New("connection reset by peer")
	fake.failPart = func(partNumber, attempt int) error {
		if partNumber == 2 && attempt <= 2 {
			return retry.MarkTransient(boom)
		}
		return nil
	}
	client := newFakeClient(t, fake, 16, "")

	src, data := writeTempFile(t, 48) // exactly 3 parts of 16 bytes
	dst := URI{Bucket: "fake", Key: "retry.bin"}
	if _, err := client.Upload(context.Background(), src, dst, UploadOptions{}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	fake.mu.Lock()
	calls := copyCalls(fake.partCalls)
	stored := fake.objects[objKey("fake", "retry.bin")]
	fake.mu.Unlock()
	if calls[1] != 1 || calls[3] != 1 {
		t.Fatalf("untroubled parts should upload once, got %v", calls)
	}
	if calls[2] != 3 {
		t.Fatalf("part 2 should take 3 attempts, got %d", calls[2])
	}
	if stored == nil || !bytes.Equal(stored.data, data) {
		t.Fatal("stored object differs from source despite retries")
	}
}

func copyCalls(in map[int]int) map[int]int {
	out := make(map[int]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func TestUploadFailureAbortsPendingUpload(t *testing.T) {
	fake := newFakeStore()
	boom := errors.New("access denied")
	fake.failPart = func(partNumber, attempt int) error {
		if partNumber == 2 {
			return retry.MarkClient(boom)
		}
		return nil
	}
	client := newFakeClient(t, fake, 16, "")

	src, _ := writeTempFile(t, 48)
	dst := URI{Bucket: "fake", Key: "doomed.bin"}
	if _, err := client.Upload(context.Background(), src, dst, UploadOptions{}); !errors.Is(err, boom) {
		t.Fatalf("expected upload to fail with injected error, got %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.uploads) != 0 {
		t.Fatalf("pending upload left behind: %v", fake.uploads)
	}
	if len(fake.aborts) != 1 {
		t.Fatalf("expected exactly one abort, got %v", fake.aborts)
	}
	if fake.partCalls[2] != 1 {
		t.Fatalf("client-side failure must not retry, got %d calls", fake.partCalls[2])
	}
	if _, ok := fake.objects[objKey("fake", "doomed.bin")]; ok {
		t.Fatal("no object should exist after a failed upload")
	}
}

func TestUploadCancellationAbortsPendingUpload(t *testing.T) {
	fake := newFakeStore()
	fake.blockPart = 2
	client := newFakeClient(t, fake, 16, "")

	src, _ := writeTempFile(t, 48)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := client.Upload(ctx, src, URI{Bucket: "fake", Key: "cancelled.bin"}, UploadOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.uploads) != 0 || len(fake.aborts) != 1 {
		t.Fatalf("cancelled upload must be aborted: uploads=%v aborts=%v", fake.uploads, fake.aborts)
	}
}

func generateAndShare(t *testing.T, ownDir, otherDir, name string) {
	t.Helper()
	if _, err := keystore.New(ownDir).Generate(name, 1024); err != nil {
		t.Fatalf("generate %s: %v", name, err)
	}
	pub, err := os.ReadFile(filepath.Join(ownDir, name+".pub.pem"))
	if err != nil {
		t.Fatalf("read public key: %v", err)
	}
	if err := os.WriteFile(filepath.Join(otherDir, name+".pub.pem"), pub, 0o644); err != nil {
		t.Fatalf("share public key: %v", err)
	}
}

func TestAddAndRemoveEncryptedKey(t *testing.T) {
	fake := newFakeStore()
	aliceDir, bobDir := t.TempDir(), t.TempDir()
	if _, err := keystore.New(aliceDir).Generate("alice", 1024); err != nil {
		t.Fatalf("generate alice: %v", err)
	}
	// Bob's public half is shared with Alice; his private key stays his.
	generateAndShare(t, bobDir, aliceDir, "bob")

	alice := newFakeClient(t, fake, 32, aliceDir)
	bob := newFakeClient(t, fake, 32, bobDir)
	ctx := context.Background()

	src, data := writeTempFile(t, 80)
	obj := URI{Bucket: "fake", Key: "shared.bin"}
	if _, err := alice.Upload(ctx, src, obj, UploadOptions{EncryptKeyName: "alice"}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	// Bob cannot read it yet.
	if err := bob.Download(ctx, obj, filepath.Join(t.TempDir(), "a"), DownloadOptions{}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey before grant, got %v", err)
	}

	if err := alice.AddEncryptedKey(ctx, obj, "bob"); err != nil {
		t.Fatalf("add key: %v", err)
	}
	target := filepath.Join(t.TempDir(), "b")
	if err := bob.Download(ctx, obj, target, DownloadOptions{}); err != nil {
		t.Fatalf("download after grant: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("granted download mismatch: %v", err)
	}

	if err := alice.RemoveEncryptedKey(ctx, obj, "alice"); err != nil {
		t.Fatalf("remove key: %v", err)
	}
	if err := alice.Download(ctx, obj, filepath.Join(t.TempDir(), "c"), DownloadOptions{}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey after revocation, got %v", err)
	}
	if err := bob.RemoveEncryptedKey(ctx, obj, "bob"); !errors.Is(err, ErrLastKeyRemoval) {
		t.Fatalf("expected ErrLastKeyRemoval, got %v", err)
	}
}

func TestCopyStampsForeignObjects(t *testing.T) {
	fake := newFakeStore()
	client := newFakeClient(t, fake, 64, "")
	ctx := context.Background()

	data := bytes.Repeat([]byte("plain stored bytes "), 20)
	fake.seed("fake", "foreign.bin", data, map[string]string{"origin": "elsewhere"})

	info, err := client.Copy(ctx, URI{Bucket: "fake", Key: "foreign.bin"}, URI{Bucket: "fake", Key: "copied.bin"},
		CopyOptions{UserMetadata: map[string]string{"label": "archive"}})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if !info.Tool || info.Encrypted {
		t.Fatalf("copy should stamp transfer metadata: %+v", info)
	}
	if info.FileLength != int64(len(data)) || info.Size != int64(len(data)) {
		t.Fatalf("copy lengths: %+v", info)
	}
	if got := downloadAndRead(t, client, URI{Bucket: "fake", Key: "copied.bin"}); !bytes.Equal(got, data) {
		t.Fatal("copied object differs from source")
	}

	fake.mu.Lock()
	meta := copyMeta(fake.objects[objKey("fake", "copied.bin")].meta)
	fake.mu.Unlock()
	if meta["origin"] != "elsewhere" {
		t.Fatalf("foreign metadata must ride along, got %v", meta)
	}
	if meta["label"] != "archive" {
		t.Fatalf("caller metadata must be applied, got %v", meta)
	}
}

func TestCopyEncryptedObject(t *testing.T) {
	fake := newFakeStore()
	keyDir := t.TempDir()
	if _, err := keystore.New(keyDir).Generate("alice", 1024); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client := newFakeClient(t, fake, 32, keyDir)
	ctx := context.Background()

	src, data := writeTempFile(t, 80)
	if _, err := client.Upload(ctx, src, URI{Bucket: "fake", Key: "enc.bin"}, UploadOptions{EncryptKeyName: "alice"}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	info, err := client.Copy(ctx, URI{Bucket: "fake", Key: "enc.bin"}, URI{Bucket: "fake", Key: "enc-copy.bin"}, CopyOptions{})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if !info.Encrypted || info.FileLength != int64(len(data)) {
		t.Fatalf("unexpected copy info: %+v", info)
	}
	if got := downloadAndRead(t, client, URI{Bucket: "fake", Key: "enc-copy.bin"}); !bytes.Equal(got, data) {
		t.Fatal("encrypted copy round trip mismatch")
	}
}

func TestCopyZeroLengthObject(t *testing.T) {
	fake := newFakeStore()
	client := newFakeClient(t, fake, 64, "")
	ctx := context.Background()

	fake.seed("fake", "empty.bin", nil, nil)
	info, err := client.Copy(ctx, URI{Bucket: "fake", Key: "empty.bin"}, URI{Bucket: "fake", Key: "empty-copy.bin"}, CopyOptions{})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if info.Size != 0 || info.FileLength != 0 {
		t.Fatalf("zero-length copy info: %+v", info)
	}
	if got := downloadAndRead(t, client, URI{Bucket: "fake", Key: "empty-copy.bin"}); len(got) != 0 {
		t.Fatalf("expected empty download, got %d bytes", len(got))
	}
}

func TestAbortOldPendingUploads(t *testing.T) {
	fake := newFakeStore()
	client := newFakeClient(t, fake, 64, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := fake.InitiateMultipart(ctx, "fake", "stale-"+strconv.Itoa(i), nil, ""); err != nil {
			t.Fatalf("initiate: %v", err)
		}
	}
	// Age two of them past the cutoff.
	fake.mu.Lock()
	old := time.Now().Add(-48 * time.Hour)
	fake.uploads["upload-1"].initiated = old
	fake.uploads["upload-2"].initiated = old
	fake.mu.Unlock()

	n, err := client.AbortOldPendingUploads(ctx, URI{Bucket: "fake"}, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("abort old: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 aborted uploads, got %d", n)
	}
	pending, err := client.ListPendingUploads(ctx, URI{Bucket: "fake"})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].UploadID != "upload-3" {
		t.Fatalf("unexpected survivors: %+v", pending)
	}
}

func TestDownloadRetriesMidStreamNetworkError(t *testing.T) {
	fake := newFakeStore()
	client := newFakeClient(t, fake, 16, "")
	ctx := context.Background()

	src, data := writeTempFile(t, 48)
	if _, err := client.Upload(ctx, src, URI{Bucket: "fake", Key: "flaky.bin"}, UploadOptions{}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	// Drop the connection halfway through one part body. The download must
	// fetch that range again instead of failing outright.
	fake.mu.Lock()
	fake.flakyRanges = 1
	fake.rangeCalls = 0
	fake.mu.Unlock()

	got := downloadAndRead(t, client, URI{Bucket: "fake", Key: "flaky.bin"})
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded bytes differ after mid-stream retry")
	}

	fake.mu.Lock()
	calls := fake.rangeCalls
	fake.mu.Unlock()
	if calls != 4 {
		t.Fatalf("expected 3 parts plus 1 retried range read, got %d calls", calls)
	}
}

func TestDownloadDirectorySkipsFolderMarkers(t *testing.T) {
	fake := newFakeStore()
	client := newFakeClient(t, fake, 16, "")
	ctx := context.Background()

	fake.seed("fake", "tree/", nil, nil)
	fake.seed("fake", "tree/a.bin", []byte("alpha"), nil)
	fake.seed("fake", "tree/sub/", nil, nil)
	fake.seed("fake", "tree/sub/b.bin", []byte("bravo"), nil)

	dst := t.TempDir()
	n, err := client.DownloadDirectory(ctx, URI{Bucket: "fake", Key: "tree"}, dst, DownloadOptions{})
	if err != nil {
		t.Fatalf("download directory: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 downloads, folder markers excluded, got %d", n)
	}
	for name, want := range map[string]string{"a.bin": "alpha", filepath.Join("sub", "b.bin"): "bravo"} {
		got, err := os.ReadFile(filepath.Join(dst, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(got) != want {
			t.Fatalf("%s: got %q want %q", name, got, want)
		}
	}
}
