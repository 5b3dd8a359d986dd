package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"google.golang.org/api/iterator"
)

func TestLocalStorePutGetList(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()

	content := []byte("export default { a: 1 };\n")
	if err := s.Put(ctx, "dayjs", "1.11.10-abc.json", bytes.NewReader(content)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rc, err := s.Get(ctx, "dayjs", "1.11.10-abc.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: %q", got)
	}

	_ = s.Put(ctx, "dayjs", "0.9.0-def.json", strings.NewReader("old"))
	list, err := s.List(ctx, "dayjs")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Key != "0.9.0-def.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	sum := sha256.Sum256(content)
	if list[1].Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum = %s", list[1].Checksum)
	}
	if list[1].Size != int64(len(content)) {
		t.Errorf("size = %d", list[1].Size)
	}
}

func TestLocalStoreScopedPackages(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	if err := s.Put(ctx, "@vueuse/core", "10.0.0.json", strings.NewReader("x")); err != nil {
		t.Fatalf("Put scoped: %v", err)
	}
	list, _ := s.List(ctx, "@vueuse/core")
	if len(list) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(list))
	}
	if err := s.Put(ctx, "..", "escape", strings.NewReader("x")); err == nil {
		t.Error("expected traversal to be rejected")
	}
}

func TestLocalStoreNotFound(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	if _, err := s.Get(ctx, "nope", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "nope", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}
	list, err := s.List(ctx, "nope")
	if err != nil || len(list) != 0 {
		t.Errorf("List of empty scope = %v, %v", list, err)
	}
}

func TestLocalStoreDelete(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	_ = s.Put(ctx, "lodash", "k", strings.NewReader("x"))
	if err := s.Delete(ctx, "lodash", "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "lodash", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// --- S3 fake ---

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Key] = data
	f.meta[*in.Key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, *in.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		key := k
		size := int64(len(f.objects[k]))
		out.Contents = append(out.Contents, types.Object{Key: &key, Size: &size})
	}
	return out, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Store(fake, "bundles", "enfyra")
	ctx := context.Background()

	if err := s.Put(ctx, "dayjs", "1.json", strings.NewReader("code")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := fake.objects["enfyra/dayjs/1.json"]; !ok {
		t.Fatalf("expected object key enfyra/dayjs/1.json, have %v", fake.objects)
	}
	if fake.meta["enfyra/dayjs/1.json"]["size"] != "4" {
		t.Errorf("metadata = %v", fake.meta["enfyra/dayjs/1.json"])
	}

	rc, err := s.Get(ctx, "dayjs", "1.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	if string(got) != "code" {
		t.Errorf("got %q", got)
	}

	list, err := s.List(ctx, "dayjs")
	if err != nil || len(list) != 1 || list[0].Key != "1.json" || list[0].Size != 4 {
		t.Fatalf("List = %+v, %v", list, err)
	}

	if err := s.Delete(ctx, "dayjs", "1.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "dayjs", "1.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- GCS fake ---

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type fakeObject struct {
	b    *fakeBucket
	name string
}

type fakeWriter struct {
	bytes.Buffer
	o fakeObject
}

func (w *fakeWriter) Close() error {
	w.o.b.mu.Lock()
	defer w.o.b.mu.Unlock()
	w.o.b.objects[w.o.name] = w.Bytes()
	return nil
}

func (o fakeObject) NewReader(context.Context) (io.ReadCloser, error) {
	o.b.mu.Lock()
	defer o.b.mu.Unlock()
	data, ok := o.b.objects[o.name]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o fakeObject) NewWriter(context.Context) io.WriteCloser { return &fakeWriter{o: o} }

func (o fakeObject) Delete(context.Context) error {
	o.b.mu.Lock()
	defer o.b.mu.Unlock()
	if _, ok := o.b.objects[o.name]; !ok {
		return storage.ErrObjectNotExist
	}
	delete(o.b.objects, o.name)
	return nil
}

type fakeIterator struct {
	attrs []*storage.ObjectAttrs
}

func (it *fakeIterator) Next() (*storage.ObjectAttrs, error) {
	if len(it.attrs) == 0 {
		return nil, iterator.Done
	}
	a := it.attrs[0]
	it.attrs = it.attrs[1:]
	return a, nil
}

func (b *fakeBucket) Object(name string) objectHandle { return fakeObject{b: b, name: name} }

func (b *fakeBucket) Objects(_ context.Context, q *storage.Query) objectIterator {
	b.mu.Lock()
	defer b.mu.Unlock()
	it := &fakeIterator{}
	for name, data := range b.objects {
		if strings.HasPrefix(name, q.Prefix) {
			it.attrs = append(it.attrs, &storage.ObjectAttrs{Name: name, Size: int64(len(data))})
		}
	}
	return it
}

func TestGCSStore(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}}
	g := &GCSStore{bucket: bucket, prefix: "bundles"}
	ctx := context.Background()

	if err := g.Put(ctx, "chart.js", "4.4.0.json", strings.NewReader("{}")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := bucket.objects["bundles/chart.js/4.4.0.json"]; !ok {
		t.Fatalf("unexpected objects %v", bucket.objects)
	}
	rc, err := g.Get(ctx, "chart.js", "4.4.0.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	rc.Close()

	list, err := g.List(ctx, "chart.js")
	if err != nil || len(list) != 1 || list[0].Key != "4.4.0.json" {
		t.Fatalf("List = %+v, %v", list, err)
	}
	if err := g.Delete(ctx, "chart.js", "4.4.0.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := g.Get(ctx, "chart.js", "4.4.0.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
