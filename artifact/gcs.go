package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// bucketHandle abstracts a GCS bucket for tests.
type bucketHandle interface {
	Objects(ctx context.Context, q *storage.Query) objectIterator
	Object(name string) objectHandle
}

type objectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

type objectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
}

type gcsBucket struct{ bh *storage.BucketHandle }

func (b gcsBucket) Objects(ctx context.Context, q *storage.Query) objectIterator {
	return b.bh.Objects(ctx, q)
}

func (b gcsBucket) Object(name string) objectHandle { return gcsObject{b.bh.Object(name)} }

type gcsObject struct{ oh *storage.ObjectHandle }

func (o gcsObject) NewReader(ctx context.Context) (io.ReadCloser, error) { return o.oh.NewReader(ctx) }
func (o gcsObject) NewWriter(ctx context.Context) io.WriteCloser        { return o.oh.NewWriter(ctx) }
func (o gcsObject) Delete(ctx context.Context) error                    { return o.oh.Delete(ctx) }

// GCSConfig configures a Google Cloud Storage artifact bucket.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Project         string `yaml:"project"`
	CredentialsFile string `yaml:"credentials_file"`
}

// GCSStore keeps artifacts at {prefix}/{scope}/{key} in a GCS bucket.
type GCSStore struct {
	client *storage.Client
	bucket bucketHandle
	prefix string
}

// NewGCSStore creates a client and binds it to cfg.Bucket.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	if cfg.Project != "" {
		opts = append(opts, option.WithQuotaProject(cfg.Project))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: gcsBucket{client.Bucket(cfg.Bucket)}, prefix: cfg.Prefix}, nil
}

// Close releases the client.
func (g *GCSStore) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GCSStore) objectName(scope, key string) string {
	return path.Join(g.prefix, scope, key)
}

// Put uploads the artifact.
func (g *GCSStore) Put(ctx context.Context, scope, key string, reader io.Reader) error {
	name := g.objectName(scope, key)
	w := g.bucket.Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for object %q: %w", name, err)
	}
	return nil
}

// Get downloads the artifact.
func (g *GCSStore) Get(ctx context.Context, scope, key string) (io.ReadCloser, error) {
	name := g.objectName(scope, key)
	r, err := g.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", name, err)
	}
	return r, nil
}

// List returns the artifacts stored under scope.
func (g *GCSStore) List(ctx context.Context, scope string) ([]Artifact, error) {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: path.Join(g.prefix, scope) + "/"})
	var out []Artifact
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects for %q: %w", scope, err)
		}
		out = append(out, Artifact{
			Key:       path.Base(attrs.Name),
			Size:      attrs.Size,
			CreatedAt: attrs.Created,
			Checksum:  fmt.Sprintf("%x", attrs.MD5),
		})
	}
	return out, nil
}

// Delete removes the artifact.
func (g *GCSStore) Delete(ctx context.Context, scope, key string) error {
	name := g.objectName(scope, key)
	if err := g.bucket.Object(name).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete object %q: %w", name, err)
	}
	return nil
}
