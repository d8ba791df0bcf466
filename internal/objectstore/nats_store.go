// Package objectstore provides blob stores that back the music asset store.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrObjectNotFound is returned when a key has no stored object.
var ErrObjectNotFound = errors.New("object not found")

// NatsObjectStore implements core.ObjectStore on a JetStream object bucket.
type NatsObjectStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string

	mu    sync.RWMutex
	store nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	objectStore := &NatsObjectStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
	}

	err := objectStore.EnsureBucket(context.Background())
	if err != nil {
		return nil, err
	}

	return objectStore, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// EnsureBucket creates the bucket if it is missing and rebinds the store to it.
// It is safe to call repeatedly.
func (n *NatsObjectStore) EnsureBucket(_ context.Context) error {
	store, err := n.jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      n.bucket,
		Description: fmt.Sprintf("Generated music assets for the %s bucket.", n.bucket),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return fmt.Errorf("failed to create object store bucket '%s': %w", n.bucket, err)
		}

		store, err = n.jetstreamContext.ObjectStore(n.bucket)
		if err != nil {
			return fmt.Errorf("failed to bind to existing object store bucket '%s': %w", n.bucket, err)
		}
	}

	n.mu.Lock()
	n.store = store
	n.mu.Unlock()

	return nil
}

func (n *NatsObjectStore) current() nats.ObjectStore {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.store
}

// Download retrieves an object. A missing key yields ErrObjectNotFound.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := n.current().Get(key, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) || errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: '%s' in bucket '%s'", ErrObjectNotFound, key, n.bucket)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// List returns the names of all objects in the bucket.
func (n *NatsObjectStore) List(ctx context.Context) ([]string, error) {
	infos, err := n.current().List(nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list bucket '%s': %w", n.bucket, err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}

	return names, nil
}

// Upload stores data under key, replacing any previous object.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := n.current().Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
