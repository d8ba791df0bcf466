package assetstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/music-service/internal/audio"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/objectstore"
)

// BucketEnsurer is implemented by object stores that can create their bucket.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// Lister is implemented by object stores that can enumerate their keys.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// ObjectAssetStore keeps assets in a blob store under their asset names.
type ObjectAssetStore struct {
	store      core.ObjectStore
	sampleRate int
	log        *logger.Logger
}

var _ core.AssetStore = (*ObjectAssetStore)(nil)

// NewObjectAssetStore creates an asset store over store that writes at sampleRate.
func NewObjectAssetStore(store core.ObjectStore, sampleRate int, log *logger.Logger) *ObjectAssetStore {
	return &ObjectAssetStore{store: store, sampleRate: sampleRate, log: log}
}

// EnsureRoot ensures the bucket exists when the store supports it.
func (s *ObjectAssetStore) EnsureRoot(ctx context.Context) error {
	ensurer, ok := s.store.(BucketEnsurer)
	if !ok {
		return nil
	}

	err := ensurer.EnsureBucket(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}

	return nil
}

// Save encodes buffer and uploads it as audio_<index>.wav, replacing any earlier upload.
func (s *ObjectAssetStore) Save(ctx context.Context, buffer core.SampleBuffer, index int) (core.AssetRef, error) {
	name, err := AssetName(index)
	if err != nil {
		return core.AssetRef{}, err
	}

	data, err := audio.EncodeWAV(buffer, s.sampleRate)
	if err != nil {
		return core.AssetRef{}, err
	}

	err = s.store.Upload(ctx, name, data)
	if err != nil {
		return core.AssetRef{}, fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}

	s.log.Info("Uploaded asset '%s' (%d bytes)", name, len(data))

	return core.AssetRef{Name: name, Location: name, Size: int64(len(data))}, nil
}

// ReadBytes downloads the asset named by ref.
func (s *ObjectAssetStore) ReadBytes(ctx context.Context, ref core.AssetRef) ([]byte, error) {
	_, err := ParseAssetName(ref.Name)
	if err != nil {
		return nil, err
	}

	data, err := s.store.Download(ctx, ref.Name)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrAssetNotFound, ref.Name)
		}

		return nil, fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}

	return data, nil
}

// HighestIndex returns the largest index in the bucket, or -1 when it holds no
// assets or the store cannot list its keys.
func (s *ObjectAssetStore) HighestIndex(ctx context.Context) (int, error) {
	lister, ok := s.store.(Lister)
	if !ok {
		return -1, nil
	}

	names, err := lister.List(ctx)
	if err != nil {
		return -1, fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}

	return highestIndex(names), nil
}
