package assetstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"

	"github.com/book-expert/music-service/internal/audio"
	"github.com/book-expert/music-service/internal/core"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o644
	tempFilePattern = ".audio-*.tmp"
)

// FileStore keeps assets as WAV files in one directory.
type FileStore struct {
	root       string
	sampleRate int
	log        *logger.Logger
}

var _ core.AssetStore = (*FileStore)(nil)

// NewFileStore creates a store rooted at root that writes at sampleRate.
func NewFileStore(root string, sampleRate int, log *logger.Logger) *FileStore {
	return &FileStore{root: root, sampleRate: sampleRate, log: log}
}

// Root returns the asset directory.
func (s *FileStore) Root() string {
	return s.root
}

// EnsureRoot creates the asset directory if needed.
func (s *FileStore) EnsureRoot(_ context.Context) error {
	err := os.MkdirAll(s.root, dirPermissions)
	if err != nil {
		return fmt.Errorf("%w: failed to create asset directory '%s': %w", core.ErrStorageUnavailable, s.root, err)
	}

	return nil
}

// Save encodes buffer and writes it as audio_<index>.wav, replacing any previous asset
// with that index. The file is written beside the target and renamed into place.
func (s *FileStore) Save(ctx context.Context, buffer core.SampleBuffer, index int) (core.AssetRef, error) {
	name, err := AssetName(index)
	if err != nil {
		return core.AssetRef{}, err
	}

	data, err := audio.EncodeWAV(buffer, s.sampleRate)
	if err != nil {
		return core.AssetRef{}, err
	}

	err = s.EnsureRoot(ctx)
	if err != nil {
		return core.AssetRef{}, err
	}

	target := filepath.Join(s.root, name)

	err = writeFileAtomic(s.root, target, data)
	if err != nil {
		return core.AssetRef{}, fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}

	s.log.Info("Saved asset '%s' (%d bytes)", target, len(data))

	return core.AssetRef{Name: name, Location: target, Size: int64(len(data))}, nil
}

// ReadBytes returns the encoded bytes of the asset named by ref.
func (s *FileStore) ReadBytes(_ context.Context, ref core.AssetRef) ([]byte, error) {
	_, err := ParseAssetName(ref.Name)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.root, ref.Name)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", core.ErrAssetNotFound, ref.Name)
		}

		return nil, fmt.Errorf("%w: failed to read asset '%s': %w", core.ErrStorageUnavailable, path, err)
	}

	return data, nil
}

// HighestIndex returns the largest index saved in the asset directory, or -1
// when it holds no assets.
func (s *FileStore) HighestIndex(_ context.Context) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return -1, nil
		}

		return -1, fmt.Errorf("%w: failed to list asset directory '%s': %w", core.ErrStorageUnavailable, s.root, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}

	return highestIndex(names), nil
}

func writeFileAtomic(dir, target string, data []byte) (err error) {
	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file in '%s': %w", dir, err)
	}

	tempPath := tempFile.Name()

	defer func() {
		if err != nil {
			_ = os.Remove(tempPath)
		}
	}()

	_, err = tempFile.Write(data)
	if err != nil {
		_ = tempFile.Close()

		return fmt.Errorf("failed to write '%s': %w", tempPath, err)
	}

	err = tempFile.Sync()
	if err != nil {
		_ = tempFile.Close()

		return fmt.Errorf("failed to sync '%s': %w", tempPath, err)
	}

	err = tempFile.Close()
	if err != nil {
		return fmt.Errorf("failed to close '%s': %w", tempPath, err)
	}

	err = os.Chmod(tempPath, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to set permissions on '%s': %w", tempPath, err)
	}

	err = os.Rename(tempPath, target)
	if err != nil {
		return fmt.Errorf("failed to move asset into '%s': %w", target, err)
	}

	return nil
}
