package rtree

import (
	"os"
	"path/filepath"
)

// SaveFile serializes t into the file at path. The image is written to a
// temporary file in the same directory and renamed into place, so readers
// never observe a partial image.
func SaveFile[T any](path string, t *RTree[T], s Serializer[T]) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(0644); err != nil {
		return err
	}
	if err := Serialize(tmp, t, s); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// FileIndex is a StreamIndex backed by an open file.
type FileIndex[T any] struct {
	*StreamIndex[T]
	f *os.File
}

// OpenFile opens the stream image stored at path.
func OpenFile[T any](path string, s Serializer[T], opts ...Option) (*FileIndex[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	x, err := Deserialize(f, info.Size(), s, opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &FileIndex[T]{StreamIndex: x, f: f}, nil
}

// Close releases the underlying file.
func (fi *FileIndex[T]) Close() error {
	return fi.f.Close()
}
