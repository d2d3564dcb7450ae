package content

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/filex"
	"github.com/klauspost/compress/gzip"
)

// FileStore keeps gzip-compressed bodies under dir, sharded by the first
// byte of the hashed key. Staged files live in dir/tmp until committed.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	if _, err := filex.EnsureDir(filepath.Join(abs, "tmp")); err != nil {
		return nil, err
	}
	return &FileStore{dir: abs}, nil
}

// path hashes key so identity parts never become path components.
func (s *FileStore) path(key string) string {
	name := hex.EncodeToString(Digest([]byte(key)))
	return filepath.Join(s.dir, name[:2], name[2:]+".gz")
}

func (s *FileStore) Put(ctx context.Context, key, contentType string, data []byte) (Transaction, error) {
	f, err := os.CreateTemp(filepath.Join(s.dir, "tmp"), "put-*")
	if err != nil {
		return nil, fmt.Errorf("stage content: %w", err)
	}
	tmp := f.Name()

	zw := gzip.NewWriter(f)
	_, err = zw.Write(data)
	if err == nil {
		err = zw.Close()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("stage content: %w", err)
	}

	final := s.path(key)
	return &stagedTx{
		digest: Digest(data),
		commit: func(ctx context.Context) error {
			if err := os.MkdirAll(filepath.Dir(final), 0o770); err != nil {
				return err
			}
			return os.Rename(tmp, final)
		},
		abort: func(ctx context.Context) error {
			return os.Remove(tmp)
		},
	}, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", key, err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
