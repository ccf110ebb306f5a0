package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgeos/graph/internal/errs"
	"github.com/natefinch/atomic"
)

// LocalBackend is a git-like sharded filesystem backend:
// {base}/{hash[0:2]}/{hash[2:4]}/{hash}. Writes go through
// natefinch/atomic's tempfile-plus-rename WriteFile for crash safety.
type LocalBackend struct {
	base string
}

// NewLocalBackend roots the backend at base. It creates no directories;
// Store creates each shard directory on first write.
func NewLocalBackend(base string) *LocalBackend {
	return &LocalBackend{base: base}
}

func shardPath(base, hexHash string) string {
	return filepath.Join(base, hexHash[:2], hexHash[2:4], hexHash)
}

func (b *LocalBackend) Store(ctx context.Context, hexHash, content string) error {
	path := shardPath(b.base, hexHash)
	if _, err := os.Stat(path); err == nil {
		return nil // idempotent
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, strings.NewReader(content))
}

func (b *LocalBackend) Resolve(ctx context.Context, hexHash string) (string, error) {
	path := shardPath(b.base, hexHash)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.NewNotFound("blob: sha256:" + hexHash)
		}
		return "", err
	}
	return string(data), nil
}

func (b *LocalBackend) Exists(ctx context.Context, hexHash string) (bool, error) {
	_, err := os.Stat(shardPath(b.base, hexHash))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *LocalBackend) Delete(ctx context.Context, hexHash string) (bool, error) {
	path := shardPath(b.base, hexHash)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	return true, nil
}

func (b *LocalBackend) Stats(ctx context.Context) (Stats, error) {
	var count int
	var total int64
	err := filepath.Walk(b.base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !info.IsDir() {
			count++
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{Backend: "local", BlobCount: count, TotalBytes: total}, nil
}
