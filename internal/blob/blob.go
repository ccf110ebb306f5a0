// Package blob implements the content-addressed blob store (spec §4.3):
// decouples large text content from registry metadata. Records keep
// truncated thumbnails for display; full text lives in blobs retrievable by
// SHA-256 hash. Backward compatible via GetTextWithFallback.
//
// Grounded on original_source/vectordb/blob_store.py; backend selection
// follows the same local-sharded-FS / object-storage split, with the object
// backend implemented against aws-sdk-go-v2's S3 client (also serves GCS via
// a custom endpoint, since no GCS-native SDK appears in the retrieval pack).
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgeos/graph/internal/errs"
	"golang.org/x/sync/errgroup"
)

// Backend is the storage-agnostic contract a blob backend implements.
type Backend interface {
	Store(ctx context.Context, hexHash, content string) error
	Resolve(ctx context.Context, hexHash string) (string, error)
	Exists(ctx context.Context, hexHash string) (bool, error)
	Delete(ctx context.Context, hexHash string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
}

// Stats summarizes a backend's contents.
type Stats struct {
	Backend    string
	BlobCount  int
	TotalBytes int64
}

// Store is the public blob-store API, backed by one Backend.
type Store struct {
	backend Backend
	enabled bool
}

// New wraps backend. enabled=false makes every Store call a no-op,
// matching the source's BLOB_STORE_ENABLED master toggle.
func New(backend Backend, enabled bool) *Store {
	return &Store{backend: backend, enabled: enabled}
}

func computeHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func parseRef(ref string) (string, error) {
	if ref == "" || !strings.HasPrefix(ref, "sha256:") {
		return "", errs.NewInvalidInput(fmt.Sprintf("invalid blob ref: %q", ref))
	}
	hexHash := ref[len("sha256:"):]
	if len(hexHash) != 64 {
		return "", errs.NewInvalidInput(fmt.Sprintf("invalid hash length in ref: %q", ref))
	}
	if _, err := hex.DecodeString(hexHash); err != nil {
		return "", errs.NewInvalidInput(fmt.Sprintf("invalid hex in ref: %q", ref))
	}
	return hexHash, nil
}

// Put hashes content, stores it via the backend, and returns "sha256:hex".
// Idempotent: identical content always returns the same ref. Returns "" if
// the store is disabled or content is empty.
func (s *Store) Put(ctx context.Context, content string) (string, error) {
	if !s.enabled || content == "" {
		return "", nil
	}
	h := computeHash(content)
	if err := s.backend.Store(ctx, h, content); err != nil {
		return "", errs.NewRemoteUnavailable("blob store", err)
	}
	return "sha256:" + h, nil
}

// Resolve fetches full content by ref.
func (s *Store) Resolve(ctx context.Context, ref string) (string, error) {
	h, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	content, err := s.backend.Resolve(ctx, h)
	if err != nil {
		return "", err
	}
	return content, nil
}

// ResolveBatch fetches multiple refs in parallel, bounded fan-out of 8 (the
// source's ThreadPoolExecutor(max_workers=8)). Missing refs are omitted, not
// errored.
func (s *Store) ResolveBatch(ctx context.Context, refs []string) map[string]string {
	if len(refs) == 0 {
		return map[string]string{}
	}

	type result struct {
		ref     string
		content string
		ok      bool
	}
	results := make(chan result, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			h, err := parseRef(ref)
			if err != nil {
				results <- result{ref: ref}
				return nil
			}
			content, err := s.backend.Resolve(gctx, h)
			if err != nil {
				results <- result{ref: ref}
				return nil
			}
			results <- result{ref: ref, content: content, ok: true}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	out := map[string]string{}
	for r := range results {
		if r.ok {
			out[r.ref] = r.content
		}
	}
	return out
}

// Exists checks for a blob's presence without fetching its content.
func (s *Store) Exists(ctx context.Context, ref string) bool {
	h, err := parseRef(ref)
	if err != nil {
		return false
	}
	ok, err := s.backend.Exists(ctx, h)
	return err == nil && ok
}

// Delete removes a blob. Returns true if it existed.
func (s *Store) Delete(ctx context.Context, ref string) bool {
	h, err := parseRef(ref)
	if err != nil {
		return false
	}
	ok, _ := s.backend.Delete(ctx, h)
	return ok
}

// GetTextWithFallback resolves the blob referenced by ref if present,
// else returns inline. This is the key backward-compat primitive: callers
// that predate blob storage keep working unchanged.
func (s *Store) GetTextWithFallback(ctx context.Context, ref string, inline string) string {
	if ref == "" {
		return inline
	}
	content, err := s.Resolve(ctx, ref)
	if err != nil {
		return inline
	}
	return content
}

// StoreIfLarge stores content as a blob only when it exceeds threshold
// chars, returning its ref, or "" when nothing was stored — callers keep the
// full content inline for small strings and only pay the blob round-trip
// above the threshold.
func (s *Store) StoreIfLarge(ctx context.Context, content string, threshold int) (string, error) {
	if !s.enabled || content == "" || len(content) <= threshold {
		return "", nil
	}
	return s.Put(ctx, content)
}

// PutJSON stores a JSON-serializable value as a blob.
func (s *Store) PutJSON(ctx context.Context, v interface{}) (string, error) {
	if !s.enabled || v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("blob: marshal json: %w", err)
	}
	return s.Put(ctx, string(raw))
}

// ResolveJSON resolves a blob ref and unmarshals it into out.
func (s *Store) ResolveJSON(ctx context.Context, ref string, out interface{}) error {
	content, err := s.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(content), out)
}

// Stats reports backend statistics (blob count, total bytes).
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	return s.backend.Stats(ctx)
}
