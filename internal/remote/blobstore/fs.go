package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// validHash matches a lowercase hex-encoded SHA256 hash (64 characters).
var validHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

// FSStore implements BlobStore using the local filesystem.
// Blobs are stored in a two-level directory structure using the first two
// characters of the hash as a prefix directory.
type FSStore struct {
	root string
}

var _ BlobStore = (*FSStore)(nil)

// NewFSStore creates a filesystem-backed blob store rooted at the given directory.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Has checks whether a blob exists.
func (s *FSStore) Has(_ context.Context, hash string) (bool, error) {
	if !validHash.MatchString(hash) {
		return false, nil
	}
	_, err := os.Stat(s.blobPath(hash))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", hash, err)
	}
	return true, nil
}

// Get opens a blob for reading.
// Returns ErrBlobNotFound if the blob does not exist.
func (s *FSStore) Get(_ context.Context, hash string) (io.ReadCloser, *Info, error) {
	if !validHash.MatchString(hash) {
		return nil, nil, ErrBlobNotFound
	}
	info, err := s.readInfo(hash)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("read blob meta %s: %w", hash, err)
	}

	f, err := os.Open(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open blob %s: %w", hash, err)
	}

	return f, info, nil
}

// Put stores a blob. The data is read from r and verified against the hash.
// Idempotent: if the blob exists, this is a no-op.
func (s *FSStore) Put(_ context.Context, hash string, r io.Reader, info Info) error {
	if !validHash.MatchString(hash) {
		return fmt.Errorf("invalid blob hash: %q", hash)
	}
	blobPath := s.blobPath(hash)

	if _, err := os.Stat(blobPath); err == nil {
		return nil
	}

	dir := filepath.Dir(blobPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	// Write to temp file, verify hash, rename
	tmpFile, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	hasher := sha256.New()
	writer := io.MultiWriter(tmpFile, hasher)

	if _, err := io.Copy(writer, r); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write blob data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	computedHash := hex.EncodeToString(hasher.Sum(nil))
	if computedHash != hash {
		os.Remove(tmpPath)
		return fmt.Errorf("expected %s, got %s: %w", hash, computedHash, ErrHashMismatch)
	}

	// The meta file goes first so a visible blob always has one.
	info.Hash = hash
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(info)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("marshal blob meta: %w", err)
	}
	if err := os.WriteFile(s.metaPath(hash), meta, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write blob meta: %w", err)
	}

	if err := os.Rename(tmpPath, blobPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename blob: %w", err)
	}

	return nil
}

// PutBytes stores data under its own hash and returns the backup URL.
func PutBytes(ctx context.Context, s BlobStore, data []byte, info Info) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if err := s.Put(ctx, hash, bytes.NewReader(data), info); err != nil {
		return "", err
	}
	return URL(hash), nil
}

// Delete removes a blob and its metadata file.
func (s *FSStore) Delete(_ context.Context, hash string) error {
	if !validHash.MatchString(hash) {
		return nil
	}
	os.Remove(s.blobPath(hash))
	os.Remove(s.metaPath(hash))
	return nil
}

// TotalCount returns the number of stored blobs.
func (s *FSStore) TotalCount(ctx context.Context) (int, error) {
	hashes, err := s.ListHashes(ctx)
	return len(hashes), err
}

// ListHashes returns all blob hashes by scanning the directory tree.
func (s *FSStore) ListHashes(_ context.Context) ([]string, error) {
	var hashes []string

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".meta") || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		// Reconstruct hash from path: root/ab/cd... -> abcd...
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) == 2 && validHash.MatchString(parts[0]+parts[1]) {
			hashes = append(hashes, parts[0]+parts[1])
		}
		return nil
	})

	return hashes, err
}

// blobPath returns the filesystem path for a blob.
func (s *FSStore) blobPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

// metaPath returns the filesystem path for a blob's metadata.
func (s *FSStore) metaPath(hash string) string {
	return s.blobPath(hash) + ".meta"
}

func (s *FSStore) readInfo(hash string) (*Info, error) {
	data, err := os.ReadFile(s.metaPath(hash))
	if err != nil {
		return nil, err
	}
	info := &Info{}
	if err := json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("decode blob meta: %w", err)
	}
	return info, nil
}
