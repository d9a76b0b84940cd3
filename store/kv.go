// Package store persists the conversation transcript as an expiring snapshot
// in an external key-value store. The KV backend is an injected collaborator;
// the package ships a process-local MemoryKV and a filesystem FileKV, and any
// async get/set/remove capability can stand in for either.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// KV is the external key-value collaborator. Get and Set are treated as
// atomic single-key operations; concurrent writers are last-writer-wins.
type KV interface {
	// Get returns the value for key, with ok=false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set creates or overwrites the value for key.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

type memoryKV struct {
	values map[string][]byte
	mu     sync.RWMutex
}

// NewMemoryKV creates a process-local KV. Contents do not survive restarts;
// use it for tests or when a caller injects persistence elsewhere.
func NewMemoryKV() KV {
	return &memoryKV{values: make(map[string][]byte)}
}

func (kv *memoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	val, ok := kv.values[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(val), true, nil
}

func (kv *memoryKV) Set(_ context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.values[key] = slices.Clone(value)
	return nil
}

func (kv *memoryKV) Remove(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.values, key)
	return nil
}

type fileKV struct {
	root string
}

// NewFileKV creates a KV that stores each key as a file under root. Writes
// are atomic (temp file + rename), so a crashed save never leaves a torn
// snapshot behind.
func NewFileKV(root string) KV {
	return &fileKV{root: root}
}

func (kv *fileKV) path(key string) string {
	return filepath.Join(kv.root, filepath.FromSlash(key))
}

func (kv *fileKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(kv.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %s: %v", ErrLoadFailed, key, err)
	}
	return data, true, nil
}

func (kv *fileKV) Set(_ context.Context, key string, value []byte) error {
	path := kv.path(key)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, key, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, key, err)
	}
	return nil
}

func (kv *fileKV) Remove(_ context.Context, key string) error {
	if err := os.Remove(kv.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove failed: %s: %w", key, err)
	}
	return nil
}
