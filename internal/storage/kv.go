package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// KV is one persistence tier: a flat key-value store over string values.
// Values are strings (serialized envelopes or raw JSON) so quota byte
// accounting is well defined at this boundary.
type KV interface {
	// Get returns the stored values for keys; missing keys are absent
	// from the result, not an error.
	Get(ctx context.Context, keys []string) (map[string]string, error)
	// Set writes all items. The write is all-or-nothing per call.
	Set(ctx context.Context, items map[string]string) error
	// Remove deletes keys; missing keys are ignored.
	Remove(ctx context.Context, keys []string) error
	// Clear removes everything in the tier.
	Clear(ctx context.Context) error
	// Usage reports the tier's current byte/item occupancy.
	Usage(ctx context.Context) (Usage, error)
	// Quota returns the tier's limits.
	Quota() Quota
}

// FileKV is the strict-tier store: a single JSON file mapping keys to
// string values, guarded by an advisory file lock so concurrent engine
// processes do not interleave read-modify-write cycles.
type FileKV struct {
	path  string
	quota Quota
	mu    sync.Mutex
}

// NewFileKV creates a FileKV at path with the given quota.
func NewFileKV(path string, quota Quota) *FileKV {
	return &FileKV{path: path, quota: quota}
}

// Quota returns the tier limits.
func (s *FileKV) Quota() Quota { return s.quota }

func (s *FileKV) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading store file: %w", err)
	}
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		// A corrupt store file degrades to empty rather than wedging
		// every operation behind a parse error.
		return map[string]string{}, nil
	}
	if data == nil {
		data = map[string]string{}
	}
	return data, nil
}

func (s *FileKV) save(data map[string]string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling store file: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("writing store file: %w", err)
	}
	return nil
}

// withLock runs fn while holding both the in-process mutex and the
// cross-process file lock.
func (s *FileKV) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	return fn()
}

func (s *FileKV) Get(ctx context.Context, keys []string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := make(map[string]string, len(keys))
	err := s.withLock(func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if value, ok := data[key]; ok {
				result[key] = value
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *FileKV) Set(ctx context.Context, items map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.withLock(func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		for key, value := range items {
			data[key] = value
		}
		return s.save(data)
	})
}

func (s *FileKV) Remove(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.withLock(func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		for _, key := range keys {
			delete(data, key)
		}
		return s.save(data)
	})
}

func (s *FileKV) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.withLock(func() error {
		return s.save(map[string]string{})
	})
}

func (s *FileKV) Usage(ctx context.Context) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, err
	}
	usage := Usage{PerKey: map[string]int{}}
	err := s.withLock(func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		for key, value := range data {
			size := ItemSize(key, value)
			usage.PerKey[key] = size
			usage.Bytes += size
			usage.Items++
		}
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	return usage, nil
}

// MemKV is an in-memory KV used by tests and as a harness for fault
// injection.
type MemKV struct {
	mu    sync.Mutex
	data  map[string]string
	quota Quota

	// FailSet, when set, makes Set return its error. Used to exercise
	// the gateway's degradation paths.
	FailSet error
}

// NewMemKV creates an empty in-memory tier with the given quota.
func NewMemKV(quota Quota) *MemKV {
	return &MemKV{data: map[string]string{}, quota: quota}
}

func (s *MemKV) Quota() Quota { return s.quota }

func (s *MemKV) Get(_ context.Context, keys []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if value, ok := s.data[key]; ok {
			result[key] = value
		}
	}
	return result, nil
}

func (s *MemKV) Set(_ context.Context, items map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSet != nil {
		return s.FailSet
	}
	for key, value := range items {
		s.data[key] = value
	}
	return nil
}

func (s *MemKV) Remove(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *MemKV) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string]string{}
	return nil
}

func (s *MemKV) Usage(_ context.Context) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage := Usage{PerKey: map[string]int{}}
	for key, value := range s.data {
		size := ItemSize(key, value)
		usage.PerKey[key] = size
		usage.Bytes += size
		usage.Items++
	}
	return usage, nil
}
