package testsupport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/tnqbao/gau-lipsync-orchestrator/utils"
)

// MemoryArtifactStore keeps objects in a map keyed by reference.
type MemoryArtifactStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	// PutErr, when set, is returned by the next PutFailures Put or Upload calls.
	PutErr      error
	PutFailures int
	// GetErr is returned by Get and Download for every reference.
	GetErr error
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemoryArtifactStore) Put(ctx context.Context, bucket, object string, reader io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil && m.PutFailures > 0 {
		m.PutFailures--
		return "", m.PutErr
	}
	if size >= 0 && int64(len(data)) != size {
		return "", fmt.Errorf("short write: got %d bytes, want %d", len(data), size)
	}

	ref := utils.FormatRef(bucket, object)
	m.objects[ref] = data
	m.types[ref] = contentType
	return ref, nil
}

func (m *MemoryArtifactStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if _, _, err := utils.ParseRef(ref); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	data, ok := m.objects[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", utils.ErrArtifactNotFound, ref)
	}
	return bytes.Clone(data), nil
}

func (m *MemoryArtifactStore) Download(ctx context.Context, ref, localPath string) error {
	data, err := m.Get(ctx, ref)
	if err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (m *MemoryArtifactStore) Upload(ctx context.Context, bucket, object, localPath, contentType string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	return m.Put(ctx, bucket, object, bytes.NewReader(data), int64(len(data)), contentType)
}

func (m *MemoryArtifactStore) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[ref]; !ok {
		return fmt.Errorf("%w: %s", utils.ErrArtifactNotFound, ref)
	}
	delete(m.objects, ref)
	delete(m.types, ref)
	return nil
}

// Seed stores data directly and returns its reference.
func (m *MemoryArtifactStore) Seed(bucket, object string, data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := utils.FormatRef(bucket, object)
	m.objects[ref] = bytes.Clone(data)
	return ref
}

func (m *MemoryArtifactStore) Object(ref string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[ref]
	return data, ok
}

func (m *MemoryArtifactStore) ContentType(ref string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[ref]
}

// Refs lists stored references in sorted order.
func (m *MemoryArtifactStore) Refs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]string, 0, len(m.objects))
	for ref := range m.objects {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

var ErrInjected = errors.New("injected failure")
