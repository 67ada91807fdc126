package storage

import (
	"context"
	"strings"
	"sync"

	"tapcard/pkg/platform/sentinel"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// InMemoryStorage keeps objects in process memory. It backs unit tests and
// local development; it intentionally favors clarity over performance.
type InMemoryStorage struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memoryObject
	baseURL string
}

// NewInMemory constructs an empty in-memory object store. baseURL seeds the
// deterministic public URL scheme.
func NewInMemory(baseURL string) *InMemoryStorage {
	return &InMemoryStorage{
		buckets: make(map[string]map[string]memoryObject),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (s *InMemoryStorage) Upload(_ context.Context, bucket, objectPath string, data []byte, contentType string, overwrite bool) (UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		objects = make(map[string]memoryObject)
		s.buckets[bucket] = objects
	}
	if _, exists := objects[objectPath]; exists && !overwrite {
		return UploadResult{}, sentinel.ErrObjectExists
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	objects[objectPath] = memoryObject{data: copied, contentType: contentType}
	return UploadResult{Path: objectPath, URL: s.PublicURL(bucket, objectPath)}, nil
}

func (s *InMemoryStorage) Copy(_ context.Context, fromBucket, toBucket, fromPath, toPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.buckets[fromBucket][fromPath]
	if !ok {
		return sentinel.ErrNotFound
	}
	objects, ok := s.buckets[toBucket]
	if !ok {
		objects = make(map[string]memoryObject)
		s.buckets[toBucket] = objects
	}
	copied := make([]byte, len(source.data))
	copy(copied, source.data)
	objects[toPath] = memoryObject{data: copied, contentType: source.contentType}
	return nil
}

func (s *InMemoryStorage) Remove(_ context.Context, buckets []string, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bucket := range buckets {
		objects := s.buckets[bucket]
		for _, p := range paths {
			delete(objects, p)
		}
	}
	return nil
}

func (s *InMemoryStorage) Download(_ context.Context, bucket, objectPath string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	object, ok := s.buckets[bucket][objectPath]
	if !ok {
		return nil, "", sentinel.ErrNotFound
	}
	copied := make([]byte, len(object.data))
	copy(copied, object.data)
	return copied, object.contentType, nil
}

func (s *InMemoryStorage) PublicURL(bucket, objectPath string) string {
	return s.baseURL + "/" + bucket + "/" + objectPath
}

// Len reports how many objects a bucket holds. Test helper.
func (s *InMemoryStorage) Len(bucket string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[bucket])
}
