package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"peerchat/internal/app/policies"
)

var ErrBlobNotFound = errors.New("memory: blob not found")

// Blob is a stored attachment payload.
type Blob struct {
	Data     []byte
	MIMEType string
}

// BlobStore keeps attachments in memory, one map per partition. URLs point at
// BaseURL/<partition>/<key>, which the HTTP server resolves through Get.
type BlobStore struct {
	mu         sync.RWMutex
	partitions map[policies.Partition]map[string]Blob
	baseURL    string
}

func NewBlobStore(baseURL string) *BlobStore {
	return &BlobStore{
		partitions: map[policies.Partition]map[string]Blob{
			policies.PartitionMedia:  {},
			policies.PartitionAssets: {},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *BlobStore) Put(ctx context.Context, key string, body io.Reader, size int64, mimeType string, partition policies.Partition) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("memory: object key is required")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("memory: read payload: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return "", fmt.Errorf("memory: payload size %d does not match declared %d", len(data), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.partitions[partition]
	if !ok {
		return "", fmt.Errorf("memory: unknown partition %q", partition)
	}
	bucket[key] = Blob{Data: data, MIMEType: mimeType}
	return fmt.Sprintf("%s/%s/%s", s.baseURL, partition, key), nil
}

func (s *BlobStore) Get(partition policies.Partition, key string) (Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.partitions[partition][strings.Trim(key, "/")]
	if !ok {
		return Blob{}, ErrBlobNotFound
	}
	return blob, nil
}

// Count reports how many blobs a partition holds.
func (s *BlobStore) Count(partition policies.Partition) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions[partition])
}

var _ policies.AttachmentStore = (*BlobStore)(nil)
