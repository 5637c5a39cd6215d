// Package memstore provides an in-memory filestore.Store for tests.
package memstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/koustreak/sproc/internal/errs"
	"github.com/koustreak/sproc/internal/filestore"
)

type stored struct {
	info filestore.ObjectInfo
	data []byte
}

// Store keeps objects in memory. PutErr, when set, fails every PutObject.
type Store struct {
	PutErr error

	mu      sync.Mutex
	buckets map[string]map[string]stored
}

// New returns an empty Store.
func New() *Store {
	return &Store{buckets: make(map[string]map[string]stored)}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) EnsureBucket(_ context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]stored)
	}
	return nil
}

func (s *Store) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, contentType string) (*filestore.ObjectInfo, error) {
	if s.PutErr != nil {
		return nil, s.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read object body", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "bucket %q does not exist", bucket)
	}
	sum := md5.Sum(data)
	info := filestore.ObjectInfo{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  contentType,
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: time.Now().UTC(),
	}
	objects[key] = stored{info: info, data: data}
	return &info, nil
}

func (s *Store) StatObject(_ context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	obj, err := s.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	info := obj.info
	return &info, nil
}

// PresignGetURL returns a memory:// URL; it is not fetchable.
func (s *Store) PresignGetURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if _, err := s.lookup(bucket, key); err != nil {
		return "", err
	}
	u := url.URL{
		Scheme:   "memory",
		Host:     bucket,
		Path:     "/" + key,
		RawQuery: url.Values{"ttl": {strconv.Itoa(int(ttl.Seconds()))}}.Encode(),
	}
	return u.String(), nil
}

// Object returns the bytes stored at key, for assertions.
func (s *Store) Object(bucket, key string) ([]byte, bool) {
	obj, err := s.lookup(bucket, key)
	if err != nil {
		return nil, false
	}
	return obj.data, true
}

// Keys returns every key stored in bucket, in no particular order.
func (s *Store) Keys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}
	return keys
}

func (s *Store) lookup(bucket, key string) (stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return stored{}, errs.Newf(errs.ErrKindNotFound, "object %s/%s not found", bucket, key)
	}
	return obj, nil
}
