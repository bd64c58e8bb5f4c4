package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"
)

type memoryObject struct {
	entry Entry
	body  []byte
}

// MemoryStore is a Store held entirely in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*memoryObject
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*memoryObject)}
}

func (o *memoryObject) snapshot() Entry {
	e := o.entry
	e.Metadata = CloneMetadata(o.entry.Metadata)
	return e
}

func (s *MemoryStore) Head(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}

	e := obj.snapshot()
	return &e, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string, opts GetOptions) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}

	e := obj.snapshot()
	if !opts.Conditions.Check(&e) {
		return nil, ErrPreconditionFailed
	}

	return &Object{
		Entry: e,
		Body:  io.NopCloser(bytes.NewReader(opts.Range.Slice(obj.body))),
		Range: opts.Range,
	}, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (*Entry, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Entry
	if obj, ok := s.objects[key]; ok {
		current = &obj.entry
	}

	if !opts.Conditions.Check(current) {
		return nil, ErrPreconditionFailed
	}

	obj := &memoryObject{
		entry: Entry{
			Key:          key,
			Size:         int64(len(data)),
			ETag:         ETagFor(data),
			UploadedAt:   time.Now().UTC(),
			HTTPMetadata: opts.HTTPMetadata,
			Metadata:     CloneMetadata(opts.Metadata),
		},
		body: data,
	}
	s.objects[key] = obj

	e := obj.snapshot()
	return &e, nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.objects, key)
	}

	return nil
}

func (s *MemoryStore) List(ctx context.Context, opts ListOptions) (*ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if key > opts.Cursor && opts.Matches(key) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	page := &ListPage{}
	if limit := opts.PageSize(); len(keys) > limit {
		keys = keys[:limit]
		page.Truncated = true
		page.Cursor = keys[len(keys)-1]
	}

	page.Entries = make([]Entry, 0, len(keys))
	for _, key := range keys {
		page.Entries = append(page.Entries, s.objects[key].snapshot())
	}

	return page, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
