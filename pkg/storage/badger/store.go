// Package badger implements storage.Store on an embedded BadgerDB.
//
// Each entry occupies two keys:
//
//	e:<key>   entry metadata (JSON)
//	b:<key>   body bytes
//
// Listing scans the "e:" namespace only, so bodies are never loaded for it.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/eteran/stash/pkg/storage"
)

const (
	entryPrefix = "e:"
	bodyPrefix  = "b:"
)

func entryKey(key string) []byte { return []byte(entryPrefix + key) }
func bodyKey(key string) []byte  { return []byte(bodyPrefix + key) }

// Config configures a badger Store.
type Config struct {
	// Dir is the database directory. It is ignored when InMemory is set.
	Dir string

	InMemory bool
}

// Store is a storage.Store backed by BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	return &Store{db: db}, nil
}

func readEntry(txn *badger.Txn, key string) (*storage.Entry, error) {
	item, err := txn.Get(entryKey(key))
	if err == badger.ErrKeyNotFound {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return decodeEntry(item)
}

func decodeEntry(item *badger.Item) (*storage.Entry, error) {
	var e storage.Entry
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	if err != nil {
		return nil, fmt.Errorf("decode entry %q: %w", item.Key(), err)
	}

	e.Metadata = storage.CloneMetadata(e.Metadata)
	return &e, nil
}

func (s *Store) Head(ctx context.Context, key string) (*storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var e *storage.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = readEntry(txn, key)
		return err
	})

	return e, err
}

func (s *Store) Get(ctx context.Context, key string, opts storage.GetOptions) (*storage.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		e    *storage.Entry
		body []byte
	)

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if e, err = readEntry(txn, key); err != nil {
			return err
		}

		if !opts.Conditions.Check(e) {
			return storage.ErrPreconditionFailed
		}

		item, err := txn.Get(bodyKey(key))
		if err == badger.ErrKeyNotFound {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}

		body, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &storage.Object{
		Entry: *e,
		Body:  io.NopCloser(bytes.NewReader(opts.Range.Slice(body))),
		Range: opts.Range,
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (*storage.Entry, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := &storage.Entry{
		Key:          key,
		Size:         int64(len(data)),
		ETag:         storage.ETagFor(data),
		UploadedAt:   time.Now().UTC(),
		HTTPMetadata: opts.HTTPMetadata,
		Metadata:     storage.CloneMetadata(opts.Metadata),
	}

	encoded, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if !opts.Conditions.IsZero() {
			current, err := readEntry(txn, key)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}

			if !opts.Conditions.Check(current) {
				return storage.ErrPreconditionFailed
			}
		}

		if err := txn.Set(entryKey(key), encoded); err != nil {
			return err
		}

		return txn.Set(bodyKey(key), data)
	})
	if err != nil {
		return nil, err
	}

	return e, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range keys {
		if err := wb.Delete(entryKey(key)); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
		if err := wb.Delete(bodyKey(key)); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
	}

	return wb.Flush()
}

func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.ListPage, error) {
	limit := opts.PageSize()
	page := &storage.ListPage{}

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = entryKey(opts.Prefix)

		it := txn.NewIterator(iterOpts)
		defer it.Close()

		start := iterOpts.Prefix
		if opts.Cursor > opts.Prefix {
			start = entryKey(opts.Cursor)
		}

		seen := 0
		for it.Seek(start); it.ValidForPrefix(iterOpts.Prefix); it.Next() {
			if seen%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			seen++

			key := string(it.Item().Key()[len(entryPrefix):])
			if key <= opts.Cursor || !opts.Matches(key) {
				continue
			}

			if len(page.Entries) == limit {
				page.Truncated = true
				page.Cursor = page.Entries[limit-1].Key
				return nil
			}

			e, err := decodeEntry(it.Item())
			if err != nil {
				return err
			}
			page.Entries = append(page.Entries, *e)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return page, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
