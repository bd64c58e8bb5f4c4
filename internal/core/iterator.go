package core

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/eteran/stash/pkg/storage"
)

// ListMode selects how far an Iterator descends below its prefix.
type ListMode int

const (
	// Shallow lists direct children only.
	Shallow ListMode = iota
	// Recursive lists the whole subtree.
	Recursive
)

// Iterator walks a paginated listing one page at a time. It is not safe for
// concurrent use; a fresh Iterator always starts from the beginning.
type Iterator struct {
	store     storage.Store
	prefix    string
	mode      ListMode
	pageSize  int
	cursor    string
	exhausted bool
}

// NewIterator returns an Iterator over entries under prefix.
func NewIterator(store storage.Store, prefix string, mode ListMode, pageSize int) *Iterator {
	return &Iterator{
		store:    store,
		prefix:   prefix,
		mode:     mode,
		pageSize: pageSize,
	}
}

// Advance fetches the next page of entries. It returns io.EOF once the
// listing is exhausted. A page may be empty without being the last one.
func (it *Iterator) Advance(ctx context.Context) ([]storage.Entry, error) {
	if it.exhausted {
		return nil, io.EOF
	}

	opts := storage.ListOptions{
		Prefix: it.prefix,
		Cursor: it.cursor,
		Limit:  it.pageSize,
	}
	if it.mode == Shallow {
		opts.Delimiter = "/"
	}

	page, err := it.store.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	if page.Truncated {
		it.cursor = page.Cursor
	} else {
		it.exhausted = true
	}

	return page.Entries, nil
}

// Pages calls fn with each page in turn until the listing is exhausted or fn
// returns an error.
func (it *Iterator) Pages(ctx context.Context, fn func(page []storage.Entry) error) error {
	for {
		page, err := it.Advance(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := fn(page); err != nil {
			return err
		}
	}
}

// All returns a lazy sequence of every entry. Iteration stops at the first
// error, which is yielded with a zero Entry.
func (it *Iterator) All(ctx context.Context) iter.Seq2[storage.Entry, error] {
	return func(yield func(storage.Entry, error) bool) {
		for {
			page, err := it.Advance(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(storage.Entry{}, err)
				return
			}

			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}
