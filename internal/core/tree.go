package core

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/eteran/stash/pkg/storage"
)

const (
	opCopy   = "copy"
	opMove   = "move"
	opDelete = "delete"
)

// Recursive operations work one listing page at a time. Within a page every
// entry is handled concurrently and the page is awaited as a whole before the
// next one is fetched. A descendant that disappears between listing and
// transfer is skipped. Nothing is rolled back: an error part way through
// leaves the tree partially processed.

// removeTree deletes the entry at p, if any, followed by every descendant.
// p may be the root, which has no entry of its own.
func (s *Server) removeTree(ctx context.Context, p ResourcePath) error {
	if !p.IsRoot() {
		if err := s.store().Delete(ctx, p.Key()); err != nil {
			return err
		}
	}

	return s.iterate(p, Recursive).Pages(ctx, func(page []storage.Entry) error {
		if len(page) == 0 {
			return nil
		}

		keys := make([]string, len(page))
		for i, e := range page {
			keys[i] = e.Key
		}

		if err := s.store().Delete(ctx, keys...); err != nil {
			return err
		}

		s.Config.Metrics.TreeEntries(opDelete, len(keys))
		return nil
	})
}

// removeResource deletes whatever lives at p: a single key for a member, the
// whole subtree for a collection.
func (s *Server) removeResource(ctx context.Context, p ResourcePath, e *storage.Entry) error {
	if e != nil && !e.IsCollection() {
		return s.store().Delete(ctx, p.Key())
	}
	return s.removeTree(ctx, p)
}

// transfer copies the entry at src to dst with its metadata, deleting src
// afterwards when move is set. A missing src is skipped without error.
func (s *Server) transfer(ctx context.Context, op string, src string, dst string, move bool) error {
	obj, err := s.store().Get(ctx, src, storage.GetOptions{})
	if errors.Is(err, storage.ErrNotFound) {
		slog.Debug("Skip vanished entry", "op", op, "src", src)
		s.Config.Metrics.TreeSkipped(op)
		return nil
	}
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	_, err = s.store().Put(ctx, dst, obj.Body, obj.Size, storage.PutOptions{
		HTTPMetadata: obj.HTTPMetadata,
		Metadata:     obj.Metadata,
	})
	if err != nil {
		return err
	}

	if move {
		if err := s.store().Delete(ctx, src); err != nil {
			return err
		}
	}

	s.Config.Metrics.TreeEntries(op, 1)
	return nil
}

// transferTree copies or moves the collection at src to dst. With DepthZero
// only the collection marker is transferred.
func (s *Server) transferTree(ctx context.Context, src ResourcePath, dst ResourcePath, depth Depth, move bool) error {
	op := opCopy
	if move {
		op = opMove
	}

	// The marker is copied first so dst exists before its members do.
	if err := s.transfer(ctx, op, src.Key(), dst.Key(), false); err != nil {
		return err
	}

	if depth == DepthInfinity {
		err := s.iterate(src, Recursive).Pages(ctx, func(page []storage.Entry) error {
			eg, ctx := errgroup.WithContext(ctx)
			for _, e := range page {
				eg.Go(func() error {
					return s.transfer(ctx, op, e.Key, Rebase(e.Key, src, dst).Key(), move)
				})
			}
			return eg.Wait()
		})
		if err != nil {
			return err
		}
	}

	if move {
		return s.store().Delete(ctx, src.Key())
	}

	return nil
}
