// Package sqlite implements storage.Store on a single SQLite database file.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/eteran/stash/pkg/storage"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

const entryColumns = `key, size, etag, uploaded_at, content_type, content_disposition,
	content_language, content_encoding, cache_control, cache_expiry, metadata`

// Store keeps entries and their bodies in one SQLite table.
type Store struct {
	db *sql.DB
}

// initSchema applies all SQL files in the embedded migrations in
// lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// withTransaction runs a function within a database transaction.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner, extra ...any) (*storage.Entry, error) {
	var (
		e          storage.Entry
		uploadedAt int64
		expiry     int64
		metadata   string
	)

	dest := []any{
		&e.Key, &e.Size, &e.ETag, &uploadedAt,
		&e.ContentType, &e.ContentDisposition, &e.ContentLanguage,
		&e.ContentEncoding, &e.CacheControl, &expiry, &metadata,
	}

	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	e.UploadedAt = time.Unix(0, uploadedAt).UTC()
	if expiry != 0 {
		e.CacheExpiry = time.Unix(0, expiry).UTC()
	}

	if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %q: %w", e.Key, err)
	}
	e.Metadata = storage.CloneMetadata(e.Metadata)

	return &e, nil
}

func (s *Store) Head(ctx context.Context, key string) (*storage.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM objects WHERE key = ?`, key)
	return scanEntry(row)
}

func (s *Store) Get(ctx context.Context, key string, opts storage.GetOptions) (*storage.Object, error) {
	var body []byte
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+`, body FROM objects WHERE key = ?`, key)

	e, err := scanEntry(row, &body)
	if err != nil {
		return nil, err
	}

	if !opts.Conditions.Check(e) {
		return nil, storage.ErrPreconditionFailed
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

	metadata, err := json.Marshal(storage.CloneMetadata(opts.Metadata))
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	e := &storage.Entry{
		Key:          key,
		Size:         int64(len(data)),
		ETag:         storage.ETagFor(data),
		UploadedAt:   time.Now().UTC(),
		HTTPMetadata: opts.HTTPMetadata,
		Metadata:     storage.CloneMetadata(opts.Metadata),
	}

	var expiry int64
	if !e.CacheExpiry.IsZero() {
		expiry = e.CacheExpiry.UnixNano()
	}

	err = withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if !opts.Conditions.IsZero() {
			current, err := scanEntry(tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM objects WHERE key = ?`, key))
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}

			if !opts.Conditions.Check(current) {
				return storage.ErrPreconditionFailed
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO objects (`+entryColumns+`, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				size = excluded.size,
				etag = excluded.etag,
				uploaded_at = excluded.uploaded_at,
				content_type = excluded.content_type,
				content_disposition = excluded.content_disposition,
				content_language = excluded.content_language,
				content_encoding = excluded.content_encoding,
				cache_control = excluded.cache_control,
				cache_expiry = excluded.cache_expiry,
				metadata = excluded.metadata,
				body = excluded.body`,
			e.Key, e.Size, e.ETag, e.UploadedAt.UnixNano(),
			e.ContentType, e.ContentDisposition, e.ContentLanguage,
			e.ContentEncoding, e.CacheControl, expiry, string(metadata), data,
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	return e, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	return withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM objects WHERE key = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, key := range keys {
			if _, err := stmt.ExecContext(ctx, key); err != nil {
				return fmt.Errorf("delete %q: %w", key, err)
			}
		}

		return nil
	})
}

func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.ListPage, error) {
	limit := opts.PageSize()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM objects
		WHERE substr(key, 1, length(?1)) = ?1
		  AND key > ?2
		  AND (?3 = '' OR instr(substr(key, length(?1) + 1), ?3) = 0)
		ORDER BY key
		LIMIT ?4`,
		opts.Prefix, opts.Cursor, opts.Delimiter, limit+1,
	)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	page := &storage.ListPage{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		page.Entries = append(page.Entries, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Entries) > limit {
		page.Entries = page.Entries[:limit]
		page.Truncated = true
		page.Cursor = page.Entries[limit-1].Key
	}

	return page, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
