// Package sqlite provides a SQLite-backed social document store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/bliss/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/bliss/internal/services/social/storage"
	"github.com/louisbranch/bliss/internal/services/social/storage/engine"
	"github.com/louisbranch/bliss/internal/services/social/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists social documents in SQLite.
type Store struct {
	*engine.Store
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Option configures a Store.
type Option func(*config)

type config struct {
	clock func() time.Time
}

// WithClock sets the clock server timestamps resolve to.
func WithClock(clock func() time.Time) Option {
	return func(c *config) { c.clock = clock }
}

// Open opens a SQLite document store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{
		Store: engine.New(&backend{sqlDB: sqlDB}, engine.WithClock(cfg.clock)),
		sqlDB: sqlDB,
	}, nil
}

type backend struct {
	sqlDB *sql.DB
}

func (b *backend) Load(ctx context.Context, ref storage.DocumentRef) (storage.Document, error) {
	row := b.sqlDB.QueryRowContext(ctx,
		`SELECT doc_id, fields, created_at, updated_at FROM documents WHERE collection = ? AND doc_id = ?`,
		ref.Collection.Path(), ref.ID,
	)
	doc, err := scanDocument(ref.Collection, row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Document{Ref: ref}, nil
	}
	if err != nil {
		return storage.Document{}, fmt.Errorf("load %s: %w", ref.Path(), err)
	}
	return doc, nil
}

func (b *backend) LoadMany(ctx context.Context, coll storage.CollectionRef, ids []string) ([]storage.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, coll.Path())
	for _, id := range ids {
		args = append(args, id)
	}
	query := `SELECT doc_id, fields, created_at, updated_at FROM documents
WHERE collection = ? AND doc_id IN (` + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)
ORDER BY doc_id`
	return b.query(ctx, coll, query, args...)
}

func (b *backend) LoadCollection(ctx context.Context, coll storage.CollectionRef) ([]storage.Document, error) {
	return b.query(ctx, coll,
		`SELECT doc_id, fields, created_at, updated_at FROM documents WHERE collection = ? ORDER BY doc_id`,
		coll.Path(),
	)
}

func (b *backend) query(ctx context.Context, coll storage.CollectionRef, query string, args ...any) ([]storage.Document, error) {
	rows, err := b.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coll.Path(), err)
	}
	defer rows.Close()

	var docs []storage.Document
	for rows.Next() {
		doc, err := scanDocument(coll, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", coll.Path(), err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", coll.Path(), err)
	}
	return docs, nil
}

// Apply writes every change inside one SQL transaction.
func (b *backend) Apply(ctx context.Context, changes []engine.Change) error {
	tx, err := b.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, change := range changes {
		doc := change.Doc
		if !doc.Exists {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = ? AND doc_id = ?`,
				doc.Ref.Collection.Path(), doc.Ref.ID,
			); err != nil {
				return fmt.Errorf("delete %s: %w", doc.Ref.Path(), err)
			}
			continue
		}
		encoded, err := encodeFields(doc.Fields)
		if err != nil {
			return fmt.Errorf("%s: %w", doc.Ref.Path(), err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO documents (collection, doc_id, fields, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(collection, doc_id) DO UPDATE SET
    fields = excluded.fields,
    updated_at = excluded.updated_at`,
			doc.Ref.Collection.Path(), doc.Ref.ID, encoded, toMillis(doc.CreateTime), toMillis(doc.UpdateTime),
		); err != nil {
			return fmt.Errorf("put %s: %w", doc.Ref.Path(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the SQLite handle.
func (b *backend) Close() error {
	if b == nil || b.sqlDB == nil {
		return nil
	}
	return b.sqlDB.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(coll storage.CollectionRef, row rowScanner) (storage.Document, error) {
	var (
		id        string
		rawFields string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&id, &rawFields, &createdAt, &updatedAt); err != nil {
		return storage.Document{}, err
	}
	fields, err := decodeFields(rawFields)
	if err != nil {
		return storage.Document{}, err
	}
	return storage.Document{
		Ref:        coll.Doc(id),
		Exists:     true,
		Fields:     fields,
		CreateTime: fromMillis(createdAt),
		UpdateTime: fromMillis(updatedAt),
	}, nil
}
