// Package pg backs the document store with a single jsonb documents table.
// Rows hold whole documents keyed by their first one or two path segments
// ("configs", "users/<id>", ...); deeper paths address sub-documents inside
// the row's jsonb value.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"openbackpack.org/internal/ids"
	"openbackpack.org/internal/store"
)

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// EnsureSchema creates the documents table if it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		create table if not exists documents (
			path text primary key,
			doc  jsonb not null,
			updated_at timestamptz not null default now()
		)
	`)
	return err
}

func (s *Store) Get(ctx context.Context, path string, dst any) error {
	row, sub, err := splitKey(path)
	if err != nil {
		return err
	}

	var raw []byte
	if len(sub) == 0 {
		err = s.db.QueryRowContext(ctx, `select doc from documents where path=$1`, row).Scan(&raw)
	} else {
		err = s.db.QueryRowContext(ctx,
			`select doc #> $2::text[] from documents where path=$1`,
			row, pgTextArray(sub)).Scan(&raw)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if raw == nil {
		// row exists but the sub-path does not
		return store.ErrNotFound
	}
	return json.Unmarshal(raw, dst)
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	row, sub, err := splitKey(path)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if len(sub) == 0 {
		_, err = s.db.ExecContext(ctx, `
			insert into documents(path, doc) values ($1, $2)
			on conflict (path) do update set doc = excluded.doc, updated_at = now()
		`, row, raw)
		return err
	}

	// Sub-document write: read-modify-write under a row lock so concurrent
	// writers to sibling keys cannot clobber each other.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current []byte
	err = tx.QueryRowContext(ctx, `select doc from documents where path=$1 for update`, row).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		current = []byte(`{}`)
		if _, err := tx.ExecContext(ctx, `insert into documents(path, doc) values ($1, '{}'::jsonb)`, row); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	doc := map[string]any{}
	if err := json.Unmarshal(current, &doc); err != nil {
		return err
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return err
	}
	setNested(doc, sub, node)

	updated, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update documents set doc=$2, updated_at=now() where path=$1`, row, updated); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	key := ids.New()
	if value == nil {
		return key, nil
	}
	return key, s.Set(ctx, store.Join(path, key), value)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	row, sub, err := splitKey(path)
	if err != nil {
		return err
	}
	if len(sub) == 0 {
		_, err = s.db.ExecContext(ctx, `delete from documents where path=$1`, row)
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		update documents set doc = doc #- $2::text[], updated_at = now() where path=$1
	`, row, pgTextArray(sub))
	return err
}

// --- helpers ---

// splitKey maps a logical path onto (row key, jsonb sub-path).
func splitKey(path string) (string, []string, error) {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	switch {
	case len(segments) == 0:
		return "", nil, errors.New("store: empty path")
	case len(segments) <= 2:
		return strings.Join(segments, "/"), nil, nil
	default:
		return segments[0] + "/" + segments[1], segments[2:], nil
	}
}

func pgTextArray(segments []string) string {
	quoted := make([]string, len(segments))
	for i, s := range segments {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func setNested(doc map[string]any, segments []string, value any) {
	parent := doc
	for _, seg := range segments[:len(segments)-1] {
		child, ok := parent[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			parent[seg] = child
		}
		parent = child
	}
	parent[segments[len(segments)-1]] = value
}
