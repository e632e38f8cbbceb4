package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/portal/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore persists documents in a single JSONB table per tenant schema:
//
//	documents(collection TEXT, id TEXT, doc JSONB, PRIMARY KEY (collection, id))
//
// Atomic increment and set-membership operations are single-statement UPDATEs,
// which PostgreSQL applies atomically per row.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore backed by the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

var fieldPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func validField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("invalid field name: %q", field)
	}
	return nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

func (s *PGStore) Get(ctx context.Context, key Key) (Document, error) {
	var raw []byte
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND id = $2`,
		key.Collection, key.ID).Scan(&raw)
	if err != nil {
		return nil, wrapErr("get", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("get: decode document %s: %w", key, err)
	}
	return doc, nil
}

func (s *PGStore) Put(ctx context.Context, key Key, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("put: encode document %s: %w", key, err)
	}
	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc`,
		key.Collection, key.ID, raw)
	return wrapErr("put", err)
}

func (s *PGStore) Patch(ctx context.Context, key Key, fields Document) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("patch: encode fields %s: %w", key, err)
	}
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE documents SET doc = doc || $3 WHERE collection = $1 AND id = $2`,
		key.Collection, key.ID, raw)
	if err != nil {
		return wrapErr("patch", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, key Key) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		key.Collection, key.ID)
	if err != nil {
		return wrapErr("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) AtomicIncrement(ctx context.Context, key Key, field string, delta int64) error {
	if err := validField(field); err != nil {
		return err
	}
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE documents
		SET doc = jsonb_set(doc, ARRAY[$3],
			to_jsonb(COALESCE((doc->>$3)::bigint, 0) + $4))
		WHERE collection = $1 AND id = $2`,
		key.Collection, key.ID, field, delta)
	if err != nil {
		return wrapErr("atomic increment", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) AddToSet(ctx context.Context, key Key, field string, value string) error {
	if err := validField(field); err != nil {
		return err
	}
	// The membership guard in the WHERE clause keeps the op idempotent; a
	// duplicate add matches zero rows only when the document is also missing,
	// so existence is re-checked on the no-op path.
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE documents
		SET doc = jsonb_set(doc, ARRAY[$3],
			COALESCE(doc->$3, '[]'::jsonb) || to_jsonb($4::text))
		WHERE collection = $1 AND id = $2
		  AND NOT COALESCE(doc->$3, '[]'::jsonb) @> to_jsonb($4::text)`,
		key.Collection, key.ID, field, value)
	if err != nil {
		return wrapErr("add to set", err)
	}
	if tag.RowsAffected() == 0 {
		return s.exists(ctx, key)
	}
	return nil
}

func (s *PGStore) RemoveFromSet(ctx context.Context, key Key, field string, value string) error {
	if err := validField(field); err != nil {
		return err
	}
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE documents
		SET doc = jsonb_set(doc, ARRAY[$3],
			COALESCE(doc->$3, '[]'::jsonb) - $4::text)
		WHERE collection = $1 AND id = $2`,
		key.Collection, key.ID, field, value)
	if err != nil {
		return wrapErr("remove from set", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) exists(ctx context.Context, key Key) error {
	var one int
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT 1 FROM documents WHERE collection = $1 AND id = $2`,
		key.Collection, key.ID).Scan(&one)
	return wrapErr("exists", err)
}

func (s *PGStore) Query(ctx context.Context, collection string, predicates ...Where) ([]Document, error) {
	sql := `SELECT doc FROM documents WHERE collection = $1`
	args := []interface{}{collection}
	for _, p := range predicates {
		if err := validField(p.Field); err != nil {
			return nil, err
		}
		n := len(args) + 1
		switch p.Op {
		case OpEq, "":
			if _, isStr := p.Value.(string); isStr {
				sql += fmt.Sprintf(" AND doc->>'%s' = $%d", p.Field, n)
			} else {
				sql += fmt.Sprintf(" AND (doc->>'%s')::numeric = $%d", p.Field, n)
			}
		case OpGt:
			sql += fmt.Sprintf(" AND (doc->>'%s')::numeric > $%d", p.Field, n)
		case OpGte:
			sql += fmt.Sprintf(" AND (doc->>'%s')::numeric >= $%d", p.Field, n)
		case OpLt:
			sql += fmt.Sprintf(" AND (doc->>'%s')::numeric < $%d", p.Field, n)
		case OpLte:
			sql += fmt.Sprintf(" AND (doc->>'%s')::numeric <= $%d", p.Field, n)
		default:
			return nil, fmt.Errorf("unsupported predicate op: %q", p.Op)
		}
		args = append(args, p.Value)
	}
	sql += ` ORDER BY id`

	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapErr("query", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapErr("query", err)
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("query: decode document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}
