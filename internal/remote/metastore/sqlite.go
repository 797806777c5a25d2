package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kilupskalvis/stackmig/internal/checksum"
	"github.com/kilupskalvis/stackmig/internal/models"
	_ "modernc.org/sqlite"
)

// maxInParams bounds the number of ids bound into one IN (...) clause.
const maxInParams = 500

// SQLiteRowStore implements RowStore on an embedded SQLite database.
type SQLiteRowStore struct {
	db    *sql.DB
	types []models.MigrationType
	known map[models.MigrationType]bool
}

var _ RowStore = (*SQLiteRowStore)(nil)

// NewSQLiteRowStore opens or creates the row database at dbPath serving the given types.
func NewSQLiteRowStore(dbPath string, types []models.MigrationType) (*SQLiteRowStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create row directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteRowStore{db: db, types: types, known: make(map[models.MigrationType]bool, len(types))}
	for _, t := range types {
		s.known[t] = true
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRowStore) initialize() error {
	schema := `
	-- Rows per migration type
	CREATE TABLE IF NOT EXISTS stack_rows (
		type TEXT NOT NULL,
		id INTEGER NOT NULL,
		etag TEXT NOT NULL,
		parent_id INTEGER,
		data BLOB,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (type, id)
	);

	-- Change log (append-only)
	CREATE TABLE IF NOT EXISTS changes (
		number INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		row_id INTEGER NOT NULL,
		op TEXT NOT NULL,
		etag TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteRowStore) Close() error {
	return s.db.Close()
}

// Types returns the configured migration types.
func (s *SQLiteRowStore) Types() []models.MigrationType {
	return append([]models.MigrationType(nil), s.types...)
}

func (s *SQLiteRowStore) check(t models.MigrationType) error {
	if !s.known[t] {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return nil
}

// TypeCount returns the row count and id bounds of t.
func (s *SQLiteRowStore) TypeCount(ctx context.Context, t models.MigrationType) (*models.TypeCount, error) {
	if err := s.check(t); err != nil {
		return nil, err
	}
	tc := &models.TypeCount{Type: t}
	var minID, maxID sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(id), MAX(id) FROM stack_rows WHERE type = ?`, string(t),
	).Scan(&tc.Count, &minID, &maxID)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", t, err)
	}
	tc.MinID, tc.MaxID = minID.Int64, maxID.Int64
	return tc, nil
}

// RowRange pages through the rows of t with id in [minID, maxID].
func (s *SQLiteRowStore) RowRange(ctx context.Context, t models.MigrationType, minID, maxID, limit, offset int64) ([]*models.RowMetadata, int64, error) {
	if err := s.check(t); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stack_rows WHERE type = ? AND id BETWEEN ? AND ?`, string(t), minID, maxID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count range: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, etag, parent_id FROM stack_rows WHERE type = ? AND id BETWEEN ? AND ? ORDER BY id LIMIT ? OFFSET ?`,
		string(t), minID, maxID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	list := []*models.RowMetadata{}
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, md)
	}
	return list, total, rows.Err()
}

func scanMetadata(rows *sql.Rows) (*models.RowMetadata, error) {
	var (
		id     int64
		etag   string
		parent sql.NullInt64
	)
	if err := rows.Scan(&id, &etag, &parent); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	md := models.NewRowMetadata(id, etag)
	if parent.Valid {
		p := parent.Int64
		md.ParentID = &p
	}
	return md, nil
}

// Checksum fingerprints the rows of t in [minID, maxID].
func (s *SQLiteRowStore) Checksum(ctx context.Context, t models.MigrationType, salt string, minID, maxID int64) (string, error) {
	if err := s.check(t); err != nil {
		return "", err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, etag, parent_id FROM stack_rows WHERE type = ? AND id BETWEEN ? AND ? ORDER BY id`,
		string(t), minID, maxID)
	if err != nil {
		return "", fmt.Errorf("query checksum range: %w", err)
	}
	defer rows.Close()

	acc := checksum.New(salt)
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return "", err
		}
		acc.Add(md)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return acc.Sum(), nil
}

// GetRow returns one row. Returns ErrNotFound if it does not exist.
func (s *SQLiteRowStore) GetRow(ctx context.Context, t models.MigrationType, id int64) (*Row, error) {
	if err := s.check(t); err != nil {
		return nil, err
	}
	row := &Row{ID: id}
	var parent sql.NullInt64
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT etag, parent_id, data FROM stack_rows WHERE type = ? AND id = ?`, string(t), id,
	).Scan(&row.Etag, &parent, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get row %s/%d: %w", t, id, err)
	}
	if parent.Valid {
		p := parent.Int64
		row.ParentID = &p
	}
	row.Data = data
	return row, nil
}

// PutRow upserts a row under a fresh etag.
func (s *SQLiteRowStore) PutRow(ctx context.Context, t models.MigrationType, id int64, parentID *int64, data json.RawMessage) (*Row, error) {
	if err := s.check(t); err != nil {
		return nil, err
	}
	row := &Row{ID: id, Etag: uuid.NewString(), ParentID: parentID, Data: data}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertRow(ctx, tx, t, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ImportRows upserts rows keeping their etags.
func (s *SQLiteRowStore) ImportRows(ctx context.Context, t models.MigrationType, rows []*Row) error {
	if err := s.check(t); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, row := range rows {
			if err := upsertRow(ctx, tx, t, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertRow(ctx context.Context, tx *sql.Tx, t models.MigrationType, row *Row) error {
	var parent sql.NullInt64
	if row.ParentID != nil {
		parent = sql.NullInt64{Int64: *row.ParentID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stack_rows (type, id, etag, parent_id, data, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (type, id) DO UPDATE SET
			etag = excluded.etag,
			parent_id = excluded.parent_id,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		string(t), row.ID, row.Etag, parent, []byte(row.Data))
	if err != nil {
		return fmt.Errorf("upsert row %s/%d: %w", t, row.ID, err)
	}
	return recordChange(ctx, tx, t, row.ID, ChangeUpsert, row.Etag)
}

func recordChange(ctx context.Context, tx *sql.Tx, t models.MigrationType, id int64, op ChangeOp, etag string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO changes (type, row_id, op, etag) VALUES (?, ?, ?, ?)`,
		string(t), id, string(op), etag)
	if err != nil {
		return fmt.Errorf("record change: %w", err)
	}
	return nil
}

// DeleteRows removes the given ids of t.
func (s *SQLiteRowStore) DeleteRows(ctx context.Context, t models.MigrationType, ids []int64) (int64, error) {
	if err := s.check(t); err != nil {
		return 0, err
	}
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `DELETE FROM stack_rows WHERE type = ? AND id = ?`, string(t), id)
			if err != nil {
				return fmt.Errorf("delete row %s/%d: %w", t, id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			deleted++
			if err := recordChange(ctx, tx, t, id, ChangeDelete, ""); err != nil {
				return err
			}
		}
		return nil
	})
	return deleted, err
}

// ExportRows returns the stored rows among ids, ordered by id.
func (s *SQLiteRowStore) ExportRows(ctx context.Context, t models.MigrationType, ids []int64) ([]*Row, error) {
	if err := s.check(t); err != nil {
		return nil, err
	}

	var out []*Row
	for start := 0; start < len(ids); start += maxInParams {
		end := start + maxInParams
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, string(t))
		for _, id := range chunk {
			args = append(args, id)
		}
		query := `SELECT id, etag, parent_id, data FROM stack_rows WHERE type = ? AND id IN (?` +
			strings.Repeat(", ?", len(chunk)-1) + `) ORDER BY id`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("export rows: %w", err)
		}
		for rows.Next() {
			row := &Row{}
			var parent sql.NullInt64
			var data []byte
			if err := rows.Scan(&row.ID, &row.Etag, &parent, &data); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan row: %w", err)
			}
			if parent.Valid {
				p := parent.Int64
				row.ParentID = &p
			}
			row.Data = data
			out = append(out, row)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NextChangeNumber returns the number the next change will get.
func (s *SQLiteRowStore) NextChangeNumber(ctx context.Context) (int64, error) {
	var next int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(number), 0) + 1 FROM changes`).Scan(&next); err != nil {
		return 0, fmt.Errorf("next change number: %w", err)
	}
	return next, nil
}

// Changes returns up to limit changes numbered start and above.
func (s *SQLiteRowStore) Changes(ctx context.Context, start, limit int64) ([]*Change, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, type, row_id, op, COALESCE(etag, '') FROM changes WHERE number >= ? ORDER BY number LIMIT ?`,
		start, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var out []*Change
	for rows.Next() {
		c := &Change{}
		var typ, op string
		if err := rows.Scan(&c.Number, &typ, &c.RowID, &op, &c.Etag); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Type = models.MigrationType(typ)
		c.Op = ChangeOp(op)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteRowStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
