package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"csvtosql/internal/migrate"
	"csvtosql/internal/schema"
	"csvtosql/migrations"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps tables and rows in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger Logger
}

func OpenPostgres(ctx context.Context, dsn string, logger Logger) (*PostgresStore, error) {
	pool, err := connectPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return NewPostgresStore(pool, logger), nil
}

func NewPostgresStore(pool *pgxpool.Pool, logger Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

const pgTableColumns = `t.id, t.name, t.source_filename, t.column_specs, t.created_at,
  (SELECT COUNT(1) FROM csv_rows r WHERE r.table_id = t.id)`

func (s *PostgresStore) CreateTable(ctx context.Context, table NewTable) (*Table, error) {
	return s.ImportTable(ctx, table, nil)
}

func (s *PostgresStore) ImportTable(ctx context.Context, table NewTable, rows []schema.Fields) (*Table, error) {
	if err := validateNewTable(table); err != nil {
		return nil, err
	}
	columns, err := encodeColumns(table.Columns)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	created := Table{
		Name:           table.Name,
		SourceFilename: table.SourceFilename,
		Columns:        table.Columns,
		CreatedAt:      time.Now().UTC(),
		RowCount:       len(rows),
	}
	if err := tx.QueryRow(ctx, `
INSERT INTO csv_tables (name, source_filename, column_specs, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id
`, created.Name, created.SourceFilename, columns, created.CreatedAt).Scan(&created.ID); err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrTableNameExists
		}
		return nil, fmt.Errorf("insert table: %w", err)
	}

	if len(rows) > 0 {
		copyRows := make([][]any, len(rows))
		for i, fields := range rows {
			copyRows[i] = []any{uuid.New(), created.ID, i + 1, fields.Encode()}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"csv_rows"},
			[]string{"id", "table_id", "row_num", "row_data"},
			pgx.CopyFromRows(copyRows),
		); err != nil {
			return nil, fmt.Errorf("copy rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	return &created, nil
}

func (s *PostgresStore) RenameTable(ctx context.Context, id int64, newName string) (*Table, error) {
	if newName == "" {
		return nil, ErrTableNameEmpty
	}
	ct, err := s.pool.Exec(ctx, `UPDATE csv_tables SET name = $1 WHERE id = $2`, newName, id)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrTableNameExists
		}
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, ErrTableNotFound
	}
	return s.GetTable(ctx, id)
}

func (s *PostgresStore) GetTable(ctx context.Context, id int64) (*Table, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgTableColumns+` FROM csv_tables t WHERE t.id = $1`, id)
	t, err := scanPgTable(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTableNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *PostgresStore) TableByName(ctx context.Context, name string) (*Table, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgTableColumns+` FROM csv_tables t WHERE t.name = $1`, name)
	t, err := scanPgTable(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTableNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *PostgresStore) ListTables(ctx context.Context) ([]Table, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgTableColumns+` FROM csv_tables t ORDER BY t.created_at DESC, t.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		t, err := scanPgTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *t)
	}
	return tables, rows.Err()
}

func (s *PostgresStore) DeleteTable(ctx context.Context, id int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM csv_rows WHERE table_id = $1`, id); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	ct, err := tx.Exec(ctx, `DELETE FROM csv_tables WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete table: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrTableNotFound
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateColumns(ctx context.Context, id int64, columns schema.Columns) error {
	body, err := encodeColumns(columns)
	if err != nil {
		return err
	}
	ct, err := s.pool.Exec(ctx, `UPDATE csv_tables SET column_specs = $1 WHERE id = $2`, body, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrTableNotFound
	}
	return nil
}

func (s *PostgresStore) RenameColumn(ctx context.Context, id int64, oldName, newName string, columns schema.Columns) error {
	body, err := encodeColumns(columns)
	if err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	ct, err := tx.Exec(ctx, `UPDATE csv_tables SET column_specs = $1 WHERE id = $2`, body, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrTableNotFound
	}

	rows, err := tx.Query(ctx, `SELECT id, row_data FROM csv_rows WHERE table_id = $1 FOR UPDATE`, id)
	if err != nil {
		return err
	}
	type pending struct {
		id   uuid.UUID
		data string
	}
	var updates []pending
	for rows.Next() {
		var rowID uuid.UUID
		var raw string
		if err := rows.Scan(&rowID, &raw); err != nil {
			rows.Close()
			return err
		}
		fields, err := schema.DecodeFields(raw)
		if err != nil {
			rows.Close()
			return err
		}
		if _, ok := fields.Get(oldName); ok {
			updates = append(updates, pending{id: rowID, data: fields.Rename(oldName, newName).Encode()})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`UPDATE csv_rows SET row_data = $1 WHERE id = $2`, u.data, u.id)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("rewrite rows: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) AppendRow(ctx context.Context, tableID int64, rowNumber int, fields schema.Fields) (*Row, error) {
	row := Row{ID: uuid.New(), TableID: tableID, RowNumber: rowNumber, Fields: fields}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO csv_rows (id, table_id, row_num, row_data)
VALUES ($1, $2, $3, $4)
`, row.ID, row.TableID, row.RowNumber, fields.Encode()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrTableNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *PostgresStore) ListRows(ctx context.Context, tableID int64, filter string) ([]Row, error) {
	query := `SELECT id, table_id, row_num, row_data FROM csv_rows WHERE table_id = $1`
	args := []any{tableID}
	if filter != "" {
		query += ` AND strpos(row_data, $2) > 0`
		args = append(args, filter)
	}
	query += ` ORDER BY row_num`
	return s.queryRows(ctx, query, args...)
}

func (s *PostgresStore) CountRows(ctx context.Context, tableID int64, filter string) (int, error) {
	var count int
	var err error
	if filter == "" {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM csv_rows WHERE table_id = $1`, tableID).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx, `
SELECT COUNT(1) FROM csv_rows WHERE table_id = $1 AND strpos(row_data, $2) > 0
`, tableID, filter).Scan(&count)
	}
	return count, err
}

func (s *PostgresStore) PageRows(ctx context.Context, tableID int64, filter string, desc bool, limit, offset int) ([]Row, error) {
	direction := "ASC"
	if desc {
		direction = "DESC"
	}
	if filter == "" {
		return s.queryRows(ctx, `
SELECT id, table_id, row_num, row_data FROM csv_rows
WHERE table_id = $1
ORDER BY row_num `+direction+`
LIMIT $2 OFFSET $3
`, tableID, limit, offset)
	}
	return s.queryRows(ctx, `
SELECT id, table_id, row_num, row_data FROM csv_rows
WHERE table_id = $1 AND strpos(row_data, $2) > 0
ORDER BY row_num `+direction+`
LIMIT $3 OFFSET $4
`, tableID, filter, limit, offset)
}

func (s *PostgresStore) GetRow(ctx context.Context, tableID int64, rowID uuid.UUID) (*Row, error) {
	rows, err := s.queryRows(ctx, `
SELECT id, table_id, row_num, row_data FROM csv_rows WHERE id = $1 AND table_id = $2
`, rowID, tableID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrRowNotFound
	}
	return &rows[0], nil
}

func (s *PostgresStore) UpdateCell(ctx context.Context, tableID int64, rowID uuid.UUID, column string, value *string) (*Row, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := Row{ID: rowID, TableID: tableID}
	var raw string
	if err := tx.QueryRow(ctx, `
SELECT row_num, row_data FROM csv_rows WHERE id = $1 AND table_id = $2 FOR UPDATE
`, rowID, tableID).Scan(&row.RowNumber, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRowNotFound
		}
		return nil, err
	}
	fields, err := schema.DecodeFields(raw)
	if err != nil {
		return nil, err
	}
	row.Fields = fields.Set(column, value)
	if _, err := tx.Exec(ctx, `UPDATE csv_rows SET row_data = $1 WHERE id = $2`, row.Fields.Encode(), rowID); err != nil {
		return nil, fmt.Errorf("update row: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migrate.New(pgMigrationTarget{pool: s.pool}, migrations.FS("postgres"), s.logger).Up(ctx)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var raw string
		if err := rows.Scan(&r.ID, &r.TableID, &r.RowNumber, &raw); err != nil {
			return nil, err
		}
		if r.Fields, err = schema.DecodeFields(raw); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanPgTable(row pgx.Row) (*Table, error) {
	var t Table
	var columns string
	if err := row.Scan(&t.ID, &t.Name, &t.SourceFilename, &columns, &t.CreatedAt, &t.RowCount); err != nil {
		return nil, err
	}
	decoded, err := decodeColumns(columns)
	if err != nil {
		return nil, fmt.Errorf("table %d: %w", t.ID, err)
	}
	t.Columns = decoded
	return &t, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type pgMigrationTarget struct {
	pool *pgxpool.Pool
}

func (t pgMigrationTarget) EnsureVersionTable(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version BIGINT PRIMARY KEY,
  name    TEXT NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

func (t pgMigrationTarget) AppliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := t.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (t pgMigrationTarget) ApplyMigration(ctx context.Context, version int64, name string, body string) error {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, body); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, name) VALUES ($1, $2)`, version, name); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}
