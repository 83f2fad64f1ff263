package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"csvtosql/internal/migrate"
	"csvtosql/internal/schema"
	"csvtosql/migrations"
)

// dialect captures what differs between the database/sql backends.
type dialect struct {
	name         string
	forUpdate    string
	timeArg      func(time.Time) any
	isUnique     func(error) bool
	isForeignKey func(error) bool
}

// sqliteTimeLayout is fixed width so stored timestamps sort as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var sqliteDialect = dialect{
	name:      "sqlite",
	forUpdate: "",
	timeArg: func(t time.Time) any {
		return t.UTC().Format(sqliteTimeLayout)
	},
	isUnique: func(err error) bool {
		var se *sqlite.Error
		return errors.As(err, &se) &&
			(se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
	},
	isForeignKey: func(err error) bool {
		var se *sqlite.Error
		return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	},
}

var mysqlDialect = dialect{
	name:      "mysql",
	forUpdate: " FOR UPDATE",
	timeArg: func(t time.Time) any {
		return t.UTC()
	},
	isUnique: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == 1062
	},
	isForeignKey: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == 1452
	},
}

var _ Store = (*SQLStore)(nil)

// SQLStore keeps tables and rows in SQLite or MySQL through database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  Logger
}

// OpenSQLite opens (creating if needed) a SQLite database file. SQLite allows
// one writer, so the pool is limited to a single connection.
func OpenSQLite(ctx context.Context, path string, logger Logger) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, sqliteDialect, logger)
}

// OpenMySQL takes a go-sql-driver DSN such as user:pass@tcp(host:3306)/db.
func OpenMySQL(ctx context.Context, dsn string, logger Logger) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxOpenConns(10)
	return newSQLStore(ctx, db, mysqlDialect, logger)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, logger Logger) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	return &SQLStore{db: db, dialect: d, logger: logger}, nil
}

const sqlTableColumns = `t.id, t.name, t.source_filename, t.column_specs, t.created_at,
  (SELECT COUNT(1) FROM csv_rows r WHERE r.table_id = t.id)`

func (s *SQLStore) CreateTable(ctx context.Context, table NewTable) (*Table, error) {
	return s.ImportTable(ctx, table, nil)
}

func (s *SQLStore) ImportTable(ctx context.Context, table NewTable, rows []schema.Fields) (*Table, error) {
	if err := validateNewTable(table); err != nil {
		return nil, err
	}
	columns, err := encodeColumns(table.Columns)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	created := Table{
		Name:           table.Name,
		SourceFilename: table.SourceFilename,
		Columns:        table.Columns,
		CreatedAt:      time.Now().UTC(),
		RowCount:       len(rows),
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO csv_tables (name, source_filename, column_specs, created_at)
VALUES (?, ?, ?, ?)
`, created.Name, created.SourceFilename, columns, s.dialect.timeArg(created.CreatedAt))
	if err != nil {
		if s.dialect.isUnique(err) {
			return nil, ErrTableNameExists
		}
		return nil, fmt.Errorf("insert table: %w", err)
	}
	if created.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("table id: %w", err)
	}

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO csv_rows (id, table_id, row_num, row_data) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return nil, fmt.Errorf("prepare row insert: %w", err)
		}
		defer stmt.Close()
		for i, fields := range rows {
			if _, err := stmt.ExecContext(ctx, uuid.New(), created.ID, i+1, fields.Encode()); err != nil {
				return nil, fmt.Errorf("insert row %d: %w", i+1, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	return &created, nil
}

func (s *SQLStore) RenameTable(ctx context.Context, id int64, newName string) (*Table, error) {
	if newName == "" {
		return nil, ErrTableNameEmpty
	}
	current, err := s.GetTable(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Name == newName {
		return current, nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE csv_tables SET name = ? WHERE id = ?`, newName, id); err != nil {
		if s.dialect.isUnique(err) {
			return nil, ErrTableNameExists
		}
		return nil, err
	}
	return s.GetTable(ctx, id)
}

func (s *SQLStore) GetTable(ctx context.Context, id int64) (*Table, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqlTableColumns+` FROM csv_tables t WHERE t.id = ?`, id)
	t, err := scanSQLTable(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTableNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *SQLStore) TableByName(ctx context.Context, name string) (*Table, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqlTableColumns+` FROM csv_tables t WHERE t.name = ?`, name)
	t, err := scanSQLTable(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTableNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *SQLStore) ListTables(ctx context.Context) ([]Table, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqlTableColumns+` FROM csv_tables t ORDER BY t.created_at DESC, t.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		t, err := scanSQLTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *t)
	}
	return tables, rows.Err()
}

func (s *SQLStore) DeleteTable(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM csv_rows WHERE table_id = ?`, id); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM csv_tables WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete table: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTableNotFound
	}
	return tx.Commit()
}

func (s *SQLStore) UpdateColumns(ctx context.Context, id int64, columns schema.Columns) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if err := s.writeColumns(ctx, tx, id, columns); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) RenameColumn(ctx context.Context, id int64, oldName, newName string, columns schema.Columns) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if err := s.writeColumns(ctx, tx, id, columns); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, row_data FROM csv_rows WHERE table_id = ?`+s.dialect.forUpdate, id)
	if err != nil {
		return err
	}
	updates := make(map[uuid.UUID]string)
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
			updates[rowID] = fields.Rename(oldName, newName).Encode()
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for rowID, data := range updates {
		if _, err := tx.ExecContext(ctx, `UPDATE csv_rows SET row_data = ? WHERE id = ?`, data, rowID); err != nil {
			return fmt.Errorf("rewrite row %s: %w", rowID, err)
		}
	}
	return tx.Commit()
}

// writeColumns checks existence explicitly: MySQL reports zero affected rows
// when the new value equals the old one.
func (s *SQLStore) writeColumns(ctx context.Context, tx *sql.Tx, id int64, columns schema.Columns) error {
	body, err := encodeColumns(columns)
	if err != nil {
		return err
	}
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM csv_tables WHERE id = ?`+s.dialect.forUpdate, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTableNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE csv_tables SET column_specs = ? WHERE id = ?`, body, id); err != nil {
		return fmt.Errorf("update columns: %w", err)
	}
	return nil
}

func (s *SQLStore) AppendRow(ctx context.Context, tableID int64, rowNumber int, fields schema.Fields) (*Row, error) {
	row := Row{ID: uuid.New(), TableID: tableID, RowNumber: rowNumber, Fields: fields}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO csv_rows (id, table_id, row_num, row_data) VALUES (?, ?, ?, ?)
`, row.ID, row.TableID, row.RowNumber, fields.Encode()); err != nil {
		if s.dialect.isForeignKey(err) {
			return nil, ErrTableNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *SQLStore) ListRows(ctx context.Context, tableID int64, filter string) ([]Row, error) {
	where, args := rowFilter(tableID, filter)
	return s.queryRows(ctx, `SELECT id, table_id, row_num, row_data FROM csv_rows WHERE `+where+` ORDER BY row_num`, args...)
}

func (s *SQLStore) CountRows(ctx context.Context, tableID int64, filter string) (int, error) {
	where, args := rowFilter(tableID, filter)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM csv_rows WHERE `+where, args...).Scan(&count)
	return count, err
}

func (s *SQLStore) PageRows(ctx context.Context, tableID int64, filter string, desc bool, limit, offset int) ([]Row, error) {
	where, args := rowFilter(tableID, filter)
	direction := "ASC"
	if desc {
		direction = "DESC"
	}
	args = append(args, limit, offset)
	return s.queryRows(ctx, `
SELECT id, table_id, row_num, row_data FROM csv_rows
WHERE `+where+`
ORDER BY row_num `+direction+`
LIMIT ? OFFSET ?
`, args...)
}

func (s *SQLStore) GetRow(ctx context.Context, tableID int64, rowID uuid.UUID) (*Row, error) {
	rows, err := s.queryRows(ctx, `SELECT id, table_id, row_num, row_data FROM csv_rows WHERE id = ? AND table_id = ?`, rowID, tableID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrRowNotFound
	}
	return &rows[0], nil
}

func (s *SQLStore) UpdateCell(ctx context.Context, tableID int64, rowID uuid.UUID, column string, value *string) (*Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	row := Row{ID: rowID, TableID: tableID}
	var raw string
	if err := tx.QueryRowContext(ctx, `
SELECT row_num, row_data FROM csv_rows WHERE id = ? AND table_id = ?`+s.dialect.forUpdate,
		rowID, tableID).Scan(&row.RowNumber, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRowNotFound
		}
		return nil, err
	}
	fields, err := schema.DecodeFields(raw)
	if err != nil {
		return nil, err
	}
	row.Fields = fields.Set(column, value)
	if _, err := tx.ExecContext(ctx, `UPDATE csv_rows SET row_data = ? WHERE id = ?`, row.Fields.Encode(), rowID); err != nil {
		return nil, fmt.Errorf("update row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	return migrate.New(sqlMigrationTarget{db: s.db, dialect: s.dialect}, migrations.FS(s.dialect.name), s.logger).Up(ctx)
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() {
	if err := s.db.Close(); err != nil && s.logger != nil {
		s.logger.Error("close database failed", "dialect", s.dialect.name, "error", err)
	}
}

func (s *SQLStore) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

// rowFilter builds the WHERE clause shared by the row queries. INSTR is
// case-sensitive on SQLite and on MySQL's utf8mb4_bin row_data column.
func rowFilter(tableID int64, filter string) (string, []any) {
	if filter == "" {
		return "table_id = ?", []any{tableID}
	}
	return "table_id = ? AND INSTR(row_data, ?) > 0", []any{tableID, filter}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLTable(row rowScanner) (*Table, error) {
	var t Table
	var columns string
	var createdAt dbTime
	if err := row.Scan(&t.ID, &t.Name, &t.SourceFilename, &columns, &createdAt, &t.RowCount); err != nil {
		return nil, err
	}
	t.CreatedAt = createdAt.Time
	decoded, err := decodeColumns(columns)
	if err != nil {
		return nil, fmt.Errorf("table %d: %w", t.ID, err)
	}
	t.Columns = decoded
	return &t, nil
}

var dbTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// dbTime scans timestamps that drivers return as time.Time or as text.
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

type sqlMigrationTarget struct {
	db      *sql.DB
	dialect dialect
}

func (t sqlMigrationTarget) EnsureVersionTable(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version    BIGINT PRIMARY KEY,
  name       VARCHAR(255) NOT NULL,
  applied_at VARCHAR(64) NOT NULL
)`)
	return err
}

func (t sqlMigrationTarget) AppliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
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

// ApplyMigration runs statements one at a time. MySQL commits DDL implicitly,
// so a failed MySQL migration may be partially applied.
func (t sqlMigrationTarget) ApplyMigration(ctx context.Context, version int64, name string, body string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range migrate.SplitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		version, name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
