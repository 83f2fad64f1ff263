package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"csvtosql/internal/schema"
)

var (
	ErrTableNotFound   = errors.New("table not found")
	ErrTableNameExists = errors.New("table name already exists")
	ErrTableNameEmpty  = errors.New("table name required")
	ErrRowNotFound     = errors.New("row not found")
)

// Table is one uploaded CSV file.
type Table struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	SourceFilename string         `json:"source_filename"`
	Columns        schema.Columns `json:"columns"`
	CreatedAt      time.Time      `json:"created_at"`
	RowCount       int            `json:"row_count"`
}

type NewTable struct {
	Name           string
	SourceFilename string
	Columns        schema.Columns
}

// Row is one ingested CSV data line.
type Row struct {
	ID        uuid.UUID     `json:"id"`
	TableID   int64         `json:"table_id"`
	RowNumber int           `json:"row_number"`
	Fields    schema.Fields `json:"data"`
}

// Store persists tables and their rows. Filters are case-sensitive substring
// matches against the row serialization produced by schema.Fields.Encode; an
// empty filter matches every row.
type Store interface {
	CreateTable(ctx context.Context, table NewTable) (*Table, error)
	// ImportTable creates the table and appends rows numbered from 1 in a
	// single transaction.
	ImportTable(ctx context.Context, table NewTable, rows []schema.Fields) (*Table, error)
	RenameTable(ctx context.Context, id int64, newName string) (*Table, error)
	GetTable(ctx context.Context, id int64) (*Table, error)
	// TableByName matches name exactly, case included.
	TableByName(ctx context.Context, name string) (*Table, error)
	ListTables(ctx context.Context) ([]Table, error)
	DeleteTable(ctx context.Context, id int64) error
	UpdateColumns(ctx context.Context, id int64, columns schema.Columns) error
	// RenameColumn stores columns and moves oldName to newName in every row.
	RenameColumn(ctx context.Context, id int64, oldName, newName string, columns schema.Columns) error

	AppendRow(ctx context.Context, tableID int64, rowNumber int, fields schema.Fields) (*Row, error)
	ListRows(ctx context.Context, tableID int64, filter string) ([]Row, error)
	CountRows(ctx context.Context, tableID int64, filter string) (int, error)
	// PageRows returns rows ordered by row number.
	PageRows(ctx context.Context, tableID int64, filter string, desc bool, limit, offset int) ([]Row, error)
	GetRow(ctx context.Context, tableID int64, rowID uuid.UUID) (*Row, error)
	UpdateCell(ctx context.Context, tableID int64, rowID uuid.UUID, column string, value *string) (*Row, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Open connects to the backend named by the DSN scheme: postgres:// and
// postgresql:// use pgx, sqlite:// and file: use SQLite, mysql:// uses MySQL.
func Open(ctx context.Context, dsn string, logger Logger) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn, logger)
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "file:"):
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"), logger)
	case strings.HasPrefix(dsn, "mysql://"):
		return OpenMySQL(ctx, strings.TrimPrefix(dsn, "mysql://"), logger)
	default:
		return nil, fmt.Errorf("unsupported database dsn scheme: %q", redactDSN(dsn))
	}
}

func validateNewTable(table NewTable) error {
	if strings.TrimSpace(table.Name) == "" {
		return ErrTableNameEmpty
	}
	return nil
}

func encodeColumns(columns schema.Columns) (string, error) {
	if columns == nil {
		columns = schema.Columns{}
	}
	body, err := columns.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode columns: %w", err)
	}
	return string(body), nil
}

func decodeColumns(raw string) (schema.Columns, error) {
	var columns schema.Columns
	if err := columns.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	return columns, nil
}

// redactDSN keeps the scheme only, so credentials never reach logs.
func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	if len(dsn) > 8 {
		return dsn[:8] + "..."
	}
	return dsn
}
