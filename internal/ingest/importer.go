package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"csvtosql/internal/schema"
	"csvtosql/internal/store"
	"csvtosql/internal/validation"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Importer creates tables from uploaded CSV files and renames them under the
// same naming rules.
type Importer struct {
	store    store.Store
	logger   Logger
	maxBytes int64
}

func NewImporter(st store.Store, logger Logger, maxBytes int64) *Importer {
	return &Importer{store: st, logger: logger, maxBytes: maxBytes}
}

// CheckFilename accepts names ending in .csv, in any case.
func CheckFilename(filename string) error {
	if !strings.EqualFold(path.Ext(strings.TrimSpace(filename)), ".csv") {
		return validation.New("csv_file", "File must be a CSV file.")
	}
	return nil
}

// Import normalizes tableName, parses data and stores the table with all of
// its rows in one transaction. A taken name is reported as
// store.ErrTableNameExists before the file is parsed.
func (im *Importer) Import(ctx context.Context, tableName, filename string, data []byte) (*store.Table, error) {
	var errs validation.Errors
	name := schema.NormalizeTableName(tableName)
	errs.Merge(schema.ValidateTableName(name))
	if err := CheckFilename(filename); err != nil {
		errs.Add("csv_file", "File must be a CSV file.")
	}
	if im.maxBytes > 0 && int64(len(data)) > im.maxBytes {
		errs.Add("csv_file", fmt.Sprintf("File is larger than %d bytes.", im.maxBytes))
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	if err := im.checkNameFree(ctx, name, 0); err != nil {
		return nil, err
	}

	result, err := Parse(data)
	if err != nil {
		return nil, err
	}

	table, err := im.store.ImportTable(ctx, store.NewTable{
		Name:           name,
		SourceFilename: path.Base(filename),
		Columns:        result.Columns,
	}, result.Rows)
	if err != nil {
		if errors.Is(err, store.ErrTableNameExists) {
			return nil, fmt.Errorf("table %q: %w", name, err)
		}
		return nil, fmt.Errorf("import table %q: %w", name, err)
	}
	im.logger.Info("table imported", "table_id", table.ID, "name", table.Name, "rows", table.RowCount, "columns", len(table.Columns))
	return table, nil
}

// Rename re-normalizes newName and stores it. Renaming a table to its current
// name succeeds without a write.
func (im *Importer) Rename(ctx context.Context, id int64, newName string) (*store.Table, error) {
	name := schema.NormalizeTableName(newName)
	if err := schema.ValidateTableName(name); err != nil {
		return nil, err
	}
	if err := im.checkNameFree(ctx, name, id); err != nil {
		return nil, err
	}
	table, err := im.store.RenameTable(ctx, id, name)
	if err != nil {
		if errors.Is(err, store.ErrTableNameExists) {
			return nil, fmt.Errorf("table %q: %w", name, err)
		}
		return nil, err
	}
	im.logger.Info("table renamed", "table_id", table.ID, "name", table.Name)
	return table, nil
}

// checkNameFree fails when another table than self holds name.
func (im *Importer) checkNameFree(ctx context.Context, name string, self int64) error {
	existing, err := im.store.TableByName(ctx, name)
	switch {
	case errors.Is(err, store.ErrTableNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("look up table %q: %w", name, err)
	case existing.ID == self:
		return nil
	default:
		return fmt.Errorf("table %q: %w", name, store.ErrTableNameExists)
	}
}
