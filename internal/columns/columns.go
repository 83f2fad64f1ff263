// Package columns manages the column metadata of stored tables.
package columns

import (
	"context"
	"errors"
	"fmt"

	"csvtosql/internal/schema"
	"csvtosql/internal/store"
	"csvtosql/internal/validation"
)

var ErrColumnNotFound = errors.New("column not found")

type Manager struct {
	store store.Store
}

func NewManager(st store.Store) *Manager {
	return &Manager{store: st}
}

// Properties returns the canonical spec of column. Legacy bare-type specs
// have already been upgraded by the store's decoder.
func (m *Manager) Properties(ctx context.Context, tableID int64, column string) (schema.ColumnSpec, error) {
	table, err := m.store.GetTable(ctx, tableID)
	if err != nil {
		return schema.ColumnSpec{}, err
	}
	spec, ok := table.Columns.Get(column)
	if !ok {
		return schema.ColumnSpec{}, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
	}
	return spec, nil
}

// SetProperties validates spec and replaces the column's entry. Every violated
// rule is reported in the returned *validation.Errors.
func (m *Manager) SetProperties(ctx context.Context, tableID int64, column string, spec schema.ColumnSpec) (*store.Table, error) {
	table, err := m.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if !table.Columns.Has(column) {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
	}
	spec = normalizeForeignKey(spec)
	if err := Check(spec); err != nil {
		return nil, err
	}
	table.Columns = table.Columns.With(column, spec)
	if err := m.store.UpdateColumns(ctx, tableID, table.Columns); err != nil {
		return nil, err
	}
	return table, nil
}

// AddColumn appends a column. Existing rows are untouched; the new key reads
// as missing until a cell is edited.
func (m *Manager) AddColumn(ctx context.Context, tableID int64, name string, spec schema.ColumnSpec) (*store.Table, string, error) {
	table, err := m.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, "", err
	}
	normalized, errs := CheckNewColumn(table, name, spec)
	if err := errs.Err(); err != nil {
		return nil, "", err
	}
	spec = normalizeForeignKey(spec)
	table.Columns = table.Columns.With(normalized, spec)
	if err := m.store.UpdateColumns(ctx, tableID, table.Columns); err != nil {
		return nil, "", err
	}
	return table, normalized, nil
}

// RenameColumn normalizes newName like a CSV header and moves the column and
// every row's value to it.
func (m *Manager) RenameColumn(ctx context.Context, tableID int64, oldName, newName string) (*store.Table, string, error) {
	table, err := m.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, "", err
	}
	if !table.Columns.Has(oldName) {
		return nil, "", fmt.Errorf("%w: %s", ErrColumnNotFound, oldName)
	}
	normalized := schema.NormalizeColumnName(newName)
	switch {
	case normalized == "":
		return nil, "", validation.New("new_name", "Column name is required.")
	case normalized == oldName:
		return table, oldName, nil
	case table.Columns.Has(normalized):
		return nil, "", validation.New("new_name", fmt.Sprintf("Column %q already exists.", normalized))
	}

	table.Columns = table.Columns.Renamed(oldName, normalized)
	if err := m.store.RenameColumn(ctx, tableID, oldName, normalized, table.Columns); err != nil {
		return nil, "", err
	}
	return table, normalized, nil
}

// Check validates spec the way SetProperties does, without touching a table.
func Check(spec schema.ColumnSpec) error {
	return normalizeForeignKey(spec).Validate()
}

// CheckNewColumn reports every problem with adding name to table: the name
// rules and all spec rules. It returns the normalized name.
func CheckNewColumn(table *store.Table, name string, spec schema.ColumnSpec) (string, *validation.Errors) {
	normalized := schema.NormalizeColumnName(name)
	var errs validation.Errors
	switch {
	case normalized == "":
		errs.Add("name", "Column name is required.")
	case table.Columns.Has(normalized):
		errs.Add("name", fmt.Sprintf("Column %q already exists.", normalized))
	}
	errs.Merge(Check(spec))
	return normalized, &errs
}

// normalizeForeignKey drops an all-empty reference, which is how an
// untouched form submits "no foreign key", and defaults the action.
func normalizeForeignKey(spec schema.ColumnSpec) schema.ColumnSpec {
	fk := spec.ForeignKey
	if fk == nil {
		return spec
	}
	if fk.Table == "" && fk.Column == "" {
		spec.ForeignKey = nil
		return spec
	}
	if fk.OnDelete == "" {
		copied := *fk
		copied.OnDelete = schema.OnDeleteCascade
		spec.ForeignKey = &copied
	}
	return spec
}
