// Package cells edits single values of stored rows.
package cells

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"csvtosql/internal/store"
	"csvtosql/internal/validation"
)

// Result echoes the stored value back to the client.
type Result struct {
	RowID    uuid.UUID `json:"row_id"`
	Column   string    `json:"column"`
	NewValue *string   `json:"new_value"`
}

// Editor replaces one field of one row. With Strict set, values are checked
// against the column's spec before they are written; columns the table does
// not declare are never checked.
type Editor struct {
	store  store.Store
	Strict bool
}

func NewEditor(st store.Store, strict bool) *Editor {
	return &Editor{store: st, Strict: strict}
}

func (e *Editor) UpdateCell(ctx context.Context, tableID int64, rowID uuid.UUID, column string, value *string) (Result, error) {
	if column == "" {
		return Result{}, validation.New("column", "Column is required.")
	}
	table, err := e.store.GetTable(ctx, tableID)
	if err != nil {
		return Result{}, err
	}
	if e.Strict {
		if spec, ok := table.Columns.Get(column); ok {
			if err := spec.CheckValue(value); err != nil {
				return Result{}, validation.New("value", capitalize(err))
			}
		}
	}

	row, err := e.store.UpdateCell(ctx, tableID, rowID, column, value)
	if err != nil {
		return Result{}, err
	}
	stored, _ := row.Fields.Get(column)
	return Result{RowID: row.ID, Column: column, NewValue: stored}, nil
}

// IsNotFound reports whether err means the table or row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrTableNotFound) || errors.Is(err, store.ErrRowNotFound)
}

func capitalize(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	b := []byte(msg)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b) + "."
}
