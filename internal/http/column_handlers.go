package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"csvtosql/internal/columns"
	"csvtosql/internal/schema"
	"csvtosql/internal/store"
	"csvtosql/internal/validation"
)

type columnPage struct {
	Table          *store.Table
	Column         string
	Spec           schema.ColumnSpec
	Errors         map[string][]string
	DataTypes      []schema.DataType
	OnDeleteAction []schema.OnDelete
	Tables         []store.Table
}

// ForeignTable is the referenced table name, empty without a foreign key.
func (p columnPage) ForeignTable() string {
	if p.Spec.ForeignKey == nil {
		return ""
	}
	return p.Spec.ForeignKey.Table
}

func (p columnPage) OnDelete() schema.OnDelete {
	if p.Spec.ForeignKey == nil || p.Spec.ForeignKey.OnDelete == "" {
		return schema.OnDeleteCascade
	}
	return p.Spec.ForeignKey.OnDelete
}

func (h *UIHandler) ConfigureColumn(w http.ResponseWriter, r *http.Request) {
	table, ok := h.loadTable(w, r)
	if !ok {
		return
	}
	column := chi.URLParam(r, "column")
	spec, ok := table.Columns.Get(column)
	if !ok {
		h.renderError(w, r, http.StatusNotFound, fmt.Sprintf("Column %q not found.", column))
		return
	}
	h.renderColumn(w, r, http.StatusOK, table, column, spec, nil)
}

func (h *UIHandler) SaveColumn(w http.ResponseWriter, r *http.Request) {
	table, ok := h.loadTable(w, r)
	if !ok {
		return
	}
	column := chi.URLParam(r, "column")
	spec, formErrs := specFromForm(r)
	if !formErrs.Empty() {
		formErrs.Merge(columns.Check(spec))
		h.renderColumn(w, r, http.StatusBadRequest, table, column, spec, formErrs)
		return
	}

	if _, err := h.columns.SetProperties(r.Context(), table.ID, column, spec); err != nil {
		if verr, ok := validation.As(err); ok {
			h.renderColumn(w, r, http.StatusBadRequest, table, column, spec, verr)
			return
		}
		h.columnFailed(w, r, table.ID, err)
		return
	}
	h.logger.Info("column updated", "table_id", table.ID, "column", column)
	h.setFlash(w, r, "success", fmt.Sprintf("Column %q updated.", column))
	http.Redirect(w, r, tableURL(table.ID), http.StatusSeeOther)
}

func (h *UIHandler) AddColumn(w http.ResponseWriter, r *http.Request) {
	table, ok := h.loadTable(w, r)
	if !ok {
		return
	}
	spec, errs := specFromForm(r)
	if errs.Empty() {
		_, name, err := h.columns.AddColumn(r.Context(), table.ID, r.PostFormValue("name"), spec)
		if err == nil {
			h.logger.Info("column added", "table_id", table.ID, "column", name)
			h.setFlash(w, r, "success", fmt.Sprintf("Column %q added.", name))
			http.Redirect(w, r, tableURL(table.ID), http.StatusSeeOther)
			return
		}
		verr, ok := validation.As(err)
		if !ok {
			h.columnFailed(w, r, table.ID, err)
			return
		}
		errs = verr
	} else {
		_, specErrs := columns.CheckNewColumn(table, r.PostFormValue("name"), spec)
		errs.Merge(specErrs.Err())
	}
	h.setFlash(w, r, "error", "Could not add column: "+joinMessages(errs))
	http.Redirect(w, r, tableURL(table.ID)+"edit/", http.StatusSeeOther)
}

func (h *UIHandler) RenameColumn(w http.ResponseWriter, r *http.Request) {
	table, ok := h.loadTable(w, r)
	if !ok {
		return
	}
	column := chi.URLParam(r, "column")
	_, renamed, err := h.columns.RenameColumn(r.Context(), table.ID, column, r.PostFormValue("new_name"))
	if err != nil {
		if verr, ok := validation.As(err); ok {
			spec, _ := table.Columns.Get(column)
			h.renderColumn(w, r, http.StatusBadRequest, table, column, spec, verr)
			return
		}
		h.columnFailed(w, r, table.ID, err)
		return
	}
	if renamed != column {
		h.logger.Info("column renamed", "table_id", table.ID, "from", column, "to", renamed)
		h.setFlash(w, r, "success", fmt.Sprintf("Column %q renamed to %q.", column, renamed))
	}
	http.Redirect(w, r, tableURL(table.ID), http.StatusSeeOther)
}

func (h *UIHandler) columnFailed(w http.ResponseWriter, r *http.Request, tableID int64, err error) {
	switch {
	case errors.Is(err, columns.ErrColumnNotFound):
		h.renderError(w, r, http.StatusNotFound, "Column not found.")
	case errors.Is(err, store.ErrTableNotFound):
		h.renderError(w, r, http.StatusNotFound, "Table not found.")
	default:
		h.logger.Error("column change failed", "table_id", tableID, "error", err)
		h.renderError(w, r, http.StatusInternalServerError, "Error saving column: "+err.Error())
	}
}

func (h *UIHandler) renderColumn(w http.ResponseWriter, r *http.Request, status int, table *store.Table, column string, spec schema.ColumnSpec, errs *validation.Errors) {
	tables, err := h.store.ListTables(r.Context())
	if err != nil {
		h.logger.Error("list tables failed", "error", err)
		h.renderError(w, r, http.StatusInternalServerError, "Failed to load tables.")
		return
	}
	data := h.baseData(w, r, "configure_column", table.Name+"."+column)
	data.Page = columnPage{
		Table:          table,
		Column:         column,
		Spec:           spec,
		Errors:         errs.ByField(),
		DataTypes:      schema.DataTypes,
		OnDeleteAction: schema.OnDeleteActions,
		Tables:         tables,
	}
	h.renderer.Render(w, status, data)
}

// dataTypeFromForm defaults an empty choice to TEXT. Unknown names are kept
// for ColumnSpec.Validate to report.
func dataTypeFromForm(r *http.Request) schema.DataType {
	raw := r.PostFormValue("data_type")
	if strings.TrimSpace(raw) == "" {
		return schema.TypeText
	}
	dt, _ := schema.ParseDataType(raw)
	return dt
}

// specFromForm reads the column property form. Only max_length parse errors
// are reported here; unknown type and action names are passed through so
// ColumnSpec.Validate reports them alongside every other rule.
func specFromForm(r *http.Request) (schema.ColumnSpec, *validation.Errors) {
	var errs validation.Errors
	spec := schema.ColumnSpec{
		DataType:      dataTypeFromForm(r),
		Nullable:      checked(r, "nullable"),
		PrimaryKey:    checked(r, "primary_key"),
		Unique:        checked(r, "unique"),
		AutoIncrement: checked(r, "auto_increment"),
	}
	if v := r.PostFormValue("default_value"); v != "" {
		spec.DefaultValue = &v
	}
	if raw := strings.TrimSpace(r.PostFormValue("max_length")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs.Add("max_length", "Max length must be a positive integer.")
		} else {
			spec.MaxLength = &n
		}
	}

	fkTable := strings.TrimSpace(r.PostFormValue("foreign_key_table"))
	fkColumn := strings.TrimSpace(r.PostFormValue("foreign_key_column"))
	if fkTable != "" || fkColumn != "" {
		action := schema.OnDelete(strings.ToUpper(strings.TrimSpace(r.PostFormValue("on_delete"))))
		if parsed, ok := schema.ParseOnDelete(string(action)); ok {
			action = parsed
		}
		spec.ForeignKey = &schema.ForeignKey{Table: fkTable, Column: fkColumn, OnDelete: action}
	}
	return spec, &errs
}

func checked(r *http.Request, field string) bool {
	switch strings.ToLower(r.PostFormValue(field)) {
	case "on", "true", "1":
		return true
	}
	return false
}

func joinMessages(errs *validation.Errors) string {
	fields := errs.Fields()
	msgs := make([]string, len(fields))
	for i, fe := range fields {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, " ")
}
