package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"csvtosql/internal/cells"
	"csvtosql/internal/query"
	"csvtosql/internal/schema"
	"csvtosql/internal/store"
	"csvtosql/internal/validation"
)

type tablePage struct {
	Table           *store.Table
	Result          *query.Page
	PageSizeOptions []int
}

// PageURL links to page n keeping the current filter, sort and page size.
func (p tablePage) PageURL(n int) string {
	return p.link(p.Result.SortBy, p.Result.SortOrder, p.Result.Pagination.PageSize, n)
}

func (p tablePage) PageSizeURL(size int) string {
	return p.link(p.Result.SortBy, p.Result.SortOrder, size, 1)
}

// SortURL sorts by column, flipping the direction when it is already the
// sort column.
func (p tablePage) SortURL(column string) string {
	order := query.OrderAsc
	if p.Result.SortBy == column && p.Result.SortOrder == query.OrderAsc {
		order = query.OrderDesc
	}
	return p.link(column, order, p.Result.Pagination.PageSize, 1)
}

func (p tablePage) SortIndicator(column string) string {
	if p.Result.SortBy != column {
		return ""
	}
	if p.Result.SortOrder == query.OrderDesc {
		return "▼"
	}
	return "▲"
}

func (p tablePage) link(sortBy, order string, pageSize, page int) string {
	v := url.Values{}
	if p.Result.Filter != "" {
		v.Set("filter", p.Result.Filter)
	}
	v.Set("sort", sortBy)
	v.Set("order", order)
	v.Set("page_size", strconv.Itoa(pageSize))
	v.Set("page", strconv.Itoa(page))
	return tableURL(p.Table.ID) + "?" + v.Encode()
}

func (h *UIHandler) ViewTable(w http.ResponseWriter, r *http.Request) {
	id, ok := tableIDParam(r)
	if !ok {
		h.renderError(w, r, http.StatusNotFound, "Table not found.")
		return
	}
	req, err := query.ParseRequest(id, r.URL.Query())
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.engine.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrTableNotFound) {
			h.renderError(w, r, http.StatusNotFound, "Table not found.")
			return
		}
		h.logger.Error("query table failed", "table_id", id, "error", err)
		h.renderError(w, r, http.StatusInternalServerError, "Failed to load table data.")
		return
	}

	data := h.baseData(w, r, "view_table", result.Table.Name)
	data.Page = tablePage{
		Table:           result.Table,
		Result:          result,
		PageSizeOptions: query.PageSizeOptions,
	}
	h.renderer.Render(w, http.StatusOK, data)
}

type reloadRow struct {
	ID        uuid.UUID     `json:"id"`
	RowNumber int           `json:"row_number"`
	Data      schema.Fields `json:"data"`
}

type reloadResponse struct {
	Success      bool        `json:"success"`
	TableData    []reloadRow `json:"table_data"`
	TotalRecords int         `json:"total_records"`
	TotalPages   int         `json:"total_pages"`
	CurrentPage  int         `json:"current_page"`
	PageSize     int         `json:"page_size"`
	HasPrevious  bool        `json:"has_previous"`
	HasNext      bool        `json:"has_next"`
}

// ReloadTable serves the same page as ViewTable as JSON.
func (h *UIHandler) ReloadTable(w http.ResponseWriter, r *http.Request) {
	id, ok := tableIDParam(r)
	if !ok {
		writeFailure(w, http.StatusNotFound, "Table not found.")
		return
	}
	req, err := query.ParseRequest(id, r.URL.Query())
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.engine.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrTableNotFound) {
			writeFailure(w, http.StatusNotFound, "Table not found.")
			return
		}
		h.logger.Error("reload table failed", "table_id", id, "error", err)
		writeFailure(w, http.StatusInternalServerError, "Error loading table data: "+err.Error())
		return
	}

	rows := make([]reloadRow, len(result.Rows))
	for i, row := range result.Rows {
		rows[i] = reloadRow{ID: row.ID, RowNumber: row.RowNumber, Data: row.Fields}
	}
	p := result.Pagination
	writeJSON(w, http.StatusOK, reloadResponse{
		Success:      true,
		TableData:    rows,
		TotalRecords: p.TotalRecords,
		TotalPages:   p.TotalPages,
		CurrentPage:  p.CurrentPage,
		PageSize:     p.PageSize,
		HasPrevious:  p.HasPrevious,
		HasNext:      p.HasNext,
	})
}

type updateCellRequest struct {
	RowID  string          `json:"row_id"`
	Column string          `json:"column"`
	Value  json.RawMessage `json:"value"`
}

type updateCellResponse struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	RowID    uuid.UUID `json:"row_id"`
	Column   string    `json:"column"`
	NewValue *string   `json:"new_value"`
}

func (h *UIHandler) UpdateCell(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}
	id, ok := tableIDParam(r)
	if !ok {
		writeFailure(w, http.StatusNotFound, "Error updating cell: table not found")
		return
	}

	var req updateCellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Error updating cell: invalid JSON body")
		return
	}
	rowID, err := uuid.Parse(req.RowID)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Error updating cell: invalid row id")
		return
	}
	value, err := cellValue(req.Value)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Error updating cell: "+err.Error())
		return
	}

	res, err := h.editor.UpdateCell(r.Context(), id, rowID, req.Column, value)
	if err != nil {
		switch {
		case cells.IsNotFound(err):
			writeFailure(w, http.StatusNotFound, "Error updating cell: "+err.Error())
		default:
			if _, ok := validation.As(err); !ok {
				h.logger.Error("update cell failed", "table_id", id, "row_id", rowID, "column", req.Column, "error", err)
			}
			writeFailure(w, http.StatusBadRequest, "Error updating cell: "+err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, updateCellResponse{
		Success:  true,
		Message:  "Cell updated successfully.",
		RowID:    res.RowID,
		Column:   res.Column,
		NewValue: res.NewValue,
	})
}

// cellValue accepts a JSON string or null. Numbers and booleans keep their
// literal text; a missing value is null.
func cellValue(raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("invalid value: %w", err)
		}
		return &s, nil
	case '{', '[':
		return nil, errors.New("value must be a string or null")
	default:
		s := string(raw)
		return &s, nil
	}
}

type confirmDeletePage struct {
	Table *store.Table
}

func (h *UIHandler) ConfirmDelete(w http.ResponseWriter, r *http.Request) {
	table, ok := h.loadTable(w, r)
	if !ok {
		return
	}
	data := h.baseData(w, r, "confirm_delete", "Delete "+table.Name)
	data.Page = confirmDeletePage{Table: table}
	h.renderer.Render(w, http.StatusOK, data)
}

func (h *UIHandler) DeleteTable(w http.ResponseWriter, r *http.Request) {
	table, ok := h.loadTable(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteTable(r.Context(), table.ID); err != nil {
		if errors.Is(err, store.ErrTableNotFound) {
			h.renderError(w, r, http.StatusNotFound, "Table not found.")
			return
		}
		h.logger.Error("delete table failed", "table_id", table.ID, "error", err)
		h.setFlash(w, r, "error", "Error deleting table: "+err.Error())
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.logger.Info("table deleted", "table_id", table.ID, "name", table.Name)
	h.setFlash(w, r, "success", fmt.Sprintf("Table %q deleted.", table.Name))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type editTablePage struct {
	Table     *store.Table
	Form      uploadForm
	Errors    map[string][]string
	DataTypes []schema.DataType
}

func (h *UIHandler) EditTable(w http.ResponseWriter, r *http.Request) {
	table, ok := h.loadTable(w, r)
	if !ok {
		return
	}
	h.renderEdit(w, r, http.StatusOK, table, uploadForm{TableName: table.Name}, nil)
}

func (h *UIHandler) RenameTable(w http.ResponseWriter, r *http.Request) {
	table, ok := h.loadTable(w, r)
	if !ok {
		return
	}
	form := uploadForm{TableName: r.PostFormValue("table_name")}
	renamed, err := h.importer.Rename(r.Context(), table.ID, form.TableName)
	if err != nil {
		if verr, ok := validation.As(err); ok {
			h.renderEdit(w, r, http.StatusBadRequest, table, form, verr)
			return
		}
		if errors.Is(err, store.ErrTableNameExists) {
			name := schema.NormalizeTableName(form.TableName)
			h.renderEdit(w, r, http.StatusBadRequest, table, form,
				validation.New("table_name", fmt.Sprintf("A table named %q already exists.", name)))
			return
		}
		h.logger.Error("rename table failed", "table_id", table.ID, "error", err)
		h.renderError(w, r, http.StatusInternalServerError, "Error renaming table: "+err.Error())
		return
	}
	h.setFlash(w, r, "success", fmt.Sprintf("Table renamed to %q.", renamed.Name))
	http.Redirect(w, r, tableURL(renamed.ID), http.StatusSeeOther)
}

func (h *UIHandler) renderEdit(w http.ResponseWriter, r *http.Request, status int, table *store.Table, form uploadForm, errs *validation.Errors) {
	data := h.baseData(w, r, "edit_table", "Edit "+table.Name)
	data.Page = editTablePage{
		Table:     table,
		Form:      form,
		Errors:    errs.ByField(),
		DataTypes: schema.DataTypes,
	}
	h.renderer.Render(w, status, data)
}

// loadTable resolves the {id} URL parameter, rendering a 404 page when the
// table does not exist.
func (h *UIHandler) loadTable(w http.ResponseWriter, r *http.Request) (*store.Table, bool) {
	id, ok := tableIDParam(r)
	if !ok {
		h.renderError(w, r, http.StatusNotFound, "Table not found.")
		return nil, false
	}
	table, err := h.store.GetTable(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrTableNotFound) {
			h.renderError(w, r, http.StatusNotFound, "Table not found.")
			return nil, false
		}
		h.logger.Error("get table failed", "table_id", id, "error", err)
		h.renderError(w, r, http.StatusInternalServerError, "Failed to load table.")
		return nil, false
	}
	return table, true
}
