// Package query filters, sorts and paginates the rows of a stored table.
package query

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"csvtosql/internal/store"
	"csvtosql/internal/validation"
)

const (
	SortRowNumber = "row_number"
	OrderAsc      = "asc"
	OrderDesc     = "desc"

	DefaultPageSize = 10
)

type Request struct {
	TableID   int64
	Filter    string
	SortBy    string
	SortOrder string
	PageSize  int
	Page      int
}

// Page is one window of rows plus the metadata to navigate around it.
type Page struct {
	Table      *store.Table `json:"-"`
	Rows       []store.Row  `json:"rows"`
	Pagination Pagination   `json:"pagination"`
	SortBy     string       `json:"sort_by"`
	SortOrder  string       `json:"sort_order"`
	Filter     string       `json:"filter"`
}

// ParseRequest reads filter, sort, order, page_size and page, applying the
// defaults row_number, asc, 10 and 1.
func ParseRequest(tableID int64, values url.Values) (Request, error) {
	req := Request{
		TableID:   tableID,
		Filter:    values.Get("filter"),
		SortBy:    strings.TrimSpace(values.Get("sort")),
		SortOrder: strings.ToLower(strings.TrimSpace(values.Get("order"))),
		PageSize:  DefaultPageSize,
		Page:      1,
	}
	if req.SortBy == "" {
		req.SortBy = SortRowNumber
	}
	if req.SortOrder != OrderDesc {
		req.SortOrder = OrderAsc
	}

	var errs validation.Errors
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs.Add("page_size", "Page size must be a whole number.")
		}
		req.PageSize = n
	}
	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs.Add("page", "Page must be a whole number.")
		}
		req.Page = n
	}
	if err := errs.Err(); err != nil {
		return req, err
	}
	return req, req.Validate()
}

func (r Request) Validate() error {
	var errs validation.Errors
	if r.PageSize <= 0 {
		errs.Add("page_size", "Page size must be a positive number.")
	}
	if r.Page < 1 {
		errs.Add("page", "Page must be 1 or greater.")
	}
	return errs.Err()
}

func (r Request) descending() bool {
	return r.SortOrder == OrderDesc
}

type Engine struct {
	store store.Store
}

func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// Run returns the requested page. Sorting by row_number, or by a column the
// table does not have, pages in the database; sorting by a column loads every
// matching row and sorts them by their text value.
func (e *Engine) Run(ctx context.Context, req Request) (*Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	table, err := e.store.GetTable(ctx, req.TableID)
	if err != nil {
		return nil, err
	}
	if req.SortOrder != OrderDesc {
		req.SortOrder = OrderAsc
	}
	if req.SortBy == "" || !table.Columns.Has(req.SortBy) {
		req.SortBy = SortRowNumber
	}

	page := &Page{Table: table, Rows: []store.Row{}, SortBy: req.SortBy, SortOrder: req.SortOrder, Filter: req.Filter}
	if req.SortBy == SortRowNumber {
		total, err := e.store.CountRows(ctx, req.TableID, req.Filter)
		if err != nil {
			return nil, fmt.Errorf("count rows: %w", err)
		}
		page.Pagination = NewPagination(total, req.PageSize, req.Page)
		if page.Pagination.StartIndex == 0 {
			return page, nil
		}
		page.Rows, err = e.store.PageRows(ctx, req.TableID, req.Filter, req.descending(), req.PageSize, page.Pagination.Offset())
		if err != nil {
			return nil, fmt.Errorf("page rows: %w", err)
		}
		return page, nil
	}

	rows, err := e.store.ListRows(ctx, req.TableID, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	SortRows(rows, req.SortBy, req.descending())
	page.Pagination = NewPagination(len(rows), req.PageSize, req.Page)
	if page.Pagination.StartIndex > 0 {
		page.Rows = rows[page.Pagination.StartIndex-1 : page.Pagination.EndIndex]
	}
	return page, nil
}

// SortRows orders rows by the text at column, treating missing and null as
// "". Equal values keep row_number order in both directions. Numbers compare
// as text.
func SortRows(rows []store.Row, column string, desc bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Fields.Text(column), rows[j].Fields.Text(column)
		if a == b {
			return rows[i].RowNumber < rows[j].RowNumber
		}
		if desc {
			return a > b
		}
		return a < b
	})
}
