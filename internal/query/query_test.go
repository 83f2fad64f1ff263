package query

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"csvtosql/internal/schema"
	"csvtosql/internal/store"
	"csvtosql/internal/store/storetest"
	"csvtosql/internal/validation"
)

func seedPeople(t *testing.T, st store.Store) *store.Table {
	t.Helper()
	table, err := st.ImportTable(context.Background(), store.NewTable{
		Name: "people",
		Columns: schema.Columns{
			{Name: "name", Spec: schema.NewColumnSpec(schema.TypeText)},
			{Name: "age", Spec: schema.NewColumnSpec(schema.TypeInteger)},
		},
	}, []schema.Fields{
		{{Name: "name", Value: schema.Ptr("Alice")}, {Name: "age", Value: schema.Ptr("30")}},
		{{Name: "name", Value: schema.Ptr("Bob")}, {Name: "age", Value: schema.Ptr("25")}},
		{{Name: "name", Value: nil}, {Name: "age", Value: schema.Ptr("40")}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return table
}

func seedNumbers(t *testing.T, st store.Store, n int) *store.Table {
	t.Helper()
	rows := make([]schema.Fields, n)
	for i := range rows {
		rows[i] = schema.Fields{
			{Name: "n", Value: schema.Ptr(fmt.Sprint(i + 1))},
			{Name: "parity", Value: schema.Ptr([]string{"even", "odd"}[(i+1)%2])},
		}
	}
	table, err := st.ImportTable(context.Background(), store.NewTable{
		Name: "numbers",
		Columns: schema.Columns{
			{Name: "n", Spec: schema.NewColumnSpec(schema.TypeInteger)},
			{Name: "parity", Spec: schema.NewColumnSpec(schema.TypeText)},
		},
	}, rows)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return table
}

func rowNumbers(rows []store.Row) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.RowNumber
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNameAgeScenario(t *testing.T) {
	st := storetest.New(t)
	table := seedPeople(t, st)

	page, err := NewEngine(st).Run(context.Background(), Request{
		TableID: table.ID, SortBy: "age", SortOrder: OrderDesc, PageSize: 2, Page: 1,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(page.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page.Rows))
	}
	if page.Rows[0].Fields.Text("age") != "40" || page.Rows[1].Fields.Text("age") != "30" {
		t.Fatalf("unexpected order %s, %s", page.Rows[0].Fields.Encode(), page.Rows[1].Fields.Encode())
	}
	p := page.Pagination
	if p.TotalRecords != 3 || p.TotalPages != 2 || p.CurrentPage != 1 || !p.HasNext || p.HasPrevious || p.NextPageNumber != 2 {
		t.Fatalf("unexpected pagination %+v", p)
	}
}

func TestRowNumberOrdering(t *testing.T) {
	st := storetest.New(t)
	table := seedNumbers(t, st, 7)
	engine := NewEngine(st)

	asc, err := engine.Run(context.Background(), Request{TableID: table.ID, SortBy: SortRowNumber, SortOrder: OrderAsc, PageSize: 100, Page: 1})
	if err != nil {
		t.Fatalf("asc: %v", err)
	}
	if got := rowNumbers(asc.Rows); !equalInts(got, []int{1, 2, 3, 4, 5, 6, 7}) {
		t.Fatalf("asc order %v", got)
	}

	desc, err := engine.Run(context.Background(), Request{TableID: table.ID, SortBy: SortRowNumber, SortOrder: OrderDesc, PageSize: 100, Page: 1})
	if err != nil {
		t.Fatalf("desc: %v", err)
	}
	if got := rowNumbers(desc.Rows); !equalInts(got, []int{7, 6, 5, 4, 3, 2, 1}) {
		t.Fatalf("desc order %v", got)
	}
}

func TestUnknownSortColumnFallsBack(t *testing.T) {
	st := storetest.New(t)
	table := seedNumbers(t, st, 3)

	page, err := NewEngine(st).Run(context.Background(), Request{TableID: table.ID, SortBy: "nope", SortOrder: OrderDesc, PageSize: 10, Page: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if page.SortBy != SortRowNumber {
		t.Fatalf("expected fallback to row_number, got %q", page.SortBy)
	}
	if got := rowNumbers(page.Rows); !equalInts(got, []int{3, 2, 1}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestColumnSortIsStable(t *testing.T) {
	st := storetest.New(t)
	table := seedNumbers(t, st, 6)
	engine := NewEngine(st)

	for _, order := range []string{OrderAsc, OrderDesc} {
		page, err := engine.Run(context.Background(), Request{TableID: table.ID, SortBy: "parity", SortOrder: order, PageSize: 10, Page: 1})
		if err != nil {
			t.Fatalf("run %s: %v", order, err)
		}
		want := []int{2, 4, 6, 1, 3, 5}
		if order == OrderDesc {
			want = []int{1, 3, 5, 2, 4, 6}
		}
		if got := rowNumbers(page.Rows); !equalInts(got, want) {
			t.Fatalf("%s: got %v want %v", order, got, want)
		}
	}
}

func TestNumbersCompareAsText(t *testing.T) {
	st := storetest.New(t)
	table := seedNumbers(t, st, 10)

	page, err := NewEngine(st).Run(context.Background(), Request{TableID: table.ID, SortBy: "n", SortOrder: OrderAsc, PageSize: 3, Page: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := rowNumbers(page.Rows); !equalInts(got, []int{1, 10, 2}) {
		t.Fatalf("unexpected text order %v", got)
	}
}

func TestFilterIsMonotone(t *testing.T) {
	st := storetest.New(t)
	table := seedNumbers(t, st, 12)
	engine := NewEngine(st)

	all, err := engine.Run(context.Background(), Request{TableID: table.ID, PageSize: 100, Page: 1})
	if err != nil {
		t.Fatalf("unfiltered: %v", err)
	}
	if all.Pagination.TotalRecords != 12 {
		t.Fatalf("empty filter should match every row, got %d", all.Pagination.TotalRecords)
	}
	inAll := make(map[int]bool)
	for _, r := range all.Rows {
		inAll[r.RowNumber] = true
	}

	for _, filter := range []string{"odd", "1", `"n":"1"`, "ODD", "zzz"} {
		for _, sortBy := range []string{SortRowNumber, "parity"} {
			page, err := engine.Run(context.Background(), Request{TableID: table.ID, Filter: filter, SortBy: sortBy, PageSize: 100, Page: 1})
			if err != nil {
				t.Fatalf("filter %q: %v", filter, err)
			}
			if page.Pagination.TotalRecords > all.Pagination.TotalRecords {
				t.Fatalf("filter %q grew the result", filter)
			}
			for _, r := range page.Rows {
				if !inAll[r.RowNumber] {
					t.Fatalf("filter %q returned unknown row %d", filter, r.RowNumber)
				}
			}
		}
	}

	odd, err := engine.Run(context.Background(), Request{TableID: table.ID, Filter: "odd", PageSize: 100, Page: 1})
	if err != nil {
		t.Fatalf("odd: %v", err)
	}
	if odd.Pagination.TotalRecords != 6 {
		t.Fatalf("expected 6 odd rows, got %d", odd.Pagination.TotalRecords)
	}
}

func TestPagination(t *testing.T) {
	st := storetest.New(t)
	table := seedNumbers(t, st, 23)
	engine := NewEngine(st)

	for _, size := range PageSizeOptions {
		for _, sortBy := range []string{SortRowNumber, "parity"} {
			want := (23 + size - 1) / size
			seen := 0
			for page := 1; page <= want+1; page++ {
				res, err := engine.Run(context.Background(), Request{TableID: table.ID, SortBy: sortBy, PageSize: size, Page: page})
				if err != nil {
					t.Fatalf("size %d page %d: %v", size, page, err)
				}
				if res.Pagination.TotalPages != want {
					t.Fatalf("size %d: total pages %d, want %d", size, res.Pagination.TotalPages, want)
				}
				if page > want && len(res.Rows) != 0 {
					t.Fatalf("page beyond the end returned %d rows", len(res.Rows))
				}
				seen += len(res.Rows)
			}
			if seen != 23 {
				t.Fatalf("size %d sort %s: paged over %d rows", size, sortBy, seen)
			}
		}
	}
}

func TestHugePageIsEmpty(t *testing.T) {
	st := storetest.New(t)
	table := seedPeople(t, st)
	engine := NewEngine(st)

	for _, sortBy := range []string{SortRowNumber, "name"} {
		res, err := engine.Run(context.Background(), Request{TableID: table.ID, SortBy: sortBy, PageSize: 4, Page: 1<<62 + 1})
		if err != nil {
			t.Fatalf("sort %s: %v", sortBy, err)
		}
		if len(res.Rows) != 0 {
			t.Fatalf("sort %s: expected no rows, got %v", sortBy, rowNumbers(res.Rows))
		}
		p := res.Pagination
		if p.TotalPages != 1 || p.TotalRecords != 3 || p.StartIndex != 0 || p.EndIndex != 0 || p.HasNext {
			t.Fatalf("sort %s: unexpected pagination %+v", sortBy, p)
		}
	}

	p := NewPagination(3, 4, 1<<62+1)
	if p.Offset() != 3 {
		t.Fatalf("offset past the end should be the record count, got %d", p.Offset())
	}
	big := NewPagination(3, 1<<62, 1)
	if big.TotalPages != 1 || big.StartIndex != 1 || big.EndIndex != 3 {
		t.Fatalf("unexpected pagination for a huge page size %+v", big)
	}
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(23, 10, 3)
	if p.TotalPages != 3 || p.StartIndex != 21 || p.EndIndex != 23 || p.HasNext || !p.HasPrevious || p.PreviousPageNumber != 2 {
		t.Fatalf("unexpected pagination %+v", p)
	}
	empty := NewPagination(0, 10, 1)
	if empty.TotalPages != 0 || empty.StartIndex != 0 || empty.HasNext || empty.HasPrevious {
		t.Fatalf("unexpected empty pagination %+v", empty)
	}
	if pages := NewPagination(5, 2, 1).Pages(); !equalInts(pages, []int{1, 2, 3}) {
		t.Fatalf("unexpected pages %v", pages)
	}
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest(7, url.Values{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	want := Request{TableID: 7, SortBy: SortRowNumber, SortOrder: OrderAsc, PageSize: 10, Page: 1}
	if req != want {
		t.Fatalf("got %+v want %+v", req, want)
	}

	req, err = ParseRequest(7, url.Values{"filter": {"Al"}, "sort": {"age"}, "order": {"DESC"}, "page_size": {"25"}, "page": {"3"}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Filter != "Al" || req.SortBy != "age" || req.SortOrder != OrderDesc || req.PageSize != 25 || req.Page != 3 {
		t.Fatalf("unexpected request %+v", req)
	}

	cases := []struct {
		values url.Values
		field  string
	}{
		{url.Values{"page_size": {"0"}}, "page_size"},
		{url.Values{"page_size": {"-5"}}, "page_size"},
		{url.Values{"page_size": {"ten"}}, "page_size"},
		{url.Values{"page": {"0"}}, "page"},
		{url.Values{"page": {"x"}}, "page"},
	}
	for _, tc := range cases {
		_, err := ParseRequest(7, tc.values)
		verr, ok := validation.As(err)
		if !ok || !verr.Has(tc.field) {
			t.Fatalf("%v: expected error on %s, got %v", tc.values, tc.field, err)
		}
	}
}

func TestRunRejectsBadRequestAndUnknownTable(t *testing.T) {
	st := storetest.New(t)
	engine := NewEngine(st)

	if _, err := engine.Run(context.Background(), Request{TableID: 1, PageSize: 0, Page: 1}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := engine.Run(context.Background(), Request{TableID: 999, PageSize: 10, Page: 1}); !errors.Is(err, store.ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}
