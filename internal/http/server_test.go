package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"csvtosql/internal/columns"
	"csvtosql/internal/config"
	"csvtosql/internal/query"
	"csvtosql/internal/session"
	"csvtosql/internal/store"
	"csvtosql/internal/store/storetest"
)

const peopleCSV = "Name,Age\nAlice,30\nBob,25\n"

type testClient struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
	store  store.Store
	csrf   string
}

func newTestClient(t *testing.T, strict bool) *testClient {
	t.Helper()
	st := storetest.New(t)
	logger := storetest.Logger()
	cfg := config.Config{
		MaxUploadBytes: 1 << 20,
		SecretKeyBytes: []byte(strings.Repeat("k", 32)),
		StrictCells:    strict,
	}
	server, err := NewFromConfig(cfg, logger, st)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	c := &testClient{
		t:   t,
		srv: srv,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		store: st,
	}

	resp := c.get("/")
	resp.Body.Close()
	u, _ := url.Parse(srv.URL)
	for _, cookie := range jar.Cookies(u) {
		if cookie.Name == session.CSRFCookieName {
			c.csrf = cookie.Value
		}
	}
	if c.csrf == "" {
		t.Fatal("no csrf cookie issued")
	}
	return c
}

func (c *testClient) do(req *http.Request) *http.Response {
	c.t.Helper()
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	return resp
}

func (c *testClient) get(path string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.srv.URL+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	return c.do(req)
}

func (c *testClient) postForm(path string, form url.Values) *http.Response {
	c.t.Helper()
	if form.Get("csrf_token") == "" {
		form.Set("csrf_token", c.csrf)
	}
	req, err := http.NewRequest(http.MethodPost, c.srv.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *testClient) postJSON(path string, body any) *http.Response {
	c.t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", c.csrf)
	return c.do(req)
}

func (c *testClient) upload(tableName, filename, content, csrf string) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("csrf_token", csrf)
	_ = mw.WriteField("table_name", tableName)
	fw, err := mw.CreateFormFile("csv_file", filename)
	if err != nil {
		c.t.Fatalf("form file: %v", err)
	}
	_, _ = io.WriteString(fw, content)
	if err := mw.Close(); err != nil {
		c.t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.srv.URL+"/", &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

// uploadPeople imports peopleCSV as "people" and returns its page URL.
func (c *testClient) uploadPeople() string {
	c.t.Helper()
	resp := c.upload("people", "people.csv", peopleCSV, c.csrf)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		c.t.Fatalf("upload status %d: %s", resp.StatusCode, readBody(c.t, resp))
	}
	return resp.Header.Get("Location")
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func expectStatus(t *testing.T, resp *http.Response, want int) string {
	t.Helper()
	body := readBody(t, resp)
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
	return body
}

func decodeJSON(t *testing.T, body string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(body), v); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
}

type reloadPayload struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	TableData []struct {
		ID        string             `json:"id"`
		RowNumber int                `json:"row_number"`
		Data      map[string]*string `json:"data"`
	} `json:"table_data"`
	TotalRecords int `json:"total_records"`
	TotalPages   int `json:"total_pages"`
	CurrentPage  int `json:"current_page"`
	PageSize     int `json:"page_size"`
}

func (c *testClient) reload(tablePath, rawQuery string) reloadPayload {
	c.t.Helper()
	body := expectStatus(c.t, c.get(tablePath+"reload/?"+rawQuery), http.StatusOK)
	var payload reloadPayload
	decodeJSON(c.t, body, &payload)
	return payload
}

func TestUploadCreatesTableAndRedirects(t *testing.T) {
	c := newTestClient(t, false)
	location := c.uploadPeople()
	if location != "/table/1/" {
		t.Fatalf("unexpected redirect %q", location)
	}

	body := expectStatus(t, c.get(location), http.StatusOK)
	for _, want := range []string{"people", "Alice", "Bob", "created with 2 rows"} {
		if !strings.Contains(body, want) {
			t.Fatalf("table page missing %q", want)
		}
	}

	// the flash is shown once
	body = expectStatus(t, c.get(location), http.StatusOK)
	if strings.Contains(body, "created with 2 rows") {
		t.Fatal("flash shown twice")
	}

	home := expectStatus(t, c.get("/"), http.StatusOK)
	if !strings.Contains(home, `href="/table/1/"`) {
		t.Fatal("home page does not list the table")
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	c := newTestClient(t, false)
	c.uploadPeople()

	cases := []struct {
		name     string
		table    string
		filename string
		content  string
		status   int
		want     string
	}{
		{"not a csv", "other", "people.txt", peopleCSV, http.StatusBadRequest, "File must be a CSV file."},
		{"missing name", "", "people.csv", peopleCSV, http.StatusBadRequest, "Table name is required."},
		{"duplicate name", "people", "people.csv", peopleCSV, http.StatusBadRequest, "already exists"},
		{"ragged row", "ragged", "ragged.csv", "a,b\n1,2,3\n", http.StatusBadRequest, "Error processing CSV file"},
		{"empty file", "empty", "empty.csv", "", http.StatusBadRequest, "Error processing CSV file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := expectStatus(t, c.upload(tc.table, tc.filename, tc.content, c.csrf), tc.status)
			if !strings.Contains(body, tc.want) {
				t.Fatalf("body missing %q", tc.want)
			}
		})
	}

	tables, err := c.store.ListTables(context.Background())
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("failed uploads left %d tables", len(tables))
	}
}

func TestCSRFIsRequired(t *testing.T) {
	c := newTestClient(t, false)
	expectStatus(t, c.upload("people", "people.csv", peopleCSV, "forged"), http.StatusForbidden)

	c.uploadPeople()
	expectStatus(t, c.postForm("/delete/1/", url.Values{"csrf_token": {"forged"}}), http.StatusForbidden)

	req, _ := http.NewRequest(http.MethodPost, c.srv.URL+"/table/1/update-cell/", strings.NewReader(`{}`))
	expectStatus(t, c.do(req), http.StatusForbidden)
}

func TestViewTableSortsFiltersAndPaginates(t *testing.T) {
	c := newTestClient(t, false)
	location := c.uploadPeople()

	body := expectStatus(t, c.get(location+"?sort=age&order=desc"), http.StatusOK)
	if strings.Index(body, "Alice") > strings.Index(body, "Bob") {
		t.Fatal("expected Alice (30) before Bob (25) in descending age order")
	}

	body = expectStatus(t, c.get(location+"?filter=Bob"), http.StatusOK)
	if strings.Contains(body, "Alice") || !strings.Contains(body, "Bob") {
		t.Fatal("filter did not narrow rows")
	}

	expectStatus(t, c.get(location+"?page_size=0"), http.StatusBadRequest)
	expectStatus(t, c.get("/table/99/"), http.StatusNotFound)
}

func TestReloadTable(t *testing.T) {
	c := newTestClient(t, false)
	location := c.uploadPeople()

	payload := c.reload(location, "sort=age&order=desc&page_size=1&page=1")
	if !payload.Success || payload.TotalRecords != 2 || payload.TotalPages != 2 || payload.PageSize != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.TableData) != 1 || *payload.TableData[0].Data["name"] != "Alice" {
		t.Fatalf("unexpected rows %+v", payload.TableData)
	}

	payload = c.reload(location, "page=5")
	if !payload.Success || len(payload.TableData) != 0 || payload.CurrentPage != 5 {
		t.Fatalf("expected empty page beyond the end, got %+v", payload)
	}

	body := expectStatus(t, c.get("/table/42/reload/"), http.StatusNotFound)
	if !strings.Contains(body, `"success":false`) {
		t.Fatalf("unexpected body %s", body)
	}
	expectStatus(t, c.get(location+"reload/?page=x"), http.StatusBadRequest)
}

type updatePayload struct {
	Success  bool    `json:"success"`
	Message  string  `json:"message"`
	RowID    string  `json:"row_id"`
	Column   string  `json:"column"`
	NewValue *string `json:"new_value"`
}

func TestUpdateCell(t *testing.T) {
	c := newTestClient(t, false)
	location := c.uploadPeople()
	rows := c.reload(location, "").TableData
	bob := rows[1].ID

	body := expectStatus(t, c.postJSON(location+"update-cell/", map[string]any{
		"row_id": bob, "column": "name", "value": "Robert",
	}), http.StatusOK)
	var payload updatePayload
	decodeJSON(t, body, &payload)
	if !payload.Success || payload.Message != "Cell updated successfully." || payload.RowID != bob ||
		payload.Column != "name" || payload.NewValue == nil || *payload.NewValue != "Robert" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	after := c.reload(location, "").TableData
	if *after[1].Data["name"] != "Robert" || *after[1].Data["age"] != "25" || *after[0].Data["name"] != "Alice" {
		t.Fatalf("unexpected rows after update %+v", after)
	}

	body = expectStatus(t, c.postJSON(location+"update-cell/", map[string]any{
		"row_id": bob, "column": "age", "value": nil,
	}), http.StatusOK)
	decodeJSON(t, body, &payload)
	if payload.NewValue != nil {
		t.Fatalf("expected null value, got %q", *payload.NewValue)
	}

	body = expectStatus(t, c.postJSON(location+"update-cell/", map[string]any{
		"row_id": bob, "column": "age", "value": 26,
	}), http.StatusOK)
	decodeJSON(t, body, &payload)
	if *payload.NewValue != "26" {
		t.Fatalf("expected number kept as text, got %q", *payload.NewValue)
	}
}

func TestUpdateCellErrors(t *testing.T) {
	c := newTestClient(t, false)
	location := c.uploadPeople()
	alice := c.reload(location, "").TableData[0].ID

	cases := []struct {
		name   string
		path   string
		body   map[string]any
		status int
	}{
		{"bad row id", location, map[string]any{"row_id": "nope", "column": "name", "value": "x"}, http.StatusBadRequest},
		{"unknown row", location, map[string]any{"row_id": "6f1c1f6e-1c39-4f4e-9a39-0e7b8f9a2d11", "column": "name", "value": "x"}, http.StatusNotFound},
		{"unknown table", "/table/77/", map[string]any{"row_id": alice, "column": "name", "value": "x"}, http.StatusNotFound},
		{"missing column", location, map[string]any{"row_id": alice, "value": "x"}, http.StatusBadRequest},
		{"object value", location, map[string]any{"row_id": alice, "column": "name", "value": map[string]any{"a": 1}}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := expectStatus(t, c.postJSON(tc.path+"update-cell/", tc.body), tc.status)
			if !strings.Contains(body, `"success":false`) {
				t.Fatalf("unexpected body %s", body)
			}
		})
	}

	expectStatus(t, c.get(location+"update-cell/"), http.StatusMethodNotAllowed)
}

func TestStrictUpdateCellRejectsWrongType(t *testing.T) {
	c := newTestClient(t, true)
	location := c.uploadPeople()
	alice := c.reload(location, "").TableData[0].ID

	body := expectStatus(t, c.postJSON(location+"update-cell/", map[string]any{
		"row_id": alice, "column": "age", "value": "thirty",
	}), http.StatusBadRequest)
	if !strings.Contains(body, "integer") {
		t.Fatalf("unexpected body %s", body)
	}
	expectStatus(t, c.postJSON(location+"update-cell/", map[string]any{
		"row_id": alice, "column": "age", "value": "31",
	}), http.StatusOK)
}

func TestDeleteTable(t *testing.T) {
	c := newTestClient(t, false)
	c.uploadPeople()

	body := expectStatus(t, c.get("/delete/1/"), http.StatusOK)
	if !strings.Contains(body, "Delete people?") {
		t.Fatal("confirmation page missing table name")
	}

	resp := c.postForm("/delete/1/", url.Values{})
	expectStatus(t, resp, http.StatusSeeOther)
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Fatalf("unexpected redirect %q", loc)
	}
	expectStatus(t, c.get("/table/1/"), http.StatusNotFound)
	expectStatus(t, c.postForm("/delete/1/", url.Values{}), http.StatusNotFound)
}

func TestRenameTable(t *testing.T) {
	c := newTestClient(t, false)
	location := c.uploadPeople()
	if resp := c.upload("crew", "crew.csv", "id\n1\n", c.csrf); resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("second upload failed: %s", readBody(t, resp))
	}

	expectStatus(t, c.get(location+"edit/"), http.StatusOK)

	body := expectStatus(t, c.postForm(location+"edit/", url.Values{"table_name": {"crew"}}), http.StatusBadRequest)
	if !strings.Contains(body, "already exists") {
		t.Fatal("expected duplicate name error")
	}
	expectStatus(t, c.postForm(location+"edit/", url.Values{"table_name": {"  "}}), http.StatusBadRequest)

	resp := c.postForm(location+"edit/", url.Values{"table_name": {"staff list"}})
	expectStatus(t, resp, http.StatusSeeOther)

	table, err := c.store.GetTable(context.Background(), 1)
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if table.Name != "staff_list" {
		t.Fatalf("expected staff_list, got %q", table.Name)
	}
}

func TestConfigureColumn(t *testing.T) {
	c := newTestClient(t, false)
	location := c.uploadPeople()

	body := expectStatus(t, c.get(location+"column/age/"), http.StatusOK)
	if !strings.Contains(body, `<option value="INTEGER" selected>`) {
		t.Fatal("inferred type not preselected")
	}
	expectStatus(t, c.get(location+"column/missing/"), http.StatusNotFound)

	body = expectStatus(t, c.postForm(location+"column/age/", url.Values{
		"data_type": {"INTEGER"}, "nullable": {"on"}, "primary_key": {"on"}, "auto_increment": {"on"},
	}), http.StatusBadRequest)
	if !strings.Contains(body, "Primary key columns cannot be nullable.") {
		t.Fatal("expected nullable primary key error")
	}

	expectStatus(t, c.postForm(location+"column/age/", url.Values{
		"data_type": {"INTEGER"}, "primary_key": {"on"}, "auto_increment": {"on"},
	}), http.StatusSeeOther)
	spec, err := columns.NewManager(c.store).Properties(context.Background(), 1, "age")
	if err != nil {
		t.Fatalf("properties: %v", err)
	}
	if !spec.PrimaryKey || !spec.AutoIncrement || spec.Nullable {
		t.Fatalf("unexpected spec %+v", spec)
	}

	body = expectStatus(t, c.postForm(location+"column/name/", url.Values{
		"data_type": {"TEXT"}, "nullable": {"on"}, "max_length": {"ten"},
	}), http.StatusBadRequest)
	if !strings.Contains(body, "Max length must be a positive integer.") {
		t.Fatal("expected max length error")
	}

	body = expectStatus(t, c.postForm(location+"column/age/", url.Values{
		"data_type": {"INTEGER"}, "primary_key": {"on"}, "nullable": {"on"}, "max_length": {"ten"},
	}), http.StatusBadRequest)
	for _, msg := range []string{"Max length must be a positive integer.", "Primary key columns cannot be nullable."} {
		if !strings.Contains(body, msg) {
			t.Fatalf("expected %q alongside the max length error", msg)
		}
	}
}

func TestAddAndRenameColumn(t *testing.T) {
	c := newTestClient(t, false)
	location := c.uploadPeople()

	expectStatus(t, c.postForm(location+"columns/", url.Values{"name": {"Nick Name"}, "data_type": {"TEXT"}, "nullable": {"on"}}), http.StatusSeeOther)
	resp := c.postForm(location+"columns/", url.Values{"name": {"age"}, "data_type": {"TEXT"}, "nullable": {"on"}})
	expectStatus(t, resp, http.StatusSeeOther)
	if loc := resp.Header.Get("Location"); loc != location+"edit/" {
		t.Fatalf("expected redirect back to edit page, got %q", loc)
	}

	resp = c.postForm(location+"columns/", url.Values{
		"name": {""}, "data_type": {"INTEGER"}, "primary_key": {"on"}, "nullable": {"on"}, "max_length": {"ten"},
	})
	expectStatus(t, resp, http.StatusSeeOther)
	body := expectStatus(t, c.get(location+"edit/"), http.StatusOK)
	for _, msg := range []string{"Max length must be a positive integer.", "Primary key columns cannot be nullable.", "Column name is required."} {
		if !strings.Contains(body, msg) {
			t.Fatalf("add column flash is missing %q", msg)
		}
	}

	expectStatus(t, c.postForm(location+"column/age/rename/", url.Values{"new_name": {"Years"}}), http.StatusSeeOther)
	expectStatus(t, c.postForm(location+"column/name/rename/", url.Values{"new_name": {"years"}}), http.StatusBadRequest)

	table, err := c.store.GetTable(context.Background(), 1)
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if got := strings.Join(table.Columns.Names(), ","); got != "name,years,nick_name" {
		t.Fatalf("unexpected columns %s", got)
	}
	rows := c.reload(location, "").TableData
	if *rows[0].Data["years"] != "30" {
		t.Fatalf("row values not moved: %+v", rows[0].Data)
	}
}

func TestAPI(t *testing.T) {
	c := newTestClient(t, false)
	c.uploadPeople()

	body := expectStatus(t, c.get("/api/v1/health"), http.StatusOK)
	if !strings.Contains(body, `"status":"ok"`) {
		t.Fatalf("unexpected health %s", body)
	}

	var list struct {
		Tables []store.Table `json:"tables"`
	}
	decodeJSON(t, expectStatus(t, c.get("/api/v1/tables"), http.StatusOK), &list)
	if len(list.Tables) != 1 || list.Tables[0].Name != "people" || list.Tables[0].RowCount != 2 {
		t.Fatalf("unexpected tables %+v", list.Tables)
	}

	var table store.Table
	decodeJSON(t, expectStatus(t, c.get("/api/v1/tables/1"), http.StatusOK), &table)
	if got := strings.Join(table.Columns.Names(), ","); got != "name,age" {
		t.Fatalf("unexpected columns %s", got)
	}
	expectStatus(t, c.get("/api/v1/tables/9"), http.StatusNotFound)
	expectStatus(t, c.get("/api/v1/tables/abc"), http.StatusBadRequest)

	var page query.Page
	decodeJSON(t, expectStatus(t, c.get("/api/v1/tables/1/rows?filter=Alice"), http.StatusOK), &page)
	if len(page.Rows) != 1 || page.Pagination.TotalRecords != 1 || page.Rows[0].Fields.Text("age") != "30" {
		t.Fatalf("unexpected page %+v", page)
	}
	expectStatus(t, c.get("/api/v1/tables/1/rows?order=up&page=0"), http.StatusBadRequest)
}
