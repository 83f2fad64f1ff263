package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"csvtosql/internal/cells"
	"csvtosql/internal/columns"
	"csvtosql/internal/ingest"
	"csvtosql/internal/query"
	"csvtosql/internal/schema"
	"csvtosql/internal/session"
	"csvtosql/internal/store"
	"csvtosql/internal/validation"
)

type UIHandler struct {
	store    store.Store
	importer *ingest.Importer
	columns  *columns.Manager
	engine   *query.Engine
	editor   *cells.Editor
	sessions *session.Manager
	renderer *TemplateRenderer
	logger   requestLogger
}

func NewUIHandler(st store.Store, importer *ingest.Importer, cols *columns.Manager, engine *query.Engine, editor *cells.Editor, sessions *session.Manager, renderer *TemplateRenderer, logger requestLogger) *UIHandler {
	return &UIHandler{
		store:    st,
		importer: importer,
		columns:  cols,
		engine:   engine,
		editor:   editor,
		sessions: sessions,
		renderer: renderer,
		logger:   logger,
	}
}

type uploadForm struct {
	TableName string
}

type uploadPage struct {
	Tables []store.Table
	Form   uploadForm
	Errors map[string][]string
	Error  string
}

func (h *UIHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.renderUpload(w, r, http.StatusOK, uploadForm{}, nil, "")
}

func (h *UIHandler) Upload(w http.ResponseWriter, r *http.Request) {
	form := uploadForm{TableName: r.FormValue("table_name")}

	file, header, err := r.FormFile("csv_file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.renderUpload(w, r, http.StatusRequestEntityTooLarge, form, validation.New("csv_file", "File is too large."), "")
			return
		}
		h.renderUpload(w, r, http.StatusBadRequest, form, validation.New("csv_file", "Choose a CSV file to upload."), "")
		return
	}
	defer file.Close()

	if err := ingest.CheckFilename(header.Filename); err != nil {
		verr, _ := validation.As(err)
		h.renderUpload(w, r, http.StatusBadRequest, form, verr, "")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("read upload failed", "error", err)
		h.renderUpload(w, r, http.StatusBadRequest, form, nil, "Error processing CSV file: "+err.Error())
		return
	}

	table, err := h.importer.Import(r.Context(), form.TableName, header.Filename, data)
	if err != nil {
		h.uploadFailed(w, r, form, err)
		return
	}
	h.setFlash(w, r, "success", fmt.Sprintf("Table %q created with %d rows.", table.Name, table.RowCount))
	http.Redirect(w, r, tableURL(table.ID), http.StatusSeeOther)
}

func (h *UIHandler) uploadFailed(w http.ResponseWriter, r *http.Request, form uploadForm, err error) {
	var (
		decodeErr *ingest.DecodeError
		parseErr  *ingest.ParseError
	)
	if verr, ok := validation.As(err); ok {
		h.renderUpload(w, r, http.StatusBadRequest, form, verr, "")
		return
	}
	switch {
	case errors.Is(err, store.ErrTableNameExists):
		name := schema.NormalizeTableName(form.TableName)
		h.renderUpload(w, r, http.StatusBadRequest, form,
			validation.New("table_name", fmt.Sprintf("A table named %q already exists.", name)), "")
	case errors.As(err, &decodeErr), errors.As(err, &parseErr):
		h.renderUpload(w, r, http.StatusBadRequest, form, nil, "Error processing CSV file: "+err.Error())
	default:
		h.logger.Error("csv import failed", "error", err)
		h.renderUpload(w, r, http.StatusInternalServerError, form, nil, "Error processing CSV file: "+err.Error())
	}
}

func (h *UIHandler) renderUpload(w http.ResponseWriter, r *http.Request, status int, form uploadForm, errs *validation.Errors, message string) {
	tables, err := h.store.ListTables(r.Context())
	if err != nil {
		h.logger.Error("list tables failed", "error", err)
		h.renderError(w, r, http.StatusInternalServerError, "Failed to load tables.")
		return
	}
	data := h.baseData(w, r, "upload", "Upload CSV")
	data.Page = uploadPage{
		Tables: tables,
		Form:   form,
		Errors: errs.ByField(),
		Error:  message,
	}
	h.renderer.Render(w, status, data)
}

func (h *UIHandler) baseData(w http.ResponseWriter, r *http.Request, template, title string) UIData {
	data := UIData{
		Title:    title,
		Template: template,
		Path:     r.URL.Path,
	}
	if sess, ok := session.FromContext(r.Context()); ok {
		data.CSRFToken = sess.CSRFToken
	}
	data.Flash = h.sessions.PopFlash(w, r)
	return data
}

type errorPage struct {
	Status  int
	Message string
}

func (h *UIHandler) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	data := h.baseData(w, r, "error", "Error")
	data.Page = errorPage{
		Status:  status,
		Message: message,
	}
	h.renderer.Render(w, status, data)
}

func (h *UIHandler) setFlash(w http.ResponseWriter, r *http.Request, kind, message string) {
	if err := h.sessions.SetFlash(w, r, kind, message); err != nil {
		h.logger.Error("set flash failed", "error", err)
	}
}

func tableURL(id int64) string {
	return "/table/" + strconv.FormatInt(id, 10) + "/"
}
