package httpserver

import (
	"errors"
	"net/http"

	"csvtosql/internal/query"
	"csvtosql/internal/store"
)

// APIHandler serves read-only JSON views of the stored tables.
type APIHandler struct {
	store  store.Store
	engine *query.Engine
	logger requestLogger
}

func NewAPIHandler(st store.Store, engine *query.Engine, logger requestLogger) *APIHandler {
	return &APIHandler{
		store:  st,
		engine: engine,
		logger: logger,
	}
}

func (h *APIHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.store.ListTables(r.Context())
	if err != nil {
		h.logger.Error("list tables failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list tables")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (h *APIHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	id, ok := tableIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid table id")
		return
	}
	table, err := h.store.GetTable(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrTableNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "table not found")
			return
		}
		h.logger.Error("get table failed", "table_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to load table")
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// Rows accepts the same query parameters as the table page.
func (h *APIHandler) Rows(w http.ResponseWriter, r *http.Request) {
	id, ok := tableIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid table id")
		return
	}
	req, err := query.ParseRequest(id, r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	page, err := h.engine.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrTableNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "table not found")
			return
		}
		h.logger.Error("query rows failed", "table_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "query_failed", "failed to query rows")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
