package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"csvtosql/internal/cells"
	"csvtosql/internal/columns"
	"csvtosql/internal/config"
	"csvtosql/internal/ingest"
	"csvtosql/internal/query"
	"csvtosql/internal/session"
	"csvtosql/internal/store"
	"csvtosql/web"
)

type Server struct {
	cfg        config.Config
	logger     requestLogger
	store      store.Store
	sessions   *session.Manager
	uiHandler  *UIHandler
	apiHandler *APIHandler
}

type requestLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

func New(cfg config.Config, logger requestLogger, st store.Store, sessions *session.Manager, uiHandler *UIHandler, apiHandler *APIHandler) *Server {
	return &Server{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		sessions:   sessions,
		uiHandler:  uiHandler,
		apiHandler: apiHandler,
	}
}

// NewFromConfig wires every handler dependency around st.
func NewFromConfig(cfg config.Config, logger requestLogger, st store.Store) (*Server, error) {
	sessions, err := session.NewManager(cfg.SecretKeyBytes, cfg.SecureCookies)
	if err != nil {
		return nil, err
	}
	engine := query.NewEngine(st)
	uiHandler := NewUIHandler(st,
		ingest.NewImporter(st, logger, cfg.MaxUploadBytes),
		columns.NewManager(st),
		engine,
		cells.NewEditor(st, cfg.StrictCells),
		sessions,
		NewTemplateRenderer(),
		logger,
	)
	apiHandler := NewAPIHandler(st, engine, logger)
	return New(cfg, logger, st, sessions, uiHandler, apiHandler), nil
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddress,
		Handler:           s.Handler(),
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.cfg.HTTPAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// Handler builds the router. Uploads may be up to cfg.MaxUploadBytes plus
// room for the other form fields.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(RequestLogger(s.logger))

	r.Handle("/static/*", http.StripPrefix("/static/", web.StaticHandler()))

	r.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/health", HealthHandler{DB: s.store, Logger: s.logger})
		api.Get("/tables", s.apiHandler.ListTables)
		api.Get("/tables/{id}", s.apiHandler.GetTable)
		api.Get("/tables/{id}/rows", s.apiHandler.Rows)
	})

	r.Group(func(ui chi.Router) {
		ui.Use(middleware.RequestSize(s.cfg.MaxUploadBytes + 1<<20))
		ui.Use(s.sessions.Middleware)
		ui.Use(CSRFMiddleware)

		ui.Get("/", s.uiHandler.Home)
		ui.Post("/", s.uiHandler.Upload)

		ui.Get("/table/{id}/", s.uiHandler.ViewTable)
		ui.Get("/table/{id}/reload/", s.uiHandler.ReloadTable)
		ui.HandleFunc("/table/{id}/update-cell/", s.uiHandler.UpdateCell)

		ui.Get("/table/{id}/edit/", s.uiHandler.EditTable)
		ui.Post("/table/{id}/edit/", s.uiHandler.RenameTable)

		ui.Post("/table/{id}/columns/", s.uiHandler.AddColumn)
		ui.Get("/table/{id}/column/{column}/", s.uiHandler.ConfigureColumn)
		ui.Post("/table/{id}/column/{column}/", s.uiHandler.SaveColumn)
		ui.Post("/table/{id}/column/{column}/rename/", s.uiHandler.RenameColumn)

		ui.Get("/delete/{id}/", s.uiHandler.ConfirmDelete)
		ui.Post("/delete/{id}/", s.uiHandler.DeleteTable)
	})

	return r
}
