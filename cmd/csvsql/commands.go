package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"csvtosql/internal/config"
	httpserver "csvtosql/internal/http"
	"csvtosql/internal/ingest"
	"csvtosql/internal/logging"
	"csvtosql/internal/query"
	"csvtosql/internal/store"
)

type cli struct {
	out      io.Writer
	dsn      string
	logLevel string
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "csvsql",
		Short:         "Manage uploaded CSV tables",
		Long:          `Import CSV files into the csv_tables store, inspect and edit them, or run the web server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			if c.dsn == "" {
				c.dsn = os.Getenv("CSVSQL_DB_DSN")
			}
			if c.logLevel == "" {
				c.logLevel = os.Getenv("CSVSQL_LOG_LEVEL")
			}
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.dsn, "dsn", "", "database DSN (default: $CSVSQL_DB_DSN)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		c.migrateCmd(),
		c.importCmd(),
		c.tablesCmd(),
		c.rowsCmd(),
		c.renameCmd(),
		c.deleteCmd(),
		c.serveCmd(),
	)
	return root
}

func (c *cli) logger() *slog.Logger {
	level := c.logLevel
	if level == "" {
		level = "warn"
	}
	return logging.New(os.Stderr, level, "text")
}

// open connects and migrates, so every command works against a fresh DSN.
func (c *cli) open(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	if c.dsn == "" {
		return nil, errors.New("no database: pass --dsn or set CSVSQL_DB_DSN")
	}
	st, err := store.Open(ctx, c.dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return st, nil
}

func (c *cli) withStore(fn func(ctx context.Context, st store.Store, logger *slog.Logger, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		logger := c.logger()
		st, err := c.open(ctx, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(ctx, st, logger, args)
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: c.withStore(func(ctx context.Context, st store.Store, logger *slog.Logger, args []string) error {
			fmt.Fprintln(c.out, "Migrations applied.")
			return nil
		}),
	}
}

func (c *cli) importCmd() *cobra.Command {
	var name string
	var maxBytes int64
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a CSV file as a new table",
		Args:  cobra.ExactArgs(1),
		RunE: c.withStore(func(ctx context.Context, st store.Store, logger *slog.Logger, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			table, err := ingest.NewImporter(st, logger, maxBytes).Import(ctx, name, filepath.Base(path), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Table %q created with %d rows (id %d).\n", table.Name, table.RowCount, table.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "table name (default: file name without extension)")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "reject files larger than this many bytes (default: unlimited)")
	return cmd
}

func (c *cli) tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables, newest first",
		Args:  cobra.NoArgs,
		RunE: c.withStore(func(ctx context.Context, st store.Store, logger *slog.Logger, args []string) error {
			tables, err := st.ListTables(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tROWS\tCOLUMNS\tSOURCE\tCREATED")
			for _, t := range tables {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n", t.ID, t.Name, t.RowCount,
					strings.Join(t.Columns.Names(), ","), t.SourceFilename, t.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		}),
	}
}

func (c *cli) rowsCmd() *cobra.Command {
	var (
		filter   string
		sortBy   string
		order    string
		pageSize int
		page     int
	)
	cmd := &cobra.Command{
		Use:   "rows <table-id>",
		Short: "Print one page of a table's rows",
		Args:  cobra.ExactArgs(1),
		RunE: c.withStore(func(ctx context.Context, st store.Store, logger *slog.Logger, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req := query.Request{
				TableID:   id,
				Filter:    filter,
				SortBy:    sortBy,
				SortOrder: strings.ToLower(order),
				PageSize:  pageSize,
				Page:      page,
			}
			if req.SortOrder != query.OrderDesc {
				req.SortOrder = query.OrderAsc
			}
			if err := req.Validate(); err != nil {
				return err
			}
			result, err := query.NewEngine(st).Run(ctx, req)
			if err != nil {
				return err
			}

			columns := result.Table.Columns.Names()
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\t"+strings.ToUpper(strings.Join(columns, "\t")))
			for _, row := range result.Rows {
				cells := make([]string, len(columns))
				for i, col := range columns {
					if v, _ := row.Fields.Get(col); v != nil {
						cells[i] = *v
					} else {
						cells[i] = "NULL"
					}
				}
				fmt.Fprintf(tw, "%d\t%s\n", row.RowNumber, strings.Join(cells, "\t"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			p := result.Pagination
			fmt.Fprintf(c.out, "page %d of %d, %d matching rows\n", p.CurrentPage, p.TotalPages, p.TotalRecords)
			return nil
		}),
	}
	cmd.Flags().StringVar(&filter, "filter", "", "case-sensitive substring to match")
	cmd.Flags().StringVar(&sortBy, "sort", query.SortRowNumber, "column to sort by")
	cmd.Flags().StringVar(&order, "order", query.OrderAsc, "asc or desc")
	cmd.Flags().IntVar(&pageSize, "page-size", query.DefaultPageSize, "rows per page")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

func (c *cli) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <table-id> <new-name>",
		Short: "Rename a table",
		Args:  cobra.ExactArgs(2),
		RunE: c.withStore(func(ctx context.Context, st store.Store, logger *slog.Logger, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			table, err := ingest.NewImporter(st, logger, 0).Rename(ctx, id, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Table %d renamed to %q.\n", table.ID, table.Name)
			return nil
		}),
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <table-id>",
		Short: "Delete a table and all of its rows",
		Args:  cobra.ExactArgs(1),
		RunE: c.withStore(func(ctx context.Context, st store.Store, logger *slog.Logger, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := st.DeleteTable(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Table %d deleted.\n", id)
			return nil
		}),
	}
}

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			cfg.DatabaseURL = c.dsn
			if addr != "" {
				cfg.HTTPAddress = addr
			}
			if c.logLevel != "" {
				cfg.LogLevel = c.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
			st, err := c.open(ctx, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			server, err := httpserver.NewFromConfig(cfg, logger, st)
			if err != nil {
				return err
			}
			return server.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: $CSVSQL_HTTP_ADDR or :8080)")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid table id %q", raw)
	}
	return id, nil
}
