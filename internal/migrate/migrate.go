package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Target is a database that can record and apply schema migrations.
type Target interface {
	EnsureVersionTable(ctx context.Context) error
	AppliedVersions(ctx context.Context) (map[int64]bool, error)
	// ApplyMigration runs body and records version in one step.
	ApplyMigration(ctx context.Context, version int64, name string, body string) error
}

type Runner struct {
	target Target
	logger Logger
	fs     fs.FS
}

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

func New(target Target, files fs.FS, logger Logger) *Runner {
	return &Runner{
		target: target,
		logger: logger,
		fs:     files,
	}
}

func (r *Runner) Up(ctx context.Context) error {
	if err := r.target.EnsureVersionTable(ctx); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := r.target.AppliedVersions(ctx)
	if err != nil {
		return err
	}

	files, err := fs.Glob(r.fs, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		version, name, err := parseVersion(file)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		body, err := fs.ReadFile(r.fs, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := r.target.ApplyMigration(ctx, version, name, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		r.logger.Info("migration applied", "version", version, "name", name)
	}
	return nil
}

// SplitStatements breaks a migration body on statement-terminating
// semicolons at line ends, for drivers that execute one statement per call.
func SplitStatements(body string) []string {
	var out []string
	var current strings.Builder
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			out = append(out, strings.TrimSuffix(stmt, ";"))
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

func parseVersion(path string) (int64, string, error) {
	base := filepath.Base(path)
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("invalid migration filename: %s", base)
	}
	version, err := strconv.ParseInt(strings.TrimSuffix(parts[0], ".sql"), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid migration version in %s: %w", base, err)
	}
	name := strings.TrimSuffix(parts[1], ".sql")
	return version, name, nil
}
