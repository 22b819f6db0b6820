// Package scripts runs the post-load SQL scripts against the finished store.
package scripts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Executor runs an arbitrary batch of statements.
type Executor interface {
	ExecScript(ctx context.Context, script string) error
}

// Runner executes every .sql file of a directory.
type Runner struct {
	exec   Executor
	skip   []string
	logger *zap.Logger
}

// New constructs a Runner. Files whose name contains any of skip are ignored.
func New(exec Executor, skip []string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{exec: exec, skip: skip, logger: logger.Named("scripts")}
}

// Result lists what RunDir did with each file.
type Result struct {
	Executed []string
	Skipped  []string
	Failed   []string
}

// RunDir executes the scripts of dir in lexical order. A failing script is
// logged and the rest still run; the returned error joins every failure.
func (r *Runner) RunDir(ctx context.Context, dir string) (Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, fmt.Errorf("read scripts dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var (
		res  Result
		errs []error
	)
	for _, name := range names {
		if r.skipped(name) {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if err := r.runFile(ctx, filepath.Join(dir, name)); err != nil {
			res.Failed = append(res.Failed, name)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			r.logger.Error("script failed", zap.String("script", name), zap.Error(err))
			continue
		}
		res.Executed = append(res.Executed, name)
		r.logger.Info("script executed", zap.String("script", name))
	}
	return res, errors.Join(errs...)
}

func (r *Runner) runFile(ctx context.Context, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	return r.exec.ExecScript(ctx, string(body))
}

func (r *Runner) skipped(name string) bool {
	for _, s := range r.skip {
		if s != "" && strings.Contains(name, s) {
			return true
		}
	}
	return false
}
