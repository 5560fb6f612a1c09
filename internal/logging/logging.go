// Package logging configures slog for namelens. The logger travels in the
// context so request and build attributes follow the work that logs them.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/lmittmann/tint"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"
)

// Options selects the handler installed by Setup.
type Options struct {
	Level slog.Level
	// Color selects the tint terminal handler. Without it records are JSON.
	Color bool
}

// ParseLevel maps debug/info/warn/error to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, errors.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Setup installs the default logger writing to w and returns ctx carrying it.
func Setup(ctx context.Context, w io.Writer, opts Options) context.Context {
	var h slog.Handler
	if opts.Color {
		h = tint.NewHandler(w, &tint.Options{
			Level:       opts.Level,
			TimeFormat:  "15:04:05.000",
			ReplaceAttr: formatErrorStacks,
		})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       opts.Level,
			ReplaceAttr: formatErrorStacks,
		})
	}

	logger := slog.New(slogctx.NewHandler(h, nil))
	slog.SetDefault(logger)
	return slogctx.NewCtx(ctx, logger)
}

// Ctx returns the logger carried by ctx, or the default logger.
func Ctx(ctx context.Context) *slog.Logger {
	return slogctx.FromCtx(ctx)
}

// With returns ctx with attrs added to every record logged through it.
func With(ctx context.Context, attrs ...any) context.Context {
	return slogctx.With(ctx, attrs...)
}

// formatErrorStacks expands errors carrying a stack into the error plus the
// function and file it was created in.
func formatErrorStacks(groups []string, a slog.Attr) slog.Attr {
	if a.Key != "error" {
		return a
	}
	err, ok := a.Value.Any().(error)
	if !ok {
		return a
	}
	var terr errors.E
	if !errors.As(err, &terr) || len(terr.StackTrace()) == 0 {
		return a
	}
	frames := runtime.CallersFrames(terr.StackTrace())
	frame, _ := frames.Next()
	a.Value = slog.GroupValue(
		slog.String("msg", err.Error()),
		slog.String("func", shortFunc(frame.Function)),
		slog.String("file", fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(frame.File)), filepath.Base(frame.File), frame.Line)),
	)
	return a
}

func shortFunc(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	return fn
}
