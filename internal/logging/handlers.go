package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Fanout sends every record to each handler enabled for its level.
type Fanout []slog.Handler

// NewFanout drops nil handlers.
func NewFanout(handlers ...slog.Handler) Fanout {
	out := make(Fanout, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (f Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle keeps going when a sink fails and returns the joined errors.
func (f Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f Fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f Fanout) each(fn func(slog.Handler) slog.Handler) Fanout {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}

// AttrFunc is evaluated on every record, e.g. to report how many vehicles
// are flying when the line is written.
type AttrFunc func() []slog.Attr

type liveAttrs struct {
	slog.Handler
	attrs AttrFunc
}

func (h liveAttrs) Handle(ctx context.Context, r slog.Record) error {
	if h.attrs != nil {
		r.AddAttrs(h.attrs()...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h liveAttrs) WithAttrs(attrs []slog.Attr) slog.Handler {
	return liveAttrs{Handler: h.Handler.WithAttrs(attrs), attrs: h.attrs}
}

func (h liveAttrs) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return liveAttrs{Handler: h.Handler.WithGroup(name), attrs: h.attrs}
}
