package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
)

// FluentConfig holds the Fluent Bit connection settings.
type FluentConfig struct {
	Host      string
	Port      int
	TagPrefix string
}

// NewFluentClient connects to Fluent Bit. There is no ping: delivery
// errors surface on the first Post.
func NewFluentClient(cfg FluentConfig) (*fluent.Fluent, error) {
	if cfg.TagPrefix == "" {
		return nil, fmt.Errorf("fluent tag prefix is required")
	}
	client, err := fluent.New(fluent.Config{
		FluentHost: cfg.Host,
		FluentPort: cfg.Port,
		TagPrefix:  cfg.TagPrefix,
		Async:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("create fluent client: %w", err)
	}
	return client, nil
}

// Poster is the part of *fluent.Fluent used by FluentHandler.
type Poster interface {
	Post(tag string, message interface{}) error
}

// FluentHandler is a slog.Handler posting each record as a flat map
// tagged with its level.
type FluentHandler struct {
	client   Poster
	minLevel slog.Leveler
	attrs    []slog.Attr
	group    string
}

// NewFluentHandler returns a handler posting to client.
func NewFluentHandler(client Poster, minLevel slog.Leveler) *FluentHandler {
	if minLevel == nil {
		minLevel = slog.LevelInfo
	}
	return &FluentHandler{client: client, minLevel: minLevel}
}

func (h *FluentHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel.Level()
}

func (h *FluentHandler) Handle(_ context.Context, r slog.Record) error {
	data := make(map[string]interface{}, len(h.attrs)+r.NumAttrs()+3)
	for _, a := range h.attrs {
		addAttr(data, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(data, h.group, a)
		return true
	})

	level := strings.ToLower(r.Level.String())
	data["level"] = level
	data["message"] = r.Message
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	data["timestamp"] = ts.UTC().Format(time.RFC3339Nano)

	return h.client.Post(level, data)
}

func (h *FluentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *FluentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}

func addAttr(data map[string]interface{}, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(data, key, ga)
		}
		return
	}
	switch v := a.Value.Any().(type) {
	case error:
		data[key] = v.Error()
	case time.Duration:
		data[key] = v.String()
	case time.Time:
		data[key] = v.UTC().Format(time.RFC3339Nano)
	default:
		data[key] = v
	}
}
