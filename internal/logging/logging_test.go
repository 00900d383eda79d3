package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type recordingPoster struct {
	mu    sync.Mutex
	tags  []string
	posts []map[string]interface{}
}

func (p *recordingPoster) Post(tag string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags = append(p.tags, tag)
	p.posts = append(p.posts, message.(map[string]interface{}))
	return nil
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: slog.LevelInfo, Format: FormatJSON})

	logger.Debug("hidden")
	logger.Info("fetched", "source", "zap", "records", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["msg"] != "fetched" || entry["source"] != "zap" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNew_Color(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: FormatColor})
	logger.Warn("slow source", "source", "vivareal")
	if !strings.Contains(buf.String(), "slow source") {
		t.Errorf("expected message in output, got %q", buf.String())
	}
}

func TestFluentHandler(t *testing.T) {
	poster := &recordingPoster{}
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: slog.LevelDebug}, NewFluentHandler(poster, slog.LevelWarn))

	logger = logger.With("component", "acquisition")
	logger.Info("only stdout")
	logger.WithGroup("req").Error("failed", "err", errors.New("boom"), "status", 500)

	if !strings.Contains(buf.String(), "only stdout") {
		t.Errorf("stdout handler missed info record")
	}
	if len(poster.posts) != 1 {
		t.Fatalf("expected 1 fluent post, got %d", len(poster.posts))
	}
	post := poster.posts[0]
	if poster.tags[0] != "error" {
		t.Errorf("tag = %q, want error", poster.tags[0])
	}
	if post["message"] != "failed" || post["level"] != "error" {
		t.Errorf("unexpected post: %v", post)
	}
	if post["component"] != "acquisition" {
		t.Errorf("component = %v", post["component"])
	}
	if post["req.err"] != "boom" {
		t.Errorf("req.err = %v", post["req.err"])
	}
	if _, ok := post["timestamp"].(string); !ok {
		t.Errorf("missing timestamp")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContext(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger")
	}
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if FromContext(WithContext(context.Background(), l)) != l {
		t.Error("expected stored logger")
	}
}
