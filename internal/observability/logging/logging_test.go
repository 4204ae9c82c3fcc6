package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestNewUsesStdoutByDefault(t *testing.T) {
	originalStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w
	t.Cleanup(func() {
		os.Stdout = originalStdout
		_ = w.Close()
		_ = r.Close()
	})

	logger := New(Config{})
	logger.Info("hello")

	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read stdout: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected output on stdout, got none")
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{input: "debug", expected: slog.LevelDebug},
		{input: "warning", expected: slog.LevelWarn},
		{input: "warn", expected: slog.LevelWarn},
		{input: "error", expected: slog.LevelError},
		{input: "info", expected: slog.LevelInfo},
		{input: "", expected: slog.LevelInfo},
		{input: "verbose", expected: slog.LevelInfo},
		{input: " DeBuG ", expected: slog.LevelDebug},
	}

	for _, tc := range testCases {
		if got := parseLevel(tc.input); got != tc.expected {
			t.Fatalf("parseLevel(%q): expected %v, got %v", tc.input, tc.expected, got)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent(logger, "api").Info("component set")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log output: %v", err)
	}
	if payload["component"] != "api" {
		t.Fatalf("expected component \"api\", got %v", payload["component"])
	}
	if WithComponent(nil, "anything") != nil {
		t.Fatal("expected nil logger")
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithActor(ctx, "admin")
	ctx = ContextWithActor(ctx, "   ")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	WithContext(ctx, logger).Info("hello")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log output: %v", err)
	}
	if payload["request_id"] != "req-1" {
		t.Fatalf("expected request_id to be set, got %v", payload["request_id"])
	}
	if payload["actor"] != "admin" {
		t.Fatalf("expected actor to be set, got %v", payload["actor"])
	}
}

func TestInitSetsDefaultLogger(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	var buf bytes.Buffer
	logger := Init(Config{Writer: &buf, Format: string(FormatText), Level: "debug"})
	if logger != slog.Default() {
		t.Fatalf("expected Init to replace the default logger")
	}
	slog.Info("hello world")
	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("expected text output to include message, got %q", buf.String())
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	middleware := RequestLogger(RequestLoggerConfig{
		Logger:   logger,
		ClientIP: func(*http.Request) string { return "203.0.113.9" },
	})

	req := httptest.NewRequest(http.MethodPost, "/api/articles", nil)
	req = req.WithContext(ContextWithRequestID(req.Context(), "req-9"))
	recorder := httptest.NewRecorder()

	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetRequestActor(r.Context(), "admin")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})).ServeHTTP(recorder, req)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	if payload["status"] != float64(http.StatusCreated) {
		t.Fatalf("expected status %d, got %v", http.StatusCreated, payload["status"])
	}
	if payload["client_ip"] != "203.0.113.9" {
		t.Fatalf("expected client_ip to be recorded, got %v", payload["client_ip"])
	}
	if payload["actor"] != "admin" || payload["request_id"] != "req-9" {
		t.Fatalf("expected actor and request id, got %v", payload)
	}
	if payload["bytes"] != float64(11) {
		t.Fatalf("expected bytes 11, got %v", payload["bytes"])
	}
	if payload["level"] != "INFO" {
		t.Fatalf("expected INFO level, got %v", payload["level"])
	}
}

func TestRequestLoggerLevelFollowsStatus(t *testing.T) {
	cases := map[int]string{
		http.StatusOK:                  "INFO",
		http.StatusTooManyRequests:     "WARN",
		http.StatusInternalServerError: "ERROR",
	}
	for status, level := range cases {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		handler := RequestLogger(RequestLoggerConfig{Logger: logger, DisableRemoteAddr: true})(
			http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }),
		)
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		var payload map[string]any
		if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
			t.Fatalf("failed to decode log entry: %v", err)
		}
		if payload["level"] != level {
			t.Fatalf("status %d: expected level %s, got %v", status, level, payload["level"])
		}
		if _, ok := payload["client_ip"]; ok {
			t.Fatal("expected client_ip to be omitted")
		}
	}
}
