package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return New(Config{Component: ComponentApp, Handler: slog.NewTextHandler(buf, nil)})
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got.Component() != "unknown" {
		t.Errorf("Component() = %q, want unknown", got.Component())
	}

	var buf bytes.Buffer
	logger := newBufferLogger(&buf).WithComponent(ComponentHTTP)
	ctx := NewContext(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Error("FromContext did not return the stored logger")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf).WithComponent(ComponentMirror)

	logger.Info("snapshot applied")

	if logger.Component() != ComponentMirror {
		t.Errorf("Component() = %q", logger.Component())
	}
	if !strings.Contains(buf.String(), "component=mirror") {
		t.Errorf("output missing component: %s", buf.String())
	}
}

func TestWithComponentReplacesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf).
		With(FieldCollection, "expenses").
		WithComponent(ComponentMirror).
		WithComponent(ComponentWorker)

	logger.Info("refreshed")

	out := buf.String()
	if n := strings.Count(out, "component="); n != 1 {
		t.Fatalf("component key appears %d times: %s", n, out)
	}
	if !strings.Contains(out, "component=worker") {
		t.Errorf("output missing component=worker: %s", out)
	}
	if !strings.Contains(out, "collection=expenses") {
		t.Errorf("attributes lost across component switch: %s", out)
	}
}

func TestStructuredLoggerKeepsSingleComponent(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newBufferLogger(&buf).WithComponent(ComponentHTTP))

	sl.LogExpenseCreated(context.Background(), "Lunch", 1250, "food", "e1")

	if n := strings.Count(buf.String(), "component="); n != 1 {
		t.Errorf("component key appears %d times: %s", n, buf.String())
	}
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newBufferLogger(&buf))
	ctx := context.Background()

	sl.LogExpenseCreated(ctx, "Lunch", 1250, "food", "e1")
	sl.LogSettingsChanged(ctx, "users", "monthlyBudget")
	sl.LogError(ctx, "Request failed", errors.New("boom"), ErrorTypeInternal, "request", NewFields())

	out := buf.String()
	for _, want := range []string{
		"amount_cents=1250",
		"document_id=e1",
		"setting=monthlyBudget",
		"error=boom",
		"error_type=internal_error",
		"operation=request",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
