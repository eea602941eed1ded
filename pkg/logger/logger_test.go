package logger_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	mcontext "github.com/poltergeist/matrixgen/pkg/context"
	"github.com/poltergeist/matrixgen/pkg/logger"
)

func TestCreateLogger(t *testing.T) {
	log := logger.CreateLogger("", "info")
	if log == nil {
		t.Fatal("expected logger to be created")
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.WithComponent("expander").Info("expanding matrix")

	output := buf.String()
	if !strings.Contains(output, "[expander] expanding matrix") {
		t.Errorf("expected component prefix in log output, got %q", output)
	}
}

func TestLogger_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.Info("expanded",
		logger.WithField("matrix", "test"),
		logger.WithField("jobs", 12),
	)

	output := buf.String()
	if !strings.Contains(output, "{jobs=12, matrix=test}") {
		t.Errorf("expected sorted fields, got %q", output)
	}
}

func TestLogger_Success(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.Success("pipeline written")

	if !strings.Contains(buf.String(), "✅ pipeline written") {
		t.Error("expected success marker in log output")
	}
}

func TestLogger_ErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("error", &buf)

	log.Debug("debug line")
	log.Info("info line")
	log.Warn("warn line")
	log.Error("error line")

	output := buf.String()
	for _, hidden := range []string{"debug line", "info line", "warn line"} {
		if strings.Contains(output, hidden) {
			t.Errorf("%q should be filtered at error level", hidden)
		}
	}
	if !strings.Contains(output, "error line") {
		t.Error("error level log should appear")
	}
}

func TestLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("chatty", &buf)

	log.Debug("debug line")
	log.Info("info line")

	output := buf.String()
	if strings.Contains(output, "debug line") {
		t.Error("debug should be filtered at the fallback level")
	}
	if !strings.Contains(output, "info line") {
		t.Error("info should be logged at the fallback level")
	}
}

func TestWithContext_AddsTracingFields(t *testing.T) {
	var buf bytes.Buffer
	base := logger.CreateLoggerWithOutput("info", &buf)

	ctx := mcontext.WithRunID(context.Background(), "run_test")
	ctx = mcontext.WithPipeline(ctx, "pipeline.yaml")
	ctx = mcontext.WithOperation(ctx, "generate")
	ctx = mcontext.WithStartTime(ctx, time.Now().Add(-time.Second))

	logger.WithContext(ctx, base).WithComponent("engine").Info("done")

	output := buf.String()
	for _, want := range []string{"[engine]", "run_id=run_test", "pipeline=pipeline.yaml", "operation=generate", "duration_ms="} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in %q", want, output)
		}
	}
}

func TestWithContext_EmptyContextAddsNothing(t *testing.T) {
	var buf bytes.Buffer
	base := logger.CreateLoggerWithOutput("info", &buf)

	logger.WithContext(context.Background(), base).Info("plain")

	output := buf.String()
	if strings.Contains(output, "run_id") || strings.Contains(output, "{") {
		t.Errorf("expected no tracing fields, got %q", output)
	}
}

func TestDiscard(t *testing.T) {
	log := logger.Discard()
	log.Error("dropped")
	log.WithComponent("x").Warn("dropped")
}
